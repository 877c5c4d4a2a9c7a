package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nidhogg/nuka-swarm/internal/events"
	"go.uber.org/zap"
)

type fakeSink struct {
	name string
	err  error

	mu   sync.Mutex
	sent []*Message
}

func (f *fakeSink) Platform() string { return f.name }

func (f *fakeSink) Send(_ context.Context, msg *Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func TestPublishFiltersLifecycleEvents(t *testing.T) {
	n := New(zap.NewNop())
	sink := &fakeSink{name: "fake"}
	n.Register(sink)
	ctx := context.Background()

	for _, typ := range []events.Type{events.TaskSubmitted, events.TaskClaimed, events.TaskCompleted, events.AgentAdded} {
		if err := n.Publish(ctx, events.New(typ)); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected no alerts, got %d", len(sink.sent))
	}

	ev := events.New(events.TaskFailed)
	ev.TaskID = 7
	ev.AgentID = 2
	ev.Message = "exit status 1"
	if err := n.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.sent))
	}
	got := sink.sent[0]
	if got.Title != "task 7 failed on agent 2" {
		t.Errorf("title = %q", got.Title)
	}
	if !strings.Contains(got.Text(), "exit status 1") {
		t.Errorf("text missing content: %q", got.Text())
	}
}

func TestSendAggregatesErrors(t *testing.T) {
	n := New(zap.NewNop())
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("rate limited")}
	n.Register(good)
	n.Register(bad)

	err := n.Send(context.Background(), &Message{Type: events.PoolScaled, Title: "pool grew"})
	if err == nil || !strings.Contains(err.Error(), "bad: rate limited") {
		t.Fatalf("expected aggregated error, got %v", err)
	}
	if len(good.sent) != 1 {
		t.Fatalf("good sink should still receive the alert")
	}
	hist := n.History(0)
	if len(hist) != 1 || len(hist[0].Targets) != 1 || hist[0].Targets[0] != "good" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	n := New(zap.NewNop())
	n.limit = 3
	n.Register(&fakeSink{name: "fake"})
	for i := 0; i < 5; i++ {
		ev := events.New(events.PoolScaled)
		ev.Count = i
		n.Publish(context.Background(), ev)
	}
	hist := n.History(10)
	if len(hist) != 3 {
		t.Fatalf("expected 3 records, got %d", len(hist))
	}
	if hist[2].Message.Title != "pool grew to 4 agents" {
		t.Errorf("latest record = %q", hist[2].Message.Title)
	}
	if got := n.History(1); len(got) != 1 || got[0].Message.Title != hist[2].Message.Title {
		t.Errorf("History(1) = %+v", got)
	}
}

func TestNoSinksIsNoop(t *testing.T) {
	n := New(zap.NewNop())
	if err := n.Publish(context.Background(), events.New(events.TaskFailed)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(n.History(0)) != 0 {
		t.Fatal("nothing should be recorded without sinks")
	}
}

func TestSlackSinkPostsWebhook(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSink(srv.URL, zap.NewNop())
	err := s.Send(context.Background(), &Message{Type: events.TasksRedistributed, Title: "3 task(s) redistributed"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	text, _ := body["text"].(string)
	if text != "*[tasks.redistributed] 3 task(s) redistributed*" {
		t.Errorf("text = %q", text)
	}
}

func TestSlackSinkReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlackSink(srv.URL, zap.NewNop())
	if err := s.Send(context.Background(), &Message{Type: events.TaskFailed, Title: "x"}); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestDiscordSinkRequiresCredentials(t *testing.T) {
	if _, err := NewDiscordSink("", "123", zap.NewNop()); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewDiscordSink("token", "", zap.NewNop()); err == nil {
		t.Fatal("expected error without channel")
	}
	d, err := NewDiscordSink("token", "123", zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if d.Platform() != "discord" {
		t.Errorf("platform = %s", d.Platform())
	}
}
