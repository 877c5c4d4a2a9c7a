package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/agent"
	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"github.com/nidhogg/nuka-swarm/internal/notify"
	"github.com/nidhogg/nuka-swarm/internal/swarm"
	"github.com/nidhogg/nuka-swarm/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type stubArchive struct {
	tasks []task.Task
	err   error
}

func (a *stubArchive) ListArchived(_ context.Context, limit int) ([]task.Task, error) {
	if a.err != nil {
		return nil, a.err
	}
	if limit < len(a.tasks) {
		return a.tasks[:limit], nil
	}
	return a.tasks, nil
}

// newTestHandler creates a Handler over an in-memory swarm whose tasks
// finish instantly.
func newTestHandler(t *testing.T) (*swarm.Swarm, http.Handler) {
	t.Helper()
	logger := zap.NewNop()
	sw := swarm.New(swarm.Options{
		Executor:     agent.ExecutorFunc(func(context.Context, task.Task) error { return nil }),
		IdleInterval: time.Millisecond,
		Metrics:      metrics.New(prometheus.NewRegistry()),
	}, logger)
	t.Cleanup(func() { sw.Shutdown(context.Background()) })

	h := NewHandler(sw, nil, nil, logger)
	return sw, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/swarm/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestAddTaskAndStatus(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/swarm/add_task", map[string]interface{}{
		"description":    "Math Task",
		"priority":       4,
		"specialization": "math",
		"timeout":        0,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("add: expected 201, got %d", resp.StatusCode)
	}
	var created map[string]int64
	decodeJSON(t, resp, &created)
	if created["task_id"] != 1 {
		t.Fatalf("expected task_id 1, got %d", created["task_id"])
	}

	resp = getJSON(t, ts, "/swarm/task_status/1")
	if resp.StatusCode != 200 {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	var got task.Task
	decodeJSON(t, resp, &got)
	if got.Status != task.StatusPending || got.Priority != 4 || got.Specialization != "math" || got.Timeout != 0 {
		t.Errorf("unexpected task view: %+v", got)
	}

	// Validation
	for _, body := range []string{`{"description": ""}`, `{"description": "  "}`, `not json`} {
		resp, err := http.Post(ts.URL+"/swarm/add_task", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = getJSON(t, ts, "/swarm/task_status/999")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown task, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/swarm/task_status/abc")
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for bad id, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentLifecycle(t *testing.T) {
	sw, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for i := 0; i < 5; i++ {
		postJSON(t, ts, "/swarm/add_task", map[string]interface{}{"description": "work", "specialization": "code"}).Body.Close()
	}

	resp := postJSON(t, ts, "/swarm/add_agent", map[string]interface{}{
		"count":           2,
		"specializations": []string{"code"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("add agent: expected 201, got %d", resp.StatusCode)
	}
	var added map[string][]int
	decodeJSON(t, resp, &added)
	if len(added["agent_ids"]) != 2 {
		t.Fatalf("expected 2 agent ids, got %v", added["agent_ids"])
	}

	deadline := time.Now().Add(5 * time.Second)
	for sw.State().CompletedTasks < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("tasks not drained: %+v", sw.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = getJSON(t, ts, "/swarm/state")
	var st swarm.State
	decodeJSON(t, resp, &st)
	if st.ActiveAgents != 2 || st.CompletedTasks != 5 || st.PendingTasks != 0 {
		t.Errorf("unexpected state: %+v", st)
	}

	resp = getJSON(t, ts, "/swarm/statistics")
	var stats swarm.Statistics
	decodeJSON(t, resp, &stats)
	if stats.TotalTasksProcessed != 5 || stats.TasksPerSpecialization["code"] != 5 {
		t.Errorf("unexpected statistics: %+v", stats)
	}

	resp = deleteReq(t, ts, "/swarm/agents/1")
	if resp.StatusCode != 200 {
		t.Fatalf("remove: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/swarm/agents/1")
	if resp.StatusCode != 404 {
		t.Errorf("second remove: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/swarm/add_agent", map[string]int{"count": 1000})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for oversized count, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMaintenanceEndpoints(t *testing.T) {
	sw, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()
	ctx := context.Background()

	busy := sw.RegisterAgent(nil)
	for i := 0; i < 3; i++ {
		sw.AddTask(ctx, "held")
		sw.Claim(busy)
	}
	for i := 0; i < 4; i++ {
		sw.AddTask(ctx, "done")
		tk, _, _ := sw.Claim(busy)
		sw.Finish(busy, tk, nil)
	}

	resp := postJSON(t, ts, "/swarm/redistribute_tasks", map[string]int{"threshold": 0})
	var moved map[string]int
	decodeJSON(t, resp, &moved)
	if moved["moved"] != 3 {
		t.Errorf("expected 3 moved, got %d", moved["moved"])
	}

	resp = postJSON(t, ts, "/swarm/remove_completed_tasks", map[string]int{"keep_last": 1})
	var removed map[string]int
	decodeJSON(t, resp, &removed)
	if removed["removed"] != 3 {
		t.Errorf("expected 3 removed, got %d", removed["removed"])
	}

	// Empty body falls back to defaults.
	resp, err := http.Post(ts.URL+"/swarm/remove_completed_tasks", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, resp, &removed)
	if removed["removed"] != 0 {
		t.Errorf("expected 0 removed with default keep, got %d", removed["removed"])
	}

	resp = postJSON(t, ts, "/swarm/redistribute_tasks", map[string]int{"threshold": -1})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for negative threshold, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	postJSON(t, ts, "/swarm/add_task", map[string]string{"description": "count me"}).Body.Close()

	resp := getJSON(t, ts, "/metrics")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "swarm_tasks_submitted_total 1") {
		t.Errorf("metrics output missing submission counter:\n%s", body)
	}
}

func TestAlertsAndArchive(t *testing.T) {
	logger := zap.NewNop()
	sw := swarm.New(swarm.Options{}, logger)
	defer sw.Shutdown(context.Background())

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()
	n := notify.New(logger)
	n.Register(notify.NewSlackSink(hook.URL, logger))
	ev := events.New(events.TaskFailed)
	ev.TaskID = 9
	if err := n.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	archive := &stubArchive{tasks: []task.Task{{ID: 1, Description: "old", Status: task.StatusCompleted}, {ID: 2}}}
	ts := httptest.NewServer(NewHandler(sw, n, archive, logger).Router())
	defer ts.Close()

	resp := getJSON(t, ts, "/swarm/alerts")
	var alerts []notify.Record
	decodeJSON(t, resp, &alerts)
	if len(alerts) != 1 || alerts[0].Targets[0] != "slack" {
		t.Errorf("expected one slack alert, got %+v", alerts)
	}

	resp = getJSON(t, ts, "/swarm/archive?limit=1")
	var archived []task.Task
	decodeJSON(t, resp, &archived)
	if len(archived) != 1 || archived[0].Description != "old" {
		t.Errorf("unexpected archive page: %+v", archived)
	}

	archive.err = errors.New("db down")
	resp = getJSON(t, ts, "/swarm/archive")
	if resp.StatusCode != 500 {
		t.Errorf("expected 500 on archive failure, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	noArchive := httptest.NewServer(NewHandler(sw, nil, nil, logger).Router())
	defer noArchive.Close()
	resp = getJSON(t, noArchive, "/swarm/archive")
	if resp.StatusCode != 503 {
		t.Errorf("expected 503 without archive, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
