package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/events"
	"go.uber.org/zap"
)

// DefaultHistory bounds the number of kept delivery records.
const DefaultHistory = 200

// Message is a rendered alert ready for a chat platform.
type Message struct {
	Type    events.Type `json:"type"`
	Title   string      `json:"title"`
	Content string      `json:"content"`
}

// Text renders the message as one plain block.
func (m *Message) Text() string {
	if m.Content == "" {
		return fmt.Sprintf("[%s] %s", m.Type, m.Title)
	}
	return fmt.Sprintf("[%s] %s\n%s", m.Type, m.Title, m.Content)
}

// Sink delivers messages to one platform.
type Sink interface {
	Platform() string
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Record tracks a delivered alert.
type Record struct {
	Message *Message  `json:"message"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// alerting lists the event types forwarded to chat. Per-task lifecycle
// noise stays on the event bus.
var alerting = map[events.Type]bool{
	events.TaskFailed:         true,
	events.TaskTimedOut:       true,
	events.AgentRemoved:       true,
	events.PoolScaled:         true,
	events.TasksRedistributed: true,
}

// Notifier fans alert-worthy swarm events out to every registered sink.
// It implements events.Publisher.
type Notifier struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	history []Record
	limit   int
	logger  *zap.Logger
}

// New creates a notifier with no sinks.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		sinks:  make(map[string]Sink),
		limit:  DefaultHistory,
		logger: logger.With(zap.String("component", "notify")),
	}
}

// Register adds a sink, replacing any with the same platform.
func (n *Notifier) Register(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks[s.Platform()] = s
	n.logger.Info("registered notify sink", zap.String("platform", s.Platform()))
}

// Platforms returns the registered platform names.
func (n *Notifier) Platforms() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.sinks))
	for p := range n.sinks {
		out = append(out, p)
	}
	return out
}

// Publish implements events.Publisher. Non-alerting events are dropped.
func (n *Notifier) Publish(ctx context.Context, ev *events.Event) error {
	if !alerting[ev.Type] {
		return nil
	}
	return n.Send(ctx, Render(ev))
}

// Send delivers msg to all sinks and records it when at least one accepted.
func (n *Notifier) Send(ctx context.Context, msg *Message) error {
	n.mu.RLock()
	sinks := make([]Sink, 0, len(n.sinks))
	for _, s := range n.sinks {
		sinks = append(sinks, s)
	}
	n.mu.RUnlock()

	if len(sinks) == 0 {
		return nil
	}

	var errs []error
	var targets []string
	for _, s := range sinks {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.Error("notify failed",
				zap.String("platform", s.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Platform(), err))
			continue
		}
		targets = append(targets, s.Platform())
	}

	if len(targets) > 0 {
		n.mu.Lock()
		n.history = append(n.history, Record{Message: msg, SentAt: time.Now(), Targets: targets})
		if over := len(n.history) - n.limit; over > 0 {
			n.history = append([]Record(nil), n.history[over:]...)
		}
		n.mu.Unlock()
	}
	return errors.Join(errs...)
}

// History returns up to limit of the most recent records.
func (n *Notifier) History(limit int) []Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	return append([]Record(nil), n.history[len(n.history)-limit:]...)
}

// Close shuts down all sinks.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for p, s := range n.sinks {
		if err := s.Close(); err != nil {
			n.logger.Error("sink close failed", zap.String("platform", p), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Render turns a swarm event into a chat message.
func Render(ev *events.Event) *Message {
	msg := &Message{Type: ev.Type, Content: ev.Message}
	switch ev.Type {
	case events.TaskFailed:
		msg.Title = fmt.Sprintf("task %d failed on agent %d", ev.TaskID, ev.AgentID)
	case events.TaskTimedOut:
		msg.Title = fmt.Sprintf("task %d timed out on agent %d, requeued", ev.TaskID, ev.AgentID)
	case events.AgentRemoved:
		msg.Title = fmt.Sprintf("agent %d removed, %d task(s) requeued", ev.AgentID, ev.Count)
	case events.PoolScaled:
		msg.Title = fmt.Sprintf("pool grew to %d agents", ev.Count)
	case events.TasksRedistributed:
		msg.Title = fmt.Sprintf("%d task(s) redistributed", ev.Count)
	default:
		msg.Title = string(ev.Type)
	}
	return msg
}
