package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	TaskSubmitted      Type = "task.submitted"
	TaskClaimed        Type = "task.claimed"
	TaskCompleted      Type = "task.completed"
	TaskFailed         Type = "task.failed"
	TaskReassigned     Type = "task.reassigned"
	TaskTimedOut       Type = "task.timed_out"
	AgentAdded         Type = "agent.added"
	AgentRemoved       Type = "agent.removed"
	PoolScaled         Type = "pool.scaled"
	TasksRedistributed Type = "tasks.redistributed"
	HistoryTrimmed     Type = "history.trimmed"
)

// Event is a single scheduler lifecycle notification.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	TaskID    int64             `json:"task_id,omitempty"`
	AgentID   int               `json:"agent_id,omitempty"`
	Count     int               `json:"count,omitempty"`
	Message   string            `json:"message,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New stamps an event of the given type with a fresh id and time.
func New(typ Type) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
	}
}

// Publisher delivers events to some sink.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// Multi fans an event out to several publishers, collecting every error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
