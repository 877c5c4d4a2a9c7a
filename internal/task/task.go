package task

import "time"

// Status tracks where a task is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultTimeout is the advisory execution budget, in seconds, given to
// tasks submitted without one.
const DefaultTimeout = 30

// Task is one unit of submitted work.
type Task struct {
	ID             int64      `json:"task_id"`
	Description    string     `json:"description"`
	Priority       int        `json:"priority"`
	Specialization string     `json:"specialization,omitempty"`
	Status         Status     `json:"status"`
	AssignedAgent  int        `json:"assigned_agent,omitempty"`
	Timeout        int        `json:"timeout"`
	Attempt        int        `json:"attempt"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`

	seq   uint64 // insertion order inside the pending heaps
	index int    // heap position, -1 when not queued
}

// Snapshot returns a copy that shares no mutable state with t.
func (t *Task) Snapshot() Task {
	c := *t
	if t.StartTime != nil {
		st := *t.StartTime
		c.StartTime = &st
	}
	if t.CompletionTime != nil {
		ct := *t.CompletionTime
		c.CompletionTime = &ct
	}
	c.index = -1
	return c
}

// Duration is the time between claim and completion, or zero when either
// timestamp is missing. It is never negative.
func (t Task) Duration() time.Duration {
	if t.StartTime == nil || t.CompletionTime == nil {
		return 0
	}
	d := t.CompletionTime.Sub(*t.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether an in-progress task has outlived its timeout.
// A timeout of zero or less never expires.
func (t Task) Expired(now time.Time) bool {
	if t.Status != StatusInProgress || t.StartTime == nil || t.Timeout <= 0 {
		return false
	}
	return now.Sub(*t.StartTime) > time.Duration(t.Timeout)*time.Second
}
