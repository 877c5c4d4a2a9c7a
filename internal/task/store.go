package task

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned for ids that were never issued or were trimmed.
	ErrNotFound = errors.New("task not found")
	// ErrStale is returned when a transition targets a claim that no longer
	// holds the task, e.g. after a reassignment.
	ErrStale = errors.New("stale task claim")
)

// Counts summarises the store contents.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Store holds pending tasks in priority order, indexed by specialization,
// together with in-progress tasks and a trailing history of finished ones.
//
// Store is not safe for concurrent use; the owner serialises access.
type Store struct {
	nextID  int64
	seq     uint64
	general queue
	special map[string]*queue
	tasks   map[int64]*Task
	running map[int64]*Task
	history []int64
	counts  Counts
	now     func() time.Time
}

// NewStore creates an empty store. A nil clock defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		special: make(map[string]*queue),
		tasks:   make(map[int64]*Task),
		running: make(map[int64]*Task),
		now:     now,
	}
}

// Submit enqueues a new pending task and returns its id.
func (s *Store) Submit(description string, priority int, specialization string, timeout int) int64 {
	s.nextID++
	t := &Task{
		ID:             s.nextID,
		Description:    description,
		Priority:       priority,
		Specialization: specialization,
		Status:         StatusPending,
		Timeout:        timeout,
		CreatedAt:      s.now(),
		index:          -1,
	}
	s.tasks[t.ID] = t
	s.enqueue(t)
	return t.ID
}

func (s *Store) enqueue(t *Task) {
	s.seq++
	t.seq = s.seq
	q := &s.general
	if t.Specialization != "" {
		q = s.special[t.Specialization]
		if q == nil {
			q = &queue{}
			s.special[t.Specialization] = q
		}
	}
	heap.Push(q, t)
	s.counts.Pending++
}

// Claim removes the highest-priority pending task that an agent with the
// given specializations may take and marks it in progress for agentID.
// Tasks without a specialization match any agent.
func (s *Store) Claim(agentID int, specializations []string) (Task, bool) {
	best := &s.general
	bestKey := ""
	for _, spec := range specializations {
		if spec == "" {
			continue
		}
		q := s.special[spec]
		if q == nil || q.Len() == 0 {
			continue
		}
		if head := best.peek(); head == nil || before(q.peek(), head) {
			best = q
			bestKey = spec
		}
	}
	if best.Len() == 0 {
		return Task{}, false
	}

	t := heap.Pop(best).(*Task)
	if bestKey != "" && best.Len() == 0 {
		delete(s.special, bestKey)
	}
	now := s.now()
	t.Status = StatusInProgress
	t.AssignedAgent = agentID
	t.StartTime = &now
	t.CompletionTime = nil
	t.Error = ""
	t.Attempt++
	s.running[t.ID] = t
	s.counts.Pending--
	s.counts.InProgress++
	return t.Snapshot(), true
}

// Complete finishes the claim identified by id and attempt. A nil execErr
// marks the task completed, anything else marks it failed.
func (s *Store) Complete(id int64, attempt int, execErr error) (Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("complete %d: %w", id, ErrNotFound)
	}
	if t.Status != StatusInProgress || t.Attempt != attempt {
		return t.Snapshot(), fmt.Errorf("complete %d (attempt %d): %w", id, attempt, ErrStale)
	}

	now := s.now()
	if t.StartTime != nil && now.Before(*t.StartTime) {
		now = *t.StartTime
	}
	t.CompletionTime = &now
	if execErr != nil {
		t.Status = StatusFailed
		t.Error = execErr.Error()
		s.counts.Failed++
	} else {
		t.Status = StatusCompleted
		s.counts.Completed++
	}
	delete(s.running, id)
	s.counts.InProgress--
	s.history = append(s.history, id)
	return t.Snapshot(), nil
}

// Reassign returns an in-progress task to the pending queues under its
// original id, behind pending tasks of equal priority. It reports the agent
// that held the task.
func (s *Store) Reassign(id int64) (int, error) {
	t, ok := s.tasks[id]
	if !ok {
		return 0, fmt.Errorf("reassign %d: %w", id, ErrNotFound)
	}
	if t.Status != StatusInProgress {
		return 0, fmt.Errorf("reassign %d in status %s: %w", id, t.Status, ErrStale)
	}
	prev := t.AssignedAgent
	t.Status = StatusPending
	t.AssignedAgent = 0
	t.StartTime = nil
	delete(s.running, id)
	s.counts.InProgress--
	s.enqueue(t)
	return prev, nil
}

// Get returns a snapshot of the task.
func (s *Store) Get(id int64) (Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t.Snapshot(), nil
}

// InProgress returns snapshots of every claimed task ordered by id.
func (s *Store) InProgress() []Task {
	out := make([]Task, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HeldBy returns the ids of in-progress tasks assigned to agentID, ascending.
func (s *Store) HeldBy(agentID int) []int64 {
	var ids []int64
	for id, t := range s.running {
		if t.AssignedAgent == agentID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counts returns the number of tasks in each status still held by the store.
func (s *Store) Counts() Counts { return s.counts }

// TrimHistory forgets all but the keep most recently finished tasks and
// returns the removed records, oldest first.
func (s *Store) TrimHistory(keep int) []Task {
	if keep < 0 {
		keep = 0
	}
	if len(s.history) <= keep {
		return nil
	}
	cut := len(s.history) - keep
	removed := make([]Task, 0, cut)
	for _, id := range s.history[:cut] {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		removed = append(removed, t.Snapshot())
		switch t.Status {
		case StatusCompleted:
			s.counts.Completed--
		case StatusFailed:
			s.counts.Failed--
		}
		delete(s.tasks, id)
	}
	s.history = append([]int64(nil), s.history[cut:]...)
	return removed
}
