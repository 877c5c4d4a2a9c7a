package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/agent"
	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"github.com/nidhogg/nuka-swarm/internal/task"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

type workerHandle struct {
	worker *agent.Worker
	cancel context.CancelFunc
}

// totals are lifetime counters; they survive history trimming.
type totals struct {
	completed         int
	failed            int
	completionTime    time.Duration
	timedCompletions  int
	perSpecialization map[string]int
}

// Swarm owns the task store, the agent registry and their worker loops.
// A single mutex guards all three; task bodies, event delivery and
// archiving run outside it.
type Swarm struct {
	mu      sync.Mutex
	tasks   *task.Store
	agents  *agent.Registry
	workers map[int]*workerHandle
	totals  totals
	closed  bool

	opts    Options
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// New creates an empty swarm. Agents are added with AddAgent.
func New(opts Options, logger *zap.Logger) *Swarm {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Swarm{
		tasks:   task.NewStore(opts.Now),
		agents:  agent.NewRegistry(),
		workers: make(map[int]*workerHandle),
		totals:  totals{perSpecialization: make(map[string]int)},
		opts:    opts,
		started: opts.Now(),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Metrics returns the collectors the swarm reports to, possibly nil.
func (s *Swarm) Metrics() *metrics.Metrics { return s.opts.Metrics }

// AddTask validates and enqueues a task, returning its id.
func (s *Swarm) AddTask(ctx context.Context, description string, opts ...TaskOption) (int64, error) {
	if strings.TrimSpace(description) == "" {
		return 0, fmt.Errorf("%w: description is required", ErrInvalidTask)
	}
	p := taskParams{}
	for _, o := range opts {
		o(&p)
	}
	timeout := s.opts.DefaultTimeout
	if p.timeout != nil {
		timeout = *p.timeout
	}

	s.mu.Lock()
	id := s.tasks.Submit(description, p.priority, p.specialization, timeout)
	s.observeLocked()
	s.mu.Unlock()

	s.opts.Metrics.Submitted()
	s.logger.Debug("task submitted",
		zap.Int64("task", id),
		zap.Int("priority", p.priority),
		zap.String("specialization", p.specialization))

	ev := events.New(events.TaskSubmitted)
	ev.TaskID = id
	s.emit(ctx, ev)
	return id, nil
}

// RegisterAgent records an agent without starting a worker loop. Callers
// drive it through Claim and Finish.
func (s *Swarm) RegisterAgent(specializations []string) int {
	s.mu.Lock()
	rec := s.agents.Register(specializations, s.opts.Now())
	s.observeLocked()
	s.mu.Unlock()

	s.logger.Info("registered agent",
		zap.Int("agent", rec.ID),
		zap.Strings("specializations", rec.Specializations))
	return rec.ID
}

// AddAgent registers an agent and starts its worker loop. With no
// specializations the configured policy picks them.
func (s *Swarm) AddAgent(specializations []string) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	rec := s.agents.Register(specializations, s.opts.Now())
	if len(rec.Specializations) == 0 {
		s.agents.SetSpecializations(rec.ID, s.opts.Specializations(rec.ID))
	}
	ctx, cancel := context.WithCancel(s.ctx)
	w := agent.NewWorker(rec.ID, s, s.opts.Executor, s.opts.IdleInterval, s.logger)
	s.workers[rec.ID] = &workerHandle{worker: w, cancel: cancel}
	specs := append([]string(nil), rec.Specializations...)
	s.observeLocked()
	s.mu.Unlock()

	go w.Run(ctx)

	s.logger.Info("agent started",
		zap.Int("agent", rec.ID),
		zap.Strings("specializations", specs))
	ev := events.New(events.AgentAdded)
	ev.AgentID = rec.ID
	ev.Message = strings.Join(specs, ",")
	s.emit(context.Background(), ev)
	return rec.ID, nil
}

// RemoveAgent stops the agent's worker, returns its in-progress tasks to
// the queue and forgets the agent. If ctx ends before the worker stops,
// the agent is still removed and ctx.Err() is returned; the worker's late
// outcome is dropped as stale and Shutdown keeps waiting for it.
func (s *Swarm) RemoveAgent(ctx context.Context, id int) error {
	s.mu.Lock()
	if s.agents.Get(id) == nil {
		s.mu.Unlock()
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	h := s.workers[id]
	s.mu.Unlock()

	var waitErr error
	if h != nil {
		h.cancel()
		select {
		case <-h.worker.Done():
			s.forgetWorker(id, h)
		case <-ctx.Done():
			waitErr = ctx.Err()
			s.logger.Warn("worker still running after removal", zap.Int("agent", id), zap.Error(waitErr))
			go func() {
				<-h.worker.Done()
				s.forgetWorker(id, h)
			}()
		}
	}

	s.mu.Lock()
	if !s.agents.Remove(id) {
		s.mu.Unlock()
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	evs := s.reassignLocked(s.tasks.HeldBy(id), events.TaskReassigned, "agent removed")
	s.observeLocked()
	s.mu.Unlock()

	s.opts.Metrics.Reassigned("agent_removed", len(evs))
	s.logger.Info("agent removed", zap.Int("agent", id), zap.Int("requeued", len(evs)))
	ev := events.New(events.AgentRemoved)
	ev.AgentID = id
	ev.Count = len(evs)
	s.emit(context.WithoutCancel(ctx), append(evs, ev)...)
	return waitErr
}

func (s *Swarm) forgetWorker(id int, h *workerHandle) {
	s.mu.Lock()
	if s.workers[id] == h {
		delete(s.workers, id)
	}
	s.mu.Unlock()
}

// Claim implements agent.Dispatcher.
func (s *Swarm) Claim(agentID int) (task.Task, bool, error) {
	s.mu.Lock()
	rec := s.agents.Get(agentID)
	if rec == nil {
		s.mu.Unlock()
		return task.Task{}, false, fmt.Errorf("agent %d: %w", agentID, ErrNotFound)
	}
	t, ok := s.tasks.Claim(agentID, rec.Specializations)
	if ok {
		s.agents.Acquire(agentID)
		s.observeLocked()
	}
	s.mu.Unlock()

	if ok {
		ev := events.New(events.TaskClaimed)
		ev.TaskID = t.ID
		ev.AgentID = agentID
		s.emit(context.Background(), ev)
	}
	return t, ok, nil
}

// Finish implements agent.Dispatcher. Outcomes for claims that were
// reassigned in the meantime are dropped.
func (s *Swarm) Finish(agentID int, t task.Task, execErr error) {
	s.mu.Lock()
	done, err := s.tasks.Complete(t.ID, t.Attempt, execErr)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, task.ErrStale) {
			s.logger.Debug("ignoring stale finish",
				zap.Int64("task", t.ID),
				zap.Int("agent", agentID),
				zap.Int("attempt", t.Attempt))
			return
		}
		s.logger.Error("finish bookkeeping failed",
			zap.Int64("task", t.ID),
			zap.Error(fmt.Errorf("%w: %w", ErrInternal, err)))
		return
	}

	elapsed := done.Duration()
	s.agents.Release(agentID)
	s.agents.RecordResult(agentID, elapsed, execErr == nil)
	if execErr == nil {
		s.totals.completed++
		s.totals.perSpecialization[specLabel(done.Specialization)]++
		if done.StartTime != nil && done.CompletionTime != nil {
			s.totals.completionTime += elapsed
			s.totals.timedCompletions++
		}
	} else {
		s.totals.failed++
	}
	s.observeLocked()
	s.mu.Unlock()

	s.opts.Metrics.Finished(string(done.Status), done.Specialization, elapsed)

	typ := events.TaskCompleted
	if execErr != nil {
		typ = events.TaskFailed
	}
	ev := events.New(typ)
	ev.TaskID = done.ID
	ev.AgentID = agentID
	ev.Message = done.Error
	s.emit(context.Background(), ev)
}

// Release implements agent.Dispatcher: the claim goes back to pending if
// the agent still holds it.
func (s *Swarm) Release(agentID int, t task.Task) {
	s.mu.Lock()
	cur, err := s.tasks.Get(t.ID)
	if err != nil || cur.Status != task.StatusInProgress || cur.Attempt != t.Attempt || cur.AssignedAgent != agentID {
		s.mu.Unlock()
		return
	}
	evs := s.reassignLocked([]int64{t.ID}, events.TaskReassigned, "released")
	s.observeLocked()
	s.mu.Unlock()

	s.opts.Metrics.Reassigned("released", len(evs))
	s.emit(context.Background(), evs...)
}

// reassignLocked requeues ids and releases the owning agents' load.
func (s *Swarm) reassignLocked(ids []int64, typ events.Type, reason string) []*events.Event {
	evs := make([]*events.Event, 0, len(ids))
	for _, id := range ids {
		prev, err := s.tasks.Reassign(id)
		if err != nil {
			s.logger.Error("reassign failed",
				zap.Int64("task", id),
				zap.Error(fmt.Errorf("%w: %w", ErrInternal, err)))
			continue
		}
		s.agents.Release(prev)
		ev := events.New(typ)
		ev.TaskID = id
		ev.AgentID = prev
		ev.Message = reason
		evs = append(evs, ev)
	}
	return evs
}

// GetTaskStatus returns a point-in-time view of a task.
func (s *Swarm) GetTaskStatus(id int64) (task.Task, error) {
	s.mu.Lock()
	t, err := s.tasks.Get(id)
	s.mu.Unlock()
	if err != nil {
		return task.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, nil
}

// RemoveCompletedTasks keeps only the keepLast most recently finished
// tasks; older ones become unqueryable and are handed to the archive.
func (s *Swarm) RemoveCompletedTasks(ctx context.Context, keepLast int) int {
	s.mu.Lock()
	removed := s.tasks.TrimHistory(keepLast)
	s.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	s.logger.Info("trimmed task history",
		zap.Int("removed", len(removed)),
		zap.Int("keep_last", keepLast))

	if s.opts.Archive != nil {
		if err := s.opts.Archive.ArchiveTasks(ctx, removed); err != nil {
			s.logger.Warn("archive trimmed tasks failed", zap.Error(err))
		}
	}
	ev := events.New(events.HistoryTrimmed)
	ev.Count = len(removed)
	s.emit(ctx, ev)
	return len(removed)
}

// RedistributeTasks returns every in-progress task of agents whose load
// exceeds threshold to the queue and reports how many moved.
func (s *Swarm) RedistributeTasks(ctx context.Context, threshold int) int {
	s.mu.Lock()
	var evs []*events.Event
	for _, id := range s.agents.IDs() {
		if s.agents.Get(id).Load <= threshold {
			continue
		}
		evs = append(evs, s.reassignLocked(s.tasks.HeldBy(id), events.TaskReassigned, "redistributed")...)
	}
	s.observeLocked()
	s.mu.Unlock()

	if len(evs) == 0 {
		return 0
	}
	s.opts.Metrics.Reassigned("redistributed", len(evs))
	s.logger.Info("redistributed tasks",
		zap.Int("moved", len(evs)),
		zap.Int("threshold", threshold))
	summary := events.New(events.TasksRedistributed)
	summary.Count = len(evs)
	s.emit(ctx, append(evs, summary)...)
	return len(evs)
}

// ReapExpired requeues in-progress tasks that exceeded their timeout.
func (s *Swarm) ReapExpired(ctx context.Context) int {
	s.mu.Lock()
	now := s.opts.Now()
	var expired []int64
	for _, t := range s.tasks.InProgress() {
		if t.Expired(now) {
			expired = append(expired, t.ID)
		}
	}
	evs := s.reassignLocked(expired, events.TaskTimedOut, "timeout")
	s.observeLocked()
	s.mu.Unlock()

	if len(evs) > 0 {
		s.opts.Metrics.Reassigned("timeout", len(evs))
		s.logger.Warn("requeued timed out tasks", zap.Int("count", len(evs)))
		s.emit(ctx, evs...)
	}
	return len(evs)
}

// Shutdown stops every worker loop and waits for them or for ctx.
func (s *Swarm) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	handles := make([]*workerHandle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		select {
		case <-h.worker.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger.Info("swarm stopped", zap.Int("workers", len(handles)))
	return nil
}

func (s *Swarm) observeLocked() {
	c := s.tasks.Counts()
	s.opts.Metrics.Occupancy(c.Pending, c.InProgress, s.agents.Len())
}

func (s *Swarm) emit(ctx context.Context, evs ...*events.Event) {
	if len(evs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	for _, ev := range evs {
		if err := s.opts.Events.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish event failed",
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

func specLabel(spec string) string {
	if spec == "" {
		return "general"
	}
	return spec
}
