package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/task"
	"go.uber.org/zap"
)

// DefaultIdleInterval is how long a worker waits before asking again when
// no task matched.
const DefaultIdleInterval = 100 * time.Millisecond

// Dispatcher hands out and takes back tasks on behalf of an agent.
type Dispatcher interface {
	// Claim returns the best pending task the agent may run, if any.
	Claim(agentID int) (task.Task, bool, error)
	// Finish records the outcome of a claimed task.
	Finish(agentID int, t task.Task, execErr error)
	// Release hands an unfinished claim back to the pending queue.
	Release(agentID int, t task.Task)
}

// Worker is the execution loop bound to a single agent.
type Worker struct {
	agentID    int
	dispatcher Dispatcher
	executor   Executor
	idle       time.Duration
	done       chan struct{}
	logger     *zap.Logger
}

// NewWorker creates a worker loop for agentID. Run starts it.
func NewWorker(agentID int, d Dispatcher, ex Executor, idle time.Duration, logger *zap.Logger) *Worker {
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	return &Worker{
		agentID:    agentID,
		dispatcher: d,
		executor:   ex,
		idle:       idle,
		done:       make(chan struct{}),
		logger:     logger.With(zap.Int("agent", agentID)),
	}
}

// AgentID returns the agent this worker runs for.
func (w *Worker) AgentID() int { return w.agentID }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run claims and executes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Debug("worker stopped")
			return
		}

		t, ok, err := w.dispatcher.Claim(w.agentID)
		if err != nil {
			w.logger.Warn("claim failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if !ok {
			w.sleep(ctx)
			continue
		}
		w.execute(ctx, t)
	}
}

func (w *Worker) execute(ctx context.Context, t task.Task) {
	w.logger.Info("executing task",
		zap.Int64("task", t.ID),
		zap.String("description", t.Description),
		zap.Int("priority", t.Priority))

	err := w.safeExecute(ctx, t)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		w.logger.Info("worker cancelled mid-task, releasing", zap.Int64("task", t.ID))
		w.dispatcher.Release(w.agentID, t)
		return
	}
	if err != nil {
		w.logger.Warn("task failed", zap.Int64("task", t.ID), zap.Error(err))
	}
	w.dispatcher.Finish(w.agentID, t, err)
}

func (w *Worker) safeExecute(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", t.ID, r)
		}
	}()
	return w.executor.Execute(ctx, t)
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.idle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
