package agent

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/task"
)

// Executor runs the body of a claimed task. Returning an error marks the
// task failed.
type Executor interface {
	Execute(ctx context.Context, t task.Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t task.Task) error

func (f ExecutorFunc) Execute(ctx context.Context, t task.Task) error { return f(ctx, t) }

// RandomDelay simulates work by sleeping a uniformly random duration in
// [Min, Max].
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

func (r RandomDelay) Execute(ctx context.Context, _ task.Task) error {
	d := r.Min
	if span := r.Max - r.Min; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
