package swarm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer requeues tasks that outlived their timeout.
type Expirer interface {
	ReapExpired(ctx context.Context) int
}

// Reaper enforces task timeouts on a fixed period.
type Reaper struct {
	target   Expirer
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a reaper; a non-positive interval defaults to 1s.
func NewReaper(target Expirer, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reaper{
		target:   target,
		interval: interval,
		logger:   logger.With(zap.String("component", "reaper")),
	}
}

// Run ticks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper tick panicked", zap.Any("panic", rec))
		}
	}()
	if n := r.target.ReapExpired(ctx); n > 0 {
		r.logger.Debug("reaped expired tasks", zap.Int("count", n))
	}
}
