package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"go.uber.org/zap"
)

// Pool is the part of the swarm the autoscaler drives.
type Pool interface {
	State() State
	AddAgent(specializations []string) (int, error)
}

// AutoscaleConfig holds the control loop parameters.
type AutoscaleConfig struct {
	Interval time.Duration
	// Factor: grow when pending > active agents * Factor.
	Factor int
	// MaxAgents caps the pool; 0 means unlimited.
	MaxAgents int
}

// DefaultAutoscaleConfig returns a 10s period with factor 2 and no cap.
func DefaultAutoscaleConfig() AutoscaleConfig {
	return AutoscaleConfig{Interval: 10 * time.Second, Factor: 2}
}

// Autoscaler adds at most one agent per tick while the backlog outgrows
// the pool.
type Autoscaler struct {
	pool    Pool
	config  AutoscaleConfig
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAutoscaler creates the monitor. pub may be nil.
func NewAutoscaler(pool Pool, cfg AutoscaleConfig, pub events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Autoscaler {
	def := DefaultAutoscaleConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Autoscaler{
		pool:    pool,
		config:  cfg,
		events:  pub,
		metrics: m,
		logger:  logger.With(zap.String("component", "autoscaler")),
	}
}

// Run ticks until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context) {
	a.logger.Info("autoscaler started", zap.Duration("interval", a.config.Interval))
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("autoscaler stopped")
			return
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.logger.Error("autoscale tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one control step and reports whether an agent was added.
func (a *Autoscaler) Tick(ctx context.Context) (added bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			added, err = false, fmt.Errorf("autoscale tick panicked: %v", r)
			a.metrics.Autoscale("error")
		}
	}()

	st := a.pool.State()
	if st.PendingTasks <= st.ActiveAgents*a.config.Factor {
		a.metrics.Autoscale("idle")
		return false, nil
	}
	if a.config.MaxAgents > 0 && st.ActiveAgents >= a.config.MaxAgents {
		a.metrics.Autoscale("capped")
		a.logger.Debug("backlog high but pool at cap",
			zap.Int("pending", st.PendingTasks),
			zap.Int("agents", st.ActiveAgents))
		return false, nil
	}

	id, err := a.pool.AddAgent(nil)
	if err != nil {
		a.metrics.Autoscale("error")
		return false, fmt.Errorf("add agent: %w", err)
	}
	a.metrics.Autoscale("scaled")
	a.logger.Info("scaled up agent pool",
		zap.Int("agent", id),
		zap.Int("pending", st.PendingTasks),
		zap.Int("agents", st.ActiveAgents+1))

	ev := events.New(events.PoolScaled)
	ev.AgentID = id
	ev.Count = st.ActiveAgents + 1
	ev.Message = fmt.Sprintf("%d pending tasks for %d agents", st.PendingTasks, st.ActiveAgents)
	if err := a.events.Publish(ctx, ev); err != nil {
		a.logger.Warn("publish scale event failed", zap.Error(err))
	}
	return true, nil
}
