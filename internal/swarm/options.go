package swarm

import (
	"context"
	"time"

	"github.com/nidhogg/nuka-swarm/internal/agent"
	"github.com/nidhogg/nuka-swarm/internal/events"
	"github.com/nidhogg/nuka-swarm/internal/metrics"
	"github.com/nidhogg/nuka-swarm/internal/task"
)

// Defaults used by the facade and the HTTP layer.
const (
	DefaultKeepLast              = 100
	DefaultRedistributeThreshold = 5
)

// Archiver receives finished tasks trimmed from the in-memory history.
type Archiver interface {
	ArchiveTasks(ctx context.Context, tasks []task.Task) error
}

// Options configures a Swarm. Zero values fall back to defaults.
type Options struct {
	// Executor runs task bodies. Defaults to a random delay between 0.5s and 2s.
	Executor agent.Executor
	// IdleInterval is the worker back-off when no task matches.
	IdleInterval time.Duration
	// DefaultTimeout applies to tasks submitted without WithTimeout, in seconds.
	DefaultTimeout int
	// Specializations is consulted by AddAgent when none are given.
	Specializations agent.SpecializationPolicy

	Events  events.Publisher
	Archive Archiver
	Metrics *metrics.Metrics

	// Now is the clock; tests override it.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Executor == nil {
		o.Executor = agent.RandomDelay{Min: 500 * time.Millisecond, Max: 2 * time.Second}
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = agent.DefaultIdleInterval
	}
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = task.DefaultTimeout
	}
	if o.Specializations == nil {
		o.Specializations = agent.Rotating(agent.DefaultVocabulary, 3)
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// TaskOption customises a submission.
type TaskOption func(*taskParams)

type taskParams struct {
	priority       int
	specialization string
	timeout        *int
}

// WithPriority sets the priority; higher runs first. Default 0.
func WithPriority(p int) TaskOption {
	return func(tp *taskParams) { tp.priority = p }
}

// WithSpecialization restricts the task to agents declaring spec.
func WithSpecialization(spec string) TaskOption {
	return func(tp *taskParams) { tp.specialization = spec }
}

// WithTimeout sets the execution budget in seconds; zero disables it.
func WithTimeout(seconds int) TaskOption {
	return func(tp *taskParams) { tp.timeout = &seconds }
}
