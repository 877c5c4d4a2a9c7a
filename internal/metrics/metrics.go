package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TasksSubmitted  prometheus.Counter
	TasksFinished   *prometheus.CounterVec
	TasksReassigned *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec

	PendingTasks    prometheus.Gauge
	InProgressTasks prometheus.Gauge
	ActiveAgents    prometheus.Gauge

	AutoscaleDecisions *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tasks_submitted_total",
			Help: "Total number of tasks accepted for scheduling",
		}),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_tasks_finished_total",
				Help: "Total number of tasks that reached a terminal status",
			},
			[]string{"status", "specialization"},
		),
		TasksReassigned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_tasks_reassigned_total",
				Help: "Total number of in-progress tasks returned to the queue",
			},
			[]string{"reason"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarm_task_duration_seconds",
				Help:    "Time between claim and completion",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		PendingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_pending_tasks",
			Help: "Tasks waiting for an agent",
		}),
		InProgressTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_in_progress_tasks",
			Help: "Tasks currently claimed by an agent",
		}),
		ActiveAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_active_agents",
			Help: "Registered agents",
		}),
		AutoscaleDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_autoscale_decisions_total",
				Help: "Autoscale ticks by outcome",
			},
			[]string{"outcome"},
		),
		gatherer: registry,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.TasksSubmitted.Inc()
}

// Finished records a terminal task.
func (m *Metrics) Finished(status, specialization string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if specialization == "" {
		specialization = "general"
	}
	m.TasksFinished.WithLabelValues(status, specialization).Inc()
	m.TaskDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) Reassigned(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TasksReassigned.WithLabelValues(reason).Add(float64(n))
}

// Occupancy sets the queue and pool gauges.
func (m *Metrics) Occupancy(pending, inProgress, agents int) {
	if m == nil {
		return
	}
	m.PendingTasks.Set(float64(pending))
	m.InProgressTasks.Set(float64(inProgress))
	m.ActiveAgents.Set(float64(agents))
}

func (m *Metrics) Autoscale(outcome string) {
	if m == nil {
		return
	}
	m.AutoscaleDecisions.WithLabelValues(outcome).Inc()
}
