package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus collectors on a private
// registry so tests can construct services without collector name
// collisions.
type Metrics struct {
	registry *prometheus.Registry

	TasksDispatched prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	SnapshotSaves   prometheus.Counter
	QuestionsAsked  prometheus.Counter
	QueueDepth      prometheus.Gauge
	BlockedTasks    prometheus.Gauge
}

// NewMetrics creates and registers the orchestrator collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_tasks_dispatched_total",
			Help: "Tasks pulled by agents and moved to in_progress.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_tasks_completed_total",
			Help: "Tasks reported completed.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_tasks_failed_total",
			Help: "Tasks reported failed.",
		}),
		SnapshotSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_snapshot_saves_total",
			Help: "Successful queue snapshot saves.",
		}),
		QuestionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_questions_asked_total",
			Help: "Questions received from agents.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskflow_queue_depth",
			Help: "Tasks currently ready for dispatch.",
		}),
		BlockedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskflow_blocked_tasks",
			Help: "Tasks waiting on incomplete dependencies.",
		}),
	}

	m.registry.MustRegister(
		m.TasksDispatched,
		m.TasksCompleted,
		m.TasksFailed,
		m.SnapshotSaves,
		m.QuestionsAsked,
		m.QueueDepth,
		m.BlockedTasks,
	)
	return m
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
