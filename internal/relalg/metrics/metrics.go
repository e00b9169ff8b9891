// Package metrics holds the Prometheus collectors of a manager or worker
// process. Every Metrics owns its registry so independent instances can
// coexist in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relalg"

type Metrics struct {
	Registry *prometheus.Registry

	TasksDispatched     prometheus.Counter
	TasksShortCircuited prometheus.Counter
	TaskFailures        *prometheus.CounterVec
	RepliesDropped      prometheus.Counter
	PendingCalls        prometheus.Gauge
	TaskLatency         prometheus.Histogram

	Sessions *prometheus.CounterVec

	WorkerMessages *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "tasks_dispatched_total",
			Help: "Tasks published to the task queue.",
		}),
		TasksShortCircuited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "tasks_short_circuited_total",
			Help: "Tasks failed without a remote call because a predecessor failed.",
		}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "task_failures_total",
			Help: "Failed tasks by error kind.",
		}, []string{"kind"}),
		RepliesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "replies_dropped_total",
			Help: "Replies with no matching pending call.",
		}),
		PendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "pending_calls",
			Help: "Outstanding remote calls.",
		}),
		TaskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "task_latency_seconds",
			Help:    "Time from publish to reply.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "completed_total",
			Help: "Finished client sessions by outcome.",
		}, []string{"outcome"}),
		WorkerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "messages_total",
			Help: "Task messages processed by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		m.TasksDispatched,
		m.TasksShortCircuited,
		m.TaskFailures,
		m.RepliesDropped,
		m.PendingCalls,
		m.TaskLatency,
		m.Sessions,
		m.WorkerMessages,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
