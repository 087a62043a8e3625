// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon updates. One instance per
// process, registered on its own registry so tests can build as many as
// they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	ActiveInstances  prometheus.Gauge
	TasksByStatus    *prometheus.GaugeVec
	TaskTransitions  *prometheus.CounterVec
	HandoffsClaimed  prometheus.Counter
	FileChanges      prometheus.Counter
	WorkerRestarts   *prometheus.CounterVec
	PlansExecuted    *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	EventSubscribers prometheus.Gauge
}

// New builds and registers the collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		ActiveInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "howell_active_instances",
			Help: "Live registered instances.",
		}),
		TasksByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "howell_tasks",
			Help: "Tasks on the board by status.",
		}, []string{"status"}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_task_transitions_total",
			Help: "Task lifecycle transitions.",
		}, []string{"transition"}),
		HandoffsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "howell_handoffs_claimed_total",
			Help: "Handoffs claimed by bootstrapping agents.",
		}),
		FileChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "howell_file_changes_total",
			Help: "Filesystem changes detected by the watcher.",
		}),
		WorkerRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_worker_restarts_total",
			Help: "Background worker restarts after a crash.",
		}, []string{"worker"}),
		PlansExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_generation_plans_total",
			Help: "Generation plans executed by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_webhook_events_total",
			Help: "GitHub webhook events received by type.",
		}, []string{"event"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "howell_tool_calls_total",
			Help: "Tool-RPC calls by tool name.",
		}, []string{"tool"}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "howell_event_subscribers",
			Help: "Connected websocket event subscribers.",
		}),
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetTaskCounts updates the per-status task gauges in one shot.
func (m *Metrics) SetTaskCounts(pending, claimed, inProgress, completed, failed int) {
	m.TasksByStatus.WithLabelValues("pending").Set(float64(pending))
	m.TasksByStatus.WithLabelValues("claimed").Set(float64(claimed))
	m.TasksByStatus.WithLabelValues("in-progress").Set(float64(inProgress))
	m.TasksByStatus.WithLabelValues("completed").Set(float64(completed))
	m.TasksByStatus.WithLabelValues("failed").Set(float64(failed))
}
