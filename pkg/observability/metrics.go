package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Execution outcomes used as the "status" label.
const (
	StatusSuccess     = "success"
	StatusConfigError = "config_error"
	StatusNotFound    = "not_found"
	StatusBackendErr  = "backend_error"
	StatusTimeout     = "timeout"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	executions       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	pending          prometheus.Gauge
	listenerRestarts prometheus.Counter
	materializeFails prometheus.Counter
	danglingEdges    *prometheus.CounterVec
	templates        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodegate_executions_total",
				Help: "Workflow executions by template and outcome",
			},
			[]string{"workflow", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodegate_execution_duration_seconds",
				Help:    "End-to-end duration of workflow executions",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
			[]string{"workflow"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodegate_pending_executions",
			Help: "Submitted executions still waiting for their completion event",
		}),
		listenerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodegate_listener_restarts_total",
			Help: "Reconnections of the backend event listener",
		}),
		materializeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodegate_materialization_failures_total",
			Help: "File parameters that could not be written to the input directory",
		}),
		danglingEdges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodegate_dangling_edges_total",
				Help: "Edges left pointing at a bypassed node",
			},
			[]string{"workflow"},
		),
		templates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodegate_templates",
			Help: "Templates currently loaded",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.executions, m.duration, m.pending, m.listenerRestarts,
			m.materializeFails, m.danglingEdges, m.templates)
	}
	return m
}

// ObserveExecution records the outcome and duration of one execution.
func (m *Metrics) ObserveExecution(workflow, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(workflow, status).Inc()
	m.duration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

// SetPending publishes the number of registered, unfinished executions.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// ListenerRestarted counts one listener reconnection.
func (m *Metrics) ListenerRestarted() {
	if m == nil {
		return
	}
	m.listenerRestarts.Inc()
}

// MaterializationFailed counts one skipped file parameter.
func (m *Metrics) MaterializationFailed() {
	if m == nil {
		return
	}
	m.materializeFails.Inc()
}

// DanglingEdges adds n dangling edges left in an execution of workflow.
func (m *Metrics) DanglingEdges(workflow string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.danglingEdges.WithLabelValues(workflow).Add(float64(n))
}

// SetTemplates publishes the number of loaded templates.
func (m *Metrics) SetTemplates(n int) {
	if m == nil {
		return
	}
	m.templates.Set(float64(n))
}
