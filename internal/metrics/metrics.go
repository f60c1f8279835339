// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/tools"
)

const namespace = "webpilot"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// RunsTotal counts finished runs by terminal event type.
	RunsTotal *prometheus.CounterVec
	// RunDuration observes wall time per run, by terminal event type.
	RunDuration *prometheus.HistogramVec
	// RunIterations observes how many tool steps a run took.
	RunIterations prometheus.Histogram
	// ToolDuration observes dispatch latency per tool.
	ToolDuration *prometheus.HistogramVec
	// ToolErrors counts failed dispatches by tool and error kind.
	ToolErrors *prometheus.CounterVec
	// ActiveRuns is the number of runs currently streaming on this process.
	ActiveRuns prometheus.Gauge
	// Rejections counts requests turned away before a run, by reason.
	Rejections *prometheus.CounterVec
}

// New creates and registers the collectors, including the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished agent runs by terminal event.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Agent run wall time in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		RunIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Tool steps taken per run.",
			Buckets:   prometheus.LinearBuckets(0, 5, 21),
		}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool dispatch latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Failed tool dispatches by error kind.",
		}, []string{"tool", "kind"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in progress on this instance.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests rejected before a run started.",
		}, []string{"reason"}),
	}
	m.Registry.MustRegister(
		m.RunsTotal, m.RunDuration, m.RunIterations,
		m.ToolDuration, m.ToolErrors,
		m.ActiveRuns, m.Rejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var _ tools.DispatchObserver = (*Metrics)(nil)

// ObserveDispatch records one tool dispatch.
func (m *Metrics) ObserveDispatch(tool string, res tools.Result, elapsed time.Duration) {
	if tool == "" {
		tool = "none"
	}
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	if res.Failed() {
		m.ToolErrors.WithLabelValues(tool, string(res.Kind)).Inc()
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome schemas.EventType, iterations int, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(string(outcome)).Inc()
	m.RunDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	m.RunIterations.Observe(float64(iterations))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
