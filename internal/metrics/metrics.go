// Package metrics holds the Prometheus instruments of the scoring engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bandscore"

// Metrics holds Prometheus metrics for the engine.
type Metrics struct {
	SessionTransitions *prometheus.CounterVec
	TokensDebited      *prometheus.CounterVec
	AnalysesCreated    *prometheus.CounterVec
	AnalysisDuration   *prometheus.HistogramVec
	GraderFailures     *prometheus.CounterVec
	JobsProcessed      *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobsInFlight       prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		SessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session lifecycle transitions",
			},
			[]string{"module", "event", "outcome"},
		),
		TokensDebited: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "tokens_debited_total",
				Help:      "Tokens debited at session admission",
			},
			[]string{"module"},
		),
		AnalysesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "created_total",
				Help:      "Analyses created, by whether this call won the insert",
			},
			[]string{"module", "result"},
		),
		AnalysisDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analysis",
				Name:      "duration_seconds",
				Help:      "Time to produce an analysis, grader calls included",
				Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"module"},
		),
		GraderFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grader",
				Name:      "failures_total",
				Help:      "Grader calls absorbed as failures",
			},
			[]string{"module"},
		),
		JobsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "processed_total",
				Help:      "Jobs handled by the worker",
			},
			[]string{"job", "outcome"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		JobsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Jobs currently being handled",
			},
		),
		registry: reg,
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts a lifecycle event.
func (m *Metrics) Transition(module, event string, err error) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(module, event, outcome(err)).Inc()
}

// Debited counts tokens taken at admission.
func (m *Metrics) Debited(module string, amount int64) {
	if m == nil {
		return
	}
	m.TokensDebited.WithLabelValues(module).Add(float64(amount))
}

// Analysis records one orchestrator run.
func (m *Metrics) Analysis(module string, created bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "existing"
	if created {
		result = "created"
	}
	m.AnalysesCreated.WithLabelValues(module, result).Inc()
	m.AnalysisDuration.WithLabelValues(module).Observe(took.Seconds())
}

// GraderFailed counts an absorbed grader failure.
func (m *Metrics) GraderFailed(module string) {
	if m == nil {
		return
	}
	m.GraderFailures.WithLabelValues(module).Inc()
}

// Job records one handled job.
func (m *Metrics) Job(name, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(name, result).Inc()
	m.JobDuration.WithLabelValues(name).Observe(took.Seconds())
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.JobsInFlight.Add(delta)
}

// Serve runs a metrics listener on addr until the server is closed.
func (m *Metrics) Serve(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return srv, errc
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
