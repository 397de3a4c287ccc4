// Package metrics exposes the service's Prometheus instrumentation.
// All observation methods are nil-safe so callers can carry a nil
// recorder when metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the service's Prometheus collectors, registered on a
// private registry so tests can build isolated instances.
type Recorder struct {
	registry *prom.Registry

	migrationsStarted  prom.Counter
	migrationsFinished *prom.CounterVec
	migrationDuration  *prom.HistogramVec
	migrationRetries   prom.Histogram
	activeJobs         prom.Gauge
	modelCalls         *prom.CounterVec
	modelCostUSD       *prom.CounterVec
	sandboxRuns        *prom.CounterVec
}

// NewRecorder constructs and registers the service collectors.
func NewRecorder() *Recorder {
	r := &Recorder{registry: prom.NewRegistry()}

	r.migrationsStarted = prom.NewCounter(prom.CounterOpts{
		Namespace: "modernizer",
		Name:      "migrations_started_total",
		Help:      "Migration jobs accepted by the intake endpoint",
	})
	r.migrationsFinished = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "modernizer",
		Name:      "migrations_finished_total",
		Help:      "Migration jobs reaching a terminal status",
	}, []string{"status"})
	r.migrationDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "modernizer",
		Name:      "migration_duration_seconds",
		Help:      "Wall time from intake to terminal status",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"status"})
	r.migrationRetries = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "modernizer",
		Name:      "migration_retries",
		Help:      "Analyzer-driven retries consumed per finished migration",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})
	r.activeJobs = prom.NewGauge(prom.GaugeOpts{
		Namespace: "modernizer",
		Name:      "active_jobs",
		Help:      "Migration jobs currently in a non-terminal status",
	})
	r.modelCalls = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "modernizer",
		Name:      "model_calls_total",
		Help:      "Language-model completions by agent and result",
	}, []string{"agent", "result"})
	r.modelCostUSD = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "modernizer",
		Name:      "model_cost_usd_total",
		Help:      "Accumulated model spend in USD by agent",
	}, []string{"agent"})
	r.sandboxRuns = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "modernizer",
		Name:      "sandbox_runs_total",
		Help:      "Sandbox validation runs by outcome",
	}, []string{"outcome"})

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.migrationsStarted, r.migrationsFinished, r.migrationDuration,
		r.migrationRetries, r.activeJobs, r.modelCalls, r.modelCostUSD,
		r.sandboxRuns,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test scraping.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// MigrationStarted marks one accepted job.
func (r *Recorder) MigrationStarted() {
	if r == nil {
		return
	}
	r.migrationsStarted.Inc()
	r.activeJobs.Inc()
}

// MigrationFinished marks one job reaching a terminal status.
func (r *Recorder) MigrationFinished(status string, retries int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.migrationsFinished.WithLabelValues(status).Inc()
	r.migrationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	r.migrationRetries.Observe(float64(retries))
	r.activeJobs.Dec()
}

// ModelCall records one completion attempt and its spend.
func (r *Recorder) ModelCall(agent string, ok bool, costUSD float64) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.modelCalls.WithLabelValues(agent, result).Inc()
	if costUSD > 0 {
		r.modelCostUSD.WithLabelValues(agent).Add(costUSD)
	}
}

// SandboxRun records one validation run outcome label
// (success, failure, timeout, unavailable).
func (r *Recorder) SandboxRun(outcome string) {
	if r == nil {
		return
	}
	r.sandboxRuns.WithLabelValues(outcome).Inc()
}
