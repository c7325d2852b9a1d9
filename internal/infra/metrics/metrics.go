// Package metrics exposes dispatcher telemetry in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rand-agent/internal/infra/config"
	"rand-agent/internal/infra/middleware"
	"rand-agent/internal/usecase/randagent"
)

const namespace = "randagent"

// Recorder implements randagent.Recorder on a private Prometheus registry.
type Recorder struct {
	registry      *prometheus.Registry
	dispatches    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	retries       prometheus.Counter
	validAgents   prometheus.Gauge
}

var _ randagent.Recorder = (*Recorder)(nil)

// NewRecorder registers the dispatcher collectors plus the Go runtime and
// process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Prompts dispatched, by agent and outcome.",
		}, []string{"provider", "model", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Agent call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invalidations_total",
			Help:      "Agents that reached their failure ceiling.",
		}, []string{"provider", "model"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry sleeps scheduled after a failed attempt.",
		}),
		validAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valid_agents",
			Help:      "Agents currently below their failure ceiling.",
		}),
	}
	r.registry.MustRegister(
		r.dispatches,
		r.duration,
		r.invalidations,
		r.retries,
		r.validAgents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveDispatch counts one dispatch. Latency is recorded only for calls
// that reached an agent.
func (r *Recorder) ObserveDispatch(provider, model string, outcome randagent.Outcome, elapsed time.Duration) {
	r.dispatches.WithLabelValues(provider, model, string(outcome)).Inc()
	if outcome != randagent.OutcomeNoAgent {
		r.duration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	}
}

func (r *Recorder) ObserveInvalidation(provider, model string) {
	r.invalidations.WithLabelValues(provider, model).Inc()
}

func (r *Recorder) ObserveRetry() { r.retries.Inc() }

func (r *Recorder) SetValidAgents(n int) { r.validAgents.Set(float64(n)) }

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics endpoint until ctx is done.
func Serve(ctx context.Context, cfg config.MetricsConfig, r *Recorder, logger *slog.Logger) error {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	limit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerMin: cfg.RequestsPerMinute,
		TrustedProxies: cfg.TrustedProxies,
	})
	mux := http.NewServeMux()
	mux.Handle(path, middleware.SecurityHeaders(limit(r.Handler())))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
