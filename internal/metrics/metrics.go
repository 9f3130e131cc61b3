// Package metrics exposes LeadPipe pipeline counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadpipe"

// Forward paths recorded by ForwardAttempt.
const (
	PathNative   = "native"
	PathFallback = "fallback"
	PathFailed   = "failed"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	started         time.Time
	classifications *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	forwards        *prometheus.CounterVec
	chatFailures    prometheus.Counter
	backfillSeconds prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Messages classified, by tier",
		}, []string{"tier"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages processed, by runner and outcome",
		}, []string{"runner", "outcome"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_attempts_total",
			Help:      "Forward attempts, by delivery path",
		}, []string{"path"}),
		chatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_chat_failures_total",
			Help:      "Chats whose history could not be read during backfill",
		}),
		backfillSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backfill_duration_seconds",
			Help:      "Wall time of a complete backfill run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.registry.MustRegister(m.classifications, m.outcomes, m.forwards, m.chatFailures, m.backfillSeconds)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Classified(tier string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(tier).Inc()
}

func (m *Metrics) Outcome(runner, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(runner, outcome).Inc()
}

func (m *Metrics) ForwardAttempt(path string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(path).Inc()
}

func (m *Metrics) ChatFailed() {
	if m == nil {
		return
	}
	m.chatFailures.Inc()
}

func (m *Metrics) BackfillDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.backfillSeconds.Observe(d.Seconds())
}

// Handler returns the mux serving /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", m.healthHandler)
	return mux
}

// Serve exposes Handler on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := m.Handler()
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	slog.Info("Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
