// Package metrics exposes Prometheus metrics and a health endpoint for the
// bot process.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nitrobot"

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	decisions      *prometheus.CounterVec
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	answers        *prometheus.CounterVec
	fragments      prometheus.Histogram
	historyTurns   prometheus.Histogram
}

// New creates the collectors, including the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),

		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_decisions_total",
				Help:      "Inbound messages evaluated, by deciding rule and outcome",
			},
			[]string{"rule", "respond"},
		),
		backendCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Backend JSON-RPC calls, by method, response transport and outcome",
			},
			[]string{"method", "transport", "outcome"},
		),
		backendLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_duration_seconds",
				Help:      "Backend call latency",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
			[]string{"method"},
		),
		answers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_delivered_total",
				Help:      "Answers delivered, by platform",
			},
			[]string{"platform"},
		),
		fragments: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "answer_fragments",
				Help:      "Fragments per delivered answer",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
		),
		historyTurns: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "history_turns",
				Help:      "Conversation turns attached per question",
				Buckets:   []float64{0, 1, 5, 10, 15, 20},
			},
		),
	}
}

// ObserveDecision counts a trigger decision.
func (m *Metrics) ObserveDecision(rule string, respond bool) {
	m.decisions.WithLabelValues(rule, strconv.FormatBool(respond)).Inc()
}

// ObserveCall records one backend call.
func (m *Metrics) ObserveCall(method, transport, outcome string, elapsed time.Duration) {
	m.backendCalls.WithLabelValues(method, transport, outcome).Inc()
	m.backendLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveAnswer records a delivered answer.
func (m *Metrics) ObserveAnswer(platform string, fragments, historyTurns int) {
	m.answers.WithLabelValues(platform).Inc()
	m.fragments.Observe(float64(fragments))
	m.historyTurns.Observe(float64(historyTurns))
}

// RegisterQueue exposes a queue depth read from fn on every scrape.
func (m *Metrics) RegisterQueue(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", m.health)
	return r
}

func (m *Metrics) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
	})
}

// Serve runs the metrics server on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("metrics server stopped")
		return nil
	}
}
