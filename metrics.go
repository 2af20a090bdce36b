package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buger/gorshift/dispatch"
	"github.com/buger/gorshift/stats"
)

// Metrics exposes run progress to Prometheus.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server

	scheduled prometheus.Gauge
	pending   prometheus.Gauge
	outcomes  *prometheus.CounterVec
	latency   prometheus.Histogram
	lateness  prometheus.Histogram
}

func NewMetrics(addr string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scheduled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gorshift",
		Name:      "scheduled_requests",
		Help:      "Number of requests scheduled by the current run",
	})
	m.pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gorshift",
		Name:      "pending_requests",
		Help:      "Number of scheduled requests without an outcome yet",
	})
	m.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gorshift",
		Name:      "outcomes_total",
		Help:      "Finished requests by outcome kind and status code",
	}, []string{"kind", "code"})
	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gorshift",
		Name:      "request_duration_seconds",
		Help:      "Round trip time of replayed requests",
		Buckets:   prometheus.DefBuckets,
	})
	m.lateness = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gorshift",
		Name:      "dispatch_lateness_seconds",
		Help:      "Delay between a request's deadline and the moment it was sent",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	})

	m.registry.MustRegister(m.scheduled, m.pending, m.outcomes, m.latency, m.lateness)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens in the background until Shutdown.
func (m *Metrics) Serve() {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("Metrics server failed:", err)
		}
	}()
}

func (m *Metrics) Shutdown(ctx context.Context) error { return m.server.Shutdown(ctx) }

// Scheduled is called once before the run starts.
func (m *Metrics) Scheduled(n int) {
	m.scheduled.Set(float64(n))
	m.pending.Set(float64(n))
}

func (m *Metrics) ResponseAnalyze(o dispatch.Outcome) {
	m.pending.Dec()
	m.outcomes.WithLabelValues(o.Kind.String(), stats.Code(o)).Inc()

	if !o.Started.IsZero() {
		m.lateness.Observe(o.Lateness().Seconds())
	}
	if o.Kind == dispatch.Succeeded {
		m.latency.Observe(o.Latency().Seconds())
	}
}
