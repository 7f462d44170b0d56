package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/tlsbench/internal/recorder"
	"github.com/torosent/tlsbench/internal/server"
)

const namespace = "tlsbench"

// FailureSource reports persisted-record failures per channel.
type FailureSource interface {
	Failures(kind recorder.Kind) int64
}

// Exporter publishes session measurements as Prometheus metrics.
type Exporter struct {
	registry *prometheus.Registry

	durations map[recorder.Kind]prometheus.Histogram
	sizes     map[recorder.Kind]prometheus.Histogram
	sessions  *prometheus.CounterVec
	active    prometheus.Gauge
}

// NewExporter registers the tlsbench collectors on a private registry.
func NewExporter() *Exporter {
	e := &Exporter{
		registry:  prometheus.NewRegistry(),
		durations: make(map[recorder.Kind]prometheus.Histogram, len(recorder.Kinds)),
		sizes:     make(map[recorder.Kind]prometheus.Histogram, 2),
	}

	for _, kind := range recorder.Kinds {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      kind.String() + "_duration_seconds",
			Help:      "Wall-clock duration of TLS " + kind.String() + " operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})
		e.registry.MustRegister(h)
		e.durations[kind] = h
	}
	for _, kind := range []recorder.Kind{recorder.KindRead, recorder.KindWrite} {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      kind.String() + "_bytes",
			Help:      "Bytes transferred per TLS " + kind.String() + " operation.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		})
		e.registry.MustRegister(h)
		e.sizes[kind] = h
	}

	e.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Sessions that reached the closed state, by outcome.",
	}, []string{"outcome"})
	e.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently running.",
	})
	e.registry.MustRegister(e.sessions, e.active)
	return e
}

// WatchFailures exposes the record failure counters of a sink.
func (e *Exporter) WatchFailures(src FailureSource) {
	for _, kind := range recorder.Kinds {
		kind := kind
		e.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "record_errors_total",
			Help:        "Metric records that could not be appended to their channel.",
			ConstLabels: prometheus.Labels{"channel": kind.String()},
		}, func() float64 {
			return float64(src.Failures(kind))
		}))
	}
}

// Observe implements recorder.Observer.
func (e *Exporter) Observe(rec recorder.Record) {
	if h, ok := e.durations[rec.Kind]; ok {
		h.Observe(rec.Duration.Seconds())
	}
	if h, ok := e.sizes[rec.Kind]; ok {
		h.Observe(float64(rec.Size))
	}
}

// SessionStarted implements server.SessionObserver.
func (e *Exporter) SessionStarted() {
	e.active.Inc()
}

// SessionEnded implements server.SessionObserver.
func (e *Exporter) SessionEnded(outcome server.Outcome) {
	e.active.Dec()
	e.sessions.WithLabelValues(string(outcome)).Inc()
}

// Registry returns the registry backing the exporter.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// NewHTTPServer returns a server exposing the exporter on /metrics.
func (e *Exporter) NewHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
