// Package metrics exposes Prometheus metrics for the HTTP surface, ingestion
// runs, discovery candidates and AI backend calls.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

const namespace = "eventagg"

// Collector owns a private registry and implements the ingestion, discovery
// and AI observer interfaces.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	eventsTotal *prometheus.CounterVec
	lastRun     *prometheus.GaugeVec

	candidatesTotal *prometheus.CounterVec

	aiCallsTotal   *prometheus.CounterVec
	aiCallDuration *prometheus.HistogramVec
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Adapter runs by source and final status.",
		}, []string{"source", "status"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one adapter run including merge.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Drafts processed by source and merge outcome.",
		}, []string{"source", "outcome"}),

		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run per source.",
		}, []string{"source"}),

		candidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates_total",
			Help:      "Discovery candidates by pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),

		aiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "calls_total",
			Help:      "AI backend calls by backend, operation and result.",
		}, []string{"backend", "operation", "result"}),

		aiCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "call_duration_seconds",
			Help:      "Latency of AI backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend", "operation"}),
	}

	for _, m := range []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.runsTotal, c.runDuration, c.eventsTotal, c.lastRun,
		c.candidatesTotal,
		c.aiCallsTotal, c.aiCallDuration,
	} {
		if err := c.registry.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics. Paths
// are labelled by chi route pattern when one matched.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveRun implements ingestion.RunObserver.
func (c *Collector) ObserveRun(source string, status models.RunStatus, counts ingestion.Counts, duration time.Duration) {
	c.runsTotal.WithLabelValues(source, string(status)).Inc()
	c.runDuration.WithLabelValues(source).Observe(duration.Seconds())
	c.lastRun.WithLabelValues(source).SetToCurrentTime()

	for outcome, n := range map[string]int{
		"found":   counts.Found,
		"new":     counts.New,
		"updated": counts.Updated,
		"skipped": counts.Skipped,
		"failed":  counts.Failed,
	} {
		if n > 0 {
			c.eventsTotal.WithLabelValues(source, outcome).Add(float64(n))
		}
	}
}

// ObserveCandidate implements discovery.Observer.
func (c *Collector) ObserveCandidate(stage, outcome string) {
	c.candidatesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveCall implements ai.CallObserver.
func (c *Collector) ObserveCall(backend, operation string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.aiCallsTotal.WithLabelValues(backend, operation, result).Inc()
	c.aiCallDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the connection's writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
