package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the packager.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	jobsTotal       *prometheus.CounterVec
	activeJobs      prometheus.Gauge
	encodeSeconds   *prometheus.HistogramVec
	bytesServed     *prometheus.CounterVec
	uploadsRejected prometheus.Counter
}

// New creates and registers Prometheus metrics for the packager.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	jobsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_transcode_jobs_total",
		Help: "Transcode jobs by terminal status",
	}, []string{"status"})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_transcode_jobs",
		Help: "Number of transcode jobs that have not reached a terminal state",
	})
	encodeSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hls_rendition_encode_seconds",
		Help:    "Wall time spent encoding a single rendition",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"rendition", "outcome"})
	bytesServed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_bytes_served_total",
		Help: "Bytes written to clients by content kind",
	}, []string{"kind"})
	uploadsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_uploads_rejected_total",
		Help: "Uploads rejected by validation before processing",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		jobsTotal,
		activeJobs,
		encodeSeconds,
		bytesServed,
		uploadsRejected,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		jobsTotal:       jobsTotal,
		activeJobs:      activeJobs,
		encodeSeconds:   encodeSeconds,
		bytesServed:     bytesServed,
		uploadsRejected: uploadsRejected,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncJobs counts a job that reached the given terminal status.
func (m *Metrics) IncJobs(status string) {
	m.jobsTotal.WithLabelValues(status).Inc()
}

// SetActiveJobs sets the active jobs gauge.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

// ObserveEncode records how long one rendition encode took.
func (m *Metrics) ObserveEncode(rendition string, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.encodeSeconds.WithLabelValues(rendition, outcome).Observe(d.Seconds())
}

// AddBytesServed adds n bytes to the served counter for kind ("playlist" or "segment").
func (m *Metrics) AddBytesServed(kind string, n int64) {
	if n > 0 {
		m.bytesServed.WithLabelValues(kind).Add(float64(n))
	}
}

// IncUploadsRejected increments the rejected uploads counter.
func (m *Metrics) IncUploadsRejected() {
	m.uploadsRejected.Inc()
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active jobs).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
