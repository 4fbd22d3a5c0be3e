// Package metrics exposes reservation and HTTP metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "srtsched"

// Metrics holds the collectors on a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollAttempts  prometheus.Counter
	transients    *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	running       prometheus.Gauge
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Search submissions made by the reservation engine.",
		}),
		transients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Transient conditions absorbed by the polling loop.",
		}, []string{"step"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_attempts_total",
			Help:      "Booking clicks by verdict.",
		}, []string{"verdict"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished reservation jobs by terminal phase.",
		}, []string{"outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 while a reservation job is running.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollAttempts, m.transients, m.bookings, m.jobs, m.running,
		m.notifications, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PollAttempt() {
	if m == nil {
		return
	}
	m.pollAttempts.Inc()
}

func (m *Metrics) Transient(step string) {
	if m == nil {
		return
	}
	m.transients.WithLabelValues(step).Inc()
}

func (m *Metrics) Booking(verdict string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(verdict).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.running.Set(1)
}

func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.running.Set(0)
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// Middleware records request count and latency per registered route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.Status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (rw *StatusRecorder) WriteHeader(code int) {
	rw.Status = code
	rw.ResponseWriter.WriteHeader(code)
}
