package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the acquirer. It
// implements segments.Recorder and acquire.Recorder.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	eventsTotal         *prometheus.CounterVec
	segmentsTotal       *prometheus.CounterVec
	segmentAttempts     prometheus.Histogram
	candidatesTotal     *prometheus.CounterVec
	acquisitionsTotal   *prometheus.CounterVec
	acquisitionDuration prometheus.Histogram
	activeJobs          prometheus.Gauge
	sessions            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the acquirer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acquirer_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acquirer_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquirer_events_total",
		Help: "Observed network events reported by sessions, by result",
	}, []string{"result"})
	segmentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquirer_segments_total",
		Help: "Segments that reached a terminal state, by result",
	}, []string{"result"})
	segmentAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acquirer_segment_attempts",
		Help:    "Fetch attempts used per segment",
		Buckets: []float64{1, 2, 3, 5, 8, 10},
	})
	candidatesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquirer_candidates_total",
		Help: "Candidates by final outcome (skipped, failed, completed)",
	}, []string{"outcome"})
	acquisitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acquirer_acquisitions_total",
		Help: "Finished acquisitions, by result",
	}, []string{"result"})
	acquisitionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acquirer_acquisition_duration_seconds",
		Help:    "Wall time of finished acquisitions",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acquirer_active_jobs",
		Help: "Number of acquisitions currently running",
	})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acquirer_sessions",
		Help: "Number of sessions held in memory",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		eventsTotal,
		segmentsTotal,
		segmentAttempts,
		candidatesTotal,
		acquisitionsTotal,
		acquisitionDuration,
		activeJobs,
		sessions,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		eventsTotal:         eventsTotal,
		segmentsTotal:       segmentsTotal,
		segmentAttempts:     segmentAttempts,
		candidatesTotal:     candidatesTotal,
		acquisitionsTotal:   acquisitionsTotal,
		acquisitionDuration: acquisitionDuration,
		activeJobs:          activeJobs,
		sessions:            sessions,
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

// IncEvents counts a reported event: "accepted", "duplicate", "ignored" or
// "rejected".
func (m *Metrics) IncEvents(result string) {
	m.eventsTotal.WithLabelValues(result).Inc()
}

// ObserveSegment implements segments.Recorder.
func (m *Metrics) ObserveSegment(succeeded bool, attempts int) {
	m.segmentsTotal.WithLabelValues(result(succeeded)).Inc()
	m.segmentAttempts.Observe(float64(attempts))
}

// ObserveCandidate implements acquire.Recorder.
func (m *Metrics) ObserveCandidate(outcome string) {
	m.candidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAcquisition implements acquire.Recorder.
func (m *Metrics) ObserveAcquisition(succeeded bool, elapsed time.Duration) {
	m.acquisitionsTotal.WithLabelValues(result(succeeded)).Inc()
	m.acquisitionDuration.Observe(elapsed.Seconds())
}

// SetActiveJobs sets the active jobs gauge.
func (m *Metrics) SetActiveJobs(n int) {
	m.activeJobs.Set(float64(n))
}

// SetSessions sets the sessions gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
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

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
