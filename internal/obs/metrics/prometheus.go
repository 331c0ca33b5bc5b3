package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements Provider using client_golang.
type PrometheusProvider struct {
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestsInFlight prometheus.Gauge

	eventsPublished    *prometheus.CounterVec
	eventsProcessed    *prometheus.CounterVec
	eventProcessingDur *prometheus.HistogramVec
	callbackAttempts   *prometheus.CounterVec
	callbackDuration   *prometheus.HistogramVec
	registrationChurn  *prometheus.CounterVec
	activeRegistrants  prometheus.Gauge
	snapshotWrites     *prometheus.CounterVec
	panicsTotal        *prometheus.CounterVec
}

// NewPrometheusProvider creates a new Prometheus metrics provider. A nil cfg
// uses DefaultConfig.
func NewPrometheusProvider(cfg *Config) *PrometheusProvider {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.ApplyDefaults()
	}

	metricName := func(name string) string {
		if cfg.Namespace != "" {
			return cfg.Namespace + "_" + name
		}
		return name
	}

	return &PrometheusProvider{
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName("http_request_duration_seconds"),
			Help:    "HTTP request duration in seconds",
			Buckets: cfg.HTTPRequestBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("http_requests_total"),
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metricName("http_requests_in_flight"),
			Help: "Current number of HTTP requests being processed",
		}),
		eventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("events_published_total"),
			Help: "Total number of events published to a dispatch",
		}, []string{"channel", "event"}),
		eventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("events_processed_total"),
			Help: "Total number of events fanned out to handlers",
		}, []string{"channel", "event", "status"}),
		eventProcessingDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName("event_processing_duration_seconds"),
			Help:    "Time spent fanning an event out to its handlers",
			Buckets: cfg.HTTPRequestBuckets,
		}, []string{"channel", "event"}),
		callbackAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("callback_attempts_total"),
			Help: "Total number of registration callback POST attempts",
		}, []string{"channel", "status"}),
		callbackDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName("callback_duration_seconds"),
			Help:    "Duration of registration callback POSTs",
			Buckets: cfg.HTTPRequestBuckets,
		}, []string{"channel", "status"}),
		registrationChurn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("registration_churn_total"),
			Help: "Registration table mutations by operation",
		}, []string{"op"}),
		activeRegistrants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metricName("active_registrants"),
			Help: "Current number of distinct registered callback URLs",
		}),
		snapshotWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("snapshot_writes_total"),
			Help: "Registration snapshot file writes by outcome",
		}, []string{"status"}),
		panicsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metricName("panics_total"),
			Help: "Total number of recovered panics",
		}, []string{"method"}),
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

func (p *PrometheusProvider) IncRequestsInFlight() { p.requestsInFlight.Inc() }
func (p *PrometheusProvider) DecRequestsInFlight() { p.requestsInFlight.Dec() }

func (p *PrometheusProvider) RecordEventPublished(channel, eventName string) {
	p.eventsPublished.WithLabelValues(channel, eventName).Inc()
}

func (p *PrometheusProvider) RecordEventProcessed(channel, eventName, status string, duration time.Duration) {
	p.eventsProcessed.WithLabelValues(channel, eventName, status).Inc()
	p.eventProcessingDur.WithLabelValues(channel, eventName).Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordCallbackAttempt(channel, status string, duration time.Duration) {
	p.callbackAttempts.WithLabelValues(channel, status).Inc()
	p.callbackDuration.WithLabelValues(channel, status).Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordRegistrationChurn(op string) {
	p.registrationChurn.WithLabelValues(op).Inc()
}

func (p *PrometheusProvider) UpdateActiveRegistrants(count int64) {
	p.activeRegistrants.Set(float64(count))
}

func (p *PrometheusProvider) RecordSnapshotWrite(status string) {
	p.snapshotWrites.WithLabelValues(status).Inc()
}

func (p *PrometheusProvider) RecordPanic(methodName string) {
	p.panicsTotal.WithLabelValues(methodName).Inc()
}

func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records HTTP request duration/count/in-flight around next.
func (p *PrometheusProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		p.IncRequestsInFlight()
		defer p.DecRequestsInFlight()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		p.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), time.Since(start))
	})
}
