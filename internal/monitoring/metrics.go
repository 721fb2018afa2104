// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Namespace     string `yaml:"namespace" json:"namespace"`
	Subsystem     string `yaml:"subsystem" json:"subsystem"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// Metrics holds the Prometheus collectors of the crawl core. Every method is
// safe on a nil receiver, which turns recording off.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	fetchFailures     *prometheus.CounterVec
	throttleDelay     prometheus.Histogram
	challenges        *prometheus.CounterVec
	bypasses          *prometheus.CounterVec
	bypassDuration    prometheus.Histogram
	pagesAcquired     prometheus.Counter
	pagesReleased     prometheus.Counter
	pagesOpen         prometheus.Gauge
	captureErrors     *prometheus.CounterVec
	recordsAssembled  *prometheus.CounterVec
	malformedFragment *prometheus.CounterVec
	recordsWritten    *prometheus.CounterVec
	outputErrors      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "ecomscrapexter"
	}
	if config.Subsystem == "" {
		config.Subsystem = "crawl"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	ns, sub := config.Namespace, config.Subsystem

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_total",
			Help: "Responses received, by site and status code",
		}, []string{"site", "status_code"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "fetch_failures_total",
			Help: "Requests that failed terminally, by site and error code",
		}, []string{"site", "code"}),
		throttleDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "throttle_delay_seconds",
			Help:    "Delay applied to requests carrying a delay hint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		challenges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "challenges_detected_total",
			Help: "Anti-bot challenges detected, by site",
		}, []string{"site"}),
		bypasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "bypass_attempts_total",
			Help: "Token exchanges, by site and outcome",
		}, []string{"site", "outcome"}),
		bypassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "bypass_duration_seconds",
			Help:    "Token exchange duration",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
		}),
		pagesAcquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pages_acquired_total",
			Help: "Rendered pages acquired",
		}),
		pagesReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pages_released_total",
			Help: "Rendered pages released",
		}),
		pagesOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pages_open",
			Help: "Rendered pages currently open",
		}),
		captureErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "capture_errors_total",
			Help: "Content or screenshot captures refused, by kind",
		}, []string{"kind"}),
		recordsAssembled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "records_assembled_total",
			Help: "Records produced by site callbacks",
		}, []string{"site"}),
		malformedFragment: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "malformed_fragments_total",
			Help: "Fragments dropped during normalization, by site",
		}, []string{"site"}),
		recordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "records_written_total",
			Help: "Records written, by output format",
		}, []string{"format"}),
		outputErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "output_errors_total",
			Help: "Output write failures, by output format",
		}, []string{"format"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queue_depth",
			Help: "Requests waiting in the scheduler",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordResponse(site string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(site, statusLabel(status)).Inc()
}

func (m *Metrics) RecordFetchFailure(site, code string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(site, code).Inc()
}

func (m *Metrics) ObserveThrottle(d time.Duration) {
	if m == nil {
		return
	}
	m.throttleDelay.Observe(d.Seconds())
}

func (m *Metrics) RecordChallenge(site string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(site).Inc()
}

// RecordBypass counts one token exchange; outcome is "success" or "failure".
func (m *Metrics) RecordBypass(site, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bypasses.WithLabelValues(site, outcome).Inc()
	m.bypassDuration.Observe(d.Seconds())
}

func (m *Metrics) PageAcquired() {
	if m == nil {
		return
	}
	m.pagesAcquired.Inc()
	m.pagesOpen.Inc()
}

func (m *Metrics) PageReleased() {
	if m == nil {
		return
	}
	m.pagesReleased.Inc()
	m.pagesOpen.Dec()
}

func (m *Metrics) RecordCaptureError(kind string) {
	if m == nil {
		return
	}
	m.captureErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordAssembled(site string, records, malformed int) {
	if m == nil {
		return
	}
	m.recordsAssembled.WithLabelValues(site).Add(float64(records))
	m.malformedFragment.WithLabelValues(site).Add(float64(malformed))
}

func (m *Metrics) RecordWritten(format string, n int) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(format).Add(float64(n))
}

func (m *Metrics) RecordOutputError(format string) {
	if m == nil {
		return
	}
	m.outputErrors.WithLabelValues(format).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
