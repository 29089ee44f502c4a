package common

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the guestbook's Prometheus collectors, all registered on one
// registry that is served on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	EntriesSaved          prometheus.Counter
	UploadsAccepted       prometheus.Counter
	UploadRejections      *prometheus.CounterVec
	VerificationsInFlight prometheus.Gauge
	Advisories            *prometheus.CounterVec
	RateLimited           *prometheus.CounterVec
	CSRFFailures          prometheus.Counter
	SuspiciousHeaders     *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg. A nil registry
// gets a fresh one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		EntriesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestbook_entries_saved_total",
			Help: "Number of entries committed to the store",
		}),
		UploadsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestbook_uploads_accepted_total",
			Help: "Number of images that passed the upload gatekeeper",
		}),
		UploadRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_upload_rejections_total",
			Help: "Number of rejected uploads by reason",
		}, []string{"reason"}),
		VerificationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guestbook_image_verifications_in_flight",
			Help: "Image verifications currently holding a worker slot",
		}),
		Advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_content_advisories_total",
			Help: "Number of comments annotated by the content scanner by category",
		}, []string{"category"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_rate_limited_total",
			Help: "Number of requests denied by a rate limit policy",
		}, []string{"policy"}),
		CSRFFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestbook_csrf_failures_total",
			Help: "Number of state-changing requests with a missing or invalid CSRF token",
		}),
		SuspiciousHeaders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestbook_suspicious_headers_total",
			Help: "Number of requests carrying a suspicious header by header name",
		}, []string{"header"}),
	}
	reg.MustRegister(
		m.EntriesSaved,
		m.UploadsAccepted,
		m.UploadRejections,
		m.VerificationsInFlight,
		m.Advisories,
		m.RateLimited,
		m.CSRFFailures,
		m.SuspiciousHeaders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
