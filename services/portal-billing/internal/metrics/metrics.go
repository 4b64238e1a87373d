// Package metrics holds the Prometheus collectors for the portal billing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal_billing"

type Metrics struct {
	// Product name cache
	ProductCacheLookups *prometheus.CounterVec
	ProductFetches      *prometheus.CounterVec

	// Fusion reads
	BillingReads    *prometheus.CounterVec
	BillingDegraded *prometheus.CounterVec

	// Gateway and lifecycle
	GatewayLatency *prometheus.HistogramVec
	Mutations      *prometheus.CounterVec
	OutboxFailures prometheus.Counter
	Webhooks       *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg yields working but
// unregistered collectors, which is what tests use.
func New(reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer
	var gatherer prometheus.Gatherer = prometheus.NewRegistry()
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Metrics{
		ProductCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_cache_lookups_total",
			Help:      "Product name cache lookups by result (hit, miss, expired)",
		}, []string{"result"}),
		ProductFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_fetches_total",
			Help:      "Batched remote product fetches by outcome",
		}, []string{"outcome"}),
		BillingReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_reads_total",
			Help:      "Billing view reads by outcome (full, no_account, degraded)",
		}, []string{"outcome"}),
		BillingDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_degraded_total",
			Help:      "Billing reads that fell back to the empty view, by reason",
		}, []string{"reason"}),
		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency by operation and outcome",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"operation", "outcome"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_mutations_total",
			Help:      "Subscription lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_record_failures_total",
			Help:      "Lifecycle events that could not be written to the outbox",
		}),
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events by type and outcome",
		}, []string{"event_type", "outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayLatency.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

// Route wraps a handler with request count and latency collectors labelled by
// the registered route rather than the raw path.
func (m *Metrics) Route(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
