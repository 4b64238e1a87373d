package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteCountsByStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	h := m.Route("/api/v1/portal/billing", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=x", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/portal/billing", "403")))
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.BillingReads.WithLabelValues("full").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `portal_billing_billing_reads_total{outcome="full"} 1`))
}

func TestUnregisteredMetricsStillCount(t *testing.T) {
	m := New(nil)
	m.ProductCacheLookups.WithLabelValues("hit").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProductCacheLookups.WithLabelValues("hit")))
}
