package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/md-rashed-zaman/clientportal/libs/auth"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/fusion"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/storage"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/subscriptions"
)

const webhookSecret = "whsec_test"

type memRecorder struct{ events []outbox.Event }

func (r *memRecorder) Record(_ context.Context, evt outbox.Event) error {
	r.events = append(r.events, evt)
	return nil
}

type server struct {
	store  *storage.Memory
	gw     *gateway.Mock
	events *memRecorder
	mux    *http.ServeMux
}

func newServer(t *testing.T, verifier auth.Verifier) *server {
	t.Helper()
	store := storage.NewMemory()
	store.PutClient(model.Client{ID: "cl_acme", Slug: "acme", Name: "Acme", StripeCustomerID: "cus_acme"})
	store.PutClient(model.Client{ID: "cl_globex", Slug: "globex", Name: "Globex", StripeCustomerID: "cus_globex"})
	store.PutProposal(model.Proposal{ID: "prop_1", ClientID: "cl_acme", Title: "Website", Pricing: model.PackageList{Packages: []model.Package{
		{ID: "pkg_1", Name: "Build", Type: model.PackageOneTime, Price: decimal.RequireFromString("500"), Currency: "usd"},
	}}})

	gw := gateway.NewMock()
	gw.Customers["cus_acme"] = gateway.Customer{ID: "cus_acme", Currency: "usd"}
	gw.Customers["cus_globex"] = gateway.Customer{ID: "cus_globex", Currency: "usd"}
	gw.AddSubscription(gateway.Subscription{ID: "sub_globex", CustomerID: "cus_globex", Status: gateway.StatusActive})
	gw.AddSubscription(gateway.Subscription{ID: "sub_acme", CustomerID: "cus_acme", Status: gateway.StatusActive})

	m := metrics.New(nil)
	events := &memRecorder{}
	engine := fusion.New(store, gw, nil, nil, m, fusion.Config{CallTimeout: time.Second})
	svc := subscriptions.New(store, gw, events, nil, m, subscriptions.Config{
		CallTimeout:       time.Second,
		DefaultSuccessURL: "https://portal.test/ok",
		DefaultCancelURL:  "https://portal.test/cancel",
	})
	h := New(engine, svc, store, events, nil, m, Config{StripeWebhookSecret: webhookSecret, Verifier: verifier})

	mux := http.NewServeMux()
	h.Register(mux)
	return &server{store: store, gw: gw, events: events, mux: mux}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func asClient(req *http.Request, slug string) *http.Request {
	req.Header.Set("X-Role", "client")
	req.Header.Set("X-Client-Slug", slug)
	req.Header.Set("X-User-Id", "u_"+slug)
	return req
}

func asAdmin(req *http.Request) *http.Request {
	req.Header.Set("X-Role", "admin")
	req.Header.Set("X-User-Id", "u_admin")
	return req
}

func post(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGetBilling(t *testing.T) {
	s := newServer(t, auth.Verifier{})

	rec := s.do(asClient(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing", nil), "acme"))
	require.Equal(t, http.StatusOK, rec.Code)
	var view fusion.BillingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.HasExternalAccount)
	assert.Len(t, view.Subscriptions, 1)

	rec = s.do(asClient(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=globex", nil), "acme"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=acme", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=nobody", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBillingDegradesToEmptyView(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	s.gw.GetCustomerFunc = func(context.Context, string) (gateway.Customer, error) {
		return gateway.Customer{}, fmt.Errorf("gateway down: %w", gateway.ErrUnavailable)
	}

	rec := s.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=acme", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hasExternalAccount":false,"subscriptions":[],"invoices":[],"payments":[],"balance":null}`, rec.Body.String())
}

func TestInactiveClientHeader(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	req := asClient(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing", nil), "acme")
	req.Header.Set("X-Client-Active", "false")

	rec := s.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelSubscriptionRoutes(t *testing.T) {
	s := newServer(t, auth.Verifier{})

	rec := s.do(asClient(post("/api/v1/portal/subscriptions/cancel", `{"subscriptionId":"sub_globex","immediate":true}`), "acme"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(asClient(post("/api/v1/portal/subscriptions/cancel", `{}`), "acme"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")

	rec = s.do(asClient(post("/api/v1/portal/subscriptions/cancel", `{"subscriptionId":"sub_acme"}`), "acme"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"immediate":false}`, rec.Body.String())

	rec = s.do(asClient(post("/api/v1/portal/subscriptions/reactivate", `{"subscriptionId":"sub_acme"}`), "acme"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestReactivateCanceledIsConflict(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	rec := s.do(asClient(post("/api/v1/portal/subscriptions/cancel", `{"subscriptionId":"sub_acme","immediate":true}`), "acme"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(asClient(post("/api/v1/portal/subscriptions/reactivate", `{"subscriptionId":"sub_acme"}`), "acme"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatewayOutageOnMutationIs503(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	s.gw.GetSubscriptionFunc = func(context.Context, string) (gateway.Subscription, error) {
		return gateway.Subscription{}, fmt.Errorf("dial tcp: %w", gateway.ErrUnavailable)
	}

	rec := s.do(asClient(post("/api/v1/portal/subscriptions/cancel", `{"subscriptionId":"sub_acme"}`), "acme"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProposalCheckoutRoute(t *testing.T) {
	s := newServer(t, auth.Verifier{})

	req := asClient(post("/api/v1/portal/proposals/checkout", `{"proposalId":"prop_1"}`), "acme")
	req.Header.Set("Idempotency-Key", "idem-123")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res subscriptions.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.CheckoutURL)
	session, ok := s.gw.LastSession()
	require.True(t, ok)
	assert.Equal(t, "idem-123", session.IdempotencyKey)

	rec = s.do(asClient(post("/api/v1/portal/proposals/checkout", `{"proposalId":"prop_1","selectedPackageIds":["nope"]}`), "acme"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(asClient(post("/api/v1/portal/proposals/checkout", `{"proposalId":"prop_1","successUrl":"not a url"}`), "acme"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnsureCustomerRoute(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	s.store.PutClient(model.Client{ID: "cl_new", Slug: "initech", Name: "Initech"})

	rec := s.do(asClient(post("/api/v1/portal/customers/ensure", `{"clientSlug":"initech"}`), "acme"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(asAdmin(post("/api/v1/portal/customers/ensure", `{"clientSlug":"initech"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(asAdmin(post("/api/v1/portal/customers/ensure", `{"clientSlug":"initech"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":false`)
}

func TestEnsureCustomerRouteReportsEnvironmentMismatch(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	delete(s.gw.Customers, "cus_acme")

	rec := s.do(asAdmin(post("/api/v1/portal/customers/ensure", `{"clientSlug":"acme"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"environment_mismatch"`)

	client, err := s.store.GetClientBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "cus_acme", client.StripeCustomerID)
	assert.Zero(t, s.gw.Calls("CreateCustomer"))
}

func TestBearerIdentity(t *testing.T) {
	s := newServer(t, auth.Verifier{HSSecret: "portal-secret"})

	token, err := auth.SignHS256(auth.Claims{Sub: "u_acme", Role: "client", ClientSlug: "acme", Exp: time.Now().Add(time.Hour).Unix()}, "portal-secret")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Headers are ignored once tokens are required.
	rec = s.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/v1/portal/billing?client_slug=acme", nil)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func signedWebhook(t *testing.T, payload string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	req := post("/api/v1/portal/webhooks/stripe", payload)
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func checkoutCompleted(eventID string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": %q,
  "created": %d,
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "metadata": {"proposal_id": "prop_1", "client_id": "cl_acme"},
    "payment_intent": "pi_new"
  }}
}`, eventID, stripe.APIVersion, time.Now().Unix())
}

func TestStripeWebhookLinksProposal(t *testing.T) {
	s := newServer(t, auth.Verifier{})

	rec := s.do(signedWebhook(t, checkoutCompleted("evt_1")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"linked"}`, rec.Body.String())

	p, err := s.store.GetProposal(context.Background(), "prop_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_new", p.Refs.PaymentIntentID)
	require.Len(t, s.events.events, 1)
	assert.Equal(t, outbox.EventProposalLinked, s.events.events[0].EventType)

	rec = s.do(signedWebhook(t, checkoutCompleted("evt_1")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())
	assert.Len(t, s.events.events, 1)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newServer(t, auth.Verifier{})
	req := post("/api/v1/portal/webhooks/stripe", checkoutCompleted("evt_2"))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		model.Forbidden("x"):         http.StatusForbidden,
		model.NotFound("x"):          http.StatusNotFound,
		model.BadRequest("x"):        http.StatusBadRequest,
		model.ErrExternalRejected:    http.StatusConflict,
		model.ErrEnvironmentMismatch: http.StatusConflict,
		model.ErrExternalUnavailable: http.StatusServiceUnavailable,
		fmt.Errorf("something else"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := statusFor(err)
		assert.Equal(t, want, got, err.Error())
	}
}
