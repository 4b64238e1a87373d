// Package handlers exposes billing reads, lifecycle mutations and the Stripe
// webhook over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/clientportal/libs/auth"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/fusion"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/storage"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/subscriptions"
)

type Billing interface {
	GetBillingInfo(ctx context.Context, id model.Identity, clientSlug string) (fusion.BillingView, error)
}

type Lifecycle interface {
	CancelSubscription(ctx context.Context, id model.Identity, req subscriptions.CancelRequest) (subscriptions.CancelResult, error)
	ReactivateSubscription(ctx context.Context, id model.Identity, req subscriptions.ReactivateRequest) (subscriptions.Result, error)
	Resubscribe(ctx context.Context, id model.Identity, req subscriptions.ResubscribeRequest) (subscriptions.CheckoutResult, error)
	CreateProposalCheckout(ctx context.Context, id model.Identity, req subscriptions.ProposalCheckoutRequest) (subscriptions.CheckoutResult, error)
	EnsureExternalCustomer(ctx context.Context, id model.Identity, clientSlug string) (subscriptions.EnsureCustomerResult, error)
}

// ProviderEvents is the store side of the webhook linker.
type ProviderEvents interface {
	LinkProposalFromEvent(ctx context.Context, evt storage.ProviderEvent, proposalID string, refs model.ExternalRefs) error
	RecordProviderEvent(ctx context.Context, evt storage.ProviderEvent) error
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	// Verifier authenticates bearer tokens. When it is not enabled the
	// identity headers set by the upstream gateway are trusted.
	Verifier auth.Verifier
}

type Handler struct {
	billing   Billing
	lifecycle Lifecycle
	webhooks  ProviderEvents
	events    outbox.Recorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate

	verifier               auth.Verifier
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(billing Billing, lifecycle Lifecycle, webhooks ProviderEvents, events outbox.Recorder, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Handler{
		billing:                billing,
		lifecycle:              lifecycle,
		webhooks:               webhooks,
		events:                 events,
		logger:                 logger,
		metrics:                m,
		validate:               validator.New(validator.WithRequiredStructEnabled()),
		verifier:               cfg.Verifier,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Register mounts the portal routes on mux, each instrumented under its pattern.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /api/v1/portal/billing", h.GetBilling},
		{"POST /api/v1/portal/subscriptions/cancel", h.CancelSubscription},
		{"POST /api/v1/portal/subscriptions/reactivate", h.ReactivateSubscription},
		{"POST /api/v1/portal/subscriptions/resubscribe", h.Resubscribe},
		{"POST /api/v1/portal/proposals/checkout", h.ProposalCheckout},
		{"POST /api/v1/portal/customers/ensure", h.EnsureCustomer},
		{"POST /api/v1/portal/webhooks/stripe", h.StripeWebhook},
	}
	for _, rt := range routes {
		_, path, _ := strings.Cut(rt.pattern, " ")
		mux.Handle(rt.pattern, h.metrics.Route(path, rt.handler))
	}
}

type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrEnvironmentMismatch):
		return http.StatusConflict, "environment_mismatch"
	case errors.Is(err, model.ErrExternalRejected):
		return http.StatusConflict, "external_rejected"
	case errors.Is(err, model.ErrExternalUnavailable):
		return http.StatusServiceUnavailable, "external_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	resp := errorResponse{Error: kind}
	if code < http.StatusInternalServerError {
		resp.Message = err.Error()
	} else {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, resp)
}

// decode reads a JSON body into dst and validates its tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "failed to read request body"})
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "request body is required"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		details := map[string]any{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "request validation failed", Details: details})
		return false
	}
	return true
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
