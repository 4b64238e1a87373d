// Package subscriptions mediates lifecycle mutations against the payment
// gateway: cancel, reactivate, resubscribe, proposal checkout, and customer
// provisioning. Unlike the read path, every failure here is surfaced.
package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/clientportal/libs/otel"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
)

const DefaultCallTimeout = 5 * time.Second

type Store interface {
	GetClientBySlug(ctx context.Context, slug string) (model.Client, error)
	GetClientByID(ctx context.Context, id string) (model.Client, error)
	GetClientByCustomerID(ctx context.Context, customerID string) (model.Client, error)
	SetClientCustomerID(ctx context.Context, clientID, customerID string) error
	GetProposal(ctx context.Context, id string) (model.Proposal, error)
}

type Config struct {
	CallTimeout time.Duration
	// Used when a checkout request leaves its redirect URLs empty.
	DefaultSuccessURL string
	DefaultCancelURL  string
}

type Service struct {
	store   Store
	gw      gateway.Gateway
	events  outbox.Recorder
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	cfg     Config
}

// New builds the service. events may be nil, in which case no lifecycle
// events are recorded.
func New(store Store, gw gateway.Gateway, events outbox.Recorder, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Service{
		store:   store,
		gw:      gw,
		events:  events,
		logger:  logger,
		metrics: m,
		tracer:  otelx.Tracer("portal-billing/subscriptions"),
		cfg:     cfg,
	}
}

type CancelRequest struct {
	SubscriptionID string
	Immediate      bool
	IdempotencyKey string
}

type CancelResult struct {
	Success   bool `json:"success"`
	Immediate bool `json:"immediate"`
}

type ReactivateRequest struct {
	SubscriptionID string
	IdempotencyKey string
}

type Result struct {
	Success bool `json:"success"`
}

type ResubscribeRequest struct {
	ProductID      string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type ProposalCheckoutRequest struct {
	ProposalID         string
	SelectedPackageIDs []string
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
}

type CheckoutResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

type EnsureCustomerResult struct {
	CustomerID string `json:"customerId"`
	Created    bool   `json:"created"`
}

// propagate translates a gateway failure into the domain taxonomy. Anything
// the gateway did not classify is treated as unavailability so that a failed
// mutation can never read as success.
func propagate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	switch {
	case gateway.IsNotFound(err):
		return errors.Mark(wrapped, model.ErrNotFound)
	case gateway.IsRejected(err):
		return errors.Mark(wrapped, model.ErrExternalRejected)
	default:
		return errors.Mark(wrapped, model.ErrExternalUnavailable)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrEnvironmentMismatch):
		return "environment_mismatch"
	case errors.Is(err, model.ErrExternalRejected):
		return "rejected"
	case errors.Is(err, model.ErrExternalUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *Service) start(ctx context.Context, op string, id model.Identity) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "subscriptions."+op, trace.WithAttributes(
		attribute.String("identity.role", string(id.Role)),
		attribute.String("identity.user_id", id.UserID),
	))
}

// finish records the outcome of op on span, metrics and the log.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	result := outcome(err)
	s.metrics.Mutations.WithLabelValues(op, result).Inc()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	switch result {
	case "unavailable", "rejected", "error":
		s.logger.ErrorContext(ctx, "billing mutation failed", "op", op, "outcome", result, "err", err)
	default:
		s.logger.WarnContext(ctx, "billing mutation refused", "op", op, "outcome", result, "err", err)
	}
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// record writes a lifecycle event. The gateway mutation has already happened,
// so a failure here is logged and counted but never returned.
func (s *Service) record(ctx context.Context, aggregateType, aggregateID, eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	evt, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload)
	if err == nil {
		err = s.events.Record(ctx, evt)
	}
	if err != nil {
		s.metrics.OutboxFailures.Inc()
		s.logger.ErrorContext(ctx, "record lifecycle event", "event_type", eventType, "aggregate_id", aggregateID, "err", err)
	}
}

func idempotencyKey(supplied string) string {
	if supplied != "" {
		return supplied
	}
	return uuid.NewString()
}
