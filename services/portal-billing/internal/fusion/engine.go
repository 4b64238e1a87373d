// Package fusion assembles the client-scoped billing view from the internal
// proposal store and the external payment gateway.
package fusion

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/clientportal/libs/otel"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/access"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/links"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/productcache"
)

const (
	DefaultCallTimeout       = 5 * time.Second
	DefaultInvoiceLimit      = 100
	DefaultSubscriptionLimit = 100
	DefaultPaymentLimit      = 100
)

const (
	reasonEnvironmentMismatch = "environment_mismatch"
	reasonGatewayError        = "gateway_error"
)

// Store is the slice of the proposal store the engine reads from.
type Store interface {
	GetClientBySlug(ctx context.Context, slug string) (model.Client, error)
	ListProposals(ctx context.Context, clientID string) ([]model.Proposal, error)
}

type Config struct {
	// CallTimeout bounds every individual remote call.
	CallTimeout       time.Duration
	InvoiceLimit      int64
	SubscriptionLimit int64
	PaymentLimit      int64
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.InvoiceLimit <= 0 {
		c.InvoiceLimit = DefaultInvoiceLimit
	}
	if c.SubscriptionLimit <= 0 {
		c.SubscriptionLimit = DefaultSubscriptionLimit
	}
	if c.PaymentLimit <= 0 {
		c.PaymentLimit = DefaultPaymentLimit
	}
	return c
}

type Engine struct {
	store    Store
	gw       gateway.Gateway
	products *productcache.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
}

func New(store Store, gw gateway.Gateway, products *productcache.Cache, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if products == nil {
		products = productcache.New(productcache.DefaultTTL, productcache.WithMetrics(m))
	}
	return &Engine{
		store:    store,
		gw:       gw,
		products: products,
		logger:   logger,
		metrics:  m,
		tracer:   otelx.Tracer("portal-billing/fusion"),
		cfg:      cfg.withDefaults(),
	}
}

type snapshot struct {
	subscriptions []gateway.Subscription
	invoices      []gateway.Invoice
	payments      []gateway.PaymentIntent
	proposals     []model.Proposal
}

// GetBillingInfo returns the billing view for clientSlug as seen by id.
//
// Only the access gate and the client lookup can fail the call. Once the
// client is known, any gateway or store failure yields EmptyView.
func (e *Engine) GetBillingInfo(ctx context.Context, id model.Identity, clientSlug string) (BillingView, error) {
	ctx, span := e.tracer.Start(ctx, "fusion.GetBillingInfo",
		trace.WithAttributes(attribute.String("client.slug", clientSlug), attribute.String("identity.role", string(id.Role))))
	defer span.End()

	if err := access.Authorize(id, clientSlug); err != nil {
		span.SetStatus(codes.Error, "forbidden")
		return BillingView{}, err
	}

	client, err := e.store.GetClientBySlug(ctx, clientSlug)
	if err != nil {
		span.RecordError(err)
		return BillingView{}, errors.Wrapf(err, "load client %q", clientSlug)
	}

	if !client.HasExternalAccount() {
		e.metrics.BillingReads.WithLabelValues("no_account").Inc()
		return EmptyView(), nil
	}

	customer, err := e.verifyCustomer(ctx, client)
	if err != nil {
		span.RecordError(err)
		return e.degrade(ctx, client, err), nil
	}

	snap, err := e.fetch(ctx, client)
	if err != nil {
		span.RecordError(err)
		return e.degrade(ctx, client, err), nil
	}

	view := e.fuse(ctx, customer, snap)
	e.metrics.BillingReads.WithLabelValues("full").Inc()
	span.SetAttributes(
		attribute.Int("billing.subscriptions", len(view.Subscriptions)),
		attribute.Int("billing.invoices", len(view.Invoices)),
		attribute.Int("billing.payments", len(view.Payments)),
	)
	return view, nil
}

// verifyCustomer confirms the stored customer id exists in the gateway
// environment the service is configured against.
func (e *Engine) verifyCustomer(ctx context.Context, client model.Client) (gateway.Customer, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	customer, err := e.gw.GetCustomer(callCtx, client.StripeCustomerID)
	if err != nil {
		return gateway.Customer{}, errors.Wrap(err, "verify customer")
	}
	return customer, nil
}

func (e *Engine) fetch(ctx context.Context, client model.Client) (snapshot, error) {
	var snap snapshot
	customerID := client.StripeCustomerID

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		subs, err := e.gw.ListSubscriptions(ctx, gateway.ListParams{CustomerID: customerID, Limit: e.cfg.SubscriptionLimit})
		snap.subscriptions = subs
		return errors.Wrap(err, "list subscriptions")
	})
	p.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		invoices, err := e.gw.ListInvoices(ctx, gateway.ListParams{CustomerID: customerID, Limit: e.cfg.InvoiceLimit})
		snap.invoices = invoices
		return errors.Wrap(err, "list invoices")
	})
	p.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		payments, err := e.gw.ListPaymentIntents(ctx, gateway.ListParams{CustomerID: customerID, Limit: e.cfg.PaymentLimit})
		snap.payments = payments
		return errors.Wrap(err, "list payment intents")
	})
	p.Go(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		proposals, err := e.store.ListProposals(ctx, client.ID)
		snap.proposals = proposals
		return errors.Wrap(err, "list proposals")
	})

	if err := p.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (e *Engine) fuse(ctx context.Context, customer gateway.Customer, snap snapshot) BillingView {
	idx := links.Build(snap.proposals)
	names := e.productNames(ctx, snap.subscriptions)

	view := EmptyView()
	view.HasExternalAccount = true
	view.Balance = &Balance{
		Amount:        customer.Balance,
		DisplayAmount: model.FormatAmount(customer.Balance, customer.Currency),
		Currency:      customer.Currency,
	}
	view.Subscriptions = lo.Map(snap.subscriptions, func(s gateway.Subscription, _ int) SubscriptionView {
		return normalizeSubscription(s, idx, names)
	})
	view.Invoices = lo.FilterMap(snap.invoices, func(in gateway.Invoice, _ int) (InvoiceView, bool) {
		return normalizeInvoice(in, idx)
	})
	view.Payments = lo.FilterMap(snap.payments, func(pi gateway.PaymentIntent, _ int) (PaymentView, bool) {
		return normalizePayment(pi, idx)
	})
	return view
}

// productNames resolves display names for every product on the subscriptions.
// Lookup failures leave names unresolved rather than degrading the view.
func (e *Engine) productNames(ctx context.Context, subs []gateway.Subscription) map[string]string {
	ids := lo.FlatMap(subs, func(s gateway.Subscription, _ int) []string {
		return lo.Map(s.Items, func(it gateway.SubscriptionItem, _ int) string { return it.ProductID })
	})
	if len(ids) == 0 {
		return map[string]string{}
	}

	names, err := e.products.Resolve(ctx, ids, e.fetchProducts)
	if err != nil {
		e.logger.WarnContext(ctx, "product name lookup failed", "products", len(ids), "err", err)
	}
	return names
}

func (e *Engine) fetchProducts(ctx context.Context, ids []string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	products, err := e.gw.ListProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(products, func(p gateway.Product) (string, string) { return p.ID, p.Name }), nil
}

// degrade logs the failure and returns the empty view. The stored customer id
// is left untouched even when the gateway no longer knows it.
func (e *Engine) degrade(ctx context.Context, client model.Client, err error) BillingView {
	reason := reasonGatewayError
	if gateway.IsNotFound(err) {
		reason = reasonEnvironmentMismatch
		e.logger.WarnContext(ctx, "stored customer not found in gateway environment",
			"client_slug", client.Slug, "customer_id", client.StripeCustomerID, "err", err)
	} else {
		e.logger.ErrorContext(ctx, "billing fetch failed, serving empty view",
			"client_slug", client.Slug, "customer_id", client.StripeCustomerID, "err", err)
	}
	e.metrics.BillingReads.WithLabelValues("degraded").Inc()
	e.metrics.BillingDegraded.WithLabelValues(reason).Inc()
	return EmptyView()
}
