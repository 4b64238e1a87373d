package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/metrics"
)

type StripeConfig struct {
	SecretKey string
	// Timeout bounds every call; there are no automatic retries.
	Timeout time.Duration
	// BaseURL overrides the API host (stripe-mock, tests).
	BaseURL string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c StripeConfig) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("stripe secret key is required")
	}
	return nil
}

// IsTestMode reports whether the key targets the gateway's test environment.
func (c StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_test_") || strings.HasPrefix(c.SecretKey, "rk_test_")
}

type StripeGateway struct {
	sc      *client.API
	timeout time.Duration
	metrics *metrics.Metrics
}

var _ Gateway = (*StripeGateway)(nil)

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	httpClient := &http.Client{
		// Per-call contexts are the real bound; this only backstops a missing one.
		Timeout:   cfg.Timeout + time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	if cfg.Logger != nil {
		backendCfg.LeveledLogger = slogLeveledLogger{logger: cfg.Logger.With("component", "stripe")}
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &StripeGateway{
		sc:      client.New(cfg.SecretKey, backends),
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
	}, nil
}

func (g *StripeGateway) call(ctx context.Context, op string) (context.Context, func(error) error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	started := time.Now()
	return ctx, func(err error) error {
		cancel()
		g.metrics.ObserveGateway(op, started, err)
		return classify(op, err)
	}
}

func (g *StripeGateway) GetCustomer(ctx context.Context, id string) (Customer, error) {
	ctx, done := g.call(ctx, "customer.get")
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := g.sc.Customers.Get(id, params)
	if err = done(err); err != nil {
		return Customer{}, err
	}
	if c.Deleted {
		return Customer{}, errors.Mark(errors.Newf("customer %s is deleted", id), ErrNotFound)
	}
	return toCustomer(c), nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error) {
	ctx, done := g.call(ctx, "customer.create")
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	c, err := g.sc.Customers.New(params)
	if err = done(err); err != nil {
		return Customer{}, err
	}
	return toCustomer(c), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	ctx, done := g.call(ctx, "subscription.get")
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := g.sc.Subscriptions.Get(id, params)
	if err = done(err); err != nil {
		return Subscription{}, err
	}
	return toSubscription(s), nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, p ListParams) ([]Subscription, error) {
	ctx, done := g.call(ctx, "subscription.list")
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(p.CustomerID),
		Status:   stripe.String("all"),
	}
	applyPage(ctx, &params.ListParams, p.Limit)

	var out []Subscription
	it := g.sc.Subscriptions.List(params)
	for it.Next() {
		out = append(out, toSubscription(it.Subscription()))
	}
	if err := done(it.Err()); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool, idempotencyKey string) (Subscription, error) {
	ctx, done := g.call(ctx, "subscription.update")
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	s, err := g.sc.Subscriptions.Update(id, params)
	if err = done(err); err != nil {
		return Subscription{}, err
	}
	return toSubscription(s), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string, idempotencyKey string) (Subscription, error) {
	ctx, done := g.call(ctx, "subscription.cancel")
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	s, err := g.sc.Subscriptions.Cancel(id, params)
	if err = done(err); err != nil {
		return Subscription{}, err
	}
	return toSubscription(s), nil
}

func (g *StripeGateway) ListInvoices(ctx context.Context, p ListParams) ([]Invoice, error) {
	ctx, done := g.call(ctx, "invoice.list")
	params := &stripe.InvoiceListParams{Customer: stripe.String(p.CustomerID)}
	applyPage(ctx, &params.ListParams, p.Limit)

	var out []Invoice
	it := g.sc.Invoices.List(params)
	for it.Next() {
		out = append(out, toInvoice(it.Invoice()))
	}
	if err := done(it.Err()); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *StripeGateway) ListPaymentIntents(ctx context.Context, p ListParams) ([]PaymentIntent, error) {
	ctx, done := g.call(ctx, "payment_intent.list")
	params := &stripe.PaymentIntentListParams{Customer: stripe.String(p.CustomerID)}
	applyPage(ctx, &params.ListParams, p.Limit)
	params.AddExpand("data.latest_charge")

	var out []PaymentIntent
	it := g.sc.PaymentIntents.List(params)
	for it.Next() {
		out = append(out, toPaymentIntent(it.PaymentIntent()))
	}
	if err := done(it.Err()); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *StripeGateway) GetProduct(ctx context.Context, id string) (Product, error) {
	ctx, done := g.call(ctx, "product.get")
	params := &stripe.ProductParams{}
	params.Context = ctx
	p, err := g.sc.Products.Get(id, params)
	if err = done(err); err != nil {
		return Product{}, err
	}
	return toProduct(p), nil
}

// ListProducts fetches the given ids in as few pages as the API allows (100 per page).
func (g *StripeGateway) ListProducts(ctx context.Context, ids []string) ([]Product, error) {
	ctx, done := g.call(ctx, "product.list")
	var out []Product
	for _, chunk := range lo.Chunk(lo.Uniq(ids), 100) {
		params := &stripe.ProductListParams{IDs: stripe.StringSlice(chunk)}
		applyPage(ctx, &params.ListParams, int64(len(chunk)))
		it := g.sc.Products.List(params)
		for it.Next() {
			out = append(out, toProduct(it.Product()))
		}
		if err := it.Err(); err != nil {
			return nil, done(err)
		}
	}
	if err := done(nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	ctx, done := g.call(ctx, "checkout_session.create")
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(p.Mode)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for _, li := range p.LineItems {
		params.LineItems = append(params.LineItems, toCheckoutLineItem(li))
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	// Copy metadata onto the resulting subscription or payment intent so webhooks
	// and later reads can trace it back.
	if len(p.Metadata) > 0 {
		switch p.Mode {
		case CheckoutModeSubscription:
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: p.Metadata}
		case CheckoutModePayment:
			params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: p.Metadata}
		}
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}

	s, err := g.sc.CheckoutSessions.New(params)
	if err = done(err); err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func applyPage(ctx context.Context, lp *stripe.ListParams, limit int64) {
	lp.Context = ctx
	lp.Single = true
	if limit > 0 {
		lp.Limit = stripe.Int64(limit)
	}
}

func toCheckoutLineItem(li CheckoutLineItem) *stripe.CheckoutSessionLineItemParams {
	qty := li.Quantity
	if qty <= 0 {
		qty = 1
	}
	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(qty)}
	if li.PriceID != "" {
		item.Price = stripe.String(li.PriceID)
		return item
	}
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(li.Name)}
	if li.Description != "" {
		product.Description = stripe.String(li.Description)
	}
	item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:    stripe.String(li.Currency),
		UnitAmount:  stripe.Int64(li.UnitAmount),
		ProductData: product,
	}
	if li.Interval != "" {
		recurring := &stripe.CheckoutSessionLineItemPriceDataRecurringParams{Interval: stripe.String(li.Interval)}
		if li.IntervalCount > 0 {
			recurring.IntervalCount = stripe.Int64(li.IntervalCount)
		}
		item.PriceData.Recurring = recurring
	}
	return item
}

func toCustomer(c *stripe.Customer) Customer {
	return Customer{
		ID:       c.ID,
		Name:     c.Name,
		Email:    c.Email,
		Balance:  c.Balance,
		Currency: string(c.Currency),
	}
}

func toSubscription(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Currency:          string(s.Currency),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Created > 0 {
		out.Created = time.Unix(s.Created, 0).UTC()
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			if it == nil {
				continue
			}
			item := SubscriptionItem{ID: it.ID, Quantity: it.Quantity}
			if p := it.Price; p != nil {
				item.PriceID = p.ID
				item.UnitAmount = p.UnitAmount
				item.Currency = string(p.Currency)
				if p.Product != nil {
					item.ProductID = p.Product.ID
				}
				if p.Recurring != nil {
					item.Interval = string(p.Recurring.Interval)
				}
			}
			if out.Currency == "" {
				out.Currency = item.Currency
			}
			out.Items = append(out.Items, item)
		}
	}
	return out
}

func toInvoice(in *stripe.Invoice) Invoice {
	out := Invoice{
		ID:          in.ID,
		Number:      in.Number,
		Status:      string(in.Status),
		Description: in.Description,
		AmountDue:   in.AmountDue,
		Currency:    string(in.Currency),
		HostedURL:   in.HostedInvoiceURL,
		PDFURL:      in.InvoicePDF,
	}
	if in.Created > 0 {
		out.Created = time.Unix(in.Created, 0).UTC()
	}
	if in.Customer != nil {
		out.CustomerID = in.Customer.ID
	}
	if in.Subscription != nil {
		out.SubscriptionID = in.Subscription.ID
	}
	if in.Lines != nil {
		for _, line := range in.Lines.Data {
			if line != nil && strings.TrimSpace(line.Description) != "" {
				out.LineDescriptions = append(out.LineDescriptions, line.Description)
			}
		}
	}
	return out
}

func toPaymentIntent(pi *stripe.PaymentIntent) PaymentIntent {
	out := PaymentIntent{
		ID:          pi.ID,
		Status:      string(pi.Status),
		Description: pi.Description,
		Amount:      pi.Amount,
		Currency:    string(pi.Currency),
	}
	if pi.Created > 0 {
		out.Created = time.Unix(pi.Created, 0).UTC()
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.Invoice != nil {
		out.InvoiceID = pi.Invoice.ID
	}
	if pi.LatestCharge != nil {
		out.ReceiptURL = pi.LatestCharge.ReceiptURL
	}
	return out
}

func toProduct(p *stripe.Product) Product {
	out := Product{ID: p.ID, Name: p.Name, Active: p.Active}
	if p.DefaultPrice != nil {
		out.DefaultPriceID = p.DefaultPrice.ID
	}
	return out
}

// classify marks err with the gateway error class callers branch on.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		wrapped := errors.Wrapf(err, "stripe %s", op)
		switch {
		case serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound:
			return errors.Mark(wrapped, ErrNotFound)
		case serr.HTTPStatusCode == http.StatusTooManyRequests,
			serr.HTTPStatusCode == http.StatusUnauthorized,
			serr.HTTPStatusCode == http.StatusForbidden,
			serr.HTTPStatusCode >= 500,
			serr.Type == stripe.ErrorTypeAPI:
			return errors.Mark(wrapped, ErrUnavailable)
		default:
			return errors.Mark(wrapped, ErrRejected)
		}
	}

	// Timeouts, cancellations and transport failures.
	return errors.Mark(errors.Wrapf(err, "stripe %s", op), ErrUnavailable)
}

type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l slogLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l slogLeveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l slogLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l slogLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
