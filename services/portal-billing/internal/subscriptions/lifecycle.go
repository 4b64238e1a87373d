package subscriptions

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/access"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
)

// ownedSubscription fetches the subscription, derives its owner from the
// gateway customer and only then authorizes. Caller-supplied slugs play no part.
func (s *Service) ownedSubscription(ctx context.Context, id model.Identity, subscriptionID string) (gateway.Subscription, model.Client, error) {
	if err := access.Precheck(id); err != nil {
		return gateway.Subscription{}, model.Client{}, err
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return gateway.Subscription{}, model.Client{}, model.BadRequest("subscription id is required")
	}

	callCtx, cancel := s.call(ctx)
	sub, err := s.gw.GetSubscription(callCtx, subscriptionID)
	cancel()
	if err != nil {
		return gateway.Subscription{}, model.Client{}, propagate(err, "get subscription %s", subscriptionID)
	}

	owner, err := s.store.GetClientByCustomerID(ctx, sub.CustomerID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		// No client record owns this customer; only admins may touch it.
		if !id.IsAdmin() {
			return gateway.Subscription{}, model.Client{}, model.Forbidden("subscription %s has no portal owner", subscriptionID)
		}
		return sub, model.Client{}, nil
	case err != nil:
		return gateway.Subscription{}, model.Client{}, errors.Wrapf(err, "resolve owner of subscription %s", subscriptionID)
	}
	if err := access.Authorize(id, owner.Slug); err != nil {
		return gateway.Subscription{}, model.Client{}, err
	}
	return sub, owner, nil
}

// CancelSubscription cancels outright when Immediate is set and otherwise
// schedules cancellation at the end of the current period.
func (s *Service) CancelSubscription(ctx context.Context, id model.Identity, req CancelRequest) (res CancelResult, err error) {
	const op = "cancel"
	ctx, span := s.start(ctx, op, id)
	defer func() { s.finish(ctx, span, op, err) }()

	sub, owner, err := s.ownedSubscription(ctx, id, req.SubscriptionID)
	if err != nil {
		return CancelResult{}, err
	}

	key := idempotencyKey(req.IdempotencyKey)
	callCtx, cancel := s.call(ctx)
	defer cancel()
	if req.Immediate {
		_, err = s.gw.CancelSubscription(callCtx, sub.ID, key)
	} else {
		_, err = s.gw.SetCancelAtPeriodEnd(callCtx, sub.ID, true, key)
	}
	if err != nil {
		return CancelResult{}, propagate(err, "cancel subscription %s", sub.ID)
	}

	s.record(ctx, "subscription", sub.ID, outbox.EventCancelRequested, map[string]any{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"client_id":       owner.ID,
		"immediate":       req.Immediate,
		"requested_by":    id.UserID,
	})
	return CancelResult{Success: true, Immediate: req.Immediate}, nil
}

// ReactivateSubscription clears a scheduled cancellation. The gateway refuses
// this once the subscription is canceled, which surfaces as ErrExternalRejected.
func (s *Service) ReactivateSubscription(ctx context.Context, id model.Identity, req ReactivateRequest) (res Result, err error) {
	const op = "reactivate"
	ctx, span := s.start(ctx, op, id)
	defer func() { s.finish(ctx, span, op, err) }()

	sub, owner, err := s.ownedSubscription(ctx, id, req.SubscriptionID)
	if err != nil {
		return Result{}, err
	}

	callCtx, cancel := s.call(ctx)
	defer cancel()
	if _, err = s.gw.SetCancelAtPeriodEnd(callCtx, sub.ID, false, idempotencyKey(req.IdempotencyKey)); err != nil {
		return Result{}, propagate(err, "reactivate subscription %s", sub.ID)
	}

	s.record(ctx, "subscription", sub.ID, outbox.EventReactivated, map[string]any{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"client_id":       owner.ID,
		"requested_by":    id.UserID,
	})
	return Result{Success: true}, nil
}

// Resubscribe opens a subscription-mode checkout for the product's default
// price. The new subscription only exists once the customer completes checkout.
func (s *Service) Resubscribe(ctx context.Context, id model.Identity, req ResubscribeRequest) (res CheckoutResult, err error) {
	const op = "resubscribe"
	ctx, span := s.start(ctx, op, id)
	defer func() { s.finish(ctx, span, op, err) }()

	if err := access.Precheck(id); err != nil {
		return CheckoutResult{}, err
	}
	slug := strings.TrimSpace(id.ClientSlug)
	if slug == "" {
		return CheckoutResult{}, model.BadRequest("resubscribe requires a client-scoped identity")
	}
	if err := access.Authorize(id, slug); err != nil {
		return CheckoutResult{}, err
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return CheckoutResult{}, model.BadRequest("product id is required")
	}
	successURL, cancelURL, err := s.redirects(req.SuccessURL, req.CancelURL)
	if err != nil {
		return CheckoutResult{}, err
	}

	client, err := s.store.GetClientBySlug(ctx, slug)
	if err != nil {
		return CheckoutResult{}, errors.Wrapf(err, "load client %q", slug)
	}

	callCtx, cancel := s.call(ctx)
	product, err := s.gw.GetProduct(callCtx, productID)
	cancel()
	if err != nil {
		return CheckoutResult{}, propagate(err, "get product %s", productID)
	}
	if !product.Active || product.DefaultPriceID == "" {
		return CheckoutResult{}, model.BadRequest("product %s has no active default price", productID)
	}

	customerID, err := s.ensureCustomer(ctx, client)
	if err != nil {
		return CheckoutResult{}, err
	}

	return s.checkout(ctx, client, gateway.CheckoutParams{
		Mode:       gateway.CheckoutModeSubscription,
		CustomerID: customerID,
		LineItems:  []gateway.CheckoutLineItem{{PriceID: product.DefaultPriceID, Quantity: 1}},
		Metadata: map[string]string{
			"client_id":  client.ID,
			"product_id": product.ID,
		},
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}, req.IdempotencyKey)
}
