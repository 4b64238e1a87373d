package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/access"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
)

const (
	defaultCurrency = "usd"
	defaultInterval = "month"
)

// CreateProposalCheckout opens a checkout session for a proposal's pricing.
// Everything that can be rejected without the gateway is rejected first.
func (s *Service) CreateProposalCheckout(ctx context.Context, id model.Identity, req ProposalCheckoutRequest) (res CheckoutResult, err error) {
	const op = "proposal_checkout"
	ctx, span := s.start(ctx, op, id)
	defer func() { s.finish(ctx, span, op, err) }()

	if err := access.Precheck(id); err != nil {
		return CheckoutResult{}, err
	}
	proposalID := strings.TrimSpace(req.ProposalID)
	if proposalID == "" {
		return CheckoutResult{}, model.BadRequest("proposal id is required")
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return CheckoutResult{}, errors.Wrapf(err, "load proposal %s", proposalID)
	}
	client, err := s.store.GetClientByID(ctx, proposal.ClientID)
	if err != nil {
		return CheckoutResult{}, errors.Wrapf(err, "load owner of proposal %s", proposalID)
	}
	if err := access.Authorize(id, client.Slug); err != nil {
		return CheckoutResult{}, err
	}

	items, mode, err := CheckoutItems(proposal, req.SelectedPackageIDs)
	if err != nil {
		return CheckoutResult{}, err
	}
	successURL, cancelURL, err := s.redirects(req.SuccessURL, req.CancelURL)
	if err != nil {
		return CheckoutResult{}, err
	}

	customerID, err := s.ensureCustomer(ctx, client)
	if err != nil {
		return CheckoutResult{}, err
	}

	return s.checkout(ctx, client, gateway.CheckoutParams{
		Mode:       mode,
		CustomerID: customerID,
		LineItems:  items,
		Metadata: map[string]string{
			"proposal_id": proposal.ID,
			"client_id":   client.ID,
			"project_id":  proposal.ProjectID,
		},
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}, req.IdempotencyKey)
}

// CheckoutItems derives line items and the checkout mode from a proposal's
// pricing. A non-empty selection restricts packages to the selected ids; legacy
// line items cannot be selected and are checked out whole. Free one-time items
// are left out, free recurring ones are kept. Any recurring item forces
// subscription mode because the gateway has no mixed-mode checkout.
func CheckoutItems(p model.Proposal, selected []string) ([]gateway.CheckoutLineItem, gateway.CheckoutMode, error) {
	switch pricing := p.Pricing.(type) {
	case model.PackageList:
		packages := pricing.Packages
		if len(packages) == 0 {
			return nil, "", model.BadRequest("proposal %s has no packages", p.ID)
		}
		if sel := lo.Compact(selected); len(sel) > 0 {
			packages = lo.Filter(packages, func(pkg model.Package, _ int) bool { return lo.Contains(sel, pkg.ID) })
			if len(packages) == 0 {
				return nil, "", model.BadRequest("selection matches no packages on proposal %s", p.ID)
			}
		}
		items := make([]gateway.CheckoutLineItem, 0, len(packages))
		for _, pkg := range packages {
			item, err := packageItem(p, pkg)
			if err != nil {
				return nil, "", err
			}
			items = append(items, item)
		}
		return billable(p, items)

	case model.LegacyLineItems:
		if len(pricing.Items) == 0 {
			return nil, "", model.BadRequest("proposal %s has no line items", p.ID)
		}
		if len(lo.Compact(selected)) > 0 {
			return nil, "", model.BadRequest("proposal %s has no packages to select", p.ID)
		}
		items := make([]gateway.CheckoutLineItem, 0, len(pricing.Items))
		for i, li := range pricing.Items {
			item, err := legacyItem(p, i, li)
			if err != nil {
				return nil, "", err
			}
			items = append(items, item)
		}
		return billable(p, items)

	default:
		return nil, "", model.BadRequest("proposal %s has neither packages nor line items", p.ID)
	}
}

func packageItem(p model.Proposal, pkg model.Package) (gateway.CheckoutLineItem, error) {
	currency := lo.CoalesceOrEmpty(strings.ToLower(pkg.Currency), defaultCurrency)
	amount := model.MinorUnits(pkg.Price, currency)
	if amount < 0 {
		return gateway.CheckoutLineItem{}, model.BadRequest("package %s on proposal %s has a negative price", pkg.ID, p.ID)
	}
	item := gateway.CheckoutLineItem{
		Quantity:    1,
		Name:        lo.CoalesceOrEmpty(strings.TrimSpace(pkg.Name), p.Title, pkg.ID),
		Description: pkg.Description,
		UnitAmount:  amount,
		Currency:    currency,
	}
	if pkg.Type == model.PackageSubscription {
		item.Interval = lo.CoalesceOrEmpty(pkg.Interval, defaultInterval)
		item.IntervalCount = pkg.IntervalCount
	}
	return item, nil
}

func legacyItem(p model.Proposal, index int, li model.LineItem) (gateway.CheckoutLineItem, error) {
	currency := lo.CoalesceOrEmpty(strings.ToLower(li.Currency), defaultCurrency)
	amount := model.MinorUnits(li.UnitPrice, currency)
	if amount < 0 {
		return gateway.CheckoutLineItem{}, model.BadRequest("line item %d on proposal %s has a negative price", index, p.ID)
	}
	return gateway.CheckoutLineItem{
		Quantity:   max(li.Quantity, 1),
		Name:       lo.CoalesceOrEmpty(strings.TrimSpace(li.Description), p.Title, fmt.Sprintf("Item %d", index+1)),
		UnitAmount: amount,
		Currency:   currency,
		Interval:   li.Interval,
	}, nil
}

func billable(p model.Proposal, items []gateway.CheckoutLineItem) ([]gateway.CheckoutLineItem, gateway.CheckoutMode, error) {
	items = lo.Filter(items, func(it gateway.CheckoutLineItem, _ int) bool { return it.UnitAmount > 0 || it.Interval != "" })
	if len(items) == 0 {
		return nil, "", model.BadRequest("proposal %s has nothing to charge", p.ID)
	}
	return items, modeFor(items), nil
}

func modeFor(items []gateway.CheckoutLineItem) gateway.CheckoutMode {
	if lo.SomeBy(items, func(it gateway.CheckoutLineItem) bool { return it.Interval != "" }) {
		return gateway.CheckoutModeSubscription
	}
	return gateway.CheckoutModePayment
}

// redirects fills in configured defaults for the checkout return URLs.
func (s *Service) redirects(successURL, cancelURL string) (string, string, error) {
	success := lo.CoalesceOrEmpty(strings.TrimSpace(successURL), s.cfg.DefaultSuccessURL)
	cancel := lo.CoalesceOrEmpty(strings.TrimSpace(cancelURL), s.cfg.DefaultCancelURL)
	if success == "" || cancel == "" {
		return "", "", model.BadRequest("checkout requires success and cancel urls")
	}
	return success, cancel, nil
}

func (s *Service) checkout(ctx context.Context, client model.Client, params gateway.CheckoutParams, key string) (CheckoutResult, error) {
	params.IdempotencyKey = idempotencyKey(key)

	callCtx, cancel := s.call(ctx)
	defer cancel()
	session, err := s.gw.CreateCheckoutSession(callCtx, params)
	if err != nil {
		return CheckoutResult{}, propagate(err, "create %s checkout for client %s", params.Mode, client.Slug)
	}

	payload := map[string]any{
		"session_id":  session.ID,
		"mode":        string(params.Mode),
		"client_id":   client.ID,
		"customer_id": params.CustomerID,
		"line_items":  len(params.LineItems),
	}
	for k, v := range params.Metadata {
		payload[k] = v
	}
	s.record(ctx, "checkout_session", session.ID, outbox.EventCheckoutCreated, payload)
	return CheckoutResult{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// EnsureExternalCustomer creates the client's gateway customer if none is
// stored. A stored id is never replaced here: one that does not resolve is
// reported as an environment mismatch and left in place.
func (s *Service) EnsureExternalCustomer(ctx context.Context, id model.Identity, clientSlug string) (res EnsureCustomerResult, err error) {
	const op = "ensure_customer"
	ctx, span := s.start(ctx, op, id)
	defer func() { s.finish(ctx, span, op, err) }()

	if err := access.RequireAdmin(id); err != nil {
		return EnsureCustomerResult{}, err
	}
	clientSlug = strings.TrimSpace(clientSlug)
	if clientSlug == "" {
		return EnsureCustomerResult{}, model.BadRequest("client slug is required")
	}
	client, err := s.store.GetClientBySlug(ctx, clientSlug)
	if err != nil {
		return EnsureCustomerResult{}, errors.Wrapf(err, "load client %q", clientSlug)
	}

	if stored := strings.TrimSpace(client.StripeCustomerID); stored != "" {
		found, err := s.customerExists(ctx, stored)
		if err != nil {
			return EnsureCustomerResult{}, err
		}
		if !found {
			return EnsureCustomerResult{}, errors.Mark(
				errors.Newf("customer %s stored for client %s does not resolve in this gateway environment", stored, client.Slug),
				model.ErrEnvironmentMismatch)
		}
		return EnsureCustomerResult{CustomerID: stored}, nil
	}

	customerID, err := s.createCustomer(ctx, client, "")
	if err != nil {
		return EnsureCustomerResult{}, err
	}
	return EnsureCustomerResult{CustomerID: customerID, Created: true}, nil
}

// ensureCustomer returns a customer id that resolves in the gateway for the
// checkout paths, creating and persisting a replacement when the stored one is
// absent or stale.
func (s *Service) ensureCustomer(ctx context.Context, client model.Client) (string, error) {
	stale := strings.TrimSpace(client.StripeCustomerID)
	if stale != "" {
		found, err := s.customerExists(ctx, stale)
		if err != nil {
			return "", err
		}
		if found {
			return stale, nil
		}
		s.logger.WarnContext(ctx, "stored customer not found in gateway environment, creating replacement",
			"client_slug", client.Slug, "customer_id", stale)
	}
	return s.createCustomer(ctx, client, stale)
}

// customerExists reports whether the gateway knows customerID. Only a
// not-found answer counts as absent; any other failure is returned.
func (s *Service) customerExists(ctx context.Context, customerID string) (bool, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()
	_, err := s.gw.GetCustomer(callCtx, customerID)
	switch {
	case err == nil:
		return true, nil
	case gateway.IsNotFound(err):
		return false, nil
	default:
		return false, propagate(err, "verify customer %s", customerID)
	}
}

func (s *Service) createCustomer(ctx context.Context, client model.Client, replaced string) (string, error) {
	callCtx, cancel := s.call(ctx)
	customer, err := s.gw.CreateCustomer(callCtx, gateway.CustomerParams{
		Name:           client.Name,
		Email:          client.Email,
		Metadata:       map[string]string{"client_id": client.ID, "client_slug": client.Slug},
		IdempotencyKey: fmt.Sprintf("ensure-customer:%s:%s", client.ID, lo.CoalesceOrEmpty(replaced, "none")),
	})
	cancel()
	if err != nil {
		return "", propagate(err, "create customer for client %s", client.Slug)
	}
	if err := s.store.SetClientCustomerID(ctx, client.ID, customer.ID); err != nil {
		return "", errors.Wrapf(err, "persist customer %s for client %s", customer.ID, client.Slug)
	}

	s.record(ctx, "client", client.ID, outbox.EventCustomerCreated, map[string]any{
		"client_id":   client.ID,
		"customer_id": customer.ID,
		"replaced":    replaced,
	})
	return customer.ID, nil
}
