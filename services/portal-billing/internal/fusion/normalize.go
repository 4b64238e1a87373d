package fusion

import (
	"strings"

	"github.com/samber/lo"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/gateway"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/links"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

const maxLineItemSample = 3

// DisplayStatus folds the gateway status and cancel flag into the portal's status set.
func DisplayStatus(s gateway.Subscription) SubscriptionStatus {
	switch s.Status {
	case gateway.StatusActive:
		if s.CancelAtPeriodEnd {
			return StatusCancelAtPeriodEnd
		}
		return StatusActive
	case gateway.StatusTrialing:
		return StatusTrialing
	case gateway.StatusPastDue, gateway.StatusIncomplete:
		return StatusPastDue
	case gateway.StatusCanceled, gateway.StatusIncompleteExpired:
		return StatusCanceled
	case gateway.StatusUnpaid, gateway.StatusPaused:
		return StatusUnpaid
	default:
		return SubscriptionStatus(s.Status)
	}
}

// Subscriptions are always shown, linked or not.
func normalizeSubscription(s gateway.Subscription, idx links.Index, names map[string]string) SubscriptionView {
	v := SubscriptionView{
		ID:            s.ID,
		Amount:        s.Amount(),
		DisplayAmount: model.FormatAmount(s.Amount(), s.Currency),
		Currency:      s.Currency,
		Status:        DisplayStatus(s),
		Date:          s.Created,
		Items:         make([]SubscriptionItemView, 0, len(s.Items)),
	}
	if !s.CurrentPeriodEnd.IsZero() {
		end := s.CurrentPeriodEnd
		v.CurrentPeriodEnd = &end
	}
	if link, ok := idx.Subscription(s.ID); ok {
		v.ProposalLink = &link
	}

	var productNames []string
	for _, it := range s.Items {
		item := SubscriptionItemView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Amount:    it.UnitAmount,
			Currency:  it.Currency,
			Interval:  it.Interval,
			Quantity:  it.Quantity,
		}
		if name, ok := names[it.ProductID]; ok {
			item.ProductName = &name
			productNames = append(productNames, name)
		}
		v.Items = append(v.Items, item)
	}

	switch {
	case len(productNames) > 0:
		v.Title = strings.Join(lo.Uniq(productNames), ", ")
	case v.ProposalLink != nil && v.ProposalLink.ProposalTitle != "":
		v.Title = v.ProposalLink.ProposalTitle
	default:
		v.Title = "Subscription"
	}
	return v
}

// normalizeInvoice reports false for invoices with no direct or inherited link.
func normalizeInvoice(in gateway.Invoice, idx links.Index) (InvoiceView, bool) {
	link, ok := idx.Invoice(in.ID, in.SubscriptionID)
	if !ok {
		return InvoiceView{}, false
	}
	return InvoiceView{
		ID:            in.ID,
		Number:        in.Number,
		Description:   describe(link.ProposalTitle, in.Description, in.LineDescriptions, "Invoice"),
		Status:        in.Status,
		AmountDue:     in.AmountDue,
		DisplayAmount: model.FormatAmount(in.AmountDue, in.Currency),
		Currency:      in.Currency,
		Date:          in.Created,
		HostedURL:     in.HostedURL,
		PDFURL:        in.PDFURL,
		ProposalLink:  &link,
	}, true
}

// normalizePayment reports false unless the payment intent is linked,
// succeeded, and does not read like a subscription or invoice charge.
func normalizePayment(pi gateway.PaymentIntent, idx links.Index) (PaymentView, bool) {
	link, ok := idx.Payment(pi.ID)
	if !ok || pi.Status != gateway.PaymentSucceeded || looksRecurring(pi.Description) {
		return PaymentView{}, false
	}
	return PaymentView{
		ID:            pi.ID,
		Description:   describe(link.ProposalTitle, pi.Description, nil, "Payment"),
		Amount:        pi.Amount,
		DisplayAmount: model.FormatAmount(pi.Amount, pi.Currency),
		Currency:      pi.Currency,
		Status:        pi.Status,
		Date:          pi.Created,
		ReceiptURL:    pi.ReceiptURL,
		ProposalLink:  &link,
	}, true
}

// looksRecurring is a best-effort text match; the gateway labels charges it
// creates for subscriptions and invoices this way.
func looksRecurring(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "subscription") || strings.Contains(d, "invoice")
}

func describe(proposalTitle, own string, lines []string, placeholder string) string {
	if t := strings.TrimSpace(proposalTitle); t != "" {
		return t
	}
	if d := strings.TrimSpace(own); d != "" {
		return d
	}
	if len(lines) > 0 {
		return strings.Join(lo.Slice(lines, 0, maxLineItemSample), ", ")
	}
	return placeholder
}
