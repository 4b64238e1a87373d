// Package links maps gateway ids back to the proposals that reference them.
package links

import "github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"

// Index is rebuilt per request from one client's proposals. Ids are expected to be
// unique across proposals; on collision the later proposal wins.
type Index struct {
	byPaymentIntent map[string]model.ProposalLink
	bySubscription  map[string]model.ProposalLink
	byInvoice       map[string]model.ProposalLink
}

func Build(proposals []model.Proposal) Index {
	idx := Index{
		byPaymentIntent: map[string]model.ProposalLink{},
		bySubscription:  map[string]model.ProposalLink{},
		byInvoice:       map[string]model.ProposalLink{},
	}
	for _, p := range proposals {
		link := p.Link()
		if id := p.Refs.PaymentIntentID; id != "" {
			idx.byPaymentIntent[id] = link
		}
		if id := p.Refs.SubscriptionID; id != "" {
			idx.bySubscription[id] = link
		}
		if id := p.Refs.InvoiceID; id != "" {
			idx.byInvoice[id] = link
		}
	}
	return idx
}

func (i Index) Payment(paymentIntentID string) (model.ProposalLink, bool) {
	l, ok := i.byPaymentIntent[paymentIntentID]
	return l, ok && paymentIntentID != ""
}

func (i Index) Subscription(subscriptionID string) (model.ProposalLink, bool) {
	l, ok := i.bySubscription[subscriptionID]
	return l, ok && subscriptionID != ""
}

// Invoice prefers a direct link and falls back to the link of the subscription
// that generated the invoice.
func (i Index) Invoice(invoiceID, subscriptionID string) (model.ProposalLink, bool) {
	if l, ok := i.byInvoice[invoiceID]; ok && invoiceID != "" {
		return l, true
	}
	return i.Subscription(subscriptionID)
}

func (i Index) Len() int {
	return len(i.byPaymentIntent) + len(i.bySubscription) + len(i.byInvoice)
}
