package fusion

import (
	"time"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

// BillingView is the fused, client-scoped billing state handed to the portal UI.
type BillingView struct {
	HasExternalAccount bool               `json:"hasExternalAccount"`
	Subscriptions      []SubscriptionView `json:"subscriptions"`
	Invoices           []InvoiceView      `json:"invoices"`
	Payments           []PaymentView      `json:"payments"`
	Balance            *Balance           `json:"balance"`
}

// EmptyView is what clients without a usable gateway account see.
func EmptyView() BillingView {
	return BillingView{
		Subscriptions: []SubscriptionView{},
		Invoices:      []InvoiceView{},
		Payments:      []PaymentView{},
	}
}

// Balance follows the gateway convention: negative amounts are credit.
type Balance struct {
	Amount        int64  `json:"amount"`
	DisplayAmount string `json:"displayAmount"`
	Currency      string `json:"currency"`
}

type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

type SubscriptionView struct {
	ID               string                 `json:"id"`
	Title            string                 `json:"title"`
	Amount           int64                  `json:"amount"`
	DisplayAmount    string                 `json:"displayAmount"`
	Currency         string                 `json:"currency"`
	Status           SubscriptionStatus     `json:"status"`
	Date             time.Time              `json:"date"`
	CurrentPeriodEnd *time.Time             `json:"currentPeriodEnd,omitempty"`
	ProposalLink     *model.ProposalLink    `json:"proposalLink,omitempty"`
	Items            []SubscriptionItemView `json:"items"`
}

type SubscriptionItemView struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"productId"`
	ProductName *string `json:"productName"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Interval    string  `json:"interval,omitempty"`
	Quantity    int64   `json:"quantity"`
}

type InvoiceView struct {
	ID            string              `json:"id"`
	Number        string              `json:"number"`
	Description   string              `json:"description"`
	Status        string              `json:"status"`
	AmountDue     int64               `json:"amountDue"`
	DisplayAmount string              `json:"displayAmount"`
	Currency      string              `json:"currency"`
	Date          time.Time           `json:"date"`
	HostedURL     string              `json:"hostedUrl,omitempty"`
	PDFURL        string              `json:"pdfUrl,omitempty"`
	ProposalLink  *model.ProposalLink `json:"proposalLink,omitempty"`
}

type PaymentView struct {
	ID            string              `json:"id"`
	Description   string              `json:"description"`
	Amount        int64               `json:"amount"`
	DisplayAmount string              `json:"displayAmount"`
	Currency      string              `json:"currency"`
	Status        string              `json:"status"`
	Date          time.Time           `json:"date"`
	ReceiptURL    string              `json:"receiptUrl,omitempty"`
	ProposalLink  *model.ProposalLink `json:"proposalLink,omitempty"`
}
