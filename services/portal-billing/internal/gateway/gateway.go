// Package gateway is the port to the external payment gateway plus its Stripe
// adapter and an in-memory mock.
package gateway

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Error classes every Gateway implementation marks its errors with.
var (
	ErrNotFound    = errors.New("gateway: resource not found")
	ErrRejected    = errors.New("gateway: request rejected")
	ErrUnavailable = errors.New("gateway: unavailable")
)

// Gateway status values as reported by the external system.
const (
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPaused            = "paused"

	PaymentSucceeded = "succeeded"
)

type Customer struct {
	ID       string
	Name     string
	Email    string
	Balance  int64
	Currency string
}

type CustomerParams struct {
	Name           string
	Email          string
	Metadata       map[string]string
	IdempotencyKey string
}

type SubscriptionItem struct {
	ID         string
	PriceID    string
	ProductID  string
	UnitAmount int64
	Currency   string
	Interval   string
	Quantity   int64
}

type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	Created           time.Time
	Currency          string
	Items             []SubscriptionItem
	Metadata          map[string]string
}

// Amount is the recurring total across items, in minor units.
func (s Subscription) Amount() int64 {
	var total int64
	for _, it := range s.Items {
		q := it.Quantity
		if q <= 0 {
			q = 1
		}
		total += it.UnitAmount * q
	}
	return total
}

type Invoice struct {
	ID               string
	Number           string
	Status           string
	CustomerID       string
	SubscriptionID   string
	Description      string
	AmountDue        int64
	Currency         string
	Created          time.Time
	HostedURL        string
	PDFURL           string
	LineDescriptions []string
}

type PaymentIntent struct {
	ID          string
	CustomerID  string
	Status      string
	Description string
	InvoiceID   string
	Amount      int64
	Currency    string
	Created     time.Time
	ReceiptURL  string
}

type Product struct {
	ID             string
	Name           string
	Active         bool
	DefaultPriceID string
}

type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// CheckoutLineItem references an existing price or carries inline price data.
type CheckoutLineItem struct {
	PriceID       string
	Quantity      int64
	Name          string
	Description   string
	UnitAmount    int64
	Currency      string
	Interval      string
	IntervalCount int64
}

type CheckoutParams struct {
	Mode           CheckoutMode
	CustomerID     string
	LineItems      []CheckoutLineItem
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// ListParams bounds a single page of a customer-scoped listing.
type ListParams struct {
	CustomerID string
	Limit      int64
}

type Gateway interface {
	GetCustomer(ctx context.Context, id string) (Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error)

	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context, params ListParams) ([]Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool, idempotencyKey string) (Subscription, error)
	CancelSubscription(ctx context.Context, id string, idempotencyKey string) (Subscription, error)

	ListInvoices(ctx context.Context, params ListParams) ([]Invoice, error)
	ListPaymentIntents(ctx context.Context, params ListParams) ([]PaymentIntent, error)

	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context, ids []string) ([]Product, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
}

func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsRejected(err error) bool    { return errors.Is(err, ErrRejected) }
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
