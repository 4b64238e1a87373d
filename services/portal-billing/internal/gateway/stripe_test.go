package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func newTestGateway(t *testing.T, h http.HandlerFunc, timeout time.Duration) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: srv.URL, Timeout: timeout})
	require.NoError(t, err)
	return g
}

func TestStripeGetCustomer(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers/cus_live":
			_, _ = w.Write([]byte(`{"id":"cus_live","object":"customer","email":"ops@acme.test","balance":-500,"currency":"usd"}`))
		case "/v1/customers/cus_gone":
			_, _ = w.Write([]byte(`{"id":"cus_gone","object":"customer","deleted":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"resource_missing","message":"No such customer","param":"id","type":"invalid_request_error"}}`))
		}
	}, time.Second)

	c, err := g.GetCustomer(context.Background(), "cus_live")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), c.Balance)
	assert.Equal(t, "usd", c.Currency)

	_, err = g.GetCustomer(context.Background(), "cus_test_env")
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = g.GetCustomer(context.Background(), "cus_gone")
	assert.True(t, IsNotFound(err), "deleted customers count as missing")
}

func TestStripeTimeoutIsUnavailable(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
		_, _ = w.Write([]byte(`{"id":"cus_1","object":"customer"}`))
	}, 50*time.Millisecond)

	_, err := g.GetCustomer(context.Background(), "cus_1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err), "got %v", err)
}

func TestStripeListSubscriptionsSinglePage(t *testing.T) {
	var query string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/subscriptions","has_more":true,"data":[
			{"id":"sub_1","object":"subscription","status":"active","cancel_at_period_end":true,"customer":"cus_1","current_period_end":1767225600,
			 "items":{"object":"list","data":[{"id":"si_1","quantity":2,"price":{"id":"price_1","unit_amount":1500,"currency":"usd","product":"prod_1","recurring":{"interval":"month"}}}]}}
		]}`))
	}, time.Second)

	subs, err := g.ListSubscriptions(context.Background(), ListParams{CustomerID: "cus_1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, subs, 1, "has_more is ignored: one bounded page")
	assert.Contains(t, query, "status=all")
	assert.Contains(t, query, "limit=10")

	s := subs[0]
	assert.Equal(t, "cus_1", s.CustomerID)
	assert.True(t, s.CancelAtPeriodEnd)
	assert.Equal(t, "usd", s.Currency)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "prod_1", s.Items[0].ProductID)
	assert.Equal(t, "month", s.Items[0].Interval)
	assert.Equal(t, int64(3000), s.Amount())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "missing", err: &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}, want: ErrNotFound},
		{name: "card declined", err: &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: 402}, want: ErrRejected},
		{name: "invalid request", err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 400}, want: ErrRejected},
		{name: "rate limited", err: &stripe.Error{HTTPStatusCode: 429}, want: ErrUnavailable},
		{name: "server error", err: &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 500}, want: ErrUnavailable},
		{name: "bad key", err: &stripe.Error{HTTPStatusCode: 401}, want: ErrUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestToInvoiceAndPaymentIntent(t *testing.T) {
	in := toInvoice(&stripe.Invoice{
		ID:               "in_1",
		Number:           "ACME-0001",
		Status:           stripe.InvoiceStatusOpen,
		AmountDue:        4200,
		Currency:         stripe.CurrencyUSD,
		Subscription:     &stripe.Subscription{ID: "sub_1"},
		HostedInvoiceURL: "https://invoice.stripe.test/i/1",
		Lines: &stripe.InvoiceLineItemList{Data: []*stripe.InvoiceLineItem{
			{Description: "Care plan"}, {Description: " "}, nil,
		}},
	})
	assert.Equal(t, "sub_1", in.SubscriptionID)
	assert.Equal(t, []string{"Care plan"}, in.LineDescriptions)
	assert.Equal(t, "open", in.Status)

	pi := toPaymentIntent(&stripe.PaymentIntent{
		ID:           "pi_1",
		Status:       stripe.PaymentIntentStatusSucceeded,
		Amount:       9900,
		Currency:     stripe.CurrencyEUR,
		LatestCharge: &stripe.Charge{ReceiptURL: "https://pay.stripe.test/receipts/1"},
	})
	assert.Equal(t, PaymentSucceeded, pi.Status)
	assert.Equal(t, "https://pay.stripe.test/receipts/1", pi.ReceiptURL)
}

func TestToCheckoutLineItem(t *testing.T) {
	byPrice := toCheckoutLineItem(CheckoutLineItem{PriceID: "price_1"})
	assert.Equal(t, "price_1", *byPrice.Price)
	assert.Equal(t, int64(1), *byPrice.Quantity)
	assert.Nil(t, byPrice.PriceData)

	inline := toCheckoutLineItem(CheckoutLineItem{Name: "Retainer", UnitAmount: 150000, Currency: "usd", Interval: "month", Quantity: 1})
	require.NotNil(t, inline.PriceData)
	assert.Equal(t, "Retainer", *inline.PriceData.ProductData.Name)
	assert.Equal(t, "month", *inline.PriceData.Recurring.Interval)
	assert.Nil(t, inline.PriceData.ProductData.Description)
}

func TestStripeConfig(t *testing.T) {
	assert.Error(t, StripeConfig{}.Validate())
	assert.True(t, StripeConfig{SecretKey: "sk_test_abc"}.IsTestMode())
	assert.False(t, StripeConfig{SecretKey: "sk_live_abc"}.IsTestMode())
}
