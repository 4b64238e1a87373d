package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Mock is an in-memory Gateway for tests and local runs. It is safe for
// concurrent use. The *Func fields override the default behaviour of a method.
type Mock struct {
	mu sync.Mutex

	Customers      map[string]Customer
	Subscriptions  map[string]Subscription
	Invoices       []Invoice
	PaymentIntents []PaymentIntent
	Products       map[string]Product
	Sessions       []CheckoutParams

	// CallLog tracks method calls for test assertions.
	CallLog []string

	GetCustomerFunc           func(ctx context.Context, id string) (Customer, error)
	CreateCustomerFunc        func(ctx context.Context, params CustomerParams) (Customer, error)
	GetSubscriptionFunc       func(ctx context.Context, id string) (Subscription, error)
	ListSubscriptionsFunc     func(ctx context.Context, params ListParams) ([]Subscription, error)
	SetCancelAtPeriodEndFunc  func(ctx context.Context, id string, cancel bool) (Subscription, error)
	ListInvoicesFunc          func(ctx context.Context, params ListParams) ([]Invoice, error)
	ListPaymentIntentsFunc    func(ctx context.Context, params ListParams) ([]PaymentIntent, error)
	ListProductsFunc          func(ctx context.Context, ids []string) ([]Product, error)
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutParams) (CheckoutSession, error)

	idempotent map[string]Customer
}

var _ Gateway = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		Customers:     map[string]Customer{},
		Subscriptions: map[string]Subscription{},
		Products:      map[string]Product{},
		idempotent:    map[string]Customer{},
	}
}

func (m *Mock) log(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// Calls counts logged calls whose name starts with method.
func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if strings.HasPrefix(c, method+"(") {
			n++
		}
	}
	return n
}

func (m *Mock) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CallLog)
}

func (m *Mock) AddSubscription(s Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions[s.ID] = s
}

func (m *Mock) Subscription(id string) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	return s, ok
}

func notFound(kind, id string) error {
	return errors.Mark(errors.Newf("no such %s: %s", kind, id), ErrNotFound)
}

func (m *Mock) GetCustomer(ctx context.Context, id string) (Customer, error) {
	m.log("GetCustomer(%s)", id)
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Customers[id]
	if !ok {
		return Customer{}, notFound("customer", id)
	}
	return c, nil
}

func (m *Mock) CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error) {
	m.log("CreateCustomer(%s)", params.Email)
	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.idempotent[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return c, nil
	}
	c := Customer{ID: "cus_" + uuid.NewString()[:8], Name: params.Name, Email: params.Email, Currency: "usd"}
	m.Customers[c.ID] = c
	if params.IdempotencyKey != "" {
		m.idempotent[params.IdempotencyKey] = c
	}
	return c, nil
}

func (m *Mock) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	m.log("GetSubscription(%s)", id)
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	if !ok {
		return Subscription{}, notFound("subscription", id)
	}
	return s, nil
}

func (m *Mock) ListSubscriptions(ctx context.Context, params ListParams) ([]Subscription, error) {
	m.log("ListSubscriptions(%s)", params.CustomerID)
	if m.ListSubscriptionsFunc != nil {
		return m.ListSubscriptionsFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.Subscriptions {
		if s.CustomerID == params.CustomerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return limit(out, params.Limit), nil
}

func (m *Mock) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool, _ string) (Subscription, error) {
	m.log("SetCancelAtPeriodEnd(%s, %t)", id, cancel)
	if m.SetCancelAtPeriodEndFunc != nil {
		return m.SetCancelAtPeriodEndFunc(ctx, id, cancel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	if !ok {
		return Subscription{}, notFound("subscription", id)
	}
	if s.Status == StatusCanceled || s.Status == StatusIncompleteExpired {
		return Subscription{}, errors.Mark(errors.Newf("subscription %s is canceled", id), ErrRejected)
	}
	s.CancelAtPeriodEnd = cancel
	m.Subscriptions[id] = s
	return s, nil
}

func (m *Mock) CancelSubscription(_ context.Context, id string, _ string) (Subscription, error) {
	m.log("CancelSubscription(%s)", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	if !ok {
		return Subscription{}, notFound("subscription", id)
	}
	if s.Status == StatusCanceled {
		return Subscription{}, errors.Mark(errors.Newf("subscription %s is already canceled", id), ErrRejected)
	}
	s.Status = StatusCanceled
	s.CancelAtPeriodEnd = false
	m.Subscriptions[id] = s
	return s, nil
}

func (m *Mock) ListInvoices(ctx context.Context, params ListParams) ([]Invoice, error) {
	m.log("ListInvoices(%s)", params.CustomerID)
	if m.ListInvoicesFunc != nil {
		return m.ListInvoicesFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, in := range m.Invoices {
		if in.CustomerID == params.CustomerID {
			out = append(out, in)
		}
	}
	return limit(out, params.Limit), nil
}

func (m *Mock) ListPaymentIntents(ctx context.Context, params ListParams) ([]PaymentIntent, error) {
	m.log("ListPaymentIntents(%s)", params.CustomerID)
	if m.ListPaymentIntentsFunc != nil {
		return m.ListPaymentIntentsFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentIntent
	for _, pi := range m.PaymentIntents {
		if pi.CustomerID == params.CustomerID {
			out = append(out, pi)
		}
	}
	return limit(out, params.Limit), nil
}

func (m *Mock) GetProduct(_ context.Context, id string) (Product, error) {
	m.log("GetProduct(%s)", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Products[id]
	if !ok {
		return Product{}, notFound("product", id)
	}
	return p, nil
}

func (m *Mock) ListProducts(ctx context.Context, ids []string) ([]Product, error) {
	m.log("ListProducts(%s)", strings.Join(ids, ","))
	if m.ListProductsFunc != nil {
		return m.ListProductsFunc(ctx, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Product
	for _, id := range ids {
		if p, ok := m.Products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	m.log("CreateCheckoutSession(%s, %s)", params.Mode, params.CustomerID)
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(m.Sessions))
	return CheckoutSession{ID: id, URL: "https://checkout.stripe.test/c/pay/" + id}, nil
}

// LastSession returns the params of the most recent checkout session.
func (m *Mock) LastSession() (CheckoutParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sessions) == 0 {
		return CheckoutParams{}, false
	}
	return m.Sessions[len(m.Sessions)-1], true
}

func limit[T any](items []T, n int64) []T {
	if n > 0 && int64(len(items)) > n {
		return items[:n]
	}
	return items
}
