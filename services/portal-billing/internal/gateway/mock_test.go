package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSubscriptionTransitions(t *testing.T) {
	m := NewMock()
	m.AddSubscription(Subscription{ID: "sub_1", CustomerID: "cus_1", Status: StatusActive})
	ctx := context.Background()

	s, err := m.SetCancelAtPeriodEnd(ctx, "sub_1", true, "k1")
	require.NoError(t, err)
	assert.True(t, s.CancelAtPeriodEnd)
	assert.Equal(t, StatusActive, s.Status)

	s, err = m.CancelSubscription(ctx, "sub_1", "k2")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, s.Status)

	_, err = m.SetCancelAtPeriodEnd(ctx, "sub_1", false, "k3")
	assert.True(t, IsRejected(err))

	_, err = m.GetSubscription(ctx, "sub_missing")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, m.Calls("CancelSubscription"))
}

func TestMockCreateCustomerIsIdempotent(t *testing.T) {
	m := NewMock()
	a, err := m.CreateCustomer(context.Background(), CustomerParams{Email: "a@acme.test", IdempotencyKey: "same"})
	require.NoError(t, err)
	b, err := m.CreateCustomer(context.Background(), CustomerParams{Email: "a@acme.test", IdempotencyKey: "same"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, m.Customers, 1)
}
