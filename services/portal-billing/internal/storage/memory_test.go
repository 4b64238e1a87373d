package storage

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

func TestMemoryClientLookups(t *testing.T) {
	m := NewMemory()
	m.PutClient(model.Client{ID: "c1", Slug: "acme", StripeCustomerID: "cus_1"})
	ctx := context.Background()

	c, err := m.GetClientByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Slug)

	_, err = m.GetClientBySlug(ctx, "globex")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = m.GetClientByCustomerID(ctx, "")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	assert.True(t, errors.Is(m.SetClientCustomerID(ctx, "c1", ""), model.ErrBadRequest), "ids are never cleared")
	require.NoError(t, m.SetClientCustomerID(ctx, "c1", "cus_2"))
	c, _ = m.GetClientBySlug(ctx, "acme")
	assert.Equal(t, "cus_2", c.StripeCustomerID)
}

func TestMemoryLinkProposalFromEventDedupes(t *testing.T) {
	m := NewMemory()
	m.PutProposal(model.Proposal{ID: "p1", ClientID: "c1", Refs: model.ExternalRefs{InvoiceID: "in_old"}})
	ctx := context.Background()
	evt := ProviderEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "checkout.session.completed"}

	require.NoError(t, m.LinkProposalFromEvent(ctx, evt, "p1", model.ExternalRefs{SubscriptionID: "sub_1"}))
	p, err := m.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ExternalRefs{SubscriptionID: "sub_1", InvoiceID: "in_old"}, p.Refs, "refs are merged")

	err = m.LinkProposalFromEvent(ctx, evt, "p1", model.ExternalRefs{SubscriptionID: "sub_2"})
	assert.ErrorIs(t, err, ErrDuplicateProviderEvent)
	p, _ = m.GetProposal(ctx, "p1")
	assert.Equal(t, "sub_1", p.Refs.SubscriptionID)

	err = m.LinkProposalFromEvent(ctx, ProviderEvent{Provider: "stripe", ProviderEventID: "evt_2"}, "missing", model.ExternalRefs{PaymentIntentID: "pi_1"})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestMemoryListProposalsKeepsInsertionOrder(t *testing.T) {
	m := NewMemory()
	m.PutProposal(model.Proposal{ID: "p2", ClientID: "c1"})
	m.PutProposal(model.Proposal{ID: "p1", ClientID: "c1"})
	m.PutProposal(model.Proposal{ID: "p3", ClientID: "c2"})

	got, err := m.ListProposals(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID)
	assert.Equal(t, "p1", got[1].ID)
}
