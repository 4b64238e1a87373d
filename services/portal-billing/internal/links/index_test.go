package links

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

func TestBuildAndLookup(t *testing.T) {
	idx := Build([]model.Proposal{
		{ID: "p1", Title: "Website rebuild", ProjectID: "prj1", ProjectName: "Web", Refs: model.ExternalRefs{PaymentIntentID: "pi_1"}},
		{ID: "p2", Title: "Care plan", Refs: model.ExternalRefs{SubscriptionID: "sub_1", InvoiceID: "in_direct"}},
		{ID: "p3", Title: "No links"},
	})

	l, ok := idx.Payment("pi_1")
	assert.True(t, ok)
	assert.Equal(t, model.ProposalLink{ProposalID: "p1", ProposalTitle: "Website rebuild", ProjectID: "prj1", ProjectName: "Web"}, l)

	l, ok = idx.Invoice("in_direct", "")
	assert.True(t, ok)
	assert.Equal(t, "p2", l.ProposalID)

	l, ok = idx.Invoice("in_from_sub", "sub_1")
	assert.True(t, ok, "invoices inherit their subscription's link")
	assert.Equal(t, "Care plan", l.ProposalTitle)

	_, ok = idx.Invoice("in_unknown", "sub_unknown")
	assert.False(t, ok)
	_, ok = idx.Invoice("", "")
	assert.False(t, ok)
	_, ok = idx.Payment("")
	assert.False(t, ok)

	assert.Equal(t, 3, idx.Len())
}

func TestLastWriteWins(t *testing.T) {
	idx := Build([]model.Proposal{
		{ID: "p1", Refs: model.ExternalRefs{SubscriptionID: "sub_1"}},
		{ID: "p2", Refs: model.ExternalRefs{SubscriptionID: "sub_1"}},
	})
	l, ok := idx.Subscription("sub_1")
	assert.True(t, ok)
	assert.Equal(t, "p2", l.ProposalID)
}

func TestEmptyIndex(t *testing.T) {
	idx := Build(nil)
	_, ok := idx.Subscription("sub_1")
	assert.False(t, ok)
	assert.Zero(t, idx.Len())
}
