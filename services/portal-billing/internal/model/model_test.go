package model

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProposalMetadataPackages(t *testing.T) {
	raw := []byte(`{
		"stripe_subscription_id": "sub_1",
		"stripe_invoice_id": 42,
		"packages": [
			{"id": "retainer", "name": "Monthly retainer", "type": "subscription", "price": 1500, "currency": "USD", "interval": "month"},
			{"name": "Kickoff workshop", "type": "one-time", "price": "499.50", "currency": "usd"}
		],
		"line_items": [{"description": "ignored when packages exist", "price": 1}]
	}`)

	refs, pricing, err := DecodeProposalMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, ExternalRefs{SubscriptionID: "sub_1"}, refs, "non-string ids are dropped")

	list, ok := pricing.(PackageList)
	require.True(t, ok)
	require.Len(t, list.Packages, 2)
	assert.Equal(t, PackageSubscription, list.Packages[0].Type)
	assert.Equal(t, "usd", list.Packages[0].Currency)
	assert.Equal(t, "pkg_2", list.Packages[1].ID)
	assert.Equal(t, PackageOneTime, list.Packages[1].Type)
	assert.True(t, decimal.RequireFromString("499.5").Equal(list.Packages[1].Price))
}

func TestDecodeProposalMetadataLegacyLineItems(t *testing.T) {
	raw := []byte(`{"stripe_payment_intent_id": "pi_9", "line_items": [{"name": "Logo design", "unit_price": 250}, {"description": "Hosting", "price": 20, "quantity": 12, "interval": "Month"}]}`)

	refs, pricing, err := DecodeProposalMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "pi_9", refs.PaymentIntentID)

	legacy, ok := pricing.(LegacyLineItems)
	require.True(t, ok)
	require.Len(t, legacy.Items, 2)
	assert.Equal(t, "Logo design", legacy.Items[0].Description)
	assert.Equal(t, int64(1), legacy.Items[0].Quantity)
	assert.Equal(t, "month", legacy.Items[1].Interval)
	assert.Equal(t, int64(12), legacy.Items[1].Quantity)
}

func TestDecodeProposalMetadataEmptyShapes(t *testing.T) {
	for _, raw := range []string{``, `{}`, `{"packages": []}`, `{"packages": "nope", "line_items": null}`} {
		refs, pricing, err := DecodeProposalMetadata([]byte(raw))
		require.NoError(t, err, raw)
		assert.True(t, refs.IsZero(), raw)
		assert.Nil(t, pricing, raw)
	}

	_, _, err := DecodeProposalMetadata([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestEncodeRefsOnlyPopulated(t *testing.T) {
	assert.Equal(t, map[string]string{MetaSubscriptionID: "sub_1"}, EncodeRefs(ExternalRefs{SubscriptionID: "sub_1"}))
}

func TestMoneyConversions(t *testing.T) {
	assert.Equal(t, "12.34", MajorUnits(1234, "usd").StringFixed(2))
	assert.Equal(t, "1234", MajorUnits(1234, "JPY").String())
	assert.Equal(t, int64(49950), MinorUnits(decimal.RequireFromString("499.5"), "usd"))
	assert.Equal(t, int64(500), MinorUnits(decimal.RequireFromString("499.5"), "jpy"))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005"), "eur"))
	assert.Equal(t, "15.00", FormatAmount(1500, "usd"))
	assert.Equal(t, "-5.00", FormatAmount(-500, "usd"))
	assert.Equal(t, "1500", FormatAmount(1500, "jpy"))
}

func TestErrorHelpersKeepClass(t *testing.T) {
	err := errors.Wrap(Forbidden("client %q", "acme"), "cancel")
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(NotFound("x"), ErrNotFound))
	assert.True(t, errors.Is(BadRequest("x"), ErrBadRequest))
}
