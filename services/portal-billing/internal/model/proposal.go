package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// ExternalRefs are the gateway ids a proposal has been linked to.
type ExternalRefs struct {
	PaymentIntentID string
	SubscriptionID  string
	InvoiceID       string
}

func (r ExternalRefs) IsZero() bool {
	return r.PaymentIntentID == "" && r.SubscriptionID == "" && r.InvoiceID == ""
}

type Proposal struct {
	ID          string
	ClientID    string
	ProjectID   string
	ProjectName string
	Title       string
	Refs        ExternalRefs
	// Pricing is nil when the proposal carries neither packages nor line items.
	Pricing Pricing
}

// ProposalLink is what an external entity inherits from the proposal it is linked to.
type ProposalLink struct {
	ProposalID    string `json:"proposalId"`
	ProposalTitle string `json:"proposalTitle"`
	ProjectID     string `json:"projectId,omitempty"`
	ProjectName   string `json:"projectName,omitempty"`
}

func (p Proposal) Link() ProposalLink {
	return ProposalLink{
		ProposalID:    p.ID,
		ProposalTitle: p.Title,
		ProjectID:     p.ProjectID,
		ProjectName:   p.ProjectName,
	}
}

// Pricing is either a PackageList or LegacyLineItems.
type Pricing interface {
	isPricing()
}

type PackageType string

const (
	PackageOneTime      PackageType = "one_time"
	PackageSubscription PackageType = "subscription"
)

type Package struct {
	ID            string
	Name          string
	Description   string
	Type          PackageType
	Price         decimal.Decimal
	Currency      string
	Interval      string
	IntervalCount int64
}

type PackageList struct {
	Packages []Package
}

type LineItem struct {
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Currency    string
	Interval    string
}

type LegacyLineItems struct {
	Items []LineItem
}

func (PackageList) isPricing()     {}
func (LegacyLineItems) isPricing() {}

const (
	MetaPaymentIntentID = "stripe_payment_intent_id"
	MetaSubscriptionID  = "stripe_subscription_id"
	MetaInvoiceID       = "stripe_invoice_id"
	metaPackages        = "packages"
	metaLineItems       = "line_items"
)

type packageJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Interval      string          `json:"interval"`
	IntervalCount int64           `json:"interval_count"`
}

type lineItemJSON struct {
	Description string          `json:"description"`
	Name        string          `json:"name"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
	Interval    string          `json:"interval"`
}

// DecodeProposalMetadata turns the free-form proposal metadata object into typed
// refs and pricing. Keys are decoded independently: a malformed value drops
// that key only. A body that is not a JSON object is an error.
func DecodeProposalMetadata(raw []byte) (ExternalRefs, Pricing, error) {
	var refs ExternalRefs
	if len(strings.TrimSpace(string(raw))) == 0 {
		return refs, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return refs, nil, errors.Wrap(err, "proposal metadata is not a JSON object")
	}

	refs.PaymentIntentID = stringField(fields, MetaPaymentIntentID)
	refs.SubscriptionID = stringField(fields, MetaSubscriptionID)
	refs.InvoiceID = stringField(fields, MetaInvoiceID)

	var pkgs []packageJSON
	if v, ok := fields[metaPackages]; ok && json.Unmarshal(v, &pkgs) == nil && len(pkgs) > 0 {
		list := PackageList{Packages: make([]Package, 0, len(pkgs))}
		for i, p := range pkgs {
			id := strings.TrimSpace(p.ID)
			if id == "" {
				id = "pkg_" + strconv.Itoa(i+1)
			}
			list.Packages = append(list.Packages, Package{
				ID:            id,
				Name:          strings.TrimSpace(p.Name),
				Description:   strings.TrimSpace(p.Description),
				Type:          parsePackageType(p.Type, p.Interval),
				Price:         p.Price,
				Currency:      strings.ToLower(strings.TrimSpace(p.Currency)),
				Interval:      strings.ToLower(strings.TrimSpace(p.Interval)),
				IntervalCount: p.IntervalCount,
			})
		}
		return refs, list, nil
	}

	var items []lineItemJSON
	if v, ok := fields[metaLineItems]; ok && json.Unmarshal(v, &items) == nil && len(items) > 0 {
		legacy := LegacyLineItems{Items: make([]LineItem, 0, len(items))}
		for _, it := range items {
			desc := strings.TrimSpace(it.Description)
			if desc == "" {
				desc = strings.TrimSpace(it.Name)
			}
			price := it.UnitPrice
			if price.IsZero() {
				price = it.Price
			}
			qty := it.Quantity
			if qty <= 0 {
				qty = 1
			}
			legacy.Items = append(legacy.Items, LineItem{
				Description: desc,
				Quantity:    qty,
				UnitPrice:   price,
				Currency:    strings.ToLower(strings.TrimSpace(it.Currency)),
				Interval:    strings.ToLower(strings.TrimSpace(it.Interval)),
			})
		}
		return refs, legacy, nil
	}
	return refs, nil, nil
}

// EncodeRefs renders refs as a metadata patch containing only the populated keys.
func EncodeRefs(refs ExternalRefs) map[string]string {
	out := map[string]string{}
	if refs.PaymentIntentID != "" {
		out[MetaPaymentIntentID] = refs.PaymentIntentID
	}
	if refs.SubscriptionID != "" {
		out[MetaSubscriptionID] = refs.SubscriptionID
	}
	if refs.InvoiceID != "" {
		out[MetaInvoiceID] = refs.InvoiceID
	}
	return out
}

func stringField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func parsePackageType(t, interval string) PackageType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "subscription", "recurring":
		return PackageSubscription
	case "one_time", "one-time", "onetime":
		return PackageOneTime
	}
	if strings.TrimSpace(interval) != "" {
		return PackageSubscription
	}
	return PackageOneTime
}
