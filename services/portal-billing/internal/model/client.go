package model

import "strings"

// Client is the internal account record. StripeCustomerID may be stale in the
// current gateway environment; it is only ever replaced, never cleared.
type Client struct {
	ID               string
	Slug             string
	Name             string
	Email            string
	StripeCustomerID string
}

func (c Client) HasExternalAccount() bool {
	return strings.TrimSpace(c.StripeCustomerID) != ""
}
