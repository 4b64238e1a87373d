// Package access decides whether a caller may act on a client account.
package access

import (
	"strings"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

// Authorize admits admins unconditionally and active clients for their own slug only.
func Authorize(id model.Identity, clientSlug string) error {
	if id.IsAdmin() {
		return nil
	}
	if id.Role != model.RoleClient {
		return model.Forbidden("unknown role %q", id.Role)
	}
	if !id.Active {
		return model.Forbidden("client account is inactive")
	}
	own := strings.TrimSpace(id.ClientSlug)
	if own == "" || own != strings.TrimSpace(clientSlug) {
		return model.Forbidden("client %q may not access %q", own, clientSlug)
	}
	return nil
}

// Precheck is applied before the owning client is known (operations addressed
// by an external id). It never replaces Authorize against the derived owner.
func Precheck(id model.Identity) error {
	if id.IsAdmin() {
		return nil
	}
	if id.Role != model.RoleClient {
		return model.Forbidden("unknown role %q", id.Role)
	}
	if !id.Active || strings.TrimSpace(id.ClientSlug) == "" {
		return model.Forbidden("client identity is inactive or unscoped")
	}
	return nil
}

func RequireAdmin(id model.Identity) error {
	if !id.IsAdmin() {
		return model.Forbidden("admin role required")
	}
	return nil
}
