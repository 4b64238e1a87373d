package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/clientportal/libs/auth"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

var errUnauthenticated = errorResponse{Error: "unauthenticated", Message: "caller identity is missing or invalid"}

// identity resolves the caller from a verified bearer token, or from the
// gateway-set headers when token verification is not configured. A role the
// portal does not know still resolves; the access gate refuses it.
func (h *Handler) identity(r *http.Request) (model.Identity, bool) {
	if h.verifier.Enabled() {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			return model.Identity{}, false
		}
		claims, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			h.logger.InfoContext(r.Context(), "bearer token rejected", "err", err)
			return model.Identity{}, false
		}
		return model.Identity{
			UserID:     claims.Sub,
			Role:       model.Role(strings.ToLower(claims.Role)),
			ClientSlug: strings.TrimSpace(claims.ClientSlug),
			Active:     claims.IsActive(),
		}, true
	}

	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		return model.Identity{}, false
	}
	active := true
	if raw := strings.TrimSpace(r.Header.Get("X-Client-Active")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		active = err == nil && parsed
	}
	return model.Identity{
		UserID:     strings.TrimSpace(r.Header.Get("X-User-Id")),
		Role:       model.Role(role),
		ClientSlug: strings.TrimSpace(r.Header.Get("X-Client-Slug")),
		Active:     active,
	}, true
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := h.identity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errUnauthenticated)
	}
	return id, ok
}
