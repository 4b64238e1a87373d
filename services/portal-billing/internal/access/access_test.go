package access

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		id     model.Identity
		target string
		ok     bool
	}{
		{name: "admin any client", id: model.Identity{Role: model.RoleAdmin}, target: "acme", ok: true},
		{name: "inactive admin still admin", id: model.Identity{Role: model.RoleAdmin, Active: false}, target: "globex", ok: true},
		{name: "client own slug", id: model.Identity{Role: model.RoleClient, ClientSlug: "acme", Active: true}, target: "acme", ok: true},
		{name: "client other slug", id: model.Identity{Role: model.RoleClient, ClientSlug: "acme", Active: true}, target: "globex"},
		{name: "inactive client own slug", id: model.Identity{Role: model.RoleClient, ClientSlug: "acme"}, target: "acme"},
		{name: "client without slug", id: model.Identity{Role: model.RoleClient, Active: true}, target: ""},
		{name: "unknown role", id: model.Identity{Role: "owner", ClientSlug: "acme", Active: true}, target: "acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.id, tt.target)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, model.ErrForbidden), "got %v", err)
		})
	}
}

func TestClientNeverReachesOtherSlugs(t *testing.T) {
	id := model.Identity{Role: model.RoleClient, ClientSlug: "acme", Active: true}
	for _, target := range []string{"globex", "ACME", "acme-2", " ", "initech"} {
		assert.True(t, errors.Is(Authorize(id, target), model.ErrForbidden), target)
	}
}

func TestPrecheckAndRequireAdmin(t *testing.T) {
	admin := model.Identity{Role: model.RoleAdmin}
	client := model.Identity{Role: model.RoleClient, ClientSlug: "acme", Active: true}

	assert.NoError(t, Precheck(admin))
	assert.NoError(t, Precheck(client))
	assert.Error(t, Precheck(model.Identity{Role: model.RoleClient, Active: true}))
	assert.Error(t, Precheck(model.Identity{Role: model.RoleClient, ClientSlug: "acme"}))

	assert.NoError(t, RequireAdmin(admin))
	assert.True(t, errors.Is(RequireAdmin(client), model.ErrForbidden))
}
