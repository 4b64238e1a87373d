package model

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Identity is the caller as resolved upstream. ClientSlug is only meaningful
// for the client role.
type Identity struct {
	UserID     string
	Role       Role
	ClientSlug string
	Active     bool
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
