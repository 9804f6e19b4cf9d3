package auth

// Principal is the resolved identity for one request. It is reconstructed
// from verified claims plus the current user record on every request and
// never persisted.
type Principal struct {
	UserID string
	OrgID  string
	TeamID string
	Email  string
	// Roles is ordered; the service currently issues exactly one role per
	// token but tokens carrying several remain valid.
	Roles []string
}

// Role returns the principal's primary canonical role. An empty or
// unrecognized role list resolves to the zero RoleName, which holds no
// permissions.
func (p Principal) Role() RoleName {
	for _, raw := range p.Roles {
		if role, err := ParseRole(raw); err == nil {
			return role
		}
	}
	return ""
}

// IsAdmin reports whether the principal's canonical role is admin.
func (p Principal) IsAdmin() bool {
	return p.Role() == RoleAdmin
}
