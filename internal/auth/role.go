package auth

import (
	"fmt"
	"strings"
)

// RoleName is the canonical role representation. All internal code operates
// on this closed type; ParseRole is the single tolerant conversion point.
type RoleName string

const (
	RoleAdmin  RoleName = "admin"
	RoleEditor RoleName = "editor"
	RoleViewer RoleName = "viewer"

	// RoleMember is the default for newly added non-admin users. It has no
	// entry in the permission table and therefore resolves to an empty
	// permission set until the user is promoted.
	RoleMember RoleName = "member"
)

// Permission names used across the service.
const (
	PermissionRead                = "read"
	PermissionWrite               = "write"
	PermissionDelete              = "delete"
	PermissionManageUsers         = "manage_users"
	PermissionManageTeams         = "manage_teams"
	PermissionManageOrganizations = "manage_organizations"
	PermissionManageIncidents     = "manage_incidents"
	PermissionManageAgentConfigs  = "manage_agent_configs"
	PermissionManageStats         = "manage_stats"
)

// PermissionSet maps permission name to whether it is granted.
type PermissionSet map[string]bool

// rolePermissions is built once and never mutated. PermissionsFor hands out
// copies so callers cannot corrupt the table.
var rolePermissions = map[RoleName]PermissionSet{
	RoleAdmin: {
		PermissionRead:                true,
		PermissionWrite:               true,
		PermissionDelete:              true,
		PermissionManageUsers:         true,
		PermissionManageTeams:         true,
		PermissionManageOrganizations: true,
		PermissionManageIncidents:     true,
		PermissionManageAgentConfigs:  true,
		PermissionManageStats:         true,
	},
	RoleEditor: {
		PermissionRead:                true,
		PermissionWrite:               true,
		PermissionDelete:              false,
		PermissionManageUsers:         false,
		PermissionManageTeams:         false,
		PermissionManageOrganizations: false,
		PermissionManageIncidents:     true,
		PermissionManageAgentConfigs:  true,
		PermissionManageStats:         true,
	},
	RoleViewer: {
		PermissionRead:                false,
		PermissionWrite:               false,
		PermissionDelete:              false,
		PermissionManageUsers:         false,
		PermissionManageTeams:         false,
		PermissionManageOrganizations: false,
		PermissionManageIncidents:     false,
		PermissionManageAgentConfigs:  false,
		PermissionManageStats:         false,
	},
}

// ParseRole converts a raw role representation to its canonical name.
// It tolerates enum-style strings ("UserRole.ADMIN"), mixed case, and
// surrounding whitespace, and fails loudly on anything unknown.
func ParseRole(raw string) (RoleName, error) {
	name := strings.TrimSpace(raw)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	switch RoleName(strings.ToLower(name)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	case RoleMember:
		return RoleMember, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// PermissionsFor returns the fixed permission set for a role. Roles outside
// the permission table (including member) yield an empty set; callers treat
// that as default-deny, not as an error.
func PermissionsFor(role RoleName) PermissionSet {
	base, ok := rolePermissions[role]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}

// EffectivePermissions merges a role's base permissions with the per-team
// override map for the given user. Override entries win key-by-key; keys the
// override does not mention keep their base value.
func EffectivePermissions(role RoleName, teamOverrides map[string]map[string]bool, userID string) PermissionSet {
	perms := PermissionsFor(role)
	if teamOverrides == nil {
		return perms
	}
	for key, granted := range teamOverrides[userID] {
		perms[key] = granted
	}
	return perms
}
