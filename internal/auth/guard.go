package auth

import "fmt"

// Decision is the explicit result of a single authorization check. Guards
// never panic or raise; denial reasons travel with the value so the boundary
// layer can log which check failed without leaking it to the client.
type Decision struct {
	Allowed bool
	// Check names the predicate that produced this decision.
	Check string
	// Reason is the operator-facing denial explanation. Empty when allowed.
	Reason string
}

// Allow returns a passing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a failing decision for the named check.
func Deny(check, reason string) Decision {
	return Decision{Check: check, Reason: reason}
}

// Err converts a denial into ErrForbidden annotated with the failed check.
// Allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrForbidden, d.Check, d.Reason)
}

// First evaluates decisions in order and returns the first denial, or an
// allow if every check passed. Order matters: the first failing check
// determines the error the caller sees, so callers must not reorder checks
// for optimization.
func First(decisions ...Decision) Decision {
	for _, d := range decisions {
		if !d.Allowed {
			return d
		}
	}
	return Allow()
}

// SameTeam requires the principal to belong to the target team. There is no
// cross-team override: admins are team-scoped for team-level operations.
func SameTeam(p Principal, teamID string) Decision {
	if p.TeamID == teamID {
		return Allow()
	}
	return Deny("team_scope", "principal does not belong to this team")
}

// SameOrg requires the principal to belong to the target organization, with
// no role-based override.
func SameOrg(p Principal, orgID string) Decision {
	if p.OrgID == orgID {
		return Allow()
	}
	return Deny("org_scope", "principal does not belong to this organization")
}

// OrgAccess requires the principal to belong to the target organization,
// except that admins may cross organizations. Only the organization
// read/update/list paths use this; everything else stays org-scoped via
// SameOrg.
func OrgAccess(p Principal, orgID string) Decision {
	if p.OrgID == orgID || p.IsAdmin() {
		return Allow()
	}
	return Deny("org_scope", "principal does not belong to this organization")
}

// RoleIn requires the principal's canonical role to be one of the allowed
// set.
func RoleIn(p Principal, allowed ...RoleName) Decision {
	role := p.Role()
	for _, want := range allowed {
		if role == want {
			return Allow()
		}
	}
	return Deny("role", fmt.Sprintf("role %q is not in the allowed set", role))
}

// HasPermission resolves the principal's effective permissions against the
// team's override map and requires the named permission to be granted. An
// absent permission denies; it is never an error.
func HasPermission(p Principal, teamOverrides map[string]map[string]bool, permission string) Decision {
	perms := EffectivePermissions(p.Role(), teamOverrides, p.UserID)
	if perms[permission] {
		return Allow()
	}
	return Deny("permission", fmt.Sprintf("permission %q required", permission))
}
