package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestDecisionErr(t *testing.T) {
	if err := Allow().Err(); err != nil {
		t.Fatalf("allow produced an error: %v", err)
	}

	err := Deny("team_scope", "principal does not belong to this team").Err()
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if !strings.Contains(err.Error(), "team_scope") {
		t.Fatalf("error should carry the failed check name: %v", err)
	}
}

func TestFirstReturnsEarliestDenial(t *testing.T) {
	d := First(
		Allow(),
		Deny("one", "first failure"),
		Deny("two", "second failure"),
	)
	if d.Allowed || d.Check != "one" {
		t.Fatalf("expected the first denial to win, got %+v", d)
	}

	if d := First(Allow(), Allow()); !d.Allowed {
		t.Fatalf("all-pass should allow, got %+v", d)
	}
	if d := First(); !d.Allowed {
		t.Fatalf("empty chain should allow, got %+v", d)
	}
}

func TestScopeGuards(t *testing.T) {
	p := Principal{UserID: "u1", OrgID: "org-1", TeamID: "team-1", Roles: []string{"admin"}}

	if d := SameTeam(p, "team-1"); !d.Allowed {
		t.Fatalf("same team denied: %+v", d)
	}
	if d := SameTeam(p, "team-2"); d.Allowed {
		t.Fatalf("admin must not cross teams")
	}

	if d := SameOrg(p, "org-2"); d.Allowed {
		t.Fatalf("admin must not cross orgs via SameOrg")
	}
	if d := OrgAccess(p, "org-2"); !d.Allowed {
		t.Fatalf("admin may cross orgs via OrgAccess: %+v", d)
	}

	viewer := Principal{UserID: "u2", OrgID: "org-1", TeamID: "team-1", Roles: []string{"viewer"}}
	if d := OrgAccess(viewer, "org-2"); d.Allowed {
		t.Fatalf("non-admin must not cross orgs")
	}
}

func TestRoleIn(t *testing.T) {
	editor := Principal{UserID: "u1", Roles: []string{"editor"}}
	if d := RoleIn(editor, RoleViewer, RoleEditor, RoleAdmin); !d.Allowed {
		t.Fatalf("editor should pass: %+v", d)
	}

	member := Principal{UserID: "u2", Roles: []string{"member"}}
	if d := RoleIn(member, RoleViewer, RoleEditor, RoleAdmin); d.Allowed {
		t.Fatalf("member should be denied")
	}
}

func TestHasPermission(t *testing.T) {
	editor := Principal{UserID: "u1", TeamID: "team-1", Roles: []string{"editor"}}

	if d := HasPermission(editor, nil, PermissionWrite); !d.Allowed {
		t.Fatalf("editor write denied: %+v", d)
	}
	if d := HasPermission(editor, nil, PermissionDelete); d.Allowed {
		t.Fatalf("editor delete should be denied")
	}

	overrides := map[string]map[string]bool{
		"u1": {PermissionDelete: true},
	}
	if d := HasPermission(editor, overrides, PermissionDelete); !d.Allowed {
		t.Fatalf("override should grant delete: %+v", d)
	}

	viewer := Principal{UserID: "u3", TeamID: "team-1", Roles: []string{"viewer"}}
	if d := HasPermission(viewer, overrides, PermissionWrite); d.Allowed {
		t.Fatalf("viewer write should be denied")
	}
	if !strings.Contains(HasPermission(viewer, nil, PermissionWrite).Reason, "write") {
		t.Fatalf("denial reason should name the missing permission")
	}
}
