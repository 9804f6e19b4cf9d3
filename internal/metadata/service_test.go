package metadata_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
	"brownie.dev/internal/store/memory"
)

// fixture holds a service over the in-memory store with a controllable clock
// and a seeded organization, team, and admin user.
type fixture struct {
	svc   *metadata.Service
	store *memory.Store
	now   time.Time
	admin metadata.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	svc, err := metadata.NewService(f.store, metadata.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.svc = svc

	admin, err := svc.Signup(context.Background(), metadata.SignupInput{
		Email:            "admin@example.com",
		Username:         "admin",
		FullName:         "First Admin",
		Password:         "str0ng-password",
		OrganizationName: "Acme",
		TeamName:         "Platform",
	})
	require.NoError(t, err)
	f.admin = admin
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) principalFor(u metadata.User) auth.Principal {
	return auth.Principal{
		UserID: u.ID,
		OrgID:  u.OrgID,
		TeamID: u.TeamID,
		Email:  u.Email,
		Roles:  []string{string(u.Role)},
	}
}

// addUser provisions an active user in the seeded team with the given role.
func (f *fixture) addUser(t *testing.T, email string, role auth.RoleName) metadata.User {
	t.Helper()
	user, err := f.svc.CreateUser(context.Background(), f.principalFor(f.admin), f.admin.OrgID, metadata.UserInput{
		Email:    email,
		Username: email,
		Password: "str0ng-password",
		TeamID:   f.admin.TeamID,
		Role:     role,
		IsActive: true,
	})
	require.NoError(t, err)
	return user
}

func TestSignup(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, auth.RoleAdmin, f.admin.Role, "first user becomes admin")
	require.True(t, f.admin.IsActive)
	require.NotEmpty(t, f.admin.OrgID)
	require.NotEmpty(t, f.admin.TeamID)

	_, err := f.svc.Signup(context.Background(), metadata.SignupInput{
		Email:            "Admin@Example.com",
		Password:         "another-password",
		OrganizationName: "Other",
		TeamName:         "Other",
	})
	require.ErrorIs(t, err, metadata.ErrConflict, "email uniqueness is case-insensitive")

	_, err = f.svc.Signup(context.Background(), metadata.SignupInput{
		Email:            "no-at-sign",
		Password:         "p",
		OrganizationName: "X",
		TeamName:         "Y",
	})
	require.ErrorIs(t, err, metadata.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Authenticate(ctx, "ADMIN@example.com", "str0ng-password")
	require.NoError(t, err)
	require.Equal(t, f.admin.ID, user.ID)

	_, err = f.svc.Authenticate(ctx, "admin@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "str0ng-password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "unknown email must be indistinguishable from a bad password")

	_, err = f.svc.Authenticate(ctx, "", "")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestResolvePrincipalRejectsRemovedUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	editor := f.addUser(t, "editor@example.com", auth.RoleEditor)
	claims := auth.Claims{OrgID: editor.OrgID, Email: editor.Email, Roles: []string{"editor"}}
	claims.Subject = editor.ID

	p, err := f.svc.ResolvePrincipal(ctx, claims)
	require.NoError(t, err)
	require.Equal(t, editor.TeamID, p.TeamID)

	// Deactivation invalidates outstanding tokens immediately.
	inactive := false
	_, err = f.svc.UpdateUser(ctx, f.principalFor(f.admin), editor.ID, metadata.UserUpdateInput{IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.svc.ResolvePrincipal(ctx, claims)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLastAdminInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	err := f.svc.RemoveTeamMember(ctx, admin, f.admin.TeamID, f.admin.ID)
	require.ErrorIs(t, err, metadata.ErrLastAdmin, "self-removal of the only admin must fail")

	demoted := auth.RoleEditor
	_, err = f.svc.UpdateUser(ctx, admin, f.admin.ID, metadata.UserUpdateInput{Role: &demoted})
	require.ErrorIs(t, err, metadata.ErrLastAdmin, "self-demotion of the only admin must fail")

	// With a second active admin both operations go through.
	second := f.addUser(t, "admin2@example.com", auth.RoleAdmin)
	_, err = f.svc.UpdateTeamMemberRole(ctx, admin, f.admin.TeamID, second.ID, auth.RoleEditor)
	require.NoError(t, err)

	third := f.addUser(t, "admin3@example.com", auth.RoleAdmin)
	err = f.svc.RemoveTeamMember(ctx, admin, f.admin.TeamID, third.ID)
	require.NoError(t, err)

	// third is gone and second was demoted, so the seed admin is once again
	// the last one standing.
	err = f.svc.DeleteUser(ctx, admin, f.admin.ID)
	require.ErrorIs(t, err, metadata.ErrLastAdmin)
}

func TestAddTeamMemberRequiresSameOrg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	outsider, err := f.svc.Signup(ctx, metadata.SignupInput{
		Email:            "other@example.com",
		Password:         "str0ng-password",
		OrganizationName: "Rival",
		TeamName:         "Rival Team",
	})
	require.NoError(t, err)

	_, err = f.svc.AddTeamMember(ctx, admin, f.admin.TeamID, outsider.ID, auth.RoleEditor)
	require.ErrorIs(t, err, metadata.ErrValidation)
}

func TestGetUserHidesOtherOrgs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outsider, err := f.svc.Signup(ctx, metadata.SignupInput{
		Email:            "other@example.com",
		Password:         "str0ng-password",
		OrganizationName: "Rival",
		TeamName:         "Rival Team",
	})
	require.NoError(t, err)

	_, err = f.svc.GetUser(ctx, f.principalFor(f.admin), outsider.ID)
	require.ErrorIs(t, err, metadata.ErrNotFound, "cross-org reads must not reveal existence")
}
