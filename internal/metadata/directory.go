package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"brownie.dev/internal/auth"
)

// OrganizationInput carries organization creation fields.
type OrganizationInput struct {
	Name            string
	Slug            string
	Description     string
	MaxTeams        int
	MaxUsersPerTeam int
}

// CreateOrganization creates a new organization. Any authenticated principal
// may open a new tenancy.
func (s *Service) CreateOrganization(ctx context.Context, p auth.Principal, in OrganizationInput) (Organization, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	now := s.now().UTC()
	org := Organization{
		ID:              newID(),
		Name:            name,
		Slug:            slug,
		Description:     strings.TrimSpace(in.Description),
		IsActive:        true,
		MaxTeams:        defaultInt(in.MaxTeams, 10),
		MaxUsersPerTeam: defaultInt(in.MaxUsersPerTeam, 50),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateOrganization(ctx, &org); err != nil {
		return Organization{}, err
	}
	s.log.Info("organization created", zap.String("org_id", org.ID), zap.String("created_by", p.UserID))
	return org, nil
}

// GetOrganization returns an organization. Admins may read across
// organizations; everyone else is scoped to their own.
func (s *Service) GetOrganization(ctx context.Context, p auth.Principal, orgID string) (Organization, error) {
	if d := auth.OrgAccess(p, orgID); !d.Allowed {
		return Organization{}, d.Err()
	}
	return s.store.GetOrganization(ctx, orgID)
}

// ListOrganizations lists organizations visible to the principal: all of
// them for admins, only their own otherwise.
func (s *Service) ListOrganizations(ctx context.Context, p auth.Principal) ([]Organization, error) {
	if p.IsAdmin() {
		return s.store.ListOrganizations(ctx)
	}
	org, err := s.store.GetOrganization(ctx, p.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []Organization{org}, nil
}

// UpdateOrganization applies a partial organization update under the same
// cross-org admin rule as reads.
func (s *Service) UpdateOrganization(ctx context.Context, p auth.Principal, orgID string, upd OrganizationUpdate) (Organization, error) {
	if d := auth.OrgAccess(p, orgID); !d.Allowed {
		return Organization{}, d.Err()
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	org, err := s.store.UpdateOrganization(ctx, orgID, upd)
	if err != nil {
		return Organization{}, err
	}
	s.log.Info("organization updated", zap.String("org_id", orgID), zap.String("updated_by", p.UserID))
	return org, nil
}

// TeamInput carries team creation fields.
type TeamInput struct {
	Name        string
	Slug        string
	Description string
	Permissions map[string]map[string]bool
}

// CreateTeam creates a team under an organization the principal belongs to.
func (s *Service) CreateTeam(ctx context.Context, p auth.Principal, orgID string, in TeamInput) (Team, error) {
	if d := auth.SameOrg(p, orgID); !d.Allowed {
		return Team{}, d.Err()
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return Team{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrValidation)
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	now := s.now().UTC()
	team := Team{
		ID:          newID(),
		OrgID:       orgID,
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		IsActive:    true,
		Permissions: in.Permissions,
		CreatedBy:   p.UserID,
		UpdatedBy:   p.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTeam(ctx, &team); err != nil {
		return Team{}, err
	}
	s.log.Info("team created", zap.String("team_id", team.ID), zap.String("org_id", orgID), zap.String("created_by", p.UserID))
	return team, nil
}

// ListTeams lists active teams in the principal's organization.
func (s *Service) ListTeams(ctx context.Context, p auth.Principal, orgID string) ([]Team, error) {
	if d := auth.SameOrg(p, orgID); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListTeams(ctx, orgID)
}

// GetTeam returns a team. Out-of-org callers get not-found rather than
// forbidden so existence is not leaked.
func (s *Service) GetTeam(ctx context.Context, p auth.Principal, teamID string) (Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return Team{}, err
	}
	if d := auth.SameOrg(p, team.OrgID); !d.Allowed {
		return Team{}, ErrNotFound
	}
	return team, nil
}

// UpdateTeam applies a partial team update. Admin only.
func (s *Service) UpdateTeam(ctx context.Context, p auth.Principal, teamID string, upd TeamUpdate) (Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return Team{}, err
	}
	if d := auth.SameOrg(p, team.OrgID); !d.Allowed {
		return Team{}, ErrNotFound
	}
	if d := auth.RoleIn(p, auth.RoleAdmin); !d.Allowed {
		return Team{}, d.Err()
	}
	upd.UpdatedBy = p.UserID
	updated, err := s.store.UpdateTeam(ctx, teamID, upd)
	if err != nil {
		return Team{}, err
	}
	s.log.Info("team updated", zap.String("team_id", teamID), zap.String("updated_by", p.UserID))
	return updated, nil
}

// AddTeamMember moves an existing user of the same organization into the
// team with the given role. Admin only.
func (s *Service) AddTeamMember(ctx context.Context, p auth.Principal, teamID, userID string, role auth.RoleName) (User, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return User{}, err
	}
	if d := auth.First(auth.SameTeam(p, teamID), auth.RoleIn(p, auth.RoleAdmin)); !d.Allowed {
		return User{}, d.Err()
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.OrgID != team.OrgID {
		return User{}, fmt.Errorf("%w: user does not belong to the same organization", ErrValidation)
	}
	upd := UserUpdate{TeamID: &teamID, Role: &role, UpdatedBy: p.UserID}
	updated, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	s.log.Info("team member added",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.String("added_by", p.UserID))
	return updated, nil
}

// UpdateTeamMemberRole changes a member's role. Demoting the last active
// admin is rejected regardless of who asks.
func (s *Service) UpdateTeamMemberRole(ctx context.Context, p auth.Principal, teamID, userID string, role auth.RoleName) (User, error) {
	if d := auth.First(auth.SameTeam(p, teamID), auth.RoleIn(p, auth.RoleAdmin)); !d.Allowed {
		return User{}, d.Err()
	}
	user, err := s.userInTeam(ctx, teamID, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role == auth.RoleAdmin && role != auth.RoleAdmin {
		if err := s.requireAnotherAdmin(ctx, teamID); err != nil {
			return User{}, err
		}
	}
	upd := UserUpdate{Role: &role, UpdatedBy: p.UserID}
	updated, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	s.log.Info("team member role updated",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("new_role", string(role)),
		zap.String("updated_by", p.UserID))
	return updated, nil
}

// RemoveTeamMember soft-deletes a member. Removing the last active admin is
// rejected, even if the admin is removing themselves.
func (s *Service) RemoveTeamMember(ctx context.Context, p auth.Principal, teamID, userID string) error {
	if d := auth.First(auth.SameTeam(p, teamID), auth.RoleIn(p, auth.RoleAdmin)); !d.Allowed {
		return d.Err()
	}
	user, err := s.userInTeam(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if user.Role == auth.RoleAdmin {
		if err := s.requireAnotherAdmin(ctx, teamID); err != nil {
			return err
		}
	}
	if err := s.store.SoftDeleteUser(ctx, userID, p.UserID, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("team member removed",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("removed_by", p.UserID))
	return nil
}

// UserInput carries user creation fields.
type UserInput struct {
	Email      string
	Username   string
	FullName   string
	AvatarURL  string
	Password   string
	TeamID     string
	Role       auth.RoleName
	IsActive   bool
	IsVerified bool
	Prefs      map[string]any
}

// CreateUser provisions a user inside the principal's organization.
func (s *Service) CreateUser(ctx context.Context, p auth.Principal, orgID string, in UserInput) (User, error) {
	if d := auth.SameOrg(p, orgID); !d.Allowed {
		return User{}, d.Err()
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return User{}, err
	}
	team, err := s.store.GetTeam(ctx, in.TeamID)
	if err != nil {
		return User{}, err
	}
	if team.OrgID != orgID {
		return User{}, fmt.Errorf("%w: team does not belong to organization", ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: user with this email already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	role := in.Role
	if role == "" {
		role = auth.RoleMember
	}
	var hash string
	if in.Password != "" {
		if hash, err = auth.HashPassword(in.Password); err != nil {
			return User{}, err
		}
	}
	now := s.now().UTC()
	user := User{
		ID:           newID(),
		OrgID:        orgID,
		TeamID:       in.TeamID,
		Email:        email,
		Username:     strings.TrimSpace(in.Username),
		FullName:     strings.TrimSpace(in.FullName),
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
		PasswordHash: hash,
		Role:         role,
		IsActive:     in.IsActive,
		IsVerified:   in.IsVerified,
		Preferences:  in.Prefs,
		CreatedBy:    p.UserID,
		UpdatedBy:    p.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return User{}, err
	}
	s.log.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("org_id", orgID),
		zap.String("team_id", in.TeamID),
		zap.String("created_by", p.UserID))
	return user, nil
}

// ListUsers pages through non-deleted users of the principal's organization.
func (s *Service) ListUsers(ctx context.Context, p auth.Principal, orgID string, page Page) ([]User, error) {
	if d := auth.SameOrg(p, orgID); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListUsers(ctx, orgID, page)
}

// GetUser returns a user in the principal's organization; out-of-org lookups
// report not-found.
func (s *Service) GetUser(ctx context.Context, p auth.Principal, userID string) (User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.DeletedAt != nil {
		return User{}, ErrNotFound
	}
	if d := auth.SameOrg(p, user.OrgID); !d.Allowed {
		return User{}, ErrNotFound
	}
	return user, nil
}

// UserUpdateInput is the caller-facing user update payload; the password
// travels in plaintext and is hashed here.
type UserUpdateInput struct {
	Email      *string
	Username   *string
	FullName   *string
	AvatarURL  *string
	Password   *string
	Role       *auth.RoleName
	IsActive   *bool
	IsVerified *bool
	Prefs      map[string]any
}

// UpdateUser lets users edit themselves and team admins edit anyone in
// their team. Demoting the last active admin is rejected.
func (s *Service) UpdateUser(ctx context.Context, p auth.Principal, userID string, in UserUpdateInput) (User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.DeletedAt != nil {
		return User{}, ErrNotFound
	}
	if p.UserID != userID {
		if d := auth.First(auth.SameTeam(p, user.TeamID), auth.RoleIn(p, auth.RoleAdmin)); !d.Allowed {
			return User{}, d.Err()
		}
	}
	if in.Role != nil && user.Role == auth.RoleAdmin && *in.Role != auth.RoleAdmin {
		if err := s.requireAnotherAdmin(ctx, user.TeamID); err != nil {
			return User{}, err
		}
	}
	upd := UserUpdate{
		Email:       in.Email,
		Username:    in.Username,
		FullName:    in.FullName,
		AvatarURL:   in.AvatarURL,
		Role:        in.Role,
		IsActive:    in.IsActive,
		IsVerified:  in.IsVerified,
		Preferences: in.Prefs,
		UpdatedBy:   p.UserID,
	}
	if in.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrValidation)
		}
		upd.Email = &email
	}
	if in.Password != nil && *in.Password != "" {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return User{}, err
		}
		upd.PasswordHash = &hash
	}
	updated, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	s.log.Info("user updated", zap.String("user_id", userID), zap.String("updated_by", p.UserID))
	return updated, nil
}

// DeleteUser soft-deletes a user. Team admins only; the last active admin
// of a team cannot be deleted.
func (s *Service) DeleteUser(ctx context.Context, p auth.Principal, userID string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.DeletedAt != nil {
		return ErrNotFound
	}
	if d := auth.First(auth.SameTeam(p, user.TeamID), auth.RoleIn(p, auth.RoleAdmin)); !d.Allowed {
		return d.Err()
	}
	if user.Role == auth.RoleAdmin {
		if err := s.requireAnotherAdmin(ctx, user.TeamID); err != nil {
			return err
		}
	}
	if err := s.store.SoftDeleteUser(ctx, userID, p.UserID, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("user_id", userID), zap.String("deleted_by", p.UserID))
	return nil
}

func (s *Service) userInTeam(ctx context.Context, teamID, userID string) (User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.TeamID != teamID || user.DeletedAt != nil {
		return User{}, ErrNotFound
	}
	return user, nil
}

// requireAnotherAdmin enforces the last-admin invariant: the operation in
// progress targets an admin, so at least one other active admin must remain.
func (s *Service) requireAnotherAdmin(ctx context.Context, teamID string) error {
	count, err := s.store.CountActiveAdmins(ctx, teamID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
