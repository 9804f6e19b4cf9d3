package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
)

const organizationColumns = `id, name, slug, description, is_active, max_teams, max_users_per_team, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (metadata.Organization, error) {
	var (
		org  metadata.Organization
		desc sql.NullString
	)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &desc, &org.IsActive,
		&org.MaxTeams, &org.MaxUsersPerTeam, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return metadata.Organization{}, err
	}
	org.Description = stringOrEmpty(desc)
	return org, nil
}

func (s *Store) CreateOrganization(ctx context.Context, org *metadata.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, slug, description, is_active, max_teams, max_users_per_team, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, org.ID, org.Name, org.Slug, nullIfEmpty(org.Description), org.IsActive,
		org.MaxTeams, org.MaxUsersPerTeam, org.CreatedAt, org.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return metadata.ErrConflict
	}
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id string) (metadata.Organization, error) {
	row := s.db.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where id = $1`, id)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Organization{}, metadata.ErrNotFound
	}
	return org, err
}

func (s *Store) ListOrganizations(ctx context.Context) ([]metadata.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `select `+organizationColumns+` from organizations order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadata.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd metadata.OrganizationUpdate) (metadata.Organization, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(col string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Slug != nil {
		set("slug", *upd.Slug)
	}
	if upd.Description != nil {
		set("description", nullIfEmpty(*upd.Description))
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.MaxTeams != nil {
		set("max_teams", *upd.MaxTeams)
	}
	if upd.MaxUsersPerTeam != nil {
		set("max_users_per_team", *upd.MaxUsersPerTeam)
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update organizations set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return metadata.Organization{}, metadata.ErrConflict
			}
			return metadata.Organization{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return metadata.Organization{}, metadata.ErrNotFound
		}
	}
	return s.GetOrganization(ctx, id)
}

const teamColumns = `id, org_id, name, slug, description, is_active, permissions, created_by, updated_by, created_at, updated_at`

func scanTeam(row interface{ Scan(...any) error }) (metadata.Team, error) {
	var (
		team               metadata.Team
		desc               sql.NullString
		perms              []byte
		createdBy, updBy   sql.NullString
	)
	if err := row.Scan(&team.ID, &team.OrgID, &team.Name, &team.Slug, &desc, &team.IsActive,
		&perms, &createdBy, &updBy, &team.CreatedAt, &team.UpdatedAt); err != nil {
		return metadata.Team{}, err
	}
	team.Description = stringOrEmpty(desc)
	team.CreatedBy = stringOrEmpty(createdBy)
	team.UpdatedBy = stringOrEmpty(updBy)
	if err := unmarshalJSON(perms, &team.Permissions); err != nil {
		return metadata.Team{}, err
	}
	return team, nil
}

func (s *Store) CreateTeam(ctx context.Context, team *metadata.Team) error {
	perms, err := marshalJSON(team.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into teams (id, org_id, name, slug, description, is_active, permissions, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, team.ID, team.OrgID, team.Name, team.Slug, nullIfEmpty(team.Description), team.IsActive,
		perms, nullIfEmpty(team.CreatedBy), nullIfEmpty(team.UpdatedBy), team.CreatedAt, team.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return metadata.ErrConflict
		case pgErrForeignKeyViolation:
			return metadata.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetTeam(ctx context.Context, id string) (metadata.Team, error) {
	row := s.db.QueryRowContext(ctx, `select `+teamColumns+` from teams where id = $1`, id)
	team, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Team{}, metadata.ErrNotFound
	}
	return team, err
}

func (s *Store) ListTeams(ctx context.Context, orgID string) ([]metadata.Team, error) {
	rows, err := s.db.QueryContext(ctx, `select `+teamColumns+` from teams where org_id = $1 order by created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadata.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, team)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTeam(ctx context.Context, id string, upd metadata.TeamUpdate) (metadata.Team, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(col string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Slug != nil {
		set("slug", *upd.Slug)
	}
	if upd.Description != nil {
		set("description", nullIfEmpty(*upd.Description))
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.Permissions != nil {
		perms, err := marshalJSON(upd.Permissions)
		if err != nil {
			return metadata.Team{}, err
		}
		set("permissions", perms)
	}
	if upd.UpdatedBy != "" {
		set("updated_by", upd.UpdatedBy)
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update teams set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return metadata.Team{}, metadata.ErrConflict
			}
			return metadata.Team{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return metadata.Team{}, metadata.ErrNotFound
		}
	}
	return s.GetTeam(ctx, id)
}

const userColumns = `id, org_id, team_id, email, username, full_name, avatar_url, password_hash, role, is_active, is_verified, preferences, created_by, updated_by, deleted_by, deleted_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (metadata.User, error) {
	var (
		user                         metadata.User
		fullName, avatar             sql.NullString
		prefs                        []byte
		createdBy, updBy, deletedBy  sql.NullString
		deletedAt                    sql.NullTime
		role                         string
	)
	if err := row.Scan(&user.ID, &user.OrgID, &user.TeamID, &user.Email, &user.Username,
		&fullName, &avatar, &user.PasswordHash, &role, &user.IsActive, &user.IsVerified,
		&prefs, &createdBy, &updBy, &deletedBy, &deletedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return metadata.User{}, err
	}
	user.FullName = stringOrEmpty(fullName)
	user.AvatarURL = stringOrEmpty(avatar)
	user.Role = auth.RoleName(role)
	user.CreatedBy = stringOrEmpty(createdBy)
	user.UpdatedBy = stringOrEmpty(updBy)
	user.DeletedBy = stringOrEmpty(deletedBy)
	user.DeletedAt = timePtr(deletedAt)
	if err := unmarshalJSON(prefs, &user.Preferences); err != nil {
		return metadata.User{}, err
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *metadata.User) error {
	prefs, err := marshalJSON(user.Preferences)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, org_id, team_id, email, username, full_name, avatar_url, password_hash, role, is_active, is_verified, preferences, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, user.ID, user.OrgID, user.TeamID, user.Email, user.Username,
		nullIfEmpty(user.FullName), nullIfEmpty(user.AvatarURL), user.PasswordHash, string(user.Role),
		user.IsActive, user.IsVerified, prefs, nullIfEmpty(user.CreatedBy), nullIfEmpty(user.UpdatedBy),
		user.CreatedAt, user.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return metadata.ErrConflict
		case pgErrForeignKeyViolation:
			return metadata.ErrNotFound
		}
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (metadata.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.User{}, metadata.ErrNotFound
	}
	return user, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (metadata.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1) and deleted_at is null`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.User{}, metadata.ErrNotFound
	}
	return user, err
}

func (s *Store) ListUsers(ctx context.Context, orgID string, page metadata.Page) ([]metadata.User, error) {
	query := `select ` + userColumns + ` from users where org_id = $1 and deleted_at is null`
	args := []any{orgID}
	if page.Cursor != "" {
		query += ` and (created_at, id) > (select created_at, id from users where id = $2)`
		args = append(args, page.Cursor)
	}
	query += ` order by created_at, id`
	if page.Limit > 0 {
		query += fmt.Sprintf(` limit %d`, page.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadata.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd metadata.UserUpdate) (metadata.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	set := func(col string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.Username != nil {
		set("username", *upd.Username)
	}
	if upd.FullName != nil {
		set("full_name", nullIfEmpty(*upd.FullName))
	}
	if upd.AvatarURL != nil {
		set("avatar_url", nullIfEmpty(*upd.AvatarURL))
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.Role != nil {
		set("role", string(*upd.Role))
	}
	if upd.TeamID != nil {
		set("team_id", *upd.TeamID)
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.IsVerified != nil {
		set("is_verified", *upd.IsVerified)
	}
	if upd.Preferences != nil {
		prefs, err := marshalJSON(upd.Preferences)
		if err != nil {
			return metadata.User{}, err
		}
		set("preferences", prefs)
	}
	if upd.UpdatedBy != "" {
		set("updated_by", upd.UpdatedBy)
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d and deleted_at is null`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok {
				switch pgErr.Code {
				case pgErrUniqueViolation:
					return metadata.User{}, metadata.ErrConflict
				case pgErrForeignKeyViolation:
					return metadata.User{}, metadata.ErrNotFound
				}
			}
			return metadata.User{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return metadata.User{}, metadata.ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) SoftDeleteUser(ctx context.Context, id, actorID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set deleted_at = $2, deleted_by = $3, is_active = false, updated_at = $2
		where id = $1 and deleted_at is null
	`, id, at, actorID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveAdmins(ctx context.Context, teamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from users
		where team_id = $1 and role = 'admin' and is_active and deleted_at is null
	`, teamID).Scan(&n)
	return n, err
}
