package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"brownie.dev/internal/metadata"
)

const incidentColumns = `id, org_id, team_id, title, description, status, priority, assigned_to, tags, metadata, idempotency_key, started_at, resolved_at, closed_at, response_time_minutes, resolution_time_minutes, created_by, updated_by, created_at, updated_at`

func scanIncident(row interface{ Scan(...any) error }) (metadata.Incident, error) {
	var (
		inc                           metadata.Incident
		desc, assigned, idemKey       sql.NullString
		tags, meta                    []byte
		startedAt, resolvedAt, closed sql.NullTime
		respMin, resMin               sql.NullInt64
		createdBy, updBy              sql.NullString
		status, priority              string
	)
	if err := row.Scan(&inc.ID, &inc.OrgID, &inc.TeamID, &inc.Title, &desc, &status, &priority,
		&assigned, &tags, &meta, &idemKey, &startedAt, &resolvedAt, &closed,
		&respMin, &resMin, &createdBy, &updBy, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return metadata.Incident{}, err
	}
	inc.Description = stringOrEmpty(desc)
	inc.Status = metadata.IncidentStatus(status)
	inc.Priority = metadata.IncidentPriority(priority)
	inc.AssignedTo = stringOrEmpty(assigned)
	inc.IdempotencyKey = stringOrEmpty(idemKey)
	inc.StartedAt = timePtr(startedAt)
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.ClosedAt = timePtr(closed)
	if respMin.Valid {
		inc.ResponseTimeMinutes = int(respMin.Int64)
	}
	if resMin.Valid {
		inc.ResolutionTimeMinutes = int(resMin.Int64)
	}
	inc.CreatedBy = stringOrEmpty(createdBy)
	inc.UpdatedBy = stringOrEmpty(updBy)
	if err := unmarshalJSON(tags, &inc.Tags); err != nil {
		return metadata.Incident{}, err
	}
	if err := unmarshalJSON(meta, &inc.Metadata); err != nil {
		return metadata.Incident{}, err
	}
	return inc, nil
}

func (s *Store) CreateIncident(ctx context.Context, inc *metadata.Incident) error {
	tags, err := marshalJSON(inc.Tags)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(inc.Metadata)
	if err != nil {
		return err
	}
	// The partial unique index on (team_id, idempotency_key) where the key
	// is non-null is the race-breaker for concurrent create retries.
	_, err = s.db.ExecContext(ctx, `
		insert into incidents (id, org_id, team_id, title, description, status, priority, assigned_to, tags, metadata, idempotency_key, started_at, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, inc.ID, inc.OrgID, inc.TeamID, inc.Title, nullIfEmpty(inc.Description),
		string(inc.Status), string(inc.Priority), nullIfEmpty(inc.AssignedTo),
		tags, meta, nullIfEmpty(inc.IdempotencyKey), inc.StartedAt,
		nullIfEmpty(inc.CreatedBy), nullIfEmpty(inc.UpdatedBy), inc.CreatedAt, inc.UpdatedAt)
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

func (s *Store) GetIncident(ctx context.Context, id string) (metadata.Incident, error) {
	row := s.db.QueryRowContext(ctx, `select `+incidentColumns+` from incidents where id = $1`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Incident{}, metadata.ErrNotFound
	}
	return inc, err
}

func (s *Store) GetIncidentByKey(ctx context.Context, teamID, idempotencyKey string) (metadata.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+incidentColumns+` from incidents where team_id = $1 and idempotency_key = $2`, teamID, idempotencyKey)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Incident{}, metadata.ErrNotFound
	}
	return inc, err
}

func (s *Store) ListIncidents(ctx context.Context, teamID string, filter metadata.IncidentFilter, page metadata.Page) ([]metadata.Incident, error) {
	query := `select ` + incidentColumns + ` from incidents where team_id = $1`
	args := []any{teamID}
	idx := 2
	where := func(clause string, v any) {
		query += fmt.Sprintf(" and "+clause, idx)
		args = append(args, v)
		idx++
	}
	if filter.Status != "" {
		where("status = $%d", string(filter.Status))
	}
	if filter.Priority != "" {
		where("priority = $%d", string(filter.Priority))
	}
	if filter.Since != nil {
		where("created_at >= $%d", *filter.Since)
	}
	if filter.Query != "" {
		where("title ilike $%d", "%"+filter.Query+"%")
	}
	if page.Cursor != "" {
		where("(created_at, id) > (select created_at, id from incidents where id = $%d)", page.Cursor)
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

	var out []metadata.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateIncident(ctx context.Context, id string, upd metadata.IncidentUpdate) (metadata.Incident, error) {
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
	if upd.Title != nil {
		set("title", *upd.Title)
	}
	if upd.Description != nil {
		set("description", nullIfEmpty(*upd.Description))
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Priority != nil {
		set("priority", string(*upd.Priority))
	}
	if upd.AssignedTo != nil {
		set("assigned_to", nullIfEmpty(*upd.AssignedTo))
	}
	if upd.Tags != nil {
		tags, err := marshalJSON(upd.Tags)
		if err != nil {
			return metadata.Incident{}, err
		}
		set("tags", tags)
	}
	if upd.Metadata != nil {
		meta, err := marshalJSON(upd.Metadata)
		if err != nil {
			return metadata.Incident{}, err
		}
		set("metadata", meta)
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.ResolvedAt != nil {
		set("resolved_at", *upd.ResolvedAt)
	}
	if upd.ClosedAt != nil {
		set("closed_at", *upd.ClosedAt)
	}
	if upd.ResponseTimeMinutes != nil {
		set("response_time_minutes", *upd.ResponseTimeMinutes)
	}
	if upd.ResolutionTimeMinutes != nil {
		set("resolution_time_minutes", *upd.ResolutionTimeMinutes)
	}
	if upd.UpdatedBy != "" {
		set("updated_by", upd.UpdatedBy)
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update incidents set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return metadata.Incident{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return metadata.Incident{}, metadata.ErrNotFound
		}
	}
	return s.GetIncident(ctx, id)
}

func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from incidents where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

const agentConfigColumns = `id, org_id, team_id, name, description, agent_type, is_active, config, execution_timeout_seconds, max_retries, retry_delay_seconds, triggers, conditions, tags, metadata, version, created_by, updated_by, created_at, updated_at`

func scanAgentConfig(row interface{ Scan(...any) error }) (metadata.AgentConfig, error) {
	var (
		cfg                            metadata.AgentConfig
		desc                           sql.NullString
		config, trig, cond, tags, meta []byte
		createdBy, updBy               sql.NullString
		agentType                      string
	)
	if err := row.Scan(&cfg.ID, &cfg.OrgID, &cfg.TeamID, &cfg.Name, &desc, &agentType, &cfg.IsActive,
		&config, &cfg.ExecutionTimeoutSeconds, &cfg.MaxRetries, &cfg.RetryDelaySeconds,
		&trig, &cond, &tags, &meta, &cfg.Version, &createdBy, &updBy, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return metadata.AgentConfig{}, err
	}
	cfg.Description = stringOrEmpty(desc)
	cfg.AgentType = metadata.AgentType(agentType)
	cfg.CreatedBy = stringOrEmpty(createdBy)
	cfg.UpdatedBy = stringOrEmpty(updBy)
	if err := unmarshalJSON(config, &cfg.Config); err != nil {
		return metadata.AgentConfig{}, err
	}
	if err := unmarshalJSON(trig, &cfg.Triggers); err != nil {
		return metadata.AgentConfig{}, err
	}
	if err := unmarshalJSON(cond, &cfg.Conditions); err != nil {
		return metadata.AgentConfig{}, err
	}
	if err := unmarshalJSON(tags, &cfg.Tags); err != nil {
		return metadata.AgentConfig{}, err
	}
	if err := unmarshalJSON(meta, &cfg.Metadata); err != nil {
		return metadata.AgentConfig{}, err
	}
	return cfg, nil
}

func (s *Store) CreateAgentConfig(ctx context.Context, cfg *metadata.AgentConfig) error {
	config, err := marshalJSON(cfg.Config)
	if err != nil {
		return err
	}
	trig, err := marshalJSON(cfg.Triggers)
	if err != nil {
		return err
	}
	cond, err := marshalJSON(cfg.Conditions)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(cfg.Tags)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(cfg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into agent_configs (id, org_id, team_id, name, description, agent_type, is_active, config, execution_timeout_seconds, max_retries, retry_delay_seconds, triggers, conditions, tags, metadata, version, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, cfg.ID, cfg.OrgID, cfg.TeamID, cfg.Name, nullIfEmpty(cfg.Description), string(cfg.AgentType),
		cfg.IsActive, config, cfg.ExecutionTimeoutSeconds, cfg.MaxRetries, cfg.RetryDelaySeconds,
		trig, cond, tags, meta, cfg.Version, nullIfEmpty(cfg.CreatedBy), nullIfEmpty(cfg.UpdatedBy),
		cfg.CreatedAt, cfg.UpdatedAt)
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

func (s *Store) GetAgentConfig(ctx context.Context, id string) (metadata.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx, `select `+agentConfigColumns+` from agent_configs where id = $1`, id)
	cfg, err := scanAgentConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.AgentConfig{}, metadata.ErrNotFound
	}
	return cfg, err
}

func (s *Store) GetAgentConfigByName(ctx context.Context, teamID, name string) (metadata.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+agentConfigColumns+` from agent_configs where team_id = $1 and lower(name) = lower($2)`, teamID, name)
	cfg, err := scanAgentConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.AgentConfig{}, metadata.ErrNotFound
	}
	return cfg, err
}

func (s *Store) ListAgentConfigs(ctx context.Context, teamID string, filter metadata.AgentConfigFilter, page metadata.Page) ([]metadata.AgentConfig, error) {
	query := `select ` + agentConfigColumns + ` from agent_configs where team_id = $1`
	args := []any{teamID}
	idx := 2
	where := func(clause string, v any) {
		query += fmt.Sprintf(" and "+clause, idx)
		args = append(args, v)
		idx++
	}
	if filter.AgentType != "" {
		where("agent_type = $%d", string(filter.AgentType))
	}
	if filter.IsActive != nil {
		where("is_active = $%d", *filter.IsActive)
	}
	if page.Cursor != "" {
		where("(created_at, id) > (select created_at, id from agent_configs where id = $%d)", page.Cursor)
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

	var out []metadata.AgentConfig
	for rows.Next() {
		cfg, err := scanAgentConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// UpdateAgentConfig runs the compare-and-increment as a single update whose
// where clause carries the expected version; zero rows affected on an
// existing row means the version was stale.
func (s *Store) UpdateAgentConfig(ctx context.Context, id string, expectedVersion int, upd metadata.AgentConfigUpdate) (metadata.AgentConfig, error) {
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
	if upd.Description != nil {
		set("description", nullIfEmpty(*upd.Description))
	}
	if upd.AgentType != nil {
		set("agent_type", string(*upd.AgentType))
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.Config != nil {
		config, err := marshalJSON(upd.Config)
		if err != nil {
			return metadata.AgentConfig{}, err
		}
		set("config", config)
	}
	if upd.ExecutionTimeoutSeconds != nil {
		set("execution_timeout_seconds", *upd.ExecutionTimeoutSeconds)
	}
	if upd.MaxRetries != nil {
		set("max_retries", *upd.MaxRetries)
	}
	if upd.RetryDelaySeconds != nil {
		set("retry_delay_seconds", *upd.RetryDelaySeconds)
	}
	if upd.Triggers != nil {
		trig, err := marshalJSON(upd.Triggers)
		if err != nil {
			return metadata.AgentConfig{}, err
		}
		set("triggers", trig)
	}
	if upd.Conditions != nil {
		cond, err := marshalJSON(upd.Conditions)
		if err != nil {
			return metadata.AgentConfig{}, err
		}
		set("conditions", cond)
	}
	if upd.Tags != nil {
		tags, err := marshalJSON(upd.Tags)
		if err != nil {
			return metadata.AgentConfig{}, err
		}
		set("tags", tags)
	}
	if upd.Metadata != nil {
		meta, err := marshalJSON(upd.Metadata)
		if err != nil {
			return metadata.AgentConfig{}, err
		}
		set("metadata", meta)
	}
	if upd.UpdatedBy != "" {
		set("updated_by", upd.UpdatedBy)
	}
	setClauses = append(setClauses, "version = version + 1", "updated_at = now()")

	query := fmt.Sprintf(`update agent_configs set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
	args = append(args, id)
	idx++
	if expectedVersion != 0 {
		query += fmt.Sprintf(` and version = $%d`, idx)
		args = append(args, expectedVersion)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return metadata.AgentConfig{}, metadata.ErrConflict
		}
		return metadata.AgentConfig{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		cfg, getErr := s.GetAgentConfig(ctx, id)
		if getErr != nil {
			return metadata.AgentConfig{}, getErr
		}
		if expectedVersion != 0 && cfg.Version != expectedVersion {
			return metadata.AgentConfig{}, metadata.ErrVersionConflict
		}
		return metadata.AgentConfig{}, metadata.ErrNotFound
	}
	return s.GetAgentConfig(ctx, id)
}

const statColumns = `id, org_id, team_id, metric_name, metric_type, value, count, ts, time_window, labels, description, unit, created_at`

func scanStat(row interface{ Scan(...any) error }) (metadata.Stat, error) {
	var (
		st                      metadata.Stat
		window, desc, unit      sql.NullString
		labels                  []byte
	)
	if err := row.Scan(&st.ID, &st.OrgID, &st.TeamID, &st.MetricName, &st.MetricType,
		&st.Value, &st.Count, &st.Timestamp, &window, &labels, &desc, &unit, &st.CreatedAt); err != nil {
		return metadata.Stat{}, err
	}
	st.TimeWindow = stringOrEmpty(window)
	st.Description = stringOrEmpty(desc)
	st.Unit = stringOrEmpty(unit)
	if err := unmarshalJSON(labels, &st.Labels); err != nil {
		return metadata.Stat{}, err
	}
	return st, nil
}

func (s *Store) CreateStat(ctx context.Context, st *metadata.Stat) error {
	labels, err := marshalJSON(st.Labels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into stats (id, org_id, team_id, metric_name, metric_type, value, count, ts, time_window, labels, description, unit, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, st.ID, st.OrgID, st.TeamID, st.MetricName, st.MetricType, st.Value, st.Count,
		st.Timestamp, nullIfEmpty(st.TimeWindow), labels, nullIfEmpty(st.Description),
		nullIfEmpty(st.Unit), st.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return metadata.ErrNotFound
	}
	return err
}

func (s *Store) ListStats(ctx context.Context, teamID string, filter metadata.StatFilter, page metadata.Page) ([]metadata.Stat, error) {
	query := `select ` + statColumns + ` from stats where team_id = $1`
	args := []any{teamID}
	idx := 2
	where := func(clause string, v any) {
		query += fmt.Sprintf(" and "+clause, idx)
		args = append(args, v)
		idx++
	}
	if filter.MetricName != "" {
		where("metric_name = $%d", filter.MetricName)
	}
	if filter.MetricType != "" {
		where("metric_type = $%d", filter.MetricType)
	}
	if filter.Since != nil {
		where("ts >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		where("ts <= $%d", *filter.Until)
	}
	if page.Cursor != "" {
		where("(ts, id) > (select ts, id from stats where id = $%d)", page.Cursor)
	}
	query += ` order by ts, id`
	if page.Limit > 0 {
		query += fmt.Sprintf(` limit %d`, page.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metadata.Stat
	for rows.Next() {
		st, err := scanStat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
