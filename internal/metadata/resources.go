package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/obs"
)

// initialVersion is the version assigned to every agent config at creation.
const initialVersion = 1

// IncidentInput carries incident creation fields.
type IncidentInput struct {
	Title          string
	Description    string
	Status         IncidentStatus
	Priority       IncidentPriority
	AssignedTo     string
	Tags           []string
	Metadata       map[string]any
	IdempotencyKey string
}

// CreateIncident creates an incident in the team, deduplicating on the
// optional idempotency key: a replayed key returns the original incident
// unchanged, with no re-validation of the new payload against the old. The
// in-process cache and the by-key lookup are fast paths; the storage
// uniqueness constraint breaks true races.
func (s *Service) CreateIncident(ctx context.Context, p auth.Principal, teamID string, in IncidentInput) (Incident, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return Incident{}, err
	}
	if d := auth.First(
		auth.SameTeam(p, teamID),
		auth.HasPermission(p, team.Permissions, auth.PermissionWrite),
	); !d.Allowed {
		return Incident{}, d.Err()
	}

	if strings.TrimSpace(in.Title) == "" {
		return Incident{}, fmt.Errorf("%w: incident title is required", ErrValidation)
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		return Incident{}, fmt.Errorf("%w: idempotency key exceeds %d characters", ErrValidation, maxIdempotencyKeyLength)
	}
	status := in.Status
	if status == "" {
		status = IncidentOpen
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	if key != "" {
		if existing, ok, err := s.lookupByKey(ctx, teamID, key); err != nil {
			return Incident{}, err
		} else if ok {
			obs.IncIdempotentReplay()
			return existing, nil
		}
	}

	now := s.now().UTC()
	inc := Incident{
		ID:             newID(),
		OrgID:          p.OrgID,
		TeamID:         teamID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Status:         status,
		Priority:       priority,
		AssignedTo:     in.AssignedTo,
		Tags:           in.Tags,
		Metadata:       in.Metadata,
		IdempotencyKey: key,
		CreatedBy:      p.UserID,
		UpdatedBy:      p.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status != IncidentOpen {
		inc.StartedAt = &now
	}

	if err := s.store.CreateIncident(ctx, &inc); err != nil {
		// A concurrent create won the race on the same key; return the
		// winner instead of a duplicate error.
		if key != "" && errors.Is(err, ErrConflict) {
			if existing, ok, lookupErr := s.lookupByKey(ctx, teamID, key); lookupErr == nil && ok {
				obs.IncIdempotentReplay()
				return existing, nil
			}
		}
		return Incident{}, err
	}
	if key != "" {
		s.idem.Add(idemCacheKey(teamID, key), inc.ID)
	}
	obs.IncIncidentCreated()
	s.log.Info("incident created",
		zap.String("incident_id", inc.ID),
		zap.String("team_id", teamID),
		zap.String("status", string(inc.Status)),
		zap.String("created_by", p.UserID))
	s.publish(EventIncidentCreated, inc)
	return inc, nil
}

func (s *Service) lookupByKey(ctx context.Context, teamID, key string) (Incident, bool, error) {
	if id, ok := s.idem.Get(idemCacheKey(teamID, key)); ok {
		inc, err := s.store.GetIncident(ctx, id)
		if err == nil {
			return inc, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Incident{}, false, err
		}
		s.idem.Remove(idemCacheKey(teamID, key))
	}
	inc, err := s.store.GetIncidentByKey(ctx, teamID, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Incident{}, false, nil
		}
		return Incident{}, false, err
	}
	s.idem.Add(idemCacheKey(teamID, key), inc.ID)
	return inc, true, nil
}

func idemCacheKey(teamID, key string) string {
	return teamID + "\x00" + key
}

// ListIncidents pages through a team's incidents with optional filters.
func (s *Service) ListIncidents(ctx context.Context, p auth.Principal, teamID string, filter IncidentFilter, page Page) ([]Incident, error) {
	if d := auth.First(
		auth.SameTeam(p, teamID),
		auth.RoleIn(p, auth.RoleViewer, auth.RoleEditor, auth.RoleAdmin),
	); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListIncidents(ctx, teamID, filter, page)
}

// GetIncident returns an incident in the principal's team; out-of-team
// lookups report not-found so existence is not leaked.
func (s *Service) GetIncident(ctx context.Context, p auth.Principal, incidentID string) (Incident, error) {
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return Incident{}, err
	}
	if d := auth.SameTeam(p, inc.TeamID); !d.Allowed {
		return Incident{}, ErrNotFound
	}
	return inc, nil
}

// IncidentUpdateInput is the caller-facing incident update payload.
type IncidentUpdateInput struct {
	Title       *string
	Description *string
	Status      *IncidentStatus
	Priority    *IncidentPriority
	AssignedTo  *string
	Tags        []string
	Metadata    map[string]any
}

// UpdateIncident applies a partial update and stamps lifecycle timestamps on
// status transitions.
func (s *Service) UpdateIncident(ctx context.Context, p auth.Principal, incidentID string, in IncidentUpdateInput) (Incident, error) {
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return Incident{}, err
	}
	if d := auth.SameTeam(p, inc.TeamID); !d.Allowed {
		return Incident{}, ErrNotFound
	}
	team, err := s.store.GetTeam(ctx, inc.TeamID)
	if err != nil {
		return Incident{}, err
	}
	if d := auth.HasPermission(p, team.Permissions, auth.PermissionWrite); !d.Allowed {
		return Incident{}, d.Err()
	}

	now := s.now().UTC()
	upd := IncidentUpdate{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssignedTo:  in.AssignedTo,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		UpdatedBy:   p.UserID,
	}
	startedAt := inc.StartedAt
	if in.Status != nil {
		switch *in.Status {
		case IncidentInProgress:
			if startedAt == nil {
				upd.StartedAt = &now
				startedAt = &now
			}
		case IncidentResolved:
			if inc.ResolvedAt == nil {
				upd.ResolvedAt = &now
				if startedAt != nil {
					minutes := int(now.Sub(*startedAt) / time.Minute)
					upd.ResolutionTimeMinutes = &minutes
				}
			}
		case IncidentClosed:
			if inc.ClosedAt == nil {
				upd.ClosedAt = &now
			}
		}
	}
	if in.AssignedTo != nil && *in.AssignedTo != "" && startedAt == nil {
		upd.StartedAt = &now
		minutes := int(now.Sub(inc.CreatedAt) / time.Minute)
		upd.ResponseTimeMinutes = &minutes
	}

	updated, err := s.store.UpdateIncident(ctx, incidentID, upd)
	if err != nil {
		return Incident{}, err
	}
	s.log.Info("incident updated",
		zap.String("incident_id", incidentID),
		zap.String("status", string(updated.Status)),
		zap.String("updated_by", p.UserID))
	s.publish(EventIncidentUpdated, updated)
	return updated, nil
}

// DeleteIncident removes an incident. Requires the delete permission, which
// only admins hold by default.
func (s *Service) DeleteIncident(ctx context.Context, p auth.Principal, incidentID string) error {
	inc, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if d := auth.SameTeam(p, inc.TeamID); !d.Allowed {
		return ErrNotFound
	}
	team, err := s.store.GetTeam(ctx, inc.TeamID)
	if err != nil {
		return err
	}
	if d := auth.HasPermission(p, team.Permissions, auth.PermissionDelete); !d.Allowed {
		return d.Err()
	}
	if err := s.store.DeleteIncident(ctx, incidentID); err != nil {
		return err
	}
	if inc.IdempotencyKey != "" {
		s.idem.Remove(idemCacheKey(inc.TeamID, inc.IdempotencyKey))
	}
	s.log.Info("incident deleted", zap.String("incident_id", incidentID), zap.String("deleted_by", p.UserID))
	return nil
}

// AgentConfigInput carries agent config creation fields.
type AgentConfigInput struct {
	Name                    string
	Description             string
	AgentType               AgentType
	IsActive                bool
	Config                  map[string]any
	ExecutionTimeoutSeconds int
	MaxRetries              int
	RetryDelaySeconds       int
	Triggers                []string
	Conditions              map[string]any
	Tags                    []string
	Metadata                map[string]any
}

// CreateAgentConfig creates a config with a team-unique name at version 1.
func (s *Service) CreateAgentConfig(ctx context.Context, p auth.Principal, teamID string, in AgentConfigInput) (AgentConfig, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return AgentConfig{}, err
	}
	if d := auth.First(
		auth.SameTeam(p, teamID),
		auth.HasPermission(p, team.Permissions, auth.PermissionWrite),
	); !d.Allowed {
		return AgentConfig{}, d.Err()
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return AgentConfig{}, fmt.Errorf("%w: config name is required", ErrValidation)
	}
	if _, err := s.store.GetAgentConfigByName(ctx, teamID, name); err == nil {
		return AgentConfig{}, fmt.Errorf("%w: config with this name already exists in team", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return AgentConfig{}, err
	}

	now := s.now().UTC()
	cfg := AgentConfig{
		ID:                      newID(),
		OrgID:                   p.OrgID,
		TeamID:                  teamID,
		Name:                    name,
		Description:             in.Description,
		AgentType:               in.AgentType,
		IsActive:                in.IsActive,
		Config:                  in.Config,
		ExecutionTimeoutSeconds: in.ExecutionTimeoutSeconds,
		MaxRetries:              in.MaxRetries,
		RetryDelaySeconds:       in.RetryDelaySeconds,
		Triggers:                in.Triggers,
		Conditions:              in.Conditions,
		Tags:                    in.Tags,
		Metadata:                in.Metadata,
		Version:                 initialVersion,
		CreatedBy:               p.UserID,
		UpdatedBy:               p.UserID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.store.CreateAgentConfig(ctx, &cfg); err != nil {
		return AgentConfig{}, err
	}
	s.log.Info("agent config created",
		zap.String("config_id", cfg.ID),
		zap.String("team_id", teamID),
		zap.String("created_by", p.UserID))
	return cfg, nil
}

// ListAgentConfigs pages through a team's configs with optional filters.
func (s *Service) ListAgentConfigs(ctx context.Context, p auth.Principal, teamID string, filter AgentConfigFilter, page Page) ([]AgentConfig, error) {
	if d := auth.First(
		auth.SameTeam(p, teamID),
		auth.RoleIn(p, auth.RoleViewer, auth.RoleEditor, auth.RoleAdmin),
	); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListAgentConfigs(ctx, teamID, filter, page)
}

// GetAgentConfig returns a config in the principal's team; out-of-team
// lookups report not-found.
func (s *Service) GetAgentConfig(ctx context.Context, p auth.Principal, configID string) (AgentConfig, error) {
	cfg, err := s.store.GetAgentConfig(ctx, configID)
	if err != nil {
		return AgentConfig{}, err
	}
	if d := auth.SameTeam(p, cfg.TeamID); !d.Allowed {
		return AgentConfig{}, ErrNotFound
	}
	return cfg, nil
}

// AgentConfigUpdateInput is the caller-facing agent config update payload.
type AgentConfigUpdateInput struct {
	Name                    *string
	Description             *string
	AgentType               *AgentType
	IsActive                *bool
	Config                  map[string]any
	ExecutionTimeoutSeconds *int
	MaxRetries              *int
	RetryDelaySeconds       *int
	Triggers                []string
	Conditions              map[string]any
	Tags                    []string
	Metadata                map[string]any
}

// UpdateAgentConfig applies a partial update under optimistic locking.
// expectedVersion is the raw version token the caller read (If-Match); an
// empty token updates unconditionally, a malformed one is a validation
// error, and a stale one is a conflict that leaves the config unchanged. On
// success the stored version increments by exactly one and the updater is
// recorded.
func (s *Service) UpdateAgentConfig(ctx context.Context, p auth.Principal, configID, expectedVersion string, in AgentConfigUpdateInput) (AgentConfig, error) {
	cfg, err := s.store.GetAgentConfig(ctx, configID)
	if err != nil {
		return AgentConfig{}, err
	}
	if d := auth.SameTeam(p, cfg.TeamID); !d.Allowed {
		return AgentConfig{}, ErrNotFound
	}
	team, err := s.store.GetTeam(ctx, cfg.TeamID)
	if err != nil {
		return AgentConfig{}, err
	}
	if d := auth.HasPermission(p, team.Permissions, auth.PermissionWrite); !d.Allowed {
		return AgentConfig{}, d.Err()
	}

	version, err := parseVersionToken(expectedVersion)
	if err != nil {
		return AgentConfig{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return AgentConfig{}, fmt.Errorf("%w: config name is required", ErrValidation)
		}
		if name != cfg.Name {
			if existing, err := s.store.GetAgentConfigByName(ctx, cfg.TeamID, name); err == nil && existing.ID != configID {
				return AgentConfig{}, fmt.Errorf("%w: config with this name already exists in team", ErrConflict)
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return AgentConfig{}, err
			}
		}
		in.Name = &name
	}

	upd := AgentConfigUpdate{
		Name:                    in.Name,
		Description:             in.Description,
		AgentType:               in.AgentType,
		IsActive:                in.IsActive,
		Config:                  in.Config,
		ExecutionTimeoutSeconds: in.ExecutionTimeoutSeconds,
		MaxRetries:              in.MaxRetries,
		RetryDelaySeconds:       in.RetryDelaySeconds,
		Triggers:                in.Triggers,
		Conditions:              in.Conditions,
		Tags:                    in.Tags,
		Metadata:                in.Metadata,
		UpdatedBy:               p.UserID,
	}
	updated, err := s.store.UpdateAgentConfig(ctx, configID, version, upd)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			obs.IncVersionConflict()
		}
		return AgentConfig{}, err
	}
	s.log.Info("agent config updated",
		zap.String("config_id", configID),
		zap.Int("version", updated.Version),
		zap.String("updated_by", p.UserID))
	return updated, nil
}

// DeleteAgentConfig deactivates a config. Requires the delete permission.
func (s *Service) DeleteAgentConfig(ctx context.Context, p auth.Principal, configID string) error {
	cfg, err := s.store.GetAgentConfig(ctx, configID)
	if err != nil {
		return err
	}
	if d := auth.SameTeam(p, cfg.TeamID); !d.Allowed {
		return ErrNotFound
	}
	team, err := s.store.GetTeam(ctx, cfg.TeamID)
	if err != nil {
		return err
	}
	if d := auth.HasPermission(p, team.Permissions, auth.PermissionDelete); !d.Allowed {
		return d.Err()
	}
	inactive := false
	if _, err := s.store.UpdateAgentConfig(ctx, configID, 0, AgentConfigUpdate{
		IsActive:  &inactive,
		UpdatedBy: p.UserID,
	}); err != nil {
		return err
	}
	s.log.Info("agent config deleted", zap.String("config_id", configID), zap.String("deleted_by", p.UserID))
	return nil
}

// parseVersionToken decodes the opaque version token forwarded by the HTTP
// layer. Empty means the caller opted out of the version check.
func parseVersionToken(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < initialVersion {
		return 0, fmt.Errorf("%w: malformed version token %q", ErrValidation, raw)
	}
	return v, nil
}

// StatInput carries stat creation fields.
type StatInput struct {
	MetricName  string
	MetricType  string
	Value       float64
	Count       int64
	Timestamp   time.Time
	TimeWindow  string
	Labels      map[string]string
	Description string
	Unit        string
}

// CreateStat records a metric sample for the team.
func (s *Service) CreateStat(ctx context.Context, p auth.Principal, teamID string, in StatInput) (Stat, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return Stat{}, err
	}
	if d := auth.First(
		auth.SameTeam(p, teamID),
		auth.HasPermission(p, team.Permissions, auth.PermissionWrite),
	); !d.Allowed {
		return Stat{}, d.Err()
	}
	if strings.TrimSpace(in.MetricName) == "" {
		return Stat{}, fmt.Errorf("%w: metric name is required", ErrValidation)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	st := Stat{
		ID:          newID(),
		OrgID:       p.OrgID,
		TeamID:      teamID,
		MetricName:  strings.TrimSpace(in.MetricName),
		MetricType:  in.MetricType,
		Value:       in.Value,
		Count:       in.Count,
		Timestamp:   ts,
		TimeWindow:  in.TimeWindow,
		Labels:      in.Labels,
		Description: in.Description,
		Unit:        in.Unit,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateStat(ctx, &st); err != nil {
		return Stat{}, err
	}
	s.log.Info("stat recorded",
		zap.String("stat_id", st.ID),
		zap.String("metric", st.MetricName),
		zap.String("team_id", teamID))
	return st, nil
}

// ListStats pages through a team's recorded metrics.
func (s *Service) ListStats(ctx context.Context, p auth.Principal, teamID string, filter StatFilter, page Page) ([]Stat, error) {
	if d := auth.SameTeam(p, teamID); !d.Allowed {
		return nil, d.Err()
	}
	return s.store.ListStats(ctx, teamID, filter, page)
}
