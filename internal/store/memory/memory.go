// Package memory provides an in-process metadata.Store. It backs tests and
// single-node development runs; production deployments use the pg store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
)

// Store implements metadata.Store with in-process concurrency safety. All
// maps are guarded by a single RWMutex, which also gives the atomic
// compare-and-increment the version protocol requires.
type Store struct {
	mu      sync.RWMutex
	orgs    map[string]metadata.Organization
	teams   map[string]metadata.Team
	users   map[string]metadata.User
	incs    map[string]metadata.Incident
	cfgs    map[string]metadata.AgentConfig
	stats   map[string]metadata.Stat
	incKeys map[string]string // teamID+key -> incident id
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orgs:    make(map[string]metadata.Organization),
		teams:   make(map[string]metadata.Team),
		users:   make(map[string]metadata.User),
		incs:    make(map[string]metadata.Incident),
		cfgs:    make(map[string]metadata.AgentConfig),
		stats:   make(map[string]metadata.Stat),
		incKeys: make(map[string]string),
	}
}

func keyFor(teamID, key string) string { return teamID + "\x00" + key }

func (s *Store) CreateOrganization(_ context.Context, org *metadata.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return metadata.ErrConflict
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (metadata.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return metadata.Organization{}, metadata.ErrNotFound
	}
	return org, nil
}

func (s *Store) ListOrganizations(_ context.Context) ([]metadata.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]metadata.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (s *Store) UpdateOrganization(_ context.Context, id string, upd metadata.OrganizationUpdate) (metadata.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return metadata.Organization{}, metadata.ErrNotFound
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.Slug != nil {
		org.Slug = *upd.Slug
	}
	if upd.Description != nil {
		org.Description = *upd.Description
	}
	if upd.IsActive != nil {
		org.IsActive = *upd.IsActive
	}
	if upd.MaxTeams != nil {
		org.MaxTeams = *upd.MaxTeams
	}
	if upd.MaxUsersPerTeam != nil {
		org.MaxUsersPerTeam = *upd.MaxUsersPerTeam
	}
	org.UpdatedAt = time.Now().UTC()
	s.orgs[id] = org
	return org, nil
}

func (s *Store) CreateTeam(_ context.Context, team *metadata.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; ok {
		return metadata.ErrConflict
	}
	s.teams[team.ID] = *team
	return nil
}

func (s *Store) GetTeam(_ context.Context, id string) (metadata.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[id]
	if !ok {
		return metadata.Team{}, metadata.ErrNotFound
	}
	return team, nil
}

func (s *Store) ListTeams(_ context.Context, orgID string) ([]metadata.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metadata.Team
	for _, team := range s.teams {
		if team.OrgID == orgID {
			out = append(out, team)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (s *Store) UpdateTeam(_ context.Context, id string, upd metadata.TeamUpdate) (metadata.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[id]
	if !ok {
		return metadata.Team{}, metadata.ErrNotFound
	}
	if upd.Name != nil {
		team.Name = *upd.Name
	}
	if upd.Slug != nil {
		team.Slug = *upd.Slug
	}
	if upd.Description != nil {
		team.Description = *upd.Description
	}
	if upd.IsActive != nil {
		team.IsActive = *upd.IsActive
	}
	if upd.Permissions != nil {
		team.Permissions = upd.Permissions
	}
	if upd.UpdatedBy != "" {
		team.UpdatedBy = upd.UpdatedBy
	}
	team.UpdatedAt = time.Now().UTC()
	s.teams[id] = team
	return team, nil
}

func (s *Store) CreateUser(_ context.Context, user *metadata.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) && u.DeletedAt == nil {
			return metadata.ErrConflict
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (metadata.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return metadata.User{}, metadata.ErrNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (metadata.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) && u.DeletedAt == nil {
			return u, nil
		}
	}
	return metadata.User{}, metadata.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, orgID string, page metadata.Page) ([]metadata.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []metadata.User
	for _, u := range s.users {
		if u.OrgID == orgID && u.DeletedAt == nil {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return byCreation(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	return pageAfter(all, func(u metadata.User) string { return u.ID }, page), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd metadata.UserUpdate) (metadata.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok || user.DeletedAt != nil {
		return metadata.User{}, metadata.ErrNotFound
	}
	if upd.Email != nil {
		for uid, u := range s.users {
			if uid != id && strings.EqualFold(u.Email, *upd.Email) && u.DeletedAt == nil {
				return metadata.User{}, metadata.ErrConflict
			}
		}
		user.Email = *upd.Email
	}
	if upd.Username != nil {
		user.Username = *upd.Username
	}
	if upd.FullName != nil {
		user.FullName = *upd.FullName
	}
	if upd.AvatarURL != nil {
		user.AvatarURL = *upd.AvatarURL
	}
	if upd.PasswordHash != nil {
		user.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.TeamID != nil {
		user.TeamID = *upd.TeamID
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	if upd.IsVerified != nil {
		user.IsVerified = *upd.IsVerified
	}
	if upd.Preferences != nil {
		user.Preferences = upd.Preferences
	}
	if upd.UpdatedBy != "" {
		user.UpdatedBy = upd.UpdatedBy
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user
	return user, nil
}

func (s *Store) SoftDeleteUser(_ context.Context, id, actorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok || user.DeletedAt != nil {
		return metadata.ErrNotFound
	}
	user.DeletedAt = &at
	user.DeletedBy = actorID
	user.IsActive = false
	user.UpdatedAt = at
	s.users[id] = user
	return nil
}

func (s *Store) CountActiveAdmins(_ context.Context, teamID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.TeamID == teamID && u.Role == auth.RoleAdmin && u.IsActive && u.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateIncident(_ context.Context, inc *metadata.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.IdempotencyKey != "" {
		if _, ok := s.incKeys[keyFor(inc.TeamID, inc.IdempotencyKey)]; ok {
			return metadata.ErrConflict
		}
	}
	if _, ok := s.incs[inc.ID]; ok {
		return metadata.ErrConflict
	}
	s.incs[inc.ID] = *inc
	if inc.IdempotencyKey != "" {
		s.incKeys[keyFor(inc.TeamID, inc.IdempotencyKey)] = inc.ID
	}
	return nil
}

func (s *Store) GetIncident(_ context.Context, id string) (metadata.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incs[id]
	if !ok {
		return metadata.Incident{}, metadata.ErrNotFound
	}
	return inc, nil
}

func (s *Store) GetIncidentByKey(_ context.Context, teamID, idempotencyKey string) (metadata.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.incKeys[keyFor(teamID, idempotencyKey)]
	if !ok {
		return metadata.Incident{}, metadata.ErrNotFound
	}
	return s.incs[id], nil
}

func (s *Store) ListIncidents(_ context.Context, teamID string, filter metadata.IncidentFilter, page metadata.Page) ([]metadata.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []metadata.Incident
	for _, inc := range s.incs {
		if inc.TeamID != teamID {
			continue
		}
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && inc.Priority != filter.Priority {
			continue
		}
		if filter.Since != nil && inc.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(inc.Title), strings.ToLower(filter.Query)) {
			continue
		}
		all = append(all, inc)
	}
	sort.Slice(all, func(i, j int) bool { return byCreation(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	return pageAfter(all, func(i metadata.Incident) string { return i.ID }, page), nil
}

func (s *Store) UpdateIncident(_ context.Context, id string, upd metadata.IncidentUpdate) (metadata.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incs[id]
	if !ok {
		return metadata.Incident{}, metadata.ErrNotFound
	}
	if upd.Title != nil {
		inc.Title = *upd.Title
	}
	if upd.Description != nil {
		inc.Description = *upd.Description
	}
	if upd.Status != nil {
		inc.Status = *upd.Status
	}
	if upd.Priority != nil {
		inc.Priority = *upd.Priority
	}
	if upd.AssignedTo != nil {
		inc.AssignedTo = *upd.AssignedTo
	}
	if upd.Tags != nil {
		inc.Tags = upd.Tags
	}
	if upd.Metadata != nil {
		inc.Metadata = upd.Metadata
	}
	if upd.StartedAt != nil {
		inc.StartedAt = upd.StartedAt
	}
	if upd.ResolvedAt != nil {
		inc.ResolvedAt = upd.ResolvedAt
	}
	if upd.ClosedAt != nil {
		inc.ClosedAt = upd.ClosedAt
	}
	if upd.ResponseTimeMinutes != nil {
		inc.ResponseTimeMinutes = *upd.ResponseTimeMinutes
	}
	if upd.ResolutionTimeMinutes != nil {
		inc.ResolutionTimeMinutes = *upd.ResolutionTimeMinutes
	}
	if upd.UpdatedBy != "" {
		inc.UpdatedBy = upd.UpdatedBy
	}
	inc.UpdatedAt = time.Now().UTC()
	s.incs[id] = inc
	return inc, nil
}

func (s *Store) DeleteIncident(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incs[id]
	if !ok {
		return metadata.ErrNotFound
	}
	delete(s.incs, id)
	if inc.IdempotencyKey != "" {
		delete(s.incKeys, keyFor(inc.TeamID, inc.IdempotencyKey))
	}
	return nil
}

func (s *Store) CreateAgentConfig(_ context.Context, cfg *metadata.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cfgs {
		if c.TeamID == cfg.TeamID && strings.EqualFold(c.Name, cfg.Name) {
			return metadata.ErrConflict
		}
	}
	s.cfgs[cfg.ID] = *cfg
	return nil
}

func (s *Store) GetAgentConfig(_ context.Context, id string) (metadata.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cfgs[id]
	if !ok {
		return metadata.AgentConfig{}, metadata.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) GetAgentConfigByName(_ context.Context, teamID, name string) (metadata.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.cfgs {
		if cfg.TeamID == teamID && strings.EqualFold(cfg.Name, name) {
			return cfg, nil
		}
	}
	return metadata.AgentConfig{}, metadata.ErrNotFound
}

func (s *Store) ListAgentConfigs(_ context.Context, teamID string, filter metadata.AgentConfigFilter, page metadata.Page) ([]metadata.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []metadata.AgentConfig
	for _, cfg := range s.cfgs {
		if cfg.TeamID != teamID {
			continue
		}
		if filter.AgentType != "" && cfg.AgentType != filter.AgentType {
			continue
		}
		if filter.IsActive != nil && cfg.IsActive != *filter.IsActive {
			continue
		}
		all = append(all, cfg)
	}
	sort.Slice(all, func(i, j int) bool { return byCreation(all[i].CreatedAt, all[i].ID, all[j].CreatedAt, all[j].ID) })
	return pageAfter(all, func(c metadata.AgentConfig) string { return c.ID }, page), nil
}

func (s *Store) UpdateAgentConfig(_ context.Context, id string, expectedVersion int, upd metadata.AgentConfigUpdate) (metadata.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.cfgs[id]
	if !ok {
		return metadata.AgentConfig{}, metadata.ErrNotFound
	}
	if expectedVersion != 0 && cfg.Version != expectedVersion {
		return metadata.AgentConfig{}, metadata.ErrVersionConflict
	}
	if upd.Name != nil {
		cfg.Name = *upd.Name
	}
	if upd.Description != nil {
		cfg.Description = *upd.Description
	}
	if upd.AgentType != nil {
		cfg.AgentType = *upd.AgentType
	}
	if upd.IsActive != nil {
		cfg.IsActive = *upd.IsActive
	}
	if upd.Config != nil {
		cfg.Config = upd.Config
	}
	if upd.ExecutionTimeoutSeconds != nil {
		cfg.ExecutionTimeoutSeconds = *upd.ExecutionTimeoutSeconds
	}
	if upd.MaxRetries != nil {
		cfg.MaxRetries = *upd.MaxRetries
	}
	if upd.RetryDelaySeconds != nil {
		cfg.RetryDelaySeconds = *upd.RetryDelaySeconds
	}
	if upd.Triggers != nil {
		cfg.Triggers = upd.Triggers
	}
	if upd.Conditions != nil {
		cfg.Conditions = upd.Conditions
	}
	if upd.Tags != nil {
		cfg.Tags = upd.Tags
	}
	if upd.Metadata != nil {
		cfg.Metadata = upd.Metadata
	}
	if upd.UpdatedBy != "" {
		cfg.UpdatedBy = upd.UpdatedBy
	}
	cfg.Version++
	cfg.UpdatedAt = time.Now().UTC()
	s.cfgs[id] = cfg
	return cfg, nil
}

func (s *Store) CreateStat(_ context.Context, st *metadata.Stat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[st.ID] = *st
	return nil
}

func (s *Store) ListStats(_ context.Context, teamID string, filter metadata.StatFilter, page metadata.Page) ([]metadata.Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []metadata.Stat
	for _, st := range s.stats {
		if st.TeamID != teamID {
			continue
		}
		if filter.MetricName != "" && st.MetricName != filter.MetricName {
			continue
		}
		if filter.MetricType != "" && st.MetricType != filter.MetricType {
			continue
		}
		if filter.Since != nil && st.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && st.Timestamp.After(*filter.Until) {
			continue
		}
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool { return byCreation(all[i].Timestamp, all[i].ID, all[j].Timestamp, all[j].ID) })
	return pageAfter(all, func(st metadata.Stat) string { return st.ID }, page), nil
}

func byCreation(ti time.Time, idi string, tj time.Time, idj string) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return idi < idj
}

// pageAfter applies cursor pagination: the cursor is the id of the last
// item already seen; items strictly after it are returned, capped at Limit.
func pageAfter[T any](all []T, id func(T) string, page metadata.Page) []T {
	start := 0
	if page.Cursor != "" {
		for i, item := range all {
			if id(item) == page.Cursor {
				start = i + 1
				break
			}
		}
	}
	all = all[start:]
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}
	return all
}
