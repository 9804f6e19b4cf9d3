package metadata

import (
	"fmt"
	"strings"
	"time"

	"brownie.dev/internal/auth"
)

// IncidentStatus enumerates incident lifecycle states.
type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentClosed     IncidentStatus = "closed"
)

// IncidentPriority enumerates incident priorities.
type IncidentPriority string

const (
	PriorityLow      IncidentPriority = "low"
	PriorityMedium   IncidentPriority = "medium"
	PriorityHigh     IncidentPriority = "high"
	PriorityCritical IncidentPriority = "critical"
)

// AgentType enumerates agent configuration kinds.
type AgentType string

const (
	AgentMonitoring AgentType = "monitoring"
	AgentAlerting   AgentType = "alerting"
	AgentAutomation AgentType = "automation"
)

// ParseIncidentStatus validates a raw status string.
func ParseIncidentStatus(raw string) (IncidentStatus, error) {
	switch s := IncidentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case IncidentOpen, IncidentInProgress, IncidentResolved, IncidentClosed:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown incident status %q", ErrValidation, raw)
}

// ParseIncidentPriority validates a raw priority string.
func ParseIncidentPriority(raw string) (IncidentPriority, error) {
	switch p := IncidentPriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown incident priority %q", ErrValidation, raw)
}

// ParseAgentType validates a raw agent type string.
func ParseAgentType(raw string) (AgentType, error) {
	switch t := AgentType(strings.ToLower(strings.TrimSpace(raw))); t {
	case AgentMonitoring, AgentAlerting, AgentAutomation:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown agent type %q", ErrValidation, raw)
}

// Organization is the tenancy root.
type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description,omitempty"`
	IsActive        bool      `json:"is_active"`
	MaxTeams        int       `json:"max_teams"`
	MaxUsersPerTeam int       `json:"max_users_per_team"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Team groups users and team-scoped resources inside an organization.
// Permissions holds per-user permission overrides keyed by user id; each
// entry is merged key-by-key over the user's role permissions.
type Team struct {
	ID          string                     `json:"id"`
	OrgID       string                     `json:"org_id"`
	Name        string                     `json:"name"`
	Slug        string                     `json:"slug"`
	Description string                     `json:"description,omitempty"`
	IsActive    bool                       `json:"is_active"`
	Permissions map[string]map[string]bool `json:"permissions,omitempty"`
	CreatedBy   string                     `json:"created_by,omitempty"`
	UpdatedBy   string                     `json:"updated_by,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// User is a team member. Soft-deleted users keep their row with DeletedAt
// and DeletedBy set.
type User struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	TeamID       string         `json:"team_id"`
	Email        string         `json:"email"`
	Username     string         `json:"username"`
	FullName     string         `json:"full_name,omitempty"`
	AvatarURL    string         `json:"avatar_url,omitempty"`
	PasswordHash string         `json:"-"`
	Role         auth.RoleName  `json:"role"`
	IsActive     bool           `json:"is_active"`
	IsVerified   bool           `json:"is_verified"`
	Preferences  map[string]any `json:"preferences,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	UpdatedBy    string         `json:"updated_by,omitempty"`
	DeletedBy    string         `json:"deleted_by,omitempty"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Incident is the idempotent resource: at most one incident per non-empty
// idempotency key may ever exist within a team.
type Incident struct {
	ID                    string           `json:"id"`
	OrgID                 string           `json:"org_id"`
	TeamID                string           `json:"team_id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description,omitempty"`
	Status                IncidentStatus   `json:"status"`
	Priority              IncidentPriority `json:"priority"`
	AssignedTo            string           `json:"assigned_to,omitempty"`
	Tags                  []string         `json:"tags,omitempty"`
	Metadata              map[string]any   `json:"metadata,omitempty"`
	IdempotencyKey        string           `json:"idempotency_key,omitempty"`
	StartedAt             *time.Time       `json:"started_at,omitempty"`
	ResolvedAt            *time.Time       `json:"resolved_at,omitempty"`
	ClosedAt              *time.Time       `json:"closed_at,omitempty"`
	ResponseTimeMinutes   int              `json:"response_time_minutes,omitempty"`
	ResolutionTimeMinutes int              `json:"resolution_time_minutes,omitempty"`
	CreatedBy             string           `json:"created_by,omitempty"`
	UpdatedBy             string           `json:"updated_by,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// AgentConfig is the versioned resource: Version starts at 1 and every
// accepted update increments it by exactly one.
type AgentConfig struct {
	ID                      string         `json:"id"`
	OrgID                   string         `json:"org_id"`
	TeamID                  string         `json:"team_id"`
	Name                    string         `json:"name"`
	Description             string         `json:"description,omitempty"`
	AgentType               AgentType      `json:"agent_type"`
	IsActive                bool           `json:"is_active"`
	Config                  map[string]any `json:"config,omitempty"`
	ExecutionTimeoutSeconds int            `json:"execution_timeout_seconds"`
	MaxRetries              int            `json:"max_retries"`
	RetryDelaySeconds       int            `json:"retry_delay_seconds"`
	Triggers                []string       `json:"triggers,omitempty"`
	Conditions              map[string]any `json:"conditions,omitempty"`
	Tags                    []string       `json:"tags,omitempty"`
	Metadata                map[string]any `json:"metadata,omitempty"`
	Version                 int            `json:"version"`
	CreatedBy               string         `json:"created_by,omitempty"`
	UpdatedBy               string         `json:"updated_by,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// Stat is a single recorded metric sample for a team.
type Stat struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id"`
	TeamID      string            `json:"team_id"`
	MetricName  string            `json:"metric_name"`
	MetricType  string            `json:"metric_type"`
	Value       float64           `json:"value"`
	Count       int64             `json:"count"`
	Timestamp   time.Time         `json:"timestamp"`
	TimeWindow  string            `json:"time_window,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
