package metadata

import (
	"context"
	"time"

	"brownie.dev/internal/auth"
)

// Store describes the persistence operations the service requires. Two
// guarantees must hold regardless of backend: a unique constraint on
// (team_id, idempotency_key) where the key is non-empty, and atomic
// compare-and-increment semantics for agent config versions.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error)

	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, id string) (Team, error)
	ListTeams(ctx context.Context, orgID string) ([]Team, error)
	UpdateTeam(ctx context.Context, id string, upd TeamUpdate) (Team, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, orgID string, page Page) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	// SoftDeleteUser tombstones the user (deleted_at + deleted_by) and
	// clears is_active; it never removes the row.
	SoftDeleteUser(ctx context.Context, id, actorID string, at time.Time) error
	// CountActiveAdmins counts non-deleted, active admins in the team.
	CountActiveAdmins(ctx context.Context, teamID string) (int, error)

	// CreateIncident persists a new incident. Backends must return
	// ErrConflict when the (team_id, idempotency_key) uniqueness constraint
	// is violated; the service then re-reads the original row.
	CreateIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, id string) (Incident, error)
	GetIncidentByKey(ctx context.Context, teamID, idempotencyKey string) (Incident, error)
	ListIncidents(ctx context.Context, teamID string, filter IncidentFilter, page Page) ([]Incident, error)
	UpdateIncident(ctx context.Context, id string, upd IncidentUpdate) (Incident, error)
	DeleteIncident(ctx context.Context, id string) error

	CreateAgentConfig(ctx context.Context, cfg *AgentConfig) error
	GetAgentConfig(ctx context.Context, id string) (AgentConfig, error)
	GetAgentConfigByName(ctx context.Context, teamID, name string) (AgentConfig, error)
	ListAgentConfigs(ctx context.Context, teamID string, filter AgentConfigFilter, page Page) ([]AgentConfig, error)
	// UpdateAgentConfig applies the update only if expectedVersion matches
	// the stored version, as a single atomic read-compare-write. An
	// expectedVersion of zero skips the check (unconditional update). On
	// success the stored version increments by exactly one. A stale version
	// returns ErrVersionConflict and leaves the row unchanged.
	UpdateAgentConfig(ctx context.Context, id string, expectedVersion int, upd AgentConfigUpdate) (AgentConfig, error)

	CreateStat(ctx context.Context, st *Stat) error
	ListStats(ctx context.Context, teamID string, filter StatFilter, page Page) ([]Stat, error)
}

// Page is cursor pagination state. Cursor is the id of the last item of the
// previous page; Limit caps the page size.
type Page struct {
	Cursor string
	Limit  int
}

// OrganizationUpdate carries partial organization changes; nil fields are
// left untouched.
type OrganizationUpdate struct {
	Name            *string
	Slug            *string
	Description     *string
	IsActive        *bool
	MaxTeams        *int
	MaxUsersPerTeam *int
}

type TeamUpdate struct {
	Name        *string
	Slug        *string
	Description *string
	IsActive    *bool
	Permissions map[string]map[string]bool
	UpdatedBy   string
}

type UserUpdate struct {
	Email        *string
	Username     *string
	FullName     *string
	AvatarURL    *string
	PasswordHash *string
	Role         *auth.RoleName
	TeamID       *string
	IsActive     *bool
	IsVerified   *bool
	Preferences  map[string]any
	UpdatedBy    string
}

type IncidentUpdate struct {
	Title                 *string
	Description           *string
	Status                *IncidentStatus
	Priority              *IncidentPriority
	AssignedTo            *string
	Tags                  []string
	Metadata              map[string]any
	StartedAt             *time.Time
	ResolvedAt            *time.Time
	ClosedAt              *time.Time
	ResponseTimeMinutes   *int
	ResolutionTimeMinutes *int
	UpdatedBy             string
}

type AgentConfigUpdate struct {
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
	UpdatedBy               string
}

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	Status   IncidentStatus
	Priority IncidentPriority
	Since    *time.Time
	Query    string
}

// AgentConfigFilter narrows agent config listings.
type AgentConfigFilter struct {
	AgentType AgentType
	IsActive  *bool
}

// StatFilter narrows stat listings.
type StatFilter struct {
	MetricName string
	MetricType string
	Since      *time.Time
	Until      *time.Time
}
