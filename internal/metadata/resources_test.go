package metadata_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"brownie.dev/internal/auth"
	"brownie.dev/internal/metadata"
)

func TestCreateIncidentIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	first, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:          "db connection pool exhausted",
		Priority:       metadata.PriorityHigh,
		IdempotencyKey: "retry-123",
	})
	require.NoError(t, err)
	require.Equal(t, metadata.IncidentOpen, first.Status, "status defaults to open")

	// The replay returns the original untouched even when the payload
	// differs.
	replay, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:          "a completely different title",
		Priority:       metadata.PriorityLow,
		IdempotencyKey: "retry-123",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)
	require.Equal(t, "db connection pool exhausted", replay.Title)

	all, err := f.svc.ListIncidents(ctx, admin, f.admin.TeamID, metadata.IncidentFilter{}, metadata.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 1, "replay must not create a second incident")

	// A different key creates a fresh incident.
	other, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:          "db connection pool exhausted",
		IdempotencyKey: "retry-456",
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	// No key means no deduplication.
	a, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "dup"})
	require.NoError(t, err)
	b, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "dup"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestCreateIncidentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	_, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "   "})
	require.ErrorIs(t, err, metadata.ErrValidation)

	_, err = f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:          "ok",
		IdempotencyKey: strings.Repeat("k", 256),
	})
	require.ErrorIs(t, err, metadata.ErrValidation, "keys longer than 255 characters are rejected")

	_, err = f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:          "ok",
		IdempotencyKey: strings.Repeat("k", 255),
	})
	require.NoError(t, err, "255 characters is the inclusive maximum")
}

func TestCreateIncidentStartedAtForNonOpenStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	inc, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{
		Title:  "already being worked",
		Status: metadata.IncidentInProgress,
	})
	require.NoError(t, err)
	require.NotNil(t, inc.StartedAt)
	require.Equal(t, f.now, *inc.StartedAt)

	open, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "fresh"})
	require.NoError(t, err)
	require.Nil(t, open.StartedAt)
}

func TestIncidentLifecycleTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	inc, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "latency spike"})
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	inProgress := metadata.IncidentInProgress
	inc, err = f.svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{Status: &inProgress})
	require.NoError(t, err)
	require.NotNil(t, inc.StartedAt)
	startedAt := *inc.StartedAt

	// A second transition to the same status must not move the stamp.
	f.advance(time.Minute)
	inc, err = f.svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{Status: &inProgress})
	require.NoError(t, err)
	require.Equal(t, startedAt, *inc.StartedAt)

	f.advance(34 * time.Minute)
	resolved := metadata.IncidentResolved
	inc, err = f.svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{Status: &resolved})
	require.NoError(t, err)
	require.NotNil(t, inc.ResolvedAt)
	require.Equal(t, 35, inc.ResolutionTimeMinutes)

	f.advance(time.Hour)
	closed := metadata.IncidentClosed
	inc, err = f.svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{Status: &closed})
	require.NoError(t, err)
	require.NotNil(t, inc.ClosedAt)
}

func TestIncidentAssignmentStampsResponseTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	inc, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "paging"})
	require.NoError(t, err)

	f.advance(12 * time.Minute)
	assignee := f.admin.ID
	inc, err = f.svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{AssignedTo: &assignee})
	require.NoError(t, err)
	require.NotNil(t, inc.StartedAt)
	require.Equal(t, 12, inc.ResponseTimeMinutes)
}

func TestIncidentPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	viewer := f.principalFor(f.addUser(t, "viewer@example.com", auth.RoleViewer))
	member := f.principalFor(f.addUser(t, "member@example.com", auth.RoleMember))
	editor := f.principalFor(f.addUser(t, "editor@example.com", auth.RoleEditor))

	_, err := f.svc.CreateIncident(ctx, viewer, f.admin.TeamID, metadata.IncidentInput{Title: "nope"})
	require.ErrorIs(t, err, auth.ErrForbidden)
	require.Contains(t, err.Error(), "write", "denial names the missing permission")

	inc, err := f.svc.CreateIncident(ctx, editor, f.admin.TeamID, metadata.IncidentInput{Title: "editor can write"})
	require.NoError(t, err)

	// Editors lack delete; admins hold it.
	err = f.svc.DeleteIncident(ctx, editor, inc.ID)
	require.ErrorIs(t, err, auth.ErrForbidden)
	require.NoError(t, f.svc.DeleteIncident(ctx, admin, inc.ID))

	// Member has no role entry at all, so even listing is denied.
	_, err = f.svc.ListIncidents(ctx, member, f.admin.TeamID, metadata.IncidentFilter{}, metadata.Page{})
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestIncidentOutOfTeamReadsReportNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	inc, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "internal"})
	require.NoError(t, err)

	outsider, err := f.svc.Signup(ctx, metadata.SignupInput{
		Email:            "spy@example.com",
		Password:         "str0ng-password",
		OrganizationName: "Rival",
		TeamName:         "Rival Team",
	})
	require.NoError(t, err)

	_, err = f.svc.GetIncident(ctx, f.principalFor(outsider), inc.ID)
	require.ErrorIs(t, err, metadata.ErrNotFound)

	_, err = f.svc.UpdateIncident(ctx, f.principalFor(outsider), inc.ID, metadata.IncidentUpdateInput{})
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestTeamPermissionOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	editor := f.addUser(t, "editor@example.com", auth.RoleEditor)

	// Grant the editor delete on this team only.
	perms := map[string]map[string]bool{
		editor.ID: {auth.PermissionDelete: true},
	}
	_, err := f.svc.UpdateTeam(ctx, admin, f.admin.TeamID, metadata.TeamUpdate{Permissions: perms})
	require.NoError(t, err)

	inc, err := f.svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "cleanup"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteIncident(ctx, f.principalFor(editor), inc.ID))
}

func TestAgentConfigOptimisticLocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	cfg, err := f.svc.CreateAgentConfig(ctx, admin, f.admin.TeamID, metadata.AgentConfigInput{
		Name:      "disk-alert",
		AgentType: metadata.AgentAlerting,
		IsActive:  true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Version)

	desc := "fires at 90 percent"
	cfg, err = f.svc.UpdateAgentConfig(ctx, admin, cfg.ID, "1", metadata.AgentConfigUpdateInput{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Version)

	// A writer still holding version 1 loses, and the config is unchanged.
	stale := "stale description"
	_, err = f.svc.UpdateAgentConfig(ctx, admin, cfg.ID, "1", metadata.AgentConfigUpdateInput{Description: &stale})
	require.ErrorIs(t, err, metadata.ErrVersionConflict)

	current, err := f.svc.GetAgentConfig(ctx, admin, cfg.ID)
	require.NoError(t, err)
	require.Equal(t, "fires at 90 percent", current.Description)
	require.Equal(t, 2, current.Version)

	// Re-reading and retrying with the fresh version succeeds.
	cfg, err = f.svc.UpdateAgentConfig(ctx, admin, cfg.ID, strconv.Itoa(current.Version), metadata.AgentConfigUpdateInput{Description: &stale})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Version)

	// An empty token skips the check entirely.
	cfg, err = f.svc.UpdateAgentConfig(ctx, admin, cfg.ID, "", metadata.AgentConfigUpdateInput{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Version)

	for _, bad := range []string{"abc", "0", "-3", "1.5"} {
		_, err = f.svc.UpdateAgentConfig(ctx, admin, cfg.ID, bad, metadata.AgentConfigUpdateInput{Description: &desc})
		require.ErrorIs(t, err, metadata.ErrValidation, "token %q", bad)
	}
}

func TestAgentConfigNameUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	first, err := f.svc.CreateAgentConfig(ctx, admin, f.admin.TeamID, metadata.AgentConfigInput{
		Name:      "nightly-sync",
		AgentType: metadata.AgentAutomation,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateAgentConfig(ctx, admin, f.admin.TeamID, metadata.AgentConfigInput{
		Name:      "nightly-sync",
		AgentType: metadata.AgentAutomation,
	})
	require.ErrorIs(t, err, metadata.ErrConflict)

	second, err := f.svc.CreateAgentConfig(ctx, admin, f.admin.TeamID, metadata.AgentConfigInput{
		Name:      "weekly-sync",
		AgentType: metadata.AgentAutomation,
	})
	require.NoError(t, err)

	// Renaming onto an occupied name is a conflict too.
	taken := "nightly-sync"
	_, err = f.svc.UpdateAgentConfig(ctx, admin, second.ID, "", metadata.AgentConfigUpdateInput{Name: &taken})
	require.ErrorIs(t, err, metadata.ErrConflict)

	// Keeping one's own name is not.
	same := "nightly-sync"
	_, err = f.svc.UpdateAgentConfig(ctx, admin, first.ID, "", metadata.AgentConfigUpdateInput{Name: &same})
	require.NoError(t, err)
}

func TestDeleteAgentConfigDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	cfg, err := f.svc.CreateAgentConfig(ctx, admin, f.admin.TeamID, metadata.AgentConfigInput{
		Name:      "probe",
		AgentType: metadata.AgentMonitoring,
		IsActive:  true,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAgentConfig(ctx, admin, cfg.ID))

	got, err := f.svc.GetAgentConfig(ctx, admin, cfg.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	st, err := f.svc.CreateStat(ctx, admin, f.admin.TeamID, metadata.StatInput{
		MetricName: "mttr_minutes",
		MetricType: "gauge",
		Value:      42.5,
	})
	require.NoError(t, err)
	require.Equal(t, f.now, st.Timestamp, "zero timestamp defaults to the clock")

	_, err = f.svc.CreateStat(ctx, admin, f.admin.TeamID, metadata.StatInput{})
	require.ErrorIs(t, err, metadata.ErrValidation)

	listed, err := f.svc.ListStats(ctx, admin, f.admin.TeamID, metadata.StatFilter{MetricName: "mttr_minutes"}, metadata.Page{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestIncidentEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.principalFor(f.admin)

	var events []metadata.IncidentEvent
	svc, err := metadata.NewService(f.store,
		metadata.WithClock(func() time.Time { return f.now }),
		metadata.WithPublisher(publisherFunc(func(ev metadata.IncidentEvent) {
			events = append(events, ev)
		})))
	require.NoError(t, err)

	inc, err := svc.CreateIncident(ctx, admin, f.admin.TeamID, metadata.IncidentInput{Title: "observable"})
	require.NoError(t, err)

	resolved := metadata.IncidentResolved
	_, err = svc.UpdateIncident(ctx, admin, inc.ID, metadata.IncidentUpdateInput{Status: &resolved})
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.Equal(t, metadata.EventIncidentCreated, events[0].Type)
	require.Equal(t, metadata.EventIncidentUpdated, events[1].Type)
	require.Equal(t, inc.ID, events[1].Incident.ID)
}

type publisherFunc func(metadata.IncidentEvent)

func (fn publisherFunc) Publish(ev metadata.IncidentEvent) { fn(ev) }
