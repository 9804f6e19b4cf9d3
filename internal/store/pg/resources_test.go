package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"brownie.dev/internal/metadata"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func agentConfigRows(version int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "team_id", "name", "description", "agent_type", "is_active",
		"config", "execution_timeout_seconds", "max_retries", "retry_delay_seconds",
		"triggers", "conditions", "tags", "metadata", "version", "created_by", "updated_by",
		"created_at", "updated_at",
	}).AddRow("cfg-1", "org-1", "team-1", "probe", nil, "monitoring", true,
		[]byte(`{}`), 300, 3, 60, []byte(`[]`), []byte(`{}`), []byte(`[]`), []byte(`{}`),
		version, "u1", "u1", now, now)
}

func TestUpdateAgentConfigCompareAndSwap(t *testing.T) {
	store, mock := newMockStore(t)
	desc := "updated"

	// The version predicate rides in the where clause; the increment in the
	// set clause.
	mock.ExpectExec(`update agent_configs set description = \$1, updated_by = \$2, version = version \+ 1, updated_at = now\(\) where id = \$3 and version = \$4`).
		WithArgs("updated", "u1", "cfg-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select .* from agent_configs where id = \$1`).
		WithArgs("cfg-1").
		WillReturnRows(agentConfigRows(2))

	cfg, err := store.UpdateAgentConfig(context.Background(), "cfg-1", 1, metadata.AgentConfigUpdate{
		Description: &desc,
		UpdatedBy:   "u1",
	})
	if err != nil {
		t.Fatalf("UpdateAgentConfig: %v", err)
	}
	if cfg.Version != 2 {
		t.Fatalf("expected version 2, got %d", cfg.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateAgentConfigStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)
	desc := "stale write"

	mock.ExpectExec(`update agent_configs set .* where id = \$3 and version = \$4`).
		WithArgs("stale write", "u1", "cfg-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The row exists at a newer version, so the zero-row update is a stale
	// token, not a missing config.
	mock.ExpectQuery(`select .* from agent_configs where id = \$1`).
		WithArgs("cfg-1").
		WillReturnRows(agentConfigRows(3))

	_, err := store.UpdateAgentConfig(context.Background(), "cfg-1", 1, metadata.AgentConfigUpdate{
		Description: &desc,
		UpdatedBy:   "u1",
	})
	if !errors.Is(err, metadata.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateAgentConfigMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	desc := "whatever"

	mock.ExpectExec(`update agent_configs set .* where id = \$3 and version = \$4`).
		WithArgs("whatever", "u1", "cfg-404", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The follow-up read finds nothing, so the config is genuinely gone.
	mock.ExpectQuery(`select .* from agent_configs where id = \$1`).
		WithArgs("cfg-404").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.UpdateAgentConfig(context.Background(), "cfg-404", 1, metadata.AgentConfigUpdate{
		Description: &desc,
		UpdatedBy:   "u1",
	})
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateIncidentUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into incidents`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	inc := metadata.Incident{
		ID:             "inc-1",
		OrgID:          "org-1",
		TeamID:         "team-1",
		Title:          "dup",
		Status:         metadata.IncidentOpen,
		Priority:       metadata.PriorityMedium,
		IdempotencyKey: "retry-1",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := store.CreateIncident(context.Background(), &inc); !errors.Is(err, metadata.ErrConflict) {
		t.Fatalf("expected ErrConflict on unique violation, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListIncidentsBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select .* from incidents where team_id = \$1 and status = \$2 and priority = \$3 and created_at >= \$4 and title ilike \$5 and \(created_at, id\) > \(select created_at, id from incidents where id = \$6\) order by created_at, id limit 20`).
		WithArgs("team-1", "open", "high", since, "%disk%", "cursor-id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "team_id", "title", "description", "status", "priority",
			"assigned_to", "tags", "metadata", "idempotency_key", "started_at",
			"resolved_at", "closed_at", "response_time_minutes", "resolution_time_minutes",
			"created_by", "updated_by", "created_at", "updated_at",
		}))

	_, err := store.ListIncidents(context.Background(), "team-1", metadata.IncidentFilter{
		Status:   metadata.IncidentOpen,
		Priority: metadata.PriorityHigh,
		Since:    &since,
		Query:    "disk",
	}, metadata.Page{Cursor: "cursor-id", Limit: 20})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetIncidentByKeyNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .* from incidents where team_id = \$1 and idempotency_key = \$2`).
		WithArgs("team-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetIncidentByKey(context.Background(), "team-1", "missing")
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
