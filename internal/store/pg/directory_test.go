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

func TestCountActiveAdmins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select count\(\*\).*from users.*where team_id = \$1 and role = 'admin' and is_active and deleted_at is null`).
		WithArgs("team-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountActiveAdmins(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("CountActiveAdmins: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 admins, got %d", n)
	}
}

func TestSoftDeleteUser(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`update users.*set deleted_at = \$2, deleted_by = \$3, is_active = false.*where id = \$1 and deleted_at is null`).
		WithArgs("u1", at, "actor").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SoftDeleteUser(context.Background(), "u1", "actor", at); err != nil {
		t.Fatalf("SoftDeleteUser: %v", err)
	}

	// Deleting an already-deleted user affects no rows.
	mock.ExpectExec(`update users.*where id = \$1 and deleted_at is null`).
		WithArgs("u1", at, "actor").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.SoftDeleteUser(context.Background(), "u1", "actor", at); !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	user := metadata.User{
		ID:     "u1",
		OrgID:  "org-1",
		TeamID: "team-1",
		Email:  "dup@example.com",
		Role:   "member",
	}
	if err := store.CreateUser(context.Background(), &user); !errors.Is(err, metadata.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetUserByEmailExcludesDeleted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .* from users where lower\(email\) = lower\(\$1\) and deleted_at is null`).
		WithArgs("gone@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUserByEmail(context.Background(), "gone@example.com")
	if !errors.Is(err, metadata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
