package migrate

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`create table a (id text); create table b (id text);`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}

	// Semicolons inside dollar-quoted bodies must not split.
	fn := `create function f() returns trigger as $$
begin
	update t set n = n + 1;
	return new;
end;
$$ language plpgsql; drop table old;`
	stmts = splitStatements(fn)
	if len(stmts) != 2 {
		t.Fatalf("dollar quoting broken, got %d statements: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "n = n + 1;") {
		t.Fatalf("function body was split: %q", stmts[0])
	}

	if got := splitStatements("   \n  "); len(got) != 0 {
		t.Fatalf("whitespace-only input should yield nothing, got %q", got)
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text)")},
		"0001_init.down.sql": {Data: []byte("drop table a")},
		"0002_next.up.sql":   {Data: []byte("create table b (id text)")},
		"0002_next.down.sql": {Data: []byte("drop table b")},
	}

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))

	// Only the pending migration runs, inside a transaction.
	mock.ExpectBegin()
	mock.ExpectExec(`create table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_migrations`).
		WithArgs("0002_next.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewManager(db, fsys).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLastApplied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text)")},
		"0001_init.down.sql": {Data: []byte("drop table a")},
	}

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations order by applied_at`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).
		WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewManager(db, fsys).Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_migrations order by applied_at`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if err := NewManager(db, fstest.MapFS{}).Down(context.Background()); err == nil {
		t.Fatal("expected an error when nothing is applied")
	}
}
