package transaction

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE Artist (Id INTEGER PRIMARY KEY AUTOINCREMENT, Name TEXT NOT NULL)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countArtists(t *testing.T, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}) int {
	t.Helper()
	var n int
	if err := q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM Artist").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestManager_BeginCommit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := NewManager(db).Begin(ctx, Unspecified)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.Tx().ExecContext(ctx, "INSERT INTO Artist (Name) VALUES ('Miles')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !tx.Done() {
		t.Error("expected transaction to be done after commit")
	}
	if got := countArtists(t, db); got != 1 {
		t.Errorf("expected 1 row, got %d", got)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("expected ErrTransactionDone on second commit, got %v", err)
	}
}

func TestTransaction_RollbackIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := NewManager(db).Begin(ctx, Unspecified)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := tx.Tx().ExecContext(ctx, "INSERT INTO Artist (Name) VALUES ('Miles')"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("second rollback should be a no-op, got %v", err)
	}
	if got := countArtists(t, db); got != 0 {
		t.Errorf("expected 0 rows, got %d", got)
	}
	if err := tx.Save(ctx, "sp"); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("expected ErrTransactionDone from Save, got %v", err)
	}
}

func TestTransaction_Savepoints(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tx, err := NewManager(db).Begin(ctx, Unspecified)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback()

	exec := func(name string) {
		if _, err := tx.Tx().ExecContext(ctx, "INSERT INTO Artist (Name) VALUES (?)", name); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	exec("a")
	if err := tx.Save(ctx, "first"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	exec("b")
	if err := tx.Save(ctx, "second"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	exec("c")

	if err := tx.RollbackTo(ctx, "first"); err != nil {
		t.Fatalf("RollbackTo failed: %v", err)
	}
	if got := countArtists(t, tx.Tx()); got != 1 {
		t.Errorf("expected 1 row after rollback to first, got %d", got)
	}
	if sps := tx.Savepoints(); len(sps) != 1 || sps[0] != "first" {
		t.Errorf("expected only 'first' to remain, got %v", sps)
	}
	if err := tx.RollbackTo(ctx, "second"); !errors.Is(err, ErrUnknownSavepoint) {
		t.Errorf("expected ErrUnknownSavepoint, got %v", err)
	}

	exec("d")
	if err := tx.Release(ctx, "first"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(tx.Savepoints()) != 0 {
		t.Errorf("expected no save points after release, got %v", tx.Savepoints())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if got := countArtists(t, db); got != 2 {
		t.Errorf("expected 2 rows, got %d", got)
	}
}

func TestValidateSavepointName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"sp_1", true},
		{"_x", true},
		{"Flush", true},
		{"", false},
		{"1sp", false},
		{"sp; DROP TABLE Artist", false},
		{"sp-1", false},
	}
	for _, tt := range tests {
		err := ValidateSavepointName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("%q: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidSavepoint) {
			t.Errorf("%q: expected ErrInvalidSavepoint, got %v", tt.name, err)
		}
	}
}

func TestNewSavepointName_Unique(t *testing.T) {
	a, b := NewSavepointName(), NewSavepointName()
	if a == b {
		t.Errorf("expected distinct names, got %s twice", a)
	}
	if err := ValidateSavepointName(a); err != nil {
		t.Errorf("generated name %q is invalid: %v", a, err)
	}
}

func TestIsolationLevel(t *testing.T) {
	tests := []struct {
		input string
		want  IsolationLevel
		sql   sql.IsolationLevel
	}{
		{"", Unspecified, sql.LevelDefault},
		{"read_committed", ReadCommitted, sql.LevelReadCommitted},
		{"Repeatable Read", RepeatableRead, sql.LevelRepeatableRead},
		{"serializable", Serializable, sql.LevelSerializable},
		{"read-uncommitted", ReadUncommitted, sql.LevelReadUncommitted},
	}
	for _, tt := range tests {
		got, err := ParseIsolationLevel(tt.input)
		if err != nil {
			t.Fatalf("%q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.want, got)
		}
		if got.ToSQLOptions().Isolation != tt.sql {
			t.Errorf("%q: unexpected sql level %v", tt.input, got.ToSQLOptions().Isolation)
		}
	}
	if _, err := ParseIsolationLevel("snapshot"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	cfg := &RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}

	calls := 0
	err := Retry(ctx, cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("pq: deadlock detected")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = Retry(ctx, cfg, func(context.Context) error {
		calls++
		return errors.New("syntax error")
	})
	if calls != 1 || err == nil || !strings.Contains(err.Error(), "syntax") {
		t.Errorf("non retryable error should stop immediately, got err=%v calls=%d", err, calls)
	}

	err = Retry(ctx, cfg, func(context.Context) error {
		return errors.New("ERROR: could not serialize access (SQLSTATE 40001)")
	})
	if !errors.Is(err, ErrDeadlock) {
		t.Errorf("expected ErrDeadlock after exhausting retries, got %v", err)
	}
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Retry(ctx, nil, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("fn should not run on a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 1213: Deadlock found when trying to get lock"), true},
		{errors.New("database is locked"), true},
		{errors.New("SQLSTATE 40P01"), true},
		{errors.New("unique constraint"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
