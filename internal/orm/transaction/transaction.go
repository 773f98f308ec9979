// Package transaction wraps database/sql transactions with isolation levels
// and named save points.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrTransactionDone is returned when a finished transaction is used again
	ErrTransactionDone = errors.New("transaction already committed or rolled back")
	// ErrDeadlock is returned when retries are exhausted on deadlocks
	ErrDeadlock = errors.New("deadlock detected")
	// ErrUnknownSavepoint is returned when rolling back to or releasing a save point that was never set
	ErrUnknownSavepoint = errors.New("unknown save point")
	// ErrInvalidSavepoint is returned for save point names that are not plain identifiers
	ErrInvalidSavepoint = errors.New("invalid save point name")
)

// savepointCounter provides unique save point names across all transactions
// NewSavepointName returns a fresh save point name
func NewSavepointName() string {
	return "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateSavepointName checks that name can be spliced into SAVEPOINT statements
func ValidateSavepointName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSavepoint)
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSavepoint, name)
		}
	}
	return nil
}

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// Unspecified uses the database default
	Unspecified IsolationLevel = iota
	// ReadUncommitted allows dirty reads
	ReadUncommitted
	// ReadCommitted prevents dirty reads
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ParseIsolationLevel converts a configuration string to an IsolationLevel
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s))) {
	case "", "default":
		return Unspecified, nil
	case "read uncommitted":
		return ReadUncommitted, nil
	case "read committed":
		return ReadCommitted, nil
	case "repeatable read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return Unspecified, fmt.Errorf("unknown isolation level: %s", s)
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	var level sql.IsolationLevel
	switch l {
	case ReadUncommitted:
		level = sql.LevelReadUncommitted
	case ReadCommitted:
		level = sql.LevelReadCommitted
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	default:
		level = sql.LevelDefault
	}
	return &sql.TxOptions{Isolation: level}
}

// Transaction is one top-level database transaction. Nested units of work
// use save points instead of nested transactions.
type Transaction struct {
	tx             *sql.Tx
	isolationLevel IsolationLevel
	savepoints     []string
	committed      atomic.Bool
	rolledBack     atomic.Bool
}

// Manager begins transactions on a database handle
type Manager struct {
	db *sql.DB
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Begin starts a new transaction with the given isolation level
func (m *Manager) Begin(ctx context.Context, level IsolationLevel) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, level.ToSQLOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, isolationLevel: level}, nil
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// IsolationLevel returns the isolation level of the transaction
func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolationLevel
}

// Savepoints returns the active save points, oldest first
func (t *Transaction) Savepoints() []string {
	return append([]string(nil), t.savepoints...)
}

// Done returns true once the transaction has been committed or rolled back
func (t *Transaction) Done() bool {
	return t.committed.Load() || t.rolledBack.Load()
}

// Save sets a save point
func (t *Transaction) Save(ctx context.Context, name string) error {
	if err := t.usable(name); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	t.savepoints = append(t.savepoints, name)
	return nil
}

// RollbackTo undoes everything after the save point; the save point stays active
func (t *Transaction) RollbackTo(ctx context.Context, name string) error {
	i, err := t.find(name)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to rollback to savepoint: %w", err)
	}
	t.savepoints = t.savepoints[:i+1]
	return nil
}

// Release forgets the save point and every later one, keeping their work
func (t *Transaction) Release(ctx context.Context, name string) error {
	i, err := t.find(name)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	t.savepoints = t.savepoints[:i]
	return nil
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.Done() {
		return ErrTransactionDone
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction; rolling back twice is a no-op
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return ErrTransactionDone
	}
	if t.rolledBack.Load() {
		return nil
	}
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.rolledBack.Store(true)
	return nil
}

func (t *Transaction) usable(name string) error {
	if t.Done() {
		return ErrTransactionDone
	}
	return ValidateSavepointName(name)
}

func (t *Transaction) find(name string) (int, error) {
	if err := t.usable(name); err != nil {
		return 0, err
	}
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSavepoint, name)
}
