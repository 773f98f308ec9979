// Package conn is the connection layer between a session and the database.
// Sessions talk to a Connection; DB implements it on database/sql for the
// pgx, lib/pq, sqlite3 and mysql drivers.
package conn

import (
	"context"

	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// Connection executes compiled statements and manages the single
// top-level transaction of a session.
type Connection interface {
	Open(ctx context.Context) error
	Close() error

	BeginTransaction(ctx context.Context, level transaction.IsolationLevel) error
	InTransaction() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Save(ctx context.Context, savepoint string) error
	RollbackTo(ctx context.Context, savepoint string) error
	Release(ctx context.Context, savepoint string) error

	// ExecuteReader runs a SELECT and returns a row cursor
	ExecuteReader(ctx context.Context, q *query.Query) (Rows, error)
	// ExecuteNonQuery runs a statement and returns the affected row count
	ExecuteNonQuery(ctx context.Context, q *query.Query) (int64, error)
	// ExecuteScalar returns the first column of the first row, or nil
	ExecuteScalar(ctx context.Context, q *query.Query) (interface{}, error)
	// ExecuteInsert runs an INSERT and returns the generated identity
	ExecuteInsert(ctx context.Context, q *query.Query) (int64, error)
}

// Rows is a forward-only row cursor
type Rows interface {
	Next() bool
	// Value returns the column value of the current row; ok is false when
	// the value is NULL or the column is absent
	Value(column string) (value interface{}, ok bool)
	Err() error
	Close() error
}
