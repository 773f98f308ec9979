// Package conntest provides a scripted in-memory conn.Connection for tests.
package conntest

import (
	"context"

	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// Row is one result row keyed by column name
type Row map[string]interface{}

// Fake records every statement and answers from its scripted handlers.
// Unset handlers fall back to: identities counting up from 1, one affected
// row per non-query, no rows, nil scalars.
type Fake struct {
	Insert   func(q *query.Query) (int64, error)
	NonQuery func(q *query.Query) (int64, error)
	Reader   func(q *query.Query) ([]Row, error)
	Scalar   func(q *query.Query) (interface{}, error)

	// Executed holds every statement in execution order
	Executed []*query.Query
	// Events holds transaction calls such as "begin", "save sp_1", "commit"
	Events []string

	open   bool
	inTx   bool
	nextID int64
}

var _ conn.Connection = (*Fake)(nil)

// New returns an open fake
func New() *Fake {
	return &Fake{open: true}
}

// Commands returns the text of every executed statement
func (f *Fake) Commands() []string {
	out := make([]string, len(f.Executed))
	for i, q := range f.Executed {
		out[i] = q.Command
	}
	return out
}

// Reset forgets recorded statements and events
func (f *Fake) Reset() {
	f.Executed = nil
	f.Events = nil
}

func (f *Fake) Open(context.Context) error {
	f.open = true
	f.Events = append(f.Events, "open")
	return nil
}

func (f *Fake) Close() error {
	f.open = false
	f.inTx = false
	f.Events = append(f.Events, "close")
	return nil
}

func (f *Fake) BeginTransaction(_ context.Context, level transaction.IsolationLevel) error {
	if f.inTx {
		return conn.ErrTransactionActive
	}
	f.inTx = true
	f.Events = append(f.Events, "begin "+level.String())
	return nil
}

func (f *Fake) InTransaction() bool {
	return f.inTx
}

func (f *Fake) Commit(context.Context) error {
	return f.end("commit")
}

func (f *Fake) Rollback(context.Context) error {
	return f.end("rollback")
}

func (f *Fake) end(event string) error {
	if !f.inTx {
		return conn.ErrNoTransaction
	}
	f.inTx = false
	f.Events = append(f.Events, event)
	return nil
}

func (f *Fake) Save(_ context.Context, sp string) error {
	return f.savepoint("save", sp)
}

func (f *Fake) RollbackTo(_ context.Context, sp string) error {
	return f.savepoint("rollback to", sp)
}

func (f *Fake) Release(_ context.Context, sp string) error {
	return f.savepoint("release", sp)
}

func (f *Fake) savepoint(event, sp string) error {
	if !f.inTx {
		return conn.ErrNoTransaction
	}
	f.Events = append(f.Events, event+" "+sp)
	return nil
}

func (f *Fake) record(q *query.Query) error {
	if !f.open {
		return conn.ErrNotOpen
	}
	f.Executed = append(f.Executed, q)
	return nil
}

func (f *Fake) ExecuteReader(_ context.Context, q *query.Query) (conn.Rows, error) {
	if err := f.record(q); err != nil {
		return nil, err
	}
	if f.Reader == nil {
		return NewRows(), nil
	}
	rows, err := f.Reader(q)
	if err != nil {
		return nil, err
	}
	return NewRows(rows...), nil
}

func (f *Fake) ExecuteNonQuery(_ context.Context, q *query.Query) (int64, error) {
	if err := f.record(q); err != nil {
		return 0, err
	}
	if f.NonQuery == nil {
		return 1, nil
	}
	return f.NonQuery(q)
}

func (f *Fake) ExecuteScalar(_ context.Context, q *query.Query) (interface{}, error) {
	if err := f.record(q); err != nil {
		return nil, err
	}
	if f.Scalar == nil {
		return nil, nil
	}
	return f.Scalar(q)
}

func (f *Fake) ExecuteInsert(_ context.Context, q *query.Query) (int64, error) {
	if err := f.record(q); err != nil {
		return 0, err
	}
	if f.Insert == nil {
		f.nextID++
		return f.nextID, nil
	}
	return f.Insert(q)
}

// Rows is an in-memory conn.Rows
type Rows struct {
	rows   []Row
	pos    int
	closed bool
}

// NewRows returns a cursor over rows
func NewRows(rows ...Row) *Rows {
	return &Rows{rows: rows, pos: -1}
}

func (r *Rows) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Value(column string) (interface{}, bool) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, false
	}
	v, ok := r.rows[r.pos][column]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r *Rows) Err() error {
	return nil
}

func (r *Rows) Close() error {
	r.closed = true
	return nil
}
