package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// executor is satisfied by both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ Connection = (*DB)(nil)

// DB is a Connection backed by database/sql
type DB struct {
	driver  Driver
	dsn     string
	db      *sql.DB
	owned   bool
	manager *transaction.Manager
	tx      *transaction.Transaction
}

// New returns an unopened connection for a supported driver
func New(driverName, dsn string) (*DB, error) {
	d, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	return &DB{driver: d, dsn: dsn, owned: true}, nil
}

// Wrap uses an existing handle; Close leaves the handle open
func Wrap(db *sql.DB, driverName string) (*DB, error) {
	d, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	return &DB{driver: d, db: db, manager: transaction.NewManager(db)}, nil
}

// Driver returns the driver profile
func (c *DB) Driver() Driver {
	return c.driver
}

// Dialect returns the pagination dialect of the driver
func (c *DB) Dialect() query.Dialect {
	return c.driver.Dialect
}

// Open connects and verifies the database is reachable
func (c *DB) Open(ctx context.Context) error {
	if c.db == nil {
		db, err := sql.Open(c.driver.Name, c.dsn)
		if err != nil {
			return fmt.Errorf("failed to open %s connection: %w", c.driver.Name, err)
		}
		c.db = db
		c.manager = transaction.NewManager(db)
	}
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}

// Close rolls back a pending transaction and closes an owned handle
func (c *DB) Close() error {
	var errs []error
	if c.tx != nil {
		errs = append(errs, c.tx.Rollback())
		c.tx = nil
	}
	if c.owned && c.db != nil {
		errs = append(errs, c.db.Close())
		c.db = nil
	}
	return errors.Join(errs...)
}

// BeginTransaction starts the top-level transaction
func (c *DB) BeginTransaction(ctx context.Context, level transaction.IsolationLevel) error {
	if c.manager == nil {
		return ErrNotOpen
	}
	if c.tx != nil {
		return ErrTransactionActive
	}
	tx, err := c.manager.Begin(ctx, level)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// InTransaction reports whether a transaction is active
func (c *DB) InTransaction() bool {
	return c.tx != nil
}

// Commit commits the active transaction
func (c *DB) Commit(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	err := c.tx.Commit()
	c.tx = nil
	return TranslateError(err)
}

// Rollback rolls back the active transaction
func (c *DB) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *DB) Save(ctx context.Context, savepoint string) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	return c.tx.Save(ctx, savepoint)
}

func (c *DB) RollbackTo(ctx context.Context, savepoint string) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	return c.tx.RollbackTo(ctx, savepoint)
}

func (c *DB) Release(ctx context.Context, savepoint string) error {
	if c.tx == nil {
		return ErrNoTransaction
	}
	return c.tx.Release(ctx, savepoint)
}

func (c *DB) executor() (executor, error) {
	if c.tx != nil {
		return c.tx.Tx(), nil
	}
	if c.db == nil {
		return nil, ErrNotOpen
	}
	return c.db, nil
}

func (c *DB) prepare(q *query.Query) (executor, string, []interface{}, error) {
	exec, err := c.executor()
	if err != nil {
		return nil, "", nil, err
	}
	command, args, err := c.driver.Rewrite(q)
	if err != nil {
		return nil, "", nil, err
	}
	return exec, command, args, nil
}

// ExecuteReader runs a SELECT
func (c *DB) ExecuteReader(ctx context.Context, q *query.Query) (Rows, error) {
	exec, command, args, err := c.prepare(q)
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, command, args...)
	if err != nil {
		return nil, TranslateError(err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return newSQLRows(rows, columns), nil
}

// ExecuteNonQuery runs a statement and returns the affected row count
func (c *DB) ExecuteNonQuery(ctx context.Context, q *query.Query) (int64, error) {
	exec, command, args, err := c.prepare(q)
	if err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx, command, args...)
	if err != nil {
		return 0, TranslateError(err)
	}
	return res.RowsAffected()
}

// ExecuteScalar returns the first column of the first row
func (c *DB) ExecuteScalar(ctx context.Context, q *query.Query) (interface{}, error) {
	exec, command, args, err := c.prepare(q)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := exec.QueryRowContext(ctx, command, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, TranslateError(err)
	}
	return v, nil
}

// ExecuteInsert runs an INSERT and returns the generated identity
func (c *DB) ExecuteInsert(ctx context.Context, q *query.Query) (int64, error) {
	exec, command, args, err := c.prepare(q)
	if err != nil {
		return 0, err
	}

	if c.driver.Returning {
		var id int64
		if err := exec.QueryRowContext(ctx, c.driver.insertCommand(command), args...).Scan(&id); err != nil {
			return 0, TranslateError(err)
		}
		return id, nil
	}

	res, err := exec.ExecContext(ctx, command, args...)
	if err != nil {
		return 0, TranslateError(err)
	}
	return res.LastInsertId()
}

// sqlRows adapts *sql.Rows to Rows. Column lookup ignores case because
// postgres folds unquoted identifiers.
type sqlRows struct {
	rows    *sql.Rows
	index   map[string]int
	values  []interface{}
	scanErr error
}

func newSQLRows(rows *sql.Rows, columns []string) *sqlRows {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[strings.ToLower(col)] = i
	}
	return &sqlRows{rows: rows, index: index, values: make([]interface{}, len(columns))}
}

func (r *sqlRows) Next() bool {
	if r.scanErr != nil || !r.rows.Next() {
		return false
	}
	ptrs := make([]interface{}, len(r.values))
	for i := range r.values {
		r.values[i] = nil
		ptrs[i] = &r.values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.scanErr = err
		return false
	}
	return true
}

func (r *sqlRows) Value(column string) (interface{}, bool) {
	i, ok := r.index[strings.ToLower(column)]
	if !ok || r.values[i] == nil {
		return nil, false
	}
	return r.values[i], true
}

func (r *sqlRows) Err() error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return r.rows.Err()
}

func (r *sqlRows) Close() error {
	return r.rows.Close()
}
