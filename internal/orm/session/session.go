// Package session implements the unit of work: it schedules entities for
// persistence, flushes their changes through a connection, resolves delete
// constraints and materializes query results.
//
// A Session is not safe for concurrent use.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/cascade"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/hooks"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// State is the transaction state of a session
type State int

const (
	Open State = iota
	InTransaction
)

func (s State) String() string {
	if s == InTransaction {
		return "in transaction"
	}
	return "open"
}

// stagedRow is a row cache write held back until the transaction commits;
// a nil row removes the entry
type stagedRow struct {
	entityType string
	id         int64
	row        cache.Row
}

type identityKey struct {
	entityType string
	id         int64
}

// Session tracks the entities of one unit of work
type Session struct {
	id          uuid.UUID
	conn        conn.Connection
	metadata    schema.Resolver
	descriptors *entity.Registry
	resolver    *cascade.Resolver
	compiler    *query.Compiler
	listeners   *hooks.Registry
	rows        *cache.RowStore
	logger      *zap.Logger

	flushMode    FlushMode
	deletionMode DeletionMode

	state     State
	flushList *entity.Set
	identity  map[identityKey]entity.Entity

	staged []stagedRow
	marks  map[string]int
}

// New creates a session over an open connection
func New(c conn.Connection, metadata schema.Resolver, descriptors *entity.Registry, cfg Config) *Session {
	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	dialect := cfg.Dialect
	if dialect == nil {
		if d, ok := c.(interface{ Dialect() query.Dialect }); ok {
			dialect = d.Dialect()
		} else {
			dialect = query.SQLServer{}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:           id,
		conn:         c,
		metadata:     metadata,
		descriptors:  descriptors,
		resolver:     cascade.NewResolver(metadata, descriptors),
		compiler:     query.NewCompiler(metadata, dialect),
		listeners:    cfg.Listeners,
		rows:         cfg.Cache,
		logger:       logger.With(zap.String("session_id", id.String())),
		flushMode:    cfg.FlushMode,
		deletionMode: cfg.DeletionMode,
		flushList:    entity.NewSet(),
	}
	if cfg.IdentityCache {
		s.identity = make(map[identityKey]entity.Entity)
	}
	return s
}

// ID returns the session id
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the transaction state
func (s *Session) State() State {
	return s.state
}

// Pending returns the entities scheduled for the next flush in flush order
func (s *Session) Pending() []entity.Entity {
	return s.flushList.Items()
}

// Compiler returns the query compiler of the session
func (s *Session) Compiler() *query.Compiler {
	return s.compiler
}

// BeginTransaction starts the single top-level transaction
func (s *Session) BeginTransaction(ctx context.Context, level transaction.IsolationLevel) error {
	if s.state == InTransaction {
		return &Error{Kind: TransactionState, Message: "a transaction is already active; use save points for nested units"}
	}
	if err := s.conn.BeginTransaction(ctx, level); err != nil {
		return err
	}
	s.state = InTransaction
	s.logger.Debug("transaction started", zap.Stringer("isolation", level))
	return nil
}

// Commit flushes under FlushCommit, runs the commit listeners and commits
func (s *Session) Commit(ctx context.Context) error {
	if err := s.requireTransaction("commit"); err != nil {
		return err
	}
	if s.flushMode == FlushCommit {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	if err := s.listeners.ExecuteCommit(ctx); err != nil {
		return &Error{Kind: ListenerRejected, Err: err}
	}
	if err := s.conn.Commit(ctx); err != nil {
		return err
	}
	s.state = Open
	s.publishRows(ctx)
	s.logger.Debug("transaction committed")
	s.listeners.Committed()
	return nil
}

// Rollback aborts the transaction. In-memory entities keep their state.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.requireTransaction("rollback"); err != nil {
		return err
	}
	s.discardRows()
	if err := s.conn.Rollback(ctx); err != nil {
		return err
	}
	s.state = Open
	s.logger.Debug("transaction rolled back")
	return nil
}

// Save creates a save point
func (s *Session) Save(ctx context.Context, savepoint string) error {
	if err := s.requireTransaction("save"); err != nil {
		return err
	}
	if err := s.conn.Save(ctx, savepoint); err != nil {
		return err
	}
	if s.marks == nil {
		s.marks = make(map[string]int)
	}
	s.marks[savepoint] = len(s.staged)
	return nil
}

// SavePoint creates a save point with a generated name and returns the name
func (s *Session) SavePoint(ctx context.Context) (string, error) {
	name := transaction.NewSavepointName()
	if err := s.Save(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// RollbackTo undoes everything after the save point
func (s *Session) RollbackTo(ctx context.Context, savepoint string) error {
	if err := s.requireTransaction("rollback to"); err != nil {
		return err
	}
	if err := s.conn.RollbackTo(ctx, savepoint); err != nil {
		return err
	}
	if mark, ok := s.marks[savepoint]; ok && mark <= len(s.staged) {
		s.staged = s.staged[:mark]
	}
	return nil
}

// Release forgets the save point
func (s *Session) Release(ctx context.Context, savepoint string) error {
	if err := s.requireTransaction("release"); err != nil {
		return err
	}
	if err := s.conn.Release(ctx, savepoint); err != nil {
		return err
	}
	delete(s.marks, savepoint)
	return nil
}

func (s *Session) requireTransaction(op string) error {
	if s.state != InTransaction {
		return &Error{Kind: TransactionState, Message: op + " requires an active transaction"}
	}
	return nil
}

// Evict detaches e: it leaves the flush list and the caches, and any later
// SaveOrUpdate or Flush of e fails
func (s *Session) Evict(ctx context.Context, e entity.Entity) {
	b := e.EntityBase()
	b.Evicted = true
	s.flushList.Remove(e)
	s.forget(ctx, e)
}

// Clear evicts every known entity
func (s *Session) Clear(ctx context.Context) {
	for _, e := range s.flushList.Items() {
		s.Evict(ctx, e)
	}
	for _, e := range s.identity {
		s.Evict(ctx, e)
	}
}

// remember puts a persisted entity in the identity cache
func (s *Session) remember(e entity.Entity) {
	b := e.EntityBase()
	if s.identity == nil || b.IsTransient() {
		return
	}
	s.identity[identityKey{e.EntityName(), b.ID}] = e
}

// forget drops e from the identity and row caches
func (s *Session) forget(ctx context.Context, e entity.Entity) {
	b := e.EntityBase()
	if b.IsTransient() {
		return
	}
	if s.identity != nil {
		key := identityKey{e.EntityName(), b.ID}
		if s.identity[key] == e {
			delete(s.identity, key)
		}
	}
	if s.rows != nil {
		if s.state == InTransaction {
			s.staged = append(s.staged, stagedRow{entityType: e.EntityName(), id: b.ID})
		}
		if err := s.rows.Remove(ctx, e.EntityName(), b.ID); err != nil {
			s.logger.Warn("row cache remove failed",
				zap.String("entity", e.EntityName()), zap.Int64("id", b.ID), zap.Error(err))
		}
	}
}

// cached returns the identity cache entry of (entityType, id)
func (s *Session) cached(entityType string, id int64) (entity.Entity, bool) {
	if s.identity == nil {
		return nil, false
	}
	e, ok := s.identity[identityKey{entityType, id}]
	return e, ok
}

func (s *Session) describe(e entity.Entity) (*schema.EntityMetadata, *entity.Descriptor, error) {
	meta, err := s.metadata.ForEntity(e)
	if err != nil {
		return nil, nil, err
	}
	desc, err := s.descriptors.For(e)
	if err != nil {
		return nil, nil, err
	}
	if e.EntityBase().Metadata() == nil {
		e.EntityBase().Attach(meta)
	}
	return meta, desc, nil
}

// logStatement records one executed statement
func (s *Session) logStatement(q *query.Query, start time.Time, rows int64, err error) {
	fields := []zap.Field{
		zap.String("sql", q.Command),
		zap.Any("params", q.Values()),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("rows", rows),
	}
	if err != nil {
		s.logger.Error("statement failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("statement", fields...)
}

func (s *Session) insert(ctx context.Context, q *query.Query) (int64, error) {
	start := time.Now()
	id, err := s.conn.ExecuteInsert(ctx, q)
	s.logStatement(q, start, 1, err)
	return id, err
}

func (s *Session) nonQuery(ctx context.Context, q *query.Query) (int64, error) {
	start := time.Now()
	n, err := s.conn.ExecuteNonQuery(ctx, q)
	s.logStatement(q, start, n, err)
	return n, err
}

func (s *Session) scalar(ctx context.Context, q *query.Query) (interface{}, error) {
	start := time.Now()
	v, err := s.conn.ExecuteScalar(ctx, q)
	s.logStatement(q, start, 1, err)
	return v, err
}
