package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// rowSource is satisfied by conn.Rows and cache.Row
type rowSource interface {
	Value(column string) (interface{}, bool)
}

// Query runs q and returns its entities, reconciled with the identity cache
func (s *Session) Query(ctx context.Context, q query.Queryable) ([]entity.Entity, error) {
	compiled, err := s.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	if compiled.Cardinality == query.Scalar {
		return nil, &Error{Kind: Cardinality, Message: "count queries return a number; use Count"}
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	return s.materialize(ctx, compiled, true)
}

// QuerySingle runs q and returns its first entity, or nil when there is none
func (s *Session) QuerySingle(ctx context.Context, q query.Queryable) (entity.Entity, error) {
	result, err := s.Query(ctx, q)
	if err != nil || len(result) == 0 {
		return nil, err
	}
	return result[0], nil
}

// Count returns the number of rows q matches
func (s *Session) Count(ctx context.Context, q query.Queryable) (int64, error) {
	compiled, err := s.compiler.Compile(q)
	if err != nil {
		return 0, err
	}
	if compiled.Cardinality != query.Scalar {
		if compiled, err = s.compiler.Compile(q.Count()); err != nil {
			return 0, err
		}
	}
	if err := s.autoFlush(ctx); err != nil {
		return 0, err
	}

	v, err := s.scalar(ctx, compiled)
	if err != nil {
		return 0, err
	}
	return entity.Coerce[int64](v)
}

// Get returns the entity of (entityType, id) from the identity cache, the
// row cache or the store, in that order. A missing row returns nil.
func (s *Session) Get(ctx context.Context, entityType string, id int64) (entity.Entity, error) {
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	return s.get(ctx, entityType, id)
}

func (s *Session) get(ctx context.Context, entityType string, id int64) (entity.Entity, error) {
	if e, ok := s.cached(entityType, id); ok {
		return e, nil
	}

	if s.rows != nil {
		row, err := s.rows.Get(ctx, entityType, id)
		switch {
		case err == nil:
			e, err := s.hydrate(entityType, row)
			if err != nil {
				return nil, err
			}
			s.remember(e)
			return e, nil
		case !cache.IsCacheMiss(err):
			s.logger.Warn("row cache get failed",
				zap.String("entity", entityType), zap.Int64("id", id), zap.Error(err))
		}
	}

	compiled, err := s.compiler.Compile(
		query.From(entityType).Where(query.Field(schema.FieldID).Eq(id)).SingleOrDefault())
	if err != nil {
		return nil, err
	}
	result, err := s.materialize(ctx, compiled, false)
	if err != nil || len(result) == 0 {
		return nil, err
	}
	return result[0], nil
}

func (s *Session) autoFlush(ctx context.Context) error {
	if s.flushMode == FlushIntelligent || s.flushMode == FlushAlways {
		return s.Flush(ctx)
	}
	return nil
}

func (s *Session) read(ctx context.Context, q *query.Query) (conn.Rows, error) {
	start := time.Now()
	rows, err := s.conn.ExecuteReader(ctx, q)
	s.logStatement(q, start, -1, err)
	return rows, err
}

// materialize executes a compiled read, checks its cardinality and
// eager loads the newly hydrated entities when eager is set
func (s *Session) materialize(ctx context.Context, q *query.Query, eager bool) ([]entity.Entity, error) {
	rows, err := s.read(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result []entity.Entity
		loaded []entity.Entity
	)
	for rows.Next() {
		e, err := s.hydrate(q.EntityType, rows)
		if err != nil {
			return nil, err
		}
		if known, ok := s.cached(q.EntityType, e.EntityBase().ID); ok {
			result = append(result, known)
			continue
		}
		s.remember(e)
		s.cacheRow(ctx, e)
		result = append(result, e)
		loaded = append(loaded, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := checkCardinality(q, len(result)); err != nil {
		return nil, err
	}
	if eager {
		for _, e := range loaded {
			if err := s.eagerLoad(ctx, e, q.Includes); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func checkCardinality(q *query.Query, n int) error {
	switch q.Cardinality {
	case query.One, query.Single:
		if n == 0 {
			return &Error{Kind: Cardinality, Entity: q.EntityType, Message: "query returned no rows"}
		}
	}
	switch q.Cardinality {
	case query.Single, query.SingleOrDefault:
		if n > 1 {
			return &Error{Kind: Cardinality, Entity: q.EntityType, Message: "query returned more than one row"}
		}
	}
	return nil
}

// hydrate builds an entity from a row without recording changes.
// NULL and missing columns keep their zero value.
func (s *Session) hydrate(entityType string, row rowSource) (entity.Entity, error) {
	meta, ok := s.metadata.Get(entityType)
	if !ok {
		return nil, errors.New("unknown entity type: " + entityType)
	}
	e, err := s.descriptors.New(entityType)
	if err != nil {
		return nil, err
	}
	desc, err := s.descriptors.For(e)
	if err != nil {
		return nil, err
	}

	b := e.EntityBase()
	b.Attach(meta)
	tracker := b.Tracker()
	tracker.Disable()
	defer tracker.Enable()

	for _, f := range meta.Columns() {
		v, ok := row.Value(f.Name)
		if !ok {
			continue
		}
		if err := desc.Set(e, f.Name, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func included(includes []string, name string) bool {
	for _, inc := range includes {
		if inc == name {
			return true
		}
	}
	return false
}

// eagerLoad resolves the references and lists of e that are marked
// EagerLoad or named in includes. Loaded entities are not eager loaded in turn.
func (s *Session) eagerLoad(ctx context.Context, e entity.Entity, includes []string) error {
	meta, desc, err := s.describe(e)
	if err != nil {
		return err
	}
	tracker := e.EntityBase().Tracker()

	for _, ref := range meta.References() {
		if !ref.EagerLoad && !included(includes, ref.Name) {
			continue
		}
		fk, ok := meta.ForeignKeyFor(ref.Name)
		if !ok {
			continue
		}
		raw, err := desc.Get(e, fk.Name)
		if err != nil {
			return err
		}
		id, err := entity.Coerce[int64](raw)
		if err != nil || id == 0 {
			continue
		}
		target, err := s.get(ctx, ref.FieldType, id)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		tracker.Disable()
		err = desc.Set(e, ref.Name, target)
		tracker.Enable()
		if err != nil {
			return err
		}
	}

	for _, list := range meta.ListFields {
		if !list.EagerLoad && !included(includes, list.Name) {
			continue
		}
		compiled, err := s.compiler.Compile(
			query.From(list.ItemType).Where(query.Field(list.ReferenceField).Eq(e.EntityBase().ID)))
		if err != nil {
			return err
		}
		members, err := s.materialize(ctx, compiled, false)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := s.linkParent(m, list.ReferenceField, e); err != nil {
				return err
			}
		}
		if err := desc.LoadList(e, list.Name, members); err != nil {
			return err
		}
	}
	return nil
}

// linkParent points an unset back reference of a loaded list member at its owner
func (s *Session) linkParent(member entity.Entity, field string, owner entity.Entity) error {
	desc, err := s.descriptors.For(member)
	if err != nil {
		return err
	}
	current, err := desc.Reference(member, field)
	if err != nil || current != nil {
		return err
	}
	tracker := member.EntityBase().Tracker()
	tracker.Disable()
	defer tracker.Enable()
	return desc.Set(member, field, owner)
}
