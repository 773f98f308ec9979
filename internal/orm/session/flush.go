package session

import (
	"context"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// SaveOrUpdate schedules e and everything it cascades to on save
func (s *Session) SaveOrUpdate(ctx context.Context, e entity.Entity) error {
	return s.schedule(ctx, e, nil)
}

// schedule checks the save set of e and runs the save listeners before
// anything changes; only then are the members of deleting marked deleted
// and everything scheduled.
func (s *Session) schedule(ctx context.Context, e entity.Entity, deleting *entity.Set) error {
	if e.EntityBase().Evicted {
		return &Error{Kind: Evicted, Entity: e.EntityName(), ID: e.EntityBase().ID, Message: "cannot save an evicted entity"}
	}

	set, err := s.resolver.GetChildEntities(e, schema.CascadeSave)
	if err != nil {
		return err
	}
	items := set.Items()
	for _, item := range items {
		b := item.EntityBase()
		deleted := b.Deleted || (deleting != nil && deleting.Contains(item))
		if deleted && b.IsTransient() {
			return &Error{Kind: TransientInsert, Entity: item.EntityName(), Message: "cannot insert a deleted entity"}
		}
		if _, _, err := s.describe(item); err != nil {
			return err
		}
	}
	for _, item := range items {
		if err := s.listeners.ExecuteSave(ctx, item); err != nil {
			return &Error{Kind: ListenerRejected, Entity: item.EntityName(), ID: item.EntityBase().ID, Err: err}
		}
	}

	if deleting != nil {
		for _, item := range deleting.Items() {
			item.EntityBase().SetDeleted(true)
		}
	}
	for _, item := range items {
		s.flushList.Add(item)
		s.remember(item)
	}

	if s.flushMode == FlushAlways {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes every scheduled entity: INSERTs in dependency order, then
// UPDATEs of changed columns. The flush list is kept if anything fails.
func (s *Session) Flush(ctx context.Context) error {
	items := s.flushList.Items()
	if len(items) == 0 {
		return nil
	}

	if err := s.validate(items); err != nil {
		return err
	}

	inserted := make(map[entity.Entity]bool)
	for _, e := range insertionOrder(s, items) {
		if err := s.insertEntity(ctx, e); err != nil {
			return err
		}
		inserted[e] = true
	}

	for _, e := range items {
		var (
			stale []string
			err   error
		)
		if inserted[e] {
			// references inserted later in a cycle left stale keys behind
			stale, err = s.syncForeignKeys(e)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				continue
			}
		} else {
			if !e.EntityBase().Tracker().HasChanges() {
				continue
			}
			if _, err := s.syncForeignKeys(e); err != nil {
				return err
			}
		}
		if err := s.updateEntity(ctx, e, stale); err != nil {
			return err
		}
	}

	for _, e := range items {
		e.EntityBase().Tracker().Clear()
		s.cacheRow(ctx, e)
	}
	s.flushList.Clear()
	return nil
}

// validate runs before any statement so an invalid entity leaves the store untouched
func (s *Session) validate(items []entity.Entity) error {
	for _, e := range items {
		b := e.EntityBase()
		if b.Evicted {
			return &Error{Kind: Evicted, Entity: e.EntityName(), ID: b.ID, Message: "evicted entity is still scheduled"}
		}
		if err := e.Validate(); err != nil {
			return &Error{Kind: Validation, Entity: e.EntityName(), ID: b.ID, Err: err}
		}

		meta, desc, err := s.describe(e)
		if err != nil {
			return err
		}
		for _, ref := range meta.References() {
			target, err := desc.Reference(e, ref.Name)
			if err != nil {
				return err
			}
			if target != nil && target.EntityBase().IsTransient() && !s.flushList.Contains(target) {
				return &TransientReferenceError{Entity: e.EntityName(), ID: b.ID, Field: ref.Name, Target: target.EntityName()}
			}
		}
	}
	return nil
}

// insertionOrder returns the transient entities of items with referenced
// transients first. Ties and cycles keep flush-list order.
func insertionOrder(s *Session, items []entity.Entity) []entity.Entity {
	var pending []entity.Entity
	index := make(map[entity.Entity]int)
	for _, e := range items {
		if e.EntityBase().IsTransient() {
			index[e] = len(pending)
			pending = append(pending, e)
		}
	}

	deps := make([][]int, len(pending))
	for i, e := range pending {
		meta, desc, err := s.describe(e)
		if err != nil {
			continue
		}
		for _, ref := range meta.References() {
			target, err := desc.Reference(e, ref.Name)
			if err != nil || target == nil {
				continue
			}
			if j, ok := index[target]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make([]int, len(pending))
	order := make([]entity.Entity, 0, len(pending))
	var visit func(i int)
	visit = func(i int) {
		if marks[i] != unvisited {
			return
		}
		marks[i] = visiting
		for _, j := range deps[i] {
			visit(j)
		}
		marks[i] = done
		order = append(order, pending[i])
	}
	for i := range pending {
		visit(i)
	}
	return order
}

// syncForeignKeys copies the ids of the current references into their
// foreign key columns and returns the columns that changed
func (s *Session) syncForeignKeys(e entity.Entity) ([]string, error) {
	meta, desc, err := s.describe(e)
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, ref := range meta.References() {
		fk, ok := meta.ForeignKeyFor(ref.Name)
		if !ok {
			continue
		}
		target, err := desc.Reference(e, ref.Name)
		if err != nil {
			return nil, err
		}
		if target == nil || target.EntityBase().IsTransient() {
			continue
		}
		current, err := desc.Get(e, fk.Name)
		if err != nil {
			return nil, err
		}
		id := target.EntityBase().ID
		if cast.ToInt64(current) == id {
			continue
		}
		if err := desc.Set(e, fk.Name, id); err != nil {
			return nil, err
		}
		changed = append(changed, fk.Name)
	}
	return changed, nil
}

// columnValues reads every column of e; unset foreign keys are written as NULL
func columnValues(meta *schema.EntityMetadata, desc *entity.Descriptor, e entity.Entity) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(meta.Fields))
	for _, f := range meta.Columns() {
		v, err := desc.Get(e, f.Name)
		if err != nil {
			return nil, err
		}
		if f.IsForeignKey {
			if id, err := cast.ToInt64E(v); err == nil && id == 0 {
				v = nil
			}
		}
		values[f.Name] = v
	}
	return values, nil
}

func (s *Session) insertEntity(ctx context.Context, e entity.Entity) error {
	meta, desc, err := s.describe(e)
	if err != nil {
		return err
	}
	if _, err := s.syncForeignKeys(e); err != nil {
		return err
	}
	values, err := columnValues(meta, desc, e)
	if err != nil {
		return err
	}

	id, err := s.insert(ctx, query.Insert(meta, values))
	if err != nil {
		return &InsertError{Entity: e.EntityName(), Err: err}
	}
	if id == 0 {
		return &InsertError{Entity: e.EntityName(), Err: ErrNoIdentity}
	}
	e.EntityBase().ID = id
	s.remember(e)
	return nil
}

// updateEntity writes the changed columns of e, or only columns when given.
// Version is bumped speculatively and restored if the write fails.
func (s *Session) updateEntity(ctx context.Context, e entity.Entity, columns []string) error {
	meta, desc, err := s.describe(e)
	if err != nil {
		return err
	}
	b := e.EntityBase()

	if columns == nil {
		for _, name := range b.Tracker().GetChangedProperties() {
			if meta.IsList(name) || !b.HasChanged(name) {
				continue
			}
			columns = append(columns, name)
		}
	}
	values, err := columnValues(meta, desc, e)
	if err != nil {
		return err
	}

	previous := b.Version
	q := query.Update(meta, b.ID, previous, columns, values)
	if q == nil {
		return nil
	}
	b.Version++

	n, err := s.nonQuery(ctx, q)
	if err != nil {
		b.Version = previous
		return &UpdateError{Entity: e.EntityName(), ID: b.ID, Version: previous, Err: err}
	}
	if n == 0 {
		b.Version = previous
		return &UpdateError{Entity: e.EntityName(), ID: b.ID, Version: previous, Err: ErrOptimisticLock}
	}
	return nil
}

// cacheRow refreshes the row cache after a write; deleted rows are purged.
// Inside a transaction the row is staged until Commit.
func (s *Session) cacheRow(ctx context.Context, e entity.Entity) {
	b := e.EntityBase()
	if b.Deleted {
		s.forget(ctx, e)
		return
	}
	if s.rows == nil {
		return
	}
	meta, desc, err := s.describe(e)
	if err != nil {
		return
	}
	row := make(cache.Row, len(meta.Fields))
	for _, f := range meta.Columns() {
		v, err := desc.Get(e, f.Name)
		if err != nil {
			return
		}
		row[f.Name] = v
	}
	if s.state == InTransaction {
		s.staged = append(s.staged, stagedRow{entityType: e.EntityName(), id: b.ID, row: row})
		return
	}
	s.putRow(ctx, e.EntityName(), b.ID, row)
}

func (s *Session) putRow(ctx context.Context, entityType string, id int64, row cache.Row) {
	if err := s.rows.Put(ctx, entityType, id, row); err != nil {
		s.logger.Warn("row cache put failed",
			zap.String("entity", entityType), zap.Int64("id", id), zap.Error(err))
	}
}

// publishRows applies the staged row cache writes of a committed transaction
func (s *Session) publishRows(ctx context.Context) {
	staged := s.staged
	s.discardRows()
	if s.rows == nil {
		return
	}
	for _, sr := range staged {
		if sr.row == nil {
			if err := s.rows.Remove(ctx, sr.entityType, sr.id); err != nil {
				s.logger.Warn("row cache remove failed",
					zap.String("entity", sr.entityType), zap.Int64("id", sr.id), zap.Error(err))
			}
			continue
		}
		s.putRow(ctx, sr.entityType, sr.id, sr.row)
	}
}

func (s *Session) discardRows() {
	s.staged = nil
	s.marks = nil
}
