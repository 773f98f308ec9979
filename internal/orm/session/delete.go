package session

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Delete removes e and everything it cascades to on delete. Nothing is
// changed when a listener refuses or a surviving row still references one
// of the entities.
func (s *Session) Delete(ctx context.Context, e entity.Entity) error {
	if s.deletionMode == DeleteNone {
		return nil
	}
	if e.EntityBase().Evicted {
		return &Error{Kind: Evicted, Entity: e.EntityName(), ID: e.EntityBase().ID, Message: "cannot delete an evicted entity"}
	}

	set, err := s.resolver.GetChildEntities(e, schema.CascadeSaveDelete)
	if err != nil {
		return err
	}
	items := set.Items()
	for _, item := range items {
		if _, _, err := s.describe(item); err != nil {
			return err
		}
		if err := s.listeners.ExecuteDelete(ctx, item); err != nil {
			return &Error{Kind: ListenerRejected, Entity: item.EntityName(), ID: item.EntityBase().ID, Err: err}
		}
	}

	violations, err := s.resolveConstraints(ctx, items)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &DeleteError{Entity: e.EntityName(), ID: e.EntityBase().ID, Violations: violations}
	}

	if s.deletionMode == DeleteSoft {
		return s.schedule(ctx, e, set)
	}
	for _, item := range items {
		item.EntityBase().SetDeleted(true)
	}
	return s.hardDelete(ctx, items)
}

// hardDelete removes saved rows children first; transient members are just unscheduled
func (s *Session) hardDelete(ctx context.Context, items []entity.Entity) error {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		b := item.EntityBase()
		s.flushList.Remove(item)
		if b.IsTransient() {
			continue
		}

		meta, _, err := s.describe(item)
		if err != nil {
			return err
		}
		n, err := s.nonQuery(ctx, query.Delete(meta, b.ID, b.Version))
		if err != nil {
			return &DeleteError{Entity: item.EntityName(), ID: b.ID, Err: err}
		}
		if n == 0 {
			return &DeleteError{Entity: item.EntityName(), ID: b.ID, Err: ErrOptimisticLock}
		}
		b.Tracker().Clear()
		s.forget(ctx, item)
	}
	return nil
}

// resolveConstraints finds rows outside the deletion set that still
// reference one of its saved members through a mandatory foreign key
func (s *Session) resolveConstraints(ctx context.Context, items []entity.Entity) ([]string, error) {
	doomed := make(map[identityKey]bool)
	var targets []string
	ids := make(map[string][]interface{})
	for _, item := range items {
		b := item.EntityBase()
		if b.IsTransient() {
			continue
		}
		name := item.EntityName()
		if _, seen := ids[name]; !seen {
			targets = append(targets, name)
		}
		ids[name] = append(ids[name], b.ID)
		doomed[identityKey{name, b.ID}] = true
	}
	if len(targets) == 0 {
		return nil, nil
	}

	graph := schema.NewRelationshipGraph(s.metadata.All())
	var violations []string
	for _, target := range targets {
		for _, ref := range graph.MandatoryReferences(target) {
			found, err := s.referencingRows(ctx, ref, ids[target], doomed)
			if err != nil {
				return nil, err
			}
			violations = append(violations, found...)
		}
	}
	return violations, nil
}

func (s *Session) referencingRows(ctx context.Context, ref schema.Reference, ids []interface{}, doomed map[identityKey]bool) ([]string, error) {
	fk := ref.ForeignKey.Name
	q, err := s.compiler.Compile(query.From(ref.Entity.Name).Where(
		query.Field(fk).In(ids...).And(query.Field(schema.FieldDeleted).Eq(false)),
	))
	if err != nil {
		return nil, err
	}

	rows, err := s.read(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		rawID, _ := rows.Value(schema.FieldID)
		rawFK, _ := rows.Value(fk)
		id := cast.ToInt64(rawID)
		if doomed[identityKey{ref.Entity.Name, id}] {
			continue
		}
		violations = append(violations, fmt.Sprintf("%s #%d references %s #%d through %s",
			ref.Entity.Name, id, ref.Target, cast.ToInt64(rawFK), fk))
	}
	return violations, rows.Err()
}
