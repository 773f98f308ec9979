// Package cascade expands an entity into the set of related entities a save
// or delete must also touch, following per-field cascade tiers.
package cascade

import (
	"fmt"

	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Resolver walks entity graphs using metadata and accessor descriptors
type Resolver struct {
	metadata    schema.Resolver
	descriptors *entity.Registry
}

// NewResolver creates a new cascade resolver
func NewResolver(metadata schema.Resolver, descriptors *entity.Registry) *Resolver {
	return &Resolver{
		metadata:    metadata,
		descriptors: descriptors,
	}
}

// GetChildEntities returns e followed by every entity reachable from it through
// reference and list fields cascaded at threshold or above, in pre-order.
// Each entity appears once no matter how many paths lead to it.
func (r *Resolver) GetChildEntities(e entity.Entity, threshold schema.CascadeMode) (*entity.Set, error) {
	result := entity.NewSet()
	if err := r.walk(e, threshold, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Resolver) walk(e entity.Entity, threshold schema.CascadeMode, visited *entity.Set) error {
	if !visited.Add(e) {
		return nil
	}

	meta, err := r.metadata.ForEntity(e)
	if err != nil {
		return err
	}
	desc, err := r.descriptors.For(e)
	if err != nil {
		return err
	}

	for _, field := range meta.References() {
		if field.Cascade < threshold || field.Cascade == schema.CascadeNone {
			continue
		}
		ref, err := desc.Reference(e, field.Name)
		if err != nil {
			return fmt.Errorf("cascading %s.%s: %w", meta.Name, field.Name, err)
		}
		if ref == nil {
			continue
		}
		if err := r.walk(ref, threshold, visited); err != nil {
			return err
		}
	}

	for _, list := range meta.ListFields {
		if list.Cascade < threshold || list.Cascade == schema.CascadeNone {
			continue
		}
		members, err := desc.List(e, list.Name)
		if err != nil {
			return fmt.Errorf("cascading %s.%s: %w", meta.Name, list.Name, err)
		}
		for _, removed := range e.EntityBase().Tracker().Removed(list.Name) {
			if child, ok := removed.(entity.Entity); ok {
				members = append(members, child)
			}
		}
		for _, child := range members {
			if err := r.walk(child, threshold, visited); err != nil {
				return err
			}
		}
	}
	return nil
}
