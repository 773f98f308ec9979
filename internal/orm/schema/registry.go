package schema

import (
	"fmt"
	"sync"
)

// Named is implemented by anything that can name its entity type
type Named interface {
	EntityName() string
}

// Resolver resolves entity metadata by type name or instance
type Resolver interface {
	Get(name string) (*EntityMetadata, bool)
	ForEntity(e Named) (*EntityMetadata, error)
	All() []*EntityMetadata
}

// Registry manages all entity metadata of an application
type Registry struct {
	schemas map[string]*EntityMetadata
	order   []string
	mu      sync.RWMutex
}

// NewRegistry creates a new metadata registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*EntityMetadata),
	}
}

// Register registers entity metadata after structural validation.
// Cross-entity references are checked by ValidateAll to allow forward references.
func (r *Registry) Register(meta *EntityMetadata) error {
	if err := ValidateStructural(meta); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", meta.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[meta.Name]; exists {
		return fmt.Errorf("entity %s is already registered", meta.Name)
	}
	r.schemas[meta.Name] = meta
	r.order = append(r.order, meta.Name)
	return nil
}

// MustRegister registers all given metadata and panics on the first error
func (r *Registry) MustRegister(metas ...*EntityMetadata) *Registry {
	for _, m := range metas {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves entity metadata by name
func (r *Registry) Get(name string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.schemas[name]
	return meta, exists
}

// ForEntity retrieves the metadata of an entity instance
func (r *Registry) ForEntity(e Named) (*EntityMetadata, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot resolve metadata of nil entity")
	}
	meta, ok := r.Get(e.EntityName())
	if !ok {
		return nil, fmt.Errorf("entity %s is not registered", e.EntityName())
	}
	return meta, nil
}

// All returns every registered metadata in registration order
func (r *Registry) All() []*EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*EntityMetadata, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.schemas[name])
	}
	return result
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// ValidateAll performs cross-entity validation on all registered metadata
func (r *Registry) ValidateAll() error {
	return ValidateReferences(r.All())
}

// DependencyOrder returns entity names with referenced entities first
func (r *Registry) DependencyOrder() ([]string, error) {
	return NewRelationshipGraph(r.All()).TopologicalSort()
}

// Referencing returns every mandatory foreign key in the registry that
// points at the target entity type
func (r *Registry) Referencing(target string) []Reference {
	return NewRelationshipGraph(r.All()).MandatoryReferences(target)
}
