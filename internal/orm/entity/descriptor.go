package entity

import (
	"fmt"
	"sync"

	"github.com/conduit-lang/persist/internal/orm/schema"
)

// FieldAccess reads and writes one scalar or reference field
type FieldAccess struct {
	Get func(Entity) interface{}
	Set func(Entity, interface{}) error
}

// ListAccess reads one list field and replaces its members when loading
type ListAccess struct {
	Get  func(Entity) []Entity
	Load func(Entity, []Entity) error
}

// Descriptor is the accessor table of one entity type
type Descriptor struct {
	Name   string
	New    func() Entity
	Fields map[string]FieldAccess
	Lists  map[string]ListAccess
}

// Get reads a field value; base fields are served from Base
func (d *Descriptor) Get(e Entity, field string) (interface{}, error) {
	b := e.EntityBase()
	switch field {
	case schema.FieldID:
		return b.ID, nil
	case schema.FieldVersion:
		return b.Version, nil
	case schema.FieldDeleted:
		return b.Deleted, nil
	}

	access, ok := d.Fields[field]
	if !ok || access.Get == nil {
		return nil, fmt.Errorf("%s has no accessor for field %s", d.Name, field)
	}
	return access.Get(e), nil
}

// Set writes a field value, coercing driver values to the field's Go type
func (d *Descriptor) Set(e Entity, field string, value interface{}) error {
	b := e.EntityBase()
	switch field {
	case schema.FieldID:
		id, err := Coerce[int64](value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", d.Name, field, err)
		}
		b.ID = id
		return nil
	case schema.FieldVersion:
		version, err := Coerce[int](value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", d.Name, field, err)
		}
		b.Version = version
		return nil
	case schema.FieldDeleted:
		deleted, err := Coerce[bool](value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", d.Name, field, err)
		}
		b.SetDeleted(deleted)
		return nil
	}

	access, ok := d.Fields[field]
	if !ok || access.Set == nil {
		return fmt.Errorf("%s has no accessor for field %s", d.Name, field)
	}
	if err := access.Set(e, value); err != nil {
		return fmt.Errorf("%s.%s: %w", d.Name, field, err)
	}
	return nil
}

// Reference reads a reference field; a nil reference returns (nil, nil)
func (d *Descriptor) Reference(e Entity, field string) (Entity, error) {
	v, err := d.Get(e, field)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	ref, ok := v.(Entity)
	if !ok {
		return nil, fmt.Errorf("%s.%s is not an entity reference", d.Name, field)
	}
	if isNilEntity(ref) {
		return nil, nil
	}
	return ref, nil
}

// List reads the current members of a list field
func (d *Descriptor) List(e Entity, field string) ([]Entity, error) {
	access, ok := d.Lists[field]
	if !ok || access.Get == nil {
		return nil, fmt.Errorf("%s has no accessor for list %s", d.Name, field)
	}
	return access.Get(e), nil
}

// LoadList replaces the members of a list field without recording changes
func (d *Descriptor) LoadList(e Entity, field string, items []Entity) error {
	access, ok := d.Lists[field]
	if !ok || access.Load == nil {
		return fmt.Errorf("%s has no loader for list %s", d.Name, field)
	}
	return access.Load(e, items)
}

// Registry maps entity names to their descriptors
type Registry struct {
	descriptors map[string]*Descriptor
	mu          sync.RWMutex
}

// NewRegistry creates an empty descriptor registry
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("descriptor must have a name")
	}
	if d.New == nil {
		return fmt.Errorf("descriptor %s has no constructor", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("descriptor %s is already registered", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// MustRegister registers all descriptors and panics on the first error
func (r *Registry) MustRegister(ds ...*Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves a descriptor by entity name
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[name]
	return d, ok
}

// For retrieves the descriptor of an entity instance
func (r *Registry) For(e Entity) (*Descriptor, error) {
	d, ok := r.Get(e.EntityName())
	if !ok {
		return nil, fmt.Errorf("no descriptor registered for %s", e.EntityName())
	}
	return d, nil
}

// New creates a fresh instance of the named entity type
func (r *Registry) New(name string) (Entity, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("no descriptor registered for %s", name)
	}
	return d.New(), nil
}
