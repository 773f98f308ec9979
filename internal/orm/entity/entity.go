// Package entity defines the contract persisted types implement and the
// typed accessor table the session uses to read and write their fields.
package entity

import (
	"github.com/conduit-lang/persist/internal/orm/schema"
	"github.com/conduit-lang/persist/internal/orm/tracking"
)

// Entity is implemented by every persisted type, usually by embedding Base
type Entity interface {
	EntityName() string
	EntityBase() *Base
	Validate() error
}

// Base carries the identity, concurrency token and lifecycle flags of an entity
type Base struct {
	ID      int64
	Version int
	Deleted bool
	Evicted bool

	meta    *schema.EntityMetadata
	tracker *tracking.ChangeTracker
}

// EntityBase returns b itself so embedding types satisfy Entity
func (b *Base) EntityBase() *Base {
	return b
}

// IsTransient returns true if the entity has no persisted identity
func (b *Base) IsTransient() bool {
	return b.ID == 0
}

// Metadata returns the metadata the entity is attached to, or nil
func (b *Base) Metadata() *schema.EntityMetadata {
	return b.meta
}

// Attach binds the entity to its metadata so the tracker can tell
// foreign keys and lists from plain scalars
func (b *Base) Attach(meta *schema.EntityMetadata) {
	b.meta = meta
}

// Tracker returns the change tracker, creating it on first use
func (b *Base) Tracker() *tracking.ChangeTracker {
	if b.tracker == nil {
		b.tracker = tracking.NewChangeTracker(b)
	}
	return b.tracker
}

// PropertyKind implements tracking.Subject
func (b *Base) PropertyKind(property string) tracking.PropertyKind {
	if b.meta == nil {
		return tracking.KindScalar
	}
	if b.meta.IsList(property) {
		return tracking.KindList
	}
	if f, ok := b.meta.Field(property); ok && f.IsForeignKey {
		return tracking.KindForeignKey
	}
	return tracking.KindScalar
}

// Track records a property change; setters call it before assigning
func (b *Base) Track(property string, oldValue, newValue interface{}) {
	b.Tracker().AddPropertyChanged(property, oldValue, newValue)
}

// SetDeleted marks the entity deleted and records the change
func (b *Base) SetDeleted(deleted bool) {
	if b.Deleted == deleted {
		return
	}
	b.Track(schema.FieldDeleted, b.Deleted, deleted)
	b.Deleted = deleted
}

// HasChanged reports whether the named property must be written on flush
func (b *Base) HasChanged(property string) bool {
	return b.Tracker().HasChanged(property)
}

// Validate is the default no-op validation
func (b *Base) Validate() error {
	return nil
}
