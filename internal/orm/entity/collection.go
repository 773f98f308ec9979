package entity

import "github.com/conduit-lang/persist/internal/orm/tracking"

// Collection is the list side of a one-to-many relationship. Membership
// changes are recorded on the owner's tracker once the collection is bound.
type Collection[C Entity] struct {
	owner *Base
	name  string
	items []C
}

// NewCollection creates a collection bound to its owner
func NewCollection[C Entity](owner *Base, name string) Collection[C] {
	return Collection[C]{owner: owner, name: name}
}

// Bind attaches the collection to its owner; an already bound collection is left alone
func (c *Collection[C]) Bind(owner *Base, name string) {
	if c.owner != nil {
		return
	}
	c.owner = owner
	c.name = name
}

// Add appends item and records the change
func (c *Collection[C]) Add(item C) {
	c.items = append(c.items, item)
	if c.owner != nil {
		c.owner.Tracker().AddCollectionChanged(c.name, item, tracking.Added)
	}
}

// Remove drops item and records the change. It returns false if item is not a member.
func (c *Collection[C]) Remove(item C) bool {
	for i, existing := range c.items {
		if Entity(existing) != Entity(item) {
			continue
		}
		c.items = append(c.items[:i], c.items[i+1:]...)
		if c.owner != nil {
			c.owner.Tracker().AddCollectionChanged(c.name, item, tracking.Removed)
		}
		return true
	}
	return false
}

// Load replaces the members without recording changes
func (c *Collection[C]) Load(items []C) {
	c.items = append([]C(nil), items...)
}

// Items returns a copy of the members
func (c *Collection[C]) Items() []C {
	return append([]C(nil), c.items...)
}

// Entities returns the members as entities
func (c *Collection[C]) Entities() []Entity {
	out := make([]Entity, len(c.items))
	for i, item := range c.items {
		out[i] = item
	}
	return out
}

// Len returns the number of members
func (c *Collection[C]) Len() int {
	return len(c.items)
}
