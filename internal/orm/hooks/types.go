// Package hooks holds the listeners a session consults before saving,
// deleting and committing.
package hooks

import (
	"context"

	"github.com/conduit-lang/persist/internal/orm/entity"
)

// SaveListener is asked before an entity joins the flush list. Returning
// false rejects the save.
type SaveListener interface {
	Save(ctx context.Context, e entity.Entity) bool
}

// DeleteListener is asked before an entity is deleted. Returning false
// rejects the delete.
type DeleteListener interface {
	Delete(ctx context.Context, e entity.Entity) bool
}

// CommitListener runs before the underlying commit; an error aborts it
type CommitListener interface {
	Commit(ctx context.Context) error
}

// SaveFunc adapts a function to SaveListener
type SaveFunc func(ctx context.Context, e entity.Entity) bool

func (f SaveFunc) Save(ctx context.Context, e entity.Entity) bool { return f(ctx, e) }

// DeleteFunc adapts a function to DeleteListener
type DeleteFunc func(ctx context.Context, e entity.Entity) bool

func (f DeleteFunc) Delete(ctx context.Context, e entity.Entity) bool { return f(ctx, e) }

// CommitFunc adapts a function to CommitListener
type CommitFunc func(ctx context.Context) error

func (f CommitFunc) Commit(ctx context.Context) error { return f(ctx) }

// ForEntity restricts a save listener to one entity type
func ForEntity(name string, l SaveListener) SaveListener {
	return SaveFunc(func(ctx context.Context, e entity.Entity) bool {
		if e.EntityName() != name {
			return true
		}
		return l.Save(ctx, e)
	})
}
