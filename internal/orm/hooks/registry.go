package hooks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/orm/entity"
)

// ErrRejected is wrapped by every listener rejection
var ErrRejected = errors.New("rejected by listener")

// Registry holds the listeners of a session in registration order
type Registry struct {
	save   []SaveListener
	delete []DeleteListener
	commit []CommitListener
	after  []AsyncTask
	queue  *AsyncQueue
	logger *zap.Logger
}

// NewRegistry creates an empty registry. queue may be nil when no
// after-commit tasks are registered.
func NewRegistry(queue *AsyncQueue, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{queue: queue, logger: logger}
}

// OnSave registers save listeners
func (r *Registry) OnSave(ls ...SaveListener) *Registry {
	r.save = append(r.save, ls...)
	return r
}

// OnDelete registers delete listeners
func (r *Registry) OnDelete(ls ...DeleteListener) *Registry {
	r.delete = append(r.delete, ls...)
	return r
}

// OnCommit registers commit listeners
func (r *Registry) OnCommit(ls ...CommitListener) *Registry {
	r.commit = append(r.commit, ls...)
	return r
}

// AfterCommit registers a task queued on the async queue once a commit succeeded
func (r *Registry) AfterCommit(name string, fn func(ctx context.Context) error) *Registry {
	r.after = append(r.after, AsyncTask{Name: name, Fn: fn})
	return r
}

// ExecuteSave asks every save listener in order; the first rejection stops
func (r *Registry) ExecuteSave(ctx context.Context, e entity.Entity) error {
	if r == nil {
		return nil
	}
	for i, l := range r.save {
		if !l.Save(ctx, e) {
			return fmt.Errorf("%w: save listener %d refused %s #%d", ErrRejected, i, e.EntityName(), e.EntityBase().ID)
		}
	}
	return nil
}

// ExecuteDelete asks every delete listener in order; the first rejection stops
func (r *Registry) ExecuteDelete(ctx context.Context, e entity.Entity) error {
	if r == nil {
		return nil
	}
	for i, l := range r.delete {
		if !l.Delete(ctx, e) {
			return fmt.Errorf("%w: delete listener %d refused %s #%d", ErrRejected, i, e.EntityName(), e.EntityBase().ID)
		}
	}
	return nil
}

// ExecuteCommit runs the commit listeners; the first error stops
func (r *Registry) ExecuteCommit(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for i, l := range r.commit {
		if err := l.Commit(ctx); err != nil {
			return fmt.Errorf("commit listener %d failed: %w", i, err)
		}
	}
	return nil
}

// Committed enqueues the after-commit tasks. Tasks never fail the commit;
// enqueue errors are logged.
func (r *Registry) Committed() {
	if r == nil || len(r.after) == 0 {
		return
	}
	if r.queue == nil {
		r.logger.Warn("after-commit tasks registered without an async queue", zap.Int("tasks", len(r.after)))
		return
	}
	for _, task := range r.after {
		if err := r.queue.Enqueue(task); err != nil {
			r.logger.Error("failed to enqueue after-commit task", zap.String("task", task.Name), zap.Error(err))
		}
	}
}

// HasListeners reports whether any listener or task is registered
func (r *Registry) HasListeners() bool {
	return r != nil && len(r.save)+len(r.delete)+len(r.commit)+len(r.after) > 0
}
