package session

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a session error
type Kind int

const (
	// TransactionState is transaction control used in the wrong state
	TransactionState Kind = iota + 1
	// ListenerRejected is a save, delete or commit listener refusing the operation
	ListenerRejected
	// TransientInsert is an attempt to insert an entity that is already deleted
	TransientInsert
	// Evicted is an operation on an evicted entity
	Evicted
	// Validation is an entity failing its own validation on flush
	Validation
	// Cardinality is a query returning an unexpected number of rows
	Cardinality
)

func (k Kind) String() string {
	switch k {
	case TransactionState:
		return "transaction state"
	case ListenerRejected:
		return "listener rejected"
	case TransientInsert:
		return "transient insert"
	case Evicted:
		return "evicted"
	case Validation:
		return "validation"
	case Cardinality:
		return "cardinality"
	default:
		return "unknown"
	}
}

var (
	// ErrTransactionState matches every TransactionState error
	ErrTransactionState = &Error{Kind: TransactionState}
	// ErrListenerRejected matches every ListenerRejected error
	ErrListenerRejected = &Error{Kind: ListenerRejected}
	// ErrTransientInsert matches every TransientInsert error
	ErrTransientInsert = &Error{Kind: TransientInsert}
	// ErrEvicted matches every Evicted error
	ErrEvicted = &Error{Kind: Evicted}
	// ErrValidation matches every Validation error
	ErrValidation = &Error{Kind: Validation}
	// ErrCardinality matches every Cardinality error
	ErrCardinality = &Error{Kind: Cardinality}

	// ErrOptimisticLock is returned when an UPDATE or DELETE matched no row
	// at the expected version
	ErrOptimisticLock = errors.New("row was modified or deleted by another session")

	// ErrNoIdentity is returned when an INSERT did not yield an id
	ErrNoIdentity = errors.New("insert returned no identity")
)

// Error is the base session error
type Error struct {
	Kind    Kind
	Entity  string
	ID      int64
	Message string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Entity != "" {
		fmt.Fprintf(&sb, ": %s #%d", e.Entity, e.ID)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* kind values work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// InsertError wraps the failure of one INSERT
type InsertError struct {
	Entity string
	Err    error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("failed to insert %s: %v", e.Entity, e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}

// UpdateError wraps the failure of one UPDATE
type UpdateError struct {
	Entity  string
	ID      int64
	Version int
	Err     error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update %s #%d at version %d: %v", e.Entity, e.ID, e.Version, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// DeleteError is a failed DELETE or a delete refused by dependent rows
type DeleteError struct {
	Entity     string
	ID         int64
	Violations []string
	Err        error
}

func (e *DeleteError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("cannot delete %s #%d: %s", e.Entity, e.ID, strings.Join(e.Violations, "; "))
	}
	return fmt.Sprintf("failed to delete %s #%d: %v", e.Entity, e.ID, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

// TransientReferenceError is raised when a flushed entity references an
// unsaved entity that is not scheduled in the same flush
type TransientReferenceError struct {
	Entity string
	ID     int64
	Field  string
	Target string
}

func (e *TransientReferenceError) Error() string {
	return fmt.Sprintf("%s #%d references an unsaved %s through %s; save it first",
		e.Entity, e.ID, e.Target, e.Field)
}
