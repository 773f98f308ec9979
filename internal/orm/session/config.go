package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/hooks"
	"github.com/conduit-lang/persist/internal/orm/query"
)

// FlushMode decides when pending changes are written automatically
type FlushMode int

const (
	// FlushManual writes only on an explicit Flush
	FlushManual FlushMode = iota
	// FlushCommit also writes before Commit
	FlushCommit
	// FlushIntelligent also writes before every query
	FlushIntelligent
	// FlushAlways writes on every SaveOrUpdate and before every query
	FlushAlways
)

func (m FlushMode) String() string {
	switch m {
	case FlushManual:
		return "manual"
	case FlushCommit:
		return "commit"
	case FlushIntelligent:
		return "intelligent"
	case FlushAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseFlushMode parses a flush mode name
func ParseFlushMode(s string) (FlushMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return FlushManual, nil
	case "commit":
		return FlushCommit, nil
	case "intelligent":
		return FlushIntelligent, nil
	case "always":
		return FlushAlways, nil
	}
	return FlushManual, fmt.Errorf("unknown flush mode: %s", s)
}

// DeletionMode decides what Delete does
type DeletionMode int

const (
	// DeleteNone ignores Delete
	DeleteNone DeletionMode = iota
	// DeleteSoft sets Deleted and saves the entity
	DeleteSoft
	// DeleteHard removes the row
	DeleteHard
)

func (m DeletionMode) String() string {
	switch m {
	case DeleteNone:
		return "none"
	case DeleteSoft:
		return "soft"
	case DeleteHard:
		return "hard"
	default:
		return "unknown"
	}
}

// ParseDeletionMode parses a deletion mode name
func ParseDeletionMode(s string) (DeletionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return DeleteNone, nil
	case "", "soft":
		return DeleteSoft, nil
	case "hard":
		return DeleteHard, nil
	}
	return DeleteNone, fmt.Errorf("unknown deletion mode: %s", s)
}

// Config holds the optional collaborators and policies of a session
type Config struct {
	// Logger receives statement logs; nil disables logging
	Logger *zap.Logger
	// ID identifies the session in logs; a zero value generates one
	ID uuid.UUID

	FlushMode     FlushMode
	DeletionMode  DeletionMode
	IdentityCache bool

	// Cache is the optional second-level row cache
	Cache *cache.RowStore
	// Listeners may be nil
	Listeners *hooks.Registry
	// Dialect defaults to the connection's dialect, then to SQL Server
	Dialect query.Dialect
}

// DefaultConfig returns soft deletes, commit flushing and an identity cache
func DefaultConfig() Config {
	return Config{
		FlushMode:     FlushCommit,
		DeletionMode:  DeleteSoft,
		IdentityCache: true,
	}
}
