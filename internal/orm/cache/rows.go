package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func init() {
	// column values travel as interface{} and need their concrete types registered
	gob.Register(time.Time{})
	gob.Register(uuid.UUID{})
}

// Row is one hydrated entity row keyed by column name
type Row map[string]interface{}

// Value returns a column value; ok is false for NULL or absent columns
func (r Row) Value(column string) (interface{}, bool) {
	v, ok := r[column]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// RowStore caches entity rows on a Cache backend
type RowStore struct {
	backend Cache
	ttl     time.Duration
}

// NewRowStore wraps a backend; a zero ttl uses the backend default
func NewRowStore(backend Cache, ttl time.Duration) *RowStore {
	return &RowStore{backend: backend, ttl: ttl}
}

// Get returns the cached row of (entityType, id) or ErrCacheMiss
func (s *RowStore) Get(ctx context.Context, entityType string, id int64) (Row, error) {
	data, err := s.backend.Get(ctx, Key(entityType, id))
	if err != nil {
		return nil, err
	}
	var row Row
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s: %w", Key(entityType, id), err)
	}
	return row, nil
}

// Put stores the row of (entityType, id)
func (s *RowStore) Put(ctx context.Context, entityType string, id int64, row Row) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(row); err != nil {
		return fmt.Errorf("failed to encode %s: %w", Key(entityType, id), err)
	}
	return s.backend.Set(ctx, Key(entityType, id), buf.Bytes(), s.ttl)
}

// Remove drops the row of (entityType, id)
func (s *RowStore) Remove(ctx context.Context, entityType string, id int64) error {
	return s.backend.Delete(ctx, Key(entityType, id))
}

// Clear drops every cached row
func (s *RowStore) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// Close closes the backend
func (s *RowStore) Close() error {
	return s.backend.Close()
}
