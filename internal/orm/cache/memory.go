package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Cache with TTL expiry
type Memory struct {
	data   sync.Map
	config Config
	cancel context.CancelFunc
}

type memoryItem struct {
	value      []byte
	expiration time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemory creates an in-memory cache and starts its expiry sweeper
func NewMemory(config Config) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{config: config, cancel: cancel}
	go m.sweep(ctx, time.Minute)
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key
	value, ok := m.data.Load(fullKey)
	if !ok {
		return nil, ErrCacheMiss
	}
	item := value.(memoryItem)
	if item.expired(time.Now()) {
		m.data.Delete(fullKey)
		return nil, ErrCacheMiss
	}
	return item.value, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiration = time.Now().Add(ttl)
	}
	m.data.Store(m.config.Prefix+key, item)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Delete(m.config.Prefix + key)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Range(func(key, _ interface{}) bool {
		if strings.HasPrefix(key.(string), m.config.Prefix) {
			m.data.Delete(key)
		}
		return true
	})
	return nil
}

// Len returns the number of live entries
func (m *Memory) Len() int {
	n := 0
	now := time.Now()
	m.data.Range(func(_, value interface{}) bool {
		if !value.(memoryItem).expired(now) {
			n++
		}
		return true
	})
	return n
}

// Close stops the expiry sweeper
func (m *Memory) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Memory) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.data.Range(func(key, value interface{}) bool {
				if value.(memoryItem).expired(now) {
					m.data.Delete(key)
				}
				return true
			})
		}
	}
}
