package storage

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	indexes map[string]map[string][]byte
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indexes: make(map[string]map[string][]byte)}
}

func (m *MemoryIndex) CreateIndex(_ context.Context, name string, _ Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		m.indexes[name] = make(map[string][]byte)
	}
	return nil
}

func (m *MemoryIndex) ExistsIndex(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *MemoryIndex) IndexOrUpdate(_ context.Context, name, key string, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[name]
	if !ok {
		idx = make(map[string][]byte)
		m.indexes[name] = idx
	}
	idx[key] = append([]byte(nil), record...)
	return nil
}

func (m *MemoryIndex) GetByKey(_ context.Context, name, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.indexes[name][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), record...), true, nil
}

func (m *MemoryIndex) UpdateFields(_ context.Context, name, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.indexes[name][key]
	if !ok {
		return fmt.Errorf("patching %s/%s: %w", name, key, ErrNotFound)
	}
	patched, err := patchJSON(record, fields)
	if err != nil {
		return err
	}
	m.indexes[name][key] = patched
	return nil
}

// Len returns the number of records in an index.
func (m *MemoryIndex) Len(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes[name])
}

func (m *MemoryIndex) Close() error { return nil }

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache that honours TTLs lazily on access.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the time source, letting tests expire entries.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return e, false
	}
	return e, true
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return true, nil
}

func (c *MemoryCache) Replace(_ context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return false, nil
	}
	e.value = append([]byte(nil), value...)
	c.entries[key] = e
	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) ScanByPattern(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.entries {
		if _, ok := c.live(k); !ok {
			continue
		}
		matched, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *MemoryCache) Close() error { return nil }
