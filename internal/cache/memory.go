package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is an in-process Provider with per-key TTLs. Expired keys are evicted lazily
// on access and by Sweep.
type MemoryProvider struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryProvider creates a cache. A zero ttl on Set falls back to defaultTTL; a
// non-positive defaultTTL means entries never expire. maxEntries <= 0 means unbounded.
func NewMemoryProvider(defaultTTL time.Duration, maxEntries int) *MemoryProvider {
	return &MemoryProvider{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the cached value.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if m.expired(entry) {
		delete(m.entries, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.sweepLocked()
		if len(m.entries) >= m.maxEntries {
			m.evictOldestLocked()
		}
	}
	m.entries[key] = entry
	return nil
}

// Del removes key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryProvider) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Len returns the number of held entries, expired or not.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryProvider) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *MemoryProvider) sweepLocked() int {
	removed := 0
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the entry closest to expiry; entries without a TTL go last.
func (m *MemoryProvider) evictOldestLocked() {
	victim := ""
	var soonest time.Time
	for k, e := range m.entries {
		switch {
		case victim == "":
			victim, soonest = k, e.expiresAt
		case e.expiresAt.IsZero():
		case soonest.IsZero() || e.expiresAt.Before(soonest):
			victim, soonest = k, e.expiresAt
		}
	}
	delete(m.entries, victim)
}
