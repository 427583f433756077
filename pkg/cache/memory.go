package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process LRU cache with a TTL
type Memory struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	items  map[string]*entry
	lru    *list.List
	hits   uint64
	misses uint64
}

type entry struct {
	key     string
	value   []byte
	stored  time.Time
	element *list.Element
}

// NewMemory creates a memory cache. A capacity of 0 or less means unbounded.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*entry),
		lru:      list.New(),
	}
}

// Get returns a fresh entry and marks it recently used
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false
	}
	if m.now().Sub(e.stored) > m.ttl {
		m.removeLocked(key)
		m.misses++
		return nil, false
	}

	m.lru.MoveToFront(e.element)
	m.hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full
func (m *Memory) Set(_ context.Context, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[key]; ok {
		e.value = value
		e.stored = m.now()
		m.lru.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: value, stored: m.now()}
	e.element = m.lru.PushFront(e)
	m.items[key] = e

	if m.capacity > 0 && m.lru.Len() > m.capacity {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeLocked(oldest.Value.(*entry).key)
		}
	}
}

// removeLocked removes an entry (must hold lock)
func (m *Memory) removeLocked(key string) {
	if e, ok := m.items[key]; ok {
		m.lru.Remove(e.element)
		delete(m.items, key)
	}
}

// Clear removes all entries, or those whose key contains pattern
func (m *Memory) Clear(_ context.Context, pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == "" {
		n := len(m.items)
		m.items = make(map[string]*entry)
		m.lru = list.New()
		return n
	}

	n := 0
	for key := range m.items {
		if strings.Contains(key, pattern) {
			m.removeLocked(key)
			n++
		}
	}
	return n
}

// Stats returns cache statistics
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for _, e := range m.items {
		if m.now().Sub(e.stored) > m.ttl {
			expired++
		}
	}
	return Stats{
		Size:     len(m.items),
		Capacity: m.capacity,
		Expired:  expired,
		Hits:     m.hits,
		Misses:   m.misses,
	}
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
