// ABOUTME: Thread-safe TTL map binding transport session ids to identities.
// ABOUTME: Instance-local; sessions must stay pinned to the instance that bound them.

package sessmap

import (
	"container/list"
	"sync"
	"time"

	"github.com/mercatae/mercat-gateway/internal/auth"
)

// mapEntry stores the bound identity, its timestamp and list element.
type mapEntry struct {
	identity  *auth.Identity
	timestamp time.Time
	element   *list.Element
}

// Map provides a thread-safe, TTL-based, size-limited binding from session
// ids to authenticated identities. Entries refresh on access so a live
// session never expires mid-conversation; idle sessions age out.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Map struct {
	mu      sync.RWMutex
	bound   map[string]*mapEntry
	order   *list.List // Session ids in binding order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a session map with the specified idle TTL and maximum size.
// A background goroutine periodically cleans up expired bindings.
func New(ttl time.Duration, maxSize int) *Map {
	m := &Map{
		bound:   make(map[string]*mapEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Get returns the identity bound to a session id, refreshing its TTL.
// Returns nil if the session is unknown or its binding expired.
func (m *Map) Get(sessionID string) *auth.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.bound[sessionID]
	if !ok {
		return nil
	}
	if time.Since(entry.timestamp) >= m.ttl {
		m.removeLocked(sessionID, entry)
		return nil
	}

	entry.timestamp = time.Now()
	m.order.MoveToBack(entry.element)
	return entry.identity
}

// Bind records the identity that opened a session. Rebinding an existing
// session id replaces its identity. If the map is at capacity, the oldest
// binding is evicted to make room.
func (m *Map) Bind(sessionID string, identity *auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.bound[sessionID]; exists {
		entry.identity = identity
		entry.timestamp = time.Now()
		m.order.MoveToBack(entry.element)
		return
	}

	if len(m.bound) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(sessionID)
	m.bound[sessionID] = &mapEntry{
		identity:  identity,
		timestamp: time.Now(),
		element:   elem,
	}
}

// Unbind clears a session's binding when the session closes.
func (m *Map) Unbind(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.bound[sessionID]; ok {
		m.removeLocked(sessionID, entry)
	}
}

// Len returns the number of live bindings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bound)
}

// removeLocked deletes a binding. Must be called with mu held.
func (m *Map) removeLocked(sessionID string, entry *mapEntry) {
	m.order.Remove(entry.element)
	delete(m.bound, sessionID)
}

// evictOldest removes the oldest binding from the map.
// Must be called with mu held. O(1) operation using linked list.
func (m *Map) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}

	sessionID, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.bound, sessionID)
}

// cleanup runs in a background goroutine, periodically removing expired bindings.
func (m *Map) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

// runCleanup removes all expired bindings from the map.
func (m *Map) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for sessionID, entry := range m.bound {
		if now.Sub(entry.timestamp) > m.ttl {
			m.order.Remove(entry.element)
			delete(m.bound, sessionID)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *Map) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
}
