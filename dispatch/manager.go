package dispatch

import (
	"container/list"

	"github.com/opd-ai/simsync/wire"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is used when a Manager is created with a non-positive
// capacity.
const DefaultCapacity = 1024

// Stats are cumulative Manager counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Discoveries uint64
	Evictions   uint64
	Stale       uint64
	Unhandled   uint64
}

// Observer receives dispatch events, e.g. to feed metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvicted()
	Unhandled()
}

type cacheKey struct {
	target  TargetID
	msgType wire.MessageType
}

type cacheEntry struct {
	key        cacheKey
	handler    HandlerFunc
	generation uint64
}

// Manager dispatches messages to targets through a bounded LRU binding cache.
// It is not safe for concurrent use.
type Manager struct {
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List // front is most recently used
	stats    Stats
	observer Observer
}

// NewManager creates a manager whose cache holds at most capacity bindings.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// SetObserver installs an event observer. Nil removes it.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Capacity returns the maximum number of cached bindings.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Len returns the number of cached bindings.
func (m *Manager) Len() int {
	return m.order.Len()
}

// Stats returns a snapshot of the cumulative counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// Dispatch invokes the handler target has for msg.Type. A cached binding is
// used when its generation matches the target's; otherwise the handler is
// discovered through LookupHandler and cached, evicting the least recently
// used binding when the cache is full. Dispatch reports false when target
// has no handler for the message type.
func (m *Manager) Dispatch(target Target, msg *wire.Message) bool {
	if target == nil {
		m.noteUnhandled()
		return false
	}

	key := cacheKey{target: target.TargetID(), msgType: msg.Type}
	gen := target.Generation()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		if entry.generation == gen {
			m.stats.Hits++
			if m.observer != nil {
				m.observer.CacheHit()
			}
			m.order.MoveToFront(el)
			entry.handler(msg)
			return true
		}
		m.stats.Stale++
		m.removeElement(el)
	}

	m.stats.Misses++
	if m.observer != nil {
		m.observer.CacheMiss()
	}

	handler, ok := m.discover(target, msg.Type)
	if !ok {
		m.noteUnhandled()
		return false
	}

	m.insert(key, handler, gen)
	handler(msg)
	return true
}

func (m *Manager) discover(target Target, msgType wire.MessageType) (HandlerFunc, bool) {
	m.stats.Discoveries++
	handler, ok := target.LookupHandler(msgType)
	if !ok || handler == nil {
		return nil, false
	}
	return handler, true
}

func (m *Manager) insert(key cacheKey, handler HandlerFunc, gen uint64) {
	for m.order.Len() >= m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeElement(oldest)
		m.stats.Evictions++
		if m.observer != nil {
			m.observer.CacheEvicted()
		}
	}

	el := m.order.PushFront(&cacheEntry{key: key, handler: handler, generation: gen})
	m.entries[key] = el
}

func (m *Manager) removeElement(el *list.Element) {
	entry := m.order.Remove(el).(*cacheEntry)
	delete(m.entries, entry.key)
}

func (m *Manager) noteUnhandled() {
	m.stats.Unhandled++
	if m.observer != nil {
		m.observer.Unhandled()
	}
}

// InvalidateCache drops every cached binding.
func (m *Manager) InvalidateCache() {
	if m.order.Len() == 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.InvalidateCache",
		"entries":  m.order.Len(),
	}).Debug("Invalidating dispatch cache")

	m.entries = make(map[cacheKey]*list.Element, m.capacity)
	m.order.Init()
}

// InvalidateTarget drops the cached bindings of one target.
func (m *Manager) InvalidateTarget(id TargetID) int {
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).key.target == id {
			m.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Cached reports whether a binding for (id, msgType) is cached. The binding
// may still be stale.
func (m *Manager) Cached(id TargetID, msgType wire.MessageType) bool {
	_, ok := m.entries[cacheKey{target: id, msgType: msgType}]
	return ok
}
