package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Updates are sent to subscribers non-blocking; if a subscriber's buffer is
// full, the update is dropped for that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	statuses    map[string]StreamStatus
	subscribers map[chan StreamStatus]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:    make(map[string]StreamStatus),
		subscribers: make(map[chan StreamStatus]struct{}),
	}
}

// Update stores a [StreamStatus] and notifies all subscribers.
func (m *MemoryStore) Update(status StreamStatus) {
	m.mu.Lock()
	m.statuses[status.key()] = status
	m.mu.Unlock()

	m.notifySubscribers(status)
}

// Remove deletes the status of the stream.
func (m *MemoryStore) Remove(kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, statusKey(kind, id))
}

// Get returns the status of the stream.
func (m *MemoryStore) Get(kind, id string) (StreamStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[statusKey(kind, id)]
	return s, ok
}

// GetAll returns a snapshot of all stored statuses, ordered by kind, then
// Order, then ID.
func (m *MemoryStore) GetAll() []StreamStatus {
	m.mu.RLock()
	results := make([]StreamStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		results = append(results, status)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Kind != results[j].Kind {
			return results[i].Kind < results[j].Kind
		}
		if results[i].Order != results[j].Order {
			return results[i].Order < results[j].Order
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan StreamStatus {
	ch := make(chan StreamStatus, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan StreamStatus) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(status StreamStatus) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- status:
		default:
			// subscriber is slow, drop the message
		}
	}
}
