package store

import (
	"context"
	"sync"

	"github.com/jpalmerr/pulsesync/internal/stream"
)

// MemoryCursors is an in-memory stream.CursorStore.
type MemoryCursors struct {
	mu      sync.RWMutex
	cursors map[stream.ID]string
}

// NewMemoryCursors creates an empty cursor store.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[stream.ID]string)}
}

// LoadCursor returns the stored cursor for id.
func (m *MemoryCursors) LoadCursor(_ context.Context, id stream.ID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[id]
	return c, ok, nil
}

// SaveCursor stores cursor as the cursor of record for id.
func (m *MemoryCursors) SaveCursor(_ context.Context, id stream.ID, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[id] = cursor
	return nil
}

// Seed stores cursor only if id has none. It reports whether it wrote.
func (m *MemoryCursors) Seed(id stream.ID, cursor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[id]; ok {
		return false
	}
	m.cursors[id] = cursor
	return true
}

// Delete removes the cursor for id.
func (m *MemoryCursors) Delete(id stream.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, id)
}
