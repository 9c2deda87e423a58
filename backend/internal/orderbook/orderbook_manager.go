package orderbook

import (
	"sync"

	"github.com/google/uuid"
)

// Manager hands out one mutex per instrument. Holding it is the in-process half of the
// per-instrument critical section; the store's LockInstrument is the durable half.
type Manager struct {
	mu    sync.RWMutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// GetOrCreateLock returns the mutex for an instrument, creating it on first use.
func (m *Manager) GetOrCreateLock(instrumentID uuid.UUID) *sync.Mutex {
	m.mu.RLock()
	l, exists := m.locks[instrumentID]
	m.mu.RUnlock()
	if exists {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check in case it was created between RUnlock and Lock
	if l, exists = m.locks[instrumentID]; exists {
		return l
	}
	l = &sync.Mutex{}
	m.locks[instrumentID] = l
	return l
}

// With runs fn while holding the instrument's mutex.
func (m *Manager) With(instrumentID uuid.UUID, fn func() error) error {
	l := m.GetOrCreateLock(instrumentID)
	l.Lock()
	defer l.Unlock()
	return fn()
}
