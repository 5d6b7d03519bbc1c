package conductor

import (
	"sync"
)

// IdentityMap is a bidirectional lookup between durable session IDs and the
// protocol session IDs assigned by live agent connections. A durable session
// has at most one live protocol ID at a time; binding a new protocol ID
// replaces the old one.
type IdentityMap struct {
	mu         sync.RWMutex
	byDurable  map[string]string
	byProtocol map[string]string
}

// NewIdentityMap creates an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		byDurable:  make(map[string]string),
		byProtocol: make(map[string]string),
	}
}

// Bind associates a durable session ID with its current protocol session ID.
// Any previous protocol ID for the durable session is dropped.
func (m *IdentityMap) Bind(durableID, protocolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byDurable[durableID]; ok {
		delete(m.byProtocol, old)
	}
	m.byDurable[durableID] = protocolID
	m.byProtocol[protocolID] = durableID
}

// DurableFor returns the durable session ID for a protocol session ID.
func (m *IdentityMap) DurableFor(protocolID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProtocol[protocolID]
	return id, ok
}

// ProtocolFor returns the live protocol session ID for a durable session ID.
func (m *IdentityMap) ProtocolFor(durableID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byDurable[durableID]
	return id, ok
}

// Unbind removes the mapping for a durable session ID, if any.
func (m *IdentityMap) Unbind(durableID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byDurable[durableID]; ok {
		delete(m.byProtocol, old)
		delete(m.byDurable, durableID)
	}
}
