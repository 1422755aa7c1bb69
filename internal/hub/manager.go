// Package hub tracks live module connections and applies the frames they
// send to the store.
package hub

import "sync"

// Conn is the send half of a live module connection. The WebSocket bridge
// provides the implementation.
type Conn interface {
	SendJSON(payload map[string]any) error
}

// Manager tracks the active connection for each module so control commands
// can be routed to it.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewManager creates an empty connection manager.
func NewManager() *Manager {
	return &Manager{conns: make(map[string]Conn)}
}

// Register associates a connection with a module, replacing any previous
// connection for the same module.
func (m *Manager) Register(moduleID string, conn Conn) {
	if moduleID == "" || conn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[moduleID] = conn
}

// Unregister drops the module's connection if conn is still the registered
// one. A stale connection closing must not evict its replacement.
func (m *Manager) Unregister(moduleID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.conns[moduleID]; ok && current == conn {
		delete(m.conns, moduleID)
	}
}

// IsConnected reports whether the module has a live connection.
func (m *Manager) IsConnected(moduleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[moduleID]
	return ok
}

// Send delivers a payload to the module's connection. It returns false when
// the module is not connected or the write fails.
func (m *Manager) Send(moduleID string, payload map[string]any) bool {
	m.mu.RLock()
	conn, ok := m.conns[moduleID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.SendJSON(payload) == nil
}
