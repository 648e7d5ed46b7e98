package engine

import (
	"sync"
	"time"
)

type hostEntry struct {
	engineName string
	expiresAt  time.Time
}

// HostMemory remembers which engine last succeeded for each host.
// Entries expire after ttl and are dropped lazily on lookup.
type HostMemory struct {
	mu      sync.Mutex
	entries map[string]hostEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewHostMemory creates an empty HostMemory.
func NewHostMemory(ttl time.Duration) *HostMemory {
	return &HostMemory{entries: make(map[string]hostEntry), ttl: ttl, now: time.Now}
}

// Get returns the remembered engine name for host, or "".
func (m *HostMemory) Get(host string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[host]
	if !ok {
		return ""
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, host)
		return ""
	}
	return e.engineName
}

// Set records the engine that succeeded for host.
func (m *HostMemory) Set(host, engineName string) {
	m.mu.Lock()
	m.entries[host] = hostEntry{engineName: engineName, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

// Delete forgets host.
func (m *HostMemory) Delete(host string) {
	m.mu.Lock()
	delete(m.entries, host)
	m.mu.Unlock()
}
