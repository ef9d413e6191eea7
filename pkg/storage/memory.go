// Package storage provides reference implementations of the trace.Storage
// port (§6): in-memory, append-only JSONL-file, and null. Persistent
// backends (SQLite/Postgres/Redis) live outside this package entirely, per
// §6 — see backends/sqlitestore for the one representative example this
// repository carries.
//
// Grounded on core/pkg/registry/pack_registry.go's in-memory map+mutex
// indexing idiom (for Memory) and core/pkg/tape/manifest.go's JSON
// file read/write idiom (for JSONLFile).
package storage

import (
	"sync"

	"github.com/govatlas/core/pkg/trace"
)

// Memory is an in-memory trace.Storage implementation. Events are never
// persisted across process restarts; suitable for tests and for embedders
// who only need in-process replay.
type Memory struct {
	mu       sync.RWMutex
	bySessID map[string][]trace.Event
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{bySessID: make(map[string][]trace.Event)}
}

func (m *Memory) StoreEvent(event trace.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySessID[event.SessionID] = append(m.bySessID[event.SessionID], event)
	return nil
}

func (m *Memory) GetEvents(sessionID string) ([]trace.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.bySessID[sessionID]
	out := make([]trace.Event, len(events))
	copy(out, events)
	return out, nil
}

func (m *Memory) GetEventsByType(sessionID string, eventType trace.EventType) ([]trace.Event, error) {
	all, err := m.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	var out []trace.Event
	for _, e := range all {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) GetLastEvents(sessionID string, n int) ([]trace.Event, error) {
	all, err := m.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	if n >= len(all) || n < 0 {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (m *Memory) GetEventCount(sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySessID[sessionID]), nil
}

func (m *Memory) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySessID, sessionID)
	return nil
}

func (m *Memory) HealthCheck() error { return nil }

func (m *Memory) Name() string { return "memory" }
