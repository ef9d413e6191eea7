package storage

import "github.com/govatlas/core/pkg/trace"

// Null discards every event. Useful when an embedder wants resolution/
// execution without any trace persistence (events still exist in the
// collector's in-memory session log; only the storage-backend side is a
// no-op).
type Null struct{}

// NewNull constructs a Null store.
func NewNull() *Null { return &Null{} }

func (Null) StoreEvent(trace.Event) error { return nil }

func (Null) GetEvents(string) ([]trace.Event, error) { return nil, nil }

func (Null) GetEventsByType(string, trace.EventType) ([]trace.Event, error) { return nil, nil }

func (Null) GetLastEvents(string, int) ([]trace.Event, error) { return nil, nil }

func (Null) GetEventCount(string) (int, error) { return 0, nil }

func (Null) DeleteSession(string) error { return nil }

func (Null) HealthCheck() error { return nil }

func (Null) Name() string { return "null" }
