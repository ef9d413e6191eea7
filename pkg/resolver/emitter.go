package resolver

import (
	"time"

	"github.com/govatlas/core/pkg/trace"
)

// Emitter unifies the immediate/deferred collector and the buffered
// collector behind one signature set, so the rest of the resolver does not
// need to branch on trace mode (§9: "the core exposes synchronous
// operations; the buffered collector is the only concurrency primitive").
//
// Session lifecycle, flush, and read operations always go straight to the
// underlying trace.Collector, even in buffered mode — only the high-volume
// Emit path is routed through the non-blocking queue.
type Emitter interface {
	OpenSession(agentID, goal string) (string, error)
	EndSession(sessionID, reason string) error
	Emit(sessionID string, eventType trace.EventType, payload map[string]any) error
	Flush(sessionID string) error
	GetEvents(sessionID string, filter *trace.Filter) ([]trace.Event, error)
	Session(sessionID string) (trace.Session, error)
	IdleSessions(cutoff time.Time) []string
}

// immediateEmitter adapts a *trace.Collector running in immediate or
// deferred mode.
type immediateEmitter struct {
	c *trace.Collector
}

// NewEmitter wraps c as an Emitter for immediate or deferred trace mode.
func NewEmitter(c *trace.Collector) Emitter { return immediateEmitter{c: c} }

func (e immediateEmitter) OpenSession(agentID, goal string) (string, error) {
	return e.c.OpenSession(agentID, goal)
}

func (e immediateEmitter) EndSession(sessionID, reason string) error {
	return e.c.EndSession(sessionID, reason)
}

func (e immediateEmitter) Emit(sessionID string, eventType trace.EventType, payload map[string]any) error {
	_, err := e.c.Emit(sessionID, eventType, payload)
	return err
}

func (e immediateEmitter) Flush(sessionID string) error { return e.c.Flush(sessionID) }

func (e immediateEmitter) GetEvents(sessionID string, filter *trace.Filter) ([]trace.Event, error) {
	return e.c.GetEvents(sessionID, filter)
}

func (e immediateEmitter) Session(sessionID string) (trace.Session, error) {
	return e.c.Session(sessionID)
}

func (e immediateEmitter) IdleSessions(cutoff time.Time) []string { return e.c.IdleSessions(cutoff) }

// bufferedEmitter adapts a *trace.BufferedCollector: Emit is routed through
// the non-blocking Record path, everything else delegates to the wrapped
// collector directly.
type bufferedEmitter struct {
	b *trace.BufferedCollector
}

// NewBufferedEmitter wraps b as an Emitter for buffered trace mode.
func NewBufferedEmitter(b *trace.BufferedCollector) Emitter { return bufferedEmitter{b: b} }

func (e bufferedEmitter) OpenSession(agentID, goal string) (string, error) {
	return e.b.Inner().OpenSession(agentID, goal)
}

func (e bufferedEmitter) EndSession(sessionID, reason string) error {
	return e.b.Inner().EndSession(sessionID, reason)
}

func (e bufferedEmitter) Emit(sessionID string, eventType trace.EventType, payload map[string]any) error {
	e.b.Record(sessionID, eventType, payload)
	return nil
}

func (e bufferedEmitter) Flush(sessionID string) error { return e.b.Inner().Flush(sessionID) }

func (e bufferedEmitter) GetEvents(sessionID string, filter *trace.Filter) ([]trace.Event, error) {
	return e.b.Inner().GetEvents(sessionID, filter)
}

func (e bufferedEmitter) Session(sessionID string) (trace.Session, error) {
	return e.b.Inner().Session(sessionID)
}

func (e bufferedEmitter) IdleSessions(cutoff time.Time) []string {
	return e.b.Inner().IdleSessions(cutoff)
}
