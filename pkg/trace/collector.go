package trace

import (
	"sync"
	"time"

	"github.com/govatlas/core/pkg/govern"
	"github.com/govatlas/core/pkg/ident"
)

// Clock provides the wall-clock time the collector stamps onto events.
// Grounded on core/pkg/guardian/guardian.go's Clock/wallClock injection
// idiom, so tests can freeze time without touching collector internals.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Mode selects how Emit finalizes an event's hash (§4.5.1).
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeDeferred  Mode = "deferred"
)

// OnEmitFunc is the optional on-emit callback port (§6), invoked after an
// event's hash has been finalized.
type OnEmitFunc func(Event)

// sessionState is the collector's lock-protected bookkeeping for one
// session: the session record itself, its event log, and (deferred mode
// only) the queue of not-yet-hashed events.
type sessionState struct {
	mu      sync.Mutex
	session *Session
	events  []Event
	pending []int // indices into events awaiting flush, in sequence order
}

// Collector is the Trace Collector (C5): session table, optional storage
// backend, optional on-emit callback, immediate or deferred emission mode.
//
// Grounded on core/pkg/tape/recorder.go's clock-injectable, mutex-protected
// recorder shape and core/pkg/guardian/audit.go's chain-linking idiom.
type Collector struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	mode    Mode
	storage Storage
	onEmit  OnEmitFunc
	clock   Clock
}

// NewCollector constructs a Collector in the given mode. storage and onEmit
// are optional (nil disables them).
func NewCollector(mode Mode, storage Storage, onEmit OnEmitFunc) *Collector {
	return &Collector{
		sessions: make(map[string]*sessionState),
		mode:     mode,
		storage:  storage,
		onEmit:   onEmit,
		clock:    wallClock{},
	}
}

// WithClock overrides the clock, for deterministic tests.
func (c *Collector) WithClock(clock Clock) *Collector {
	c.clock = clock
	return c
}

// OpenSession creates a session and emits its genesis session.started event
// (§4.5.4).
func (c *Collector) OpenSession(agentID string, goal string) (string, error) {
	sessionID := ident.NewUUID()
	now := c.clock.Now()

	st := &sessionState{session: newSession(sessionID, agentID, now)}

	c.mu.Lock()
	c.sessions[sessionID] = st
	c.mu.Unlock()

	if _, err := c.emitLocked(st, EventSessionStarted, map[string]any{"goal": goal}, ""); err != nil {
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
		return "", err
	}
	return sessionID, nil
}

// getSession looks up a session's state, failing with SessionNotFound if
// absent.
func (c *Collector) getSession(sessionID string) (*sessionState, error) {
	c.mu.RLock()
	st, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, govern.New(govern.KindNotFound, govern.CodeSessionNotFound, "unknown session: "+sessionID)
	}
	return st, nil
}

// Emit appends an event to sessionID's chain (§4.5.4). In immediate mode
// the hash is computed before returning; in deferred mode a placeholder is
// stored and the real hash is computed by Flush.
func (c *Collector) Emit(sessionID string, eventType EventType, payload map[string]any) (Event, error) {
	st, err := c.getSession(sessionID)
	if err != nil {
		return Event{}, err
	}
	return c.emitLocked(st, eventType, payload, "")
}

// EmitSpan is Emit with explicit trace/span linkage, used when the caller
// (the resolver) wants to group several events under one request's span.
func (c *Collector) EmitSpan(sessionID string, eventType EventType, payload map[string]any, spanID, parentSpanID string) (Event, error) {
	st, err := c.getSession(sessionID)
	if err != nil {
		return Event{}, err
	}
	return c.emitSpanLocked(st, eventType, payload, spanID, parentSpanID)
}

func (c *Collector) emitLocked(st *sessionState, eventType EventType, payload map[string]any, _ string) (Event, error) {
	return c.emitSpanLocked(st, eventType, payload, ident.NewUUID(), "")
}

func (c *Collector) emitSpanLocked(st *sessionState, eventType EventType, payload map[string]any, spanID, parentSpanID string) (Event, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Closed {
		return Event{}, govern.New(govern.KindState, govern.CodeSessionClosed, "session is closed: "+st.session.SessionID)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := c.clock.Now()
	seq := st.session.Sequence
	prevHash := st.session.LastHash

	e := Event{
		TraceVersion:      TraceVersion,
		EventID:           ident.NewUUID(),
		TraceID:           st.session.TraceID,
		SpanID:            spanID,
		ParentSpanID:      parentSpanID,
		SessionID:         st.session.SessionID,
		Sequence:          seq,
		Timestamp:         now,
		EventType:         eventType,
		Payload:           payload,
		PreviousEventHash: prevHash,
	}

	switch c.mode {
	case ModeDeferred:
		e.EventHash = deferredHashPlaceholder
		st.events = append(st.events, e)
		st.pending = append(st.pending, len(st.events)-1)
		st.session.Sequence = seq + 1
		st.session.LastHash = e.PreviousEventHash // unchanged until flush fills in a real hash
		st.session.IdleAt = now
		return e, nil

	default: // ModeImmediate
		hash, err := computeEventHash(e)
		if err != nil {
			return Event{}, err
		}
		e.EventHash = hash

		if err := c.persist(e); err != nil {
			return Event{}, err
		}

		st.events = append(st.events, e)
		st.session.Sequence = seq + 1
		st.session.LastHash = hash
		st.session.IdleAt = now

		if c.onEmit != nil {
			c.onEmit(e)
		}
		return e, nil
	}
}

// persist writes an event to the storage backend, if any, retrying once on
// failure before surfacing a Storage error (§7: "Storage errors are
// retried once by the immediate-mode collector").
func (c *Collector) persist(e Event) error {
	if c.storage == nil {
		return nil
	}
	err := c.storage.StoreEvent(e)
	if err == nil {
		return nil
	}
	if err = c.storage.StoreEvent(e); err == nil {
		return nil
	}
	return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err).WithDetail("session_id", e.SessionID)
}

// Flush finalizes every pending deferred-mode event in sequence order,
// computing hashes and updating session chain state. No-op in immediate
// mode (§4.5.4) and a no-op if there is nothing pending.
func (c *Collector) Flush(sessionID string) error {
	st, err := c.getSession(sessionID)
	if err != nil {
		return err
	}
	if c.mode != ModeDeferred {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, idx := range st.pending {
		e := &st.events[idx]
		e.PreviousEventHash = st.session.LastHash

		hash, err := computeEventHash(*e)
		if err != nil {
			return err
		}
		e.EventHash = hash
		st.session.LastHash = hash

		if err := c.persist(*e); err != nil {
			return err
		}
		if c.onEmit != nil {
			c.onEmit(*e)
		}
	}
	st.pending = st.pending[:0]
	return nil
}

// GetEvents returns sessionID's events in sequence order, optionally
// filtered by event type (§4.5.4).
func (c *Collector) GetEvents(sessionID string, filter *Filter) ([]Event, error) {
	st, err := c.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if filter == nil || filter.EventType == "" {
		out := make([]Event, len(st.events))
		copy(out, st.events)
		return out, nil
	}
	var out []Event
	for _, e := range st.events {
		if e.EventType == filter.EventType {
			out = append(out, e)
		}
	}
	return out, nil
}

// Session returns a copy of the session record, for callers (the resolver)
// that need its TraceID/Sequence/LastHash without reaching into the
// collector's lock.
func (c *Collector) Session(sessionID string) (Session, error) {
	st, err := c.getSession(sessionID)
	if err != nil {
		return Session{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.session, nil
}

// EndSession emits session.ended and marks the session closed; future
// emits fail with SessionClosed (§4.5.4).
func (c *Collector) EndSession(sessionID, reason string) error {
	st, err := c.getSession(sessionID)
	if err != nil {
		return err
	}
	if _, err := c.emitLocked(st, EventSessionEnded, map[string]any{"reason": reason}, ""); err != nil {
		return err
	}
	if c.mode == ModeDeferred {
		if err := c.Flush(sessionID); err != nil {
			return err
		}
	}
	st.mu.Lock()
	st.session.Closed = true
	st.session.ClosedAt = c.clock.Now()
	st.mu.Unlock()
	return nil
}

// IdleSessions returns the ids of open sessions whose IdleAt predates the
// cutoff, for the resolver's idle-timeout sweep.
func (c *Collector) IdleSessions(cutoff time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, st := range c.sessions {
		st.mu.Lock()
		idle := !st.session.Closed && st.session.IdleAt.Before(cutoff)
		st.mu.Unlock()
		if idle {
			out = append(out, id)
		}
	}
	return out
}
