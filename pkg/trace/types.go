// Package trace implements the Trace Collector (C5): a chain-linked,
// per-session TRACE event log with immediate, deferred, and buffered
// emission modes.
//
// Grounded on core/pkg/tape/recorder.go (clock-injectable recorder, typed
// Record* methods, Entries()/Count() accessors), core/pkg/tape/replayer.go
// (fail-closed lookup pattern), and core/pkg/guardian/audit.go (hash-chained
// AuditEntry log with PreviousHash/Hash fields and clock injection) —
// generalized from a single flat audit log to a per-session chain using the
// exact §4.5.2 byte sequence rather than a canonicalized-map hash.
package trace

import (
	"time"

	"github.com/govatlas/core/pkg/ident"
)

// TraceVersion is the literal protocol version stamped on every event.
const TraceVersion = "1.0"

// EventType is the enumerated TRACE event type (§4.5.3).
type EventType string

const (
	EventSessionStarted          EventType = "session.started"
	EventSessionEnded            EventType = "session.ended"
	EventCARPRequestReceived     EventType = "carp.request.received"
	EventCARPResolutionCompleted EventType = "carp.resolution.completed"
	EventCARPResolutionCached    EventType = "carp.resolution.cached"
	EventActionRequested         EventType = "action.requested"
	EventActionApproved          EventType = "action.approved"
	EventActionDenied            EventType = "action.denied"
	EventActionExecuted          EventType = "action.executed"
	EventActionFailed            EventType = "action.failed"
	EventPolicyEvaluated         EventType = "policy.evaluated"
	EventPolicyViolated          EventType = "policy.violated"
	EventContextInjected         EventType = "context.injected"
	EventContextRedacted         EventType = "context.redacted"

	// EventBufferDropped is emitted by the buffered collector when pending
	// records were discarded for backpressure or shutdown-deadline reasons
	// (§4.5.1, §5). Not part of the minimum enumeration in §4.5.3, but
	// required by the buffered-mode contract.
	EventBufferDropped EventType = "trace.buffer.dropped"

	// EventRuntimeError names the runtime-error event type (§4.7). The
	// collector does not emit it: when the storage backend rejects an
	// event, Emit returns the Storage error and the event is not appended
	// to the in-memory log.
	EventRuntimeError EventType = "trace.runtime.error"
)

// deferredHashPlaceholder marks an event queued in deferred mode whose hash
// has not yet been computed by flush (§4.5.1).
const deferredHashPlaceholder = "deferred"

// Event is an immutable (once hashed) TRACE event (§3).
type Event struct {
	TraceVersion      string         `json:"trace_version"`
	EventID           string         `json:"event_id"`
	TraceID           string         `json:"trace_id"`
	SpanID            string         `json:"span_id"`
	ParentSpanID      string         `json:"parent_span_id,omitempty"`
	SessionID         string         `json:"session_id"`
	Sequence          uint64         `json:"sequence"`
	Timestamp         time.Time      `json:"timestamp"`
	EventType         EventType      `json:"event_type"`
	Payload           map[string]any `json:"payload"`
	PreviousEventHash string         `json:"previous_event_hash"`
	EventHash         string         `json:"event_hash"`
}

// IsDeferredPlaceholder reports whether e is a deferred-mode event whose
// hash has not yet been filled in by flush.
func (e Event) IsDeferredPlaceholder() bool {
	return e.EventHash == deferredHashPlaceholder
}

// Session is the collector's record of one bounded interaction context
// (§3). The collector is the only component that mutates Sequence and
// LastHash; the resolver creates and reads sessions but does not mutate
// this state directly.
type Session struct {
	SessionID  string
	AgentID    string
	CreatedAt  time.Time
	Sequence   uint64 // next event ordinal to assign
	LastHash   string // event_hash of the most recently emitted event
	Metadata   map[string]any
	Closed     bool
	ClosedAt   time.Time
	IdleAt     time.Time // updated on every emit, used for idle-timeout eviction
	TraceID    string
	pendingSeq []uint64 // not populated; the collector tracks unflushed deferred events in sessionState.pending
}

// newSession constructs a fresh session with the genesis chain state.
func newSession(sessionID, agentID string, now time.Time) *Session {
	return &Session{
		SessionID: sessionID,
		AgentID:   agentID,
		CreatedAt: now,
		LastHash:  ident.GenesisHash,
		IdleAt:    now,
		TraceID:   ident.NewUUID(),
	}
}
