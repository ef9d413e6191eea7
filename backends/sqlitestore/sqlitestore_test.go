package sqlitestore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/backends/sqlitestore"
	"github.com/govatlas/core/pkg/trace"
)

func openTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := sqlitestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvent(sessionID string, seq uint64) trace.Event {
	return trace.Event{
		TraceVersion:      "1.0",
		EventID:           "event-" + sessionID,
		TraceID:           "trace-" + sessionID,
		SpanID:            "span-1",
		SessionID:         sessionID,
		Sequence:          seq,
		Timestamp:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		EventType:         trace.EventActionRequested,
		Payload:           map[string]any{"action_id": "ticket.read", "n": float64(seq)},
		PreviousEventHash: "prev",
		EventHash:         "hash",
	}
}

func TestStore_StoreAndRetrieveRoundTrips(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, s.StoreEvent(sampleEvent("sess-1", i)))
	}

	events, err := s.GetEvents("sess-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i), e.Sequence)
		assert.Equal(t, "ticket.read", e.Payload["action_id"])
	}
}

func TestStore_GetEventsByType(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreEvent(sampleEvent("sess-1", 0)))

	other := sampleEvent("sess-1", 1)
	other.EventType = trace.EventActionExecuted
	require.NoError(t, s.StoreEvent(other))

	events, err := s.GetEventsByType("sess-1", trace.EventActionExecuted)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, trace.EventActionExecuted, events[0].EventType)
}

func TestStore_GetEventCountAndDeleteSession(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreEvent(sampleEvent("sess-1", 0)))
	require.NoError(t, s.StoreEvent(sampleEvent("sess-1", 1)))

	count, err := s.GetEventCount("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.DeleteSession("sess-1"))
	count, err = s.GetEventCount("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_HealthCheck(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.HealthCheck())
}

func TestStore_SessionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreEvent(sampleEvent("sess-a", 0)))
	require.NoError(t, s.StoreEvent(sampleEvent("sess-b", 0)))

	a, err := s.GetEvents("sess-a")
	require.NoError(t, err)
	require.Len(t, a, 1)

	b, err := s.GetEvents("sess-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
}
