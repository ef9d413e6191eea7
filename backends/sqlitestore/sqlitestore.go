// Package sqlitestore is a persistent trace.Storage implementation backed
// by SQLite, demonstrating that the storage port works against a real
// embedded database without pulling that dependency into the core module
// itself (persistent backends live outside pkg/, per the storage-port
// design).
//
// Grounded on core/pkg/store/receipt_store_sqlite.go's database/sql +
// modernc.org/sqlite wiring (migrate-on-construct, parameterized queries,
// sql.NullString for optional columns), retargeted from receipts to TRACE
// events.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/govatlas/core/pkg/govern"
	"github.com/govatlas/core/pkg/trace"
)

// Store is a SQLite-backed trace.Storage. Safe for concurrent use: all
// access goes through *sql.DB, which pools its own connections.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// migrates the events table.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS trace_events (
		session_id          TEXT NOT NULL,
		sequence            INTEGER NOT NULL,
		event_id            TEXT NOT NULL,
		trace_id            TEXT NOT NULL,
		span_id             TEXT NOT NULL,
		parent_span_id      TEXT NOT NULL DEFAULT '',
		trace_version       TEXT NOT NULL,
		event_type          TEXT NOT NULL,
		timestamp           TEXT NOT NULL,
		payload             TEXT NOT NULL,
		previous_event_hash TEXT NOT NULL,
		event_hash          TEXT NOT NULL,
		PRIMARY KEY (session_id, sequence)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) StoreEvent(e trace.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeInvalidPayload, err)
	}

	const query = `INSERT INTO trace_events (
		session_id, sequence, event_id, trace_id, span_id, parent_span_id,
		trace_version, event_type, timestamp, payload, previous_event_hash, event_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(context.Background(), query,
		e.SessionID, e.Sequence, e.EventID, e.TraceID, e.SpanID, e.ParentSpanID,
		e.TraceVersion, string(e.EventType), e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(payload), e.PreviousEventHash, e.EventHash,
	)
	if err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, fmt.Errorf("insert trace event: %w", err))
	}
	return nil
}

func (s *Store) GetEvents(sessionID string) ([]trace.Event, error) {
	const query = `
		SELECT event_id, trace_id, span_id, parent_span_id, trace_version,
		       event_type, timestamp, payload, previous_event_hash, event_hash, sequence
		FROM trace_events
		WHERE session_id = ?
		ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(context.Background(), query, sessionID)
	if err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []trace.Event
	for rows.Next() {
		e, err := scanEvent(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows, sessionID string) (trace.Event, error) {
	var (
		eventID, traceID, spanID, parentSpanID string
		traceVersion, eventType                string
		timestamp, payloadJSON                 string
		previousHash, eventHash                string
		sequence                                uint64
	)
	if err := rows.Scan(&eventID, &traceID, &spanID, &parentSpanID, &traceVersion,
		&eventType, &timestamp, &payloadJSON, &previousHash, &eventHash, &sequence); err != nil {
		return trace.Event{}, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return trace.Event{}, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, fmt.Errorf("corrupt timestamp: %w", err))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return trace.Event{}, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, fmt.Errorf("corrupt payload: %w", err))
	}

	return trace.Event{
		TraceVersion:      traceVersion,
		EventID:           eventID,
		TraceID:           traceID,
		SpanID:            spanID,
		ParentSpanID:      parentSpanID,
		SessionID:         sessionID,
		Sequence:          sequence,
		Timestamp:         ts,
		EventType:         trace.EventType(eventType),
		Payload:           payload,
		PreviousEventHash: previousHash,
		EventHash:         eventHash,
	}, nil
}

func (s *Store) GetEventsByType(sessionID string, eventType trace.EventType) ([]trace.Event, error) {
	all, err := s.GetEvents(sessionID)
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

func (s *Store) GetLastEvents(sessionID string, n int) ([]trace.Event, error) {
	all, err := s.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	if n >= len(all) || n < 0 {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (s *Store) GetEventCount(sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM trace_events WHERE session_id = ?`
	var count int
	if err := s.db.QueryRowContext(context.Background(), query, sessionID).Scan(&count); err != nil {
		return 0, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return count, nil
}

func (s *Store) DeleteSession(sessionID string) error {
	const query = `DELETE FROM trace_events WHERE session_id = ?`
	if _, err := s.db.ExecContext(context.Background(), query, sessionID); err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return nil
}

func (s *Store) HealthCheck() error {
	if err := s.db.PingContext(context.Background()); err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Name() string { return "sqlite" }
