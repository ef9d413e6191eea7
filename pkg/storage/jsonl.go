package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/govatlas/core/pkg/govern"
	"github.com/govatlas/core/pkg/trace"
)

// JSONLFile is an append-only, per-session JSON Lines trace.Storage
// implementation (§6's TRACE log file format): one event per line, UTF-8,
// LF-terminated, file named "<session_id>.trace.jsonl" under dir.
//
// Grounded on core/pkg/tape/manifest.go's os.WriteFile/os.ReadFile idiom
// with 0600 permissions.
type JSONLFile struct {
	mu  sync.Mutex
	dir string
}

// NewJSONLFile constructs a JSONLFile store rooted at dir, creating it if
// necessary.
func NewJSONLFile(dir string) (*JSONLFile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return &JSONLFile{dir: dir}, nil
}

func (f *JSONLFile) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".trace.jsonl")
}

func (f *JSONLFile) StoreEvent(event trace.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path(event.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	defer fh.Close()

	b, err := json.Marshal(event)
	if err != nil {
		return govern.Wrap(govern.KindValidation, govern.CodeInvalidPayload, err)
	}
	if _, err := fh.Write(append(b, '\n')); err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return nil
}

func (f *JSONLFile) GetEvents(sessionID string) ([]trace.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	defer fh.Close()

	var out []trace.Event
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e trace.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, fmt.Errorf("corrupt trace line: %w", err))
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return out, nil
}

func (f *JSONLFile) GetEventsByType(sessionID string, eventType trace.EventType) ([]trace.Event, error) {
	all, err := f.GetEvents(sessionID)
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

func (f *JSONLFile) GetLastEvents(sessionID string, n int) ([]trace.Event, error) {
	all, err := f.GetEvents(sessionID)
	if err != nil {
		return nil, err
	}
	if n >= len(all) || n < 0 {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (f *JSONLFile) GetEventCount(sessionID string) (int, error) {
	all, err := f.GetEvents(sessionID)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (f *JSONLFile) DeleteSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	return nil
}

func (f *JSONLFile) HealthCheck() error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return govern.Wrap(govern.KindStorage, govern.CodeStorageUnavailable, err)
	}
	if !info.IsDir() {
		return govern.New(govern.KindStorage, govern.CodeStorageUnavailable, "trace log directory is not a directory: "+f.dir)
	}
	return nil
}

func (f *JSONLFile) Name() string { return "jsonl-file" }
