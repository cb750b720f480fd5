package jsonfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colonyops/hivesync/internal/core/event"
	"github.com/colonyops/hivesync/internal/core/state"
	"github.com/colonyops/hivesync/pkg/iojson"
)

// maxLineSize bounds a single event log line when reading.
const maxLineSize = 1 << 20

// Entry is one line of the event log.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	EventID   string        `json:"event_id"`
	AgentID   string        `json:"agent_id"`
	Source    state.Source  `json:"source"`
	Kind      event.Kind    `json:"kind"`
	Payload   event.Payload `json:"payload"`
}

// EventLog appends applied events to an NDJSON file. The file is only ever
// appended to.
type EventLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenEventLog opens (creating if needed) the event log at path.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &EventLog{path: path, f: f}, nil
}

// Path returns the event log path.
func (l *EventLog) Path() string {
	return l.path
}

// Append writes ev as one line.
func (l *EventLog) Append(ev event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return os.ErrClosed
	}

	return iojson.WriteLine(l.f, Entry{
		Timestamp: time.Now().UTC(),
		EventID:   ev.ID,
		AgentID:   ev.AgentID,
		Source:    ev.Source,
		Kind:      ev.Kind,
		Payload:   ev.Payload,
	})
}

// Close closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadEvents returns the last limit entries of the log at path that match
// keep, oldest first. A limit of zero or less returns every match. Lines
// that cannot be decoded are skipped. A missing log yields no entries.
func ReadEvents(path string, keep func(Entry) bool, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}

		entries = append(entries, e)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return entries, err
	}

	return entries, nil
}
