package recording

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pasta-sh/pasta/internal/lifecycle"
	"github.com/pasta-sh/pasta/internal/ports"
)

// EventLog persists lifecycle events as JSON lines alongside the asciicast,
// so recordings can be navigated by command instead of by timestamp. It
// implements the lifecycle Sink interface.
type EventLog struct {
	mu     sync.Mutex
	file   ports.FileHandle
	closed bool
}

// NewEventLog creates an event log for the session under basePath.
func NewEventLog(basePath, sessionID string, fs ports.FileSystem, clock ports.Clock) (*EventLog, error) {
	if err := fs.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.events.jsonl", sessionID, clock.Now().Format("20060102_150405"))
	file, err := fs.OpenFile(filepath.Join(basePath, filename), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}

	return &EventLog{file: file}, nil
}

// Emit implements the lifecycle sink. Write failures are logged, not
// propagated; the live session must not die because its side log did.
func (l *EventLog) Emit(ev lifecycle.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	line, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("marshal lifecycle event", slog.String("error", err.Error()))
		return
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		slog.Warn("write lifecycle event", slog.String("error", err.Error()))
	}
}

// Path returns the event log file path.
func (l *EventLog) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close flushes and closes the log.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
