// Package recording provides session recording in asciicast v2 format plus a
// lifecycle event log for command-level navigation.
package recording

import (
	"path/filepath"
	"sync"

	"github.com/pasta-sh/pasta/internal/ports"
)

// Manager owns the recording artifacts of active sessions.
type Manager struct {
	mu        sync.RWMutex
	recorders map[string]*Recorder
	eventLogs map[string]*EventLog
	basePath  string
	enabled   bool
	events    bool
	fs        ports.FileSystem
	clock     ports.Clock
}

// NewManager creates a recording manager. events controls whether a lifecycle
// event log is written next to each asciicast.
func NewManager(basePath string, enabled, events bool, fs ports.FileSystem, clock ports.Clock) *Manager {
	return &Manager{
		recorders: make(map[string]*Recorder),
		eventLogs: make(map[string]*EventLog),
		basePath:  basePath,
		enabled:   enabled,
		events:    events,
		fs:        fs,
		clock:     clock,
	}
}

// StartRecording starts recording for a session. It returns the recorder and
// event log so the caller can wire them into the mux and the lifecycle sink
// chain; either may be nil when disabled.
func (m *Manager) StartRecording(sessionID string, width, height int) (*Recorder, *EventLog, error) {
	if !m.enabled {
		return nil, nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.recorders[sessionID]; ok {
		existing.Close()
	}
	if existing, ok := m.eventLogs[sessionID]; ok {
		existing.Close()
	}

	recorder, err := NewRecorder(m.basePath, sessionID, width, height, m.fs, m.clock)
	if err != nil {
		return nil, nil, err
	}
	m.recorders[sessionID] = recorder

	var eventLog *EventLog
	if m.events {
		eventLog, err = NewEventLog(m.basePath, sessionID, m.fs, m.clock)
		if err != nil {
			recorder.Close()
			delete(m.recorders, sessionID)
			return nil, nil, err
		}
		m.eventLogs[sessionID] = eventLog
	}

	return recorder, eventLog, nil
}

// StopRecording closes the session's artifacts.
func (m *Manager) StopRecording(sessionID string) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	if recorder, ok := m.recorders[sessionID]; ok {
		if err := recorder.Close(); err != nil {
			first = err
		}
		delete(m.recorders, sessionID)
	}
	if eventLog, ok := m.eventLogs[sessionID]; ok {
		if err := eventLog.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.eventLogs, sessionID)
	}
	return first
}

// RecordingPath returns the asciicast path for a session, if recording.
func (m *Manager) RecordingPath(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if recorder, ok := m.recorders[sessionID]; ok {
		return recorder.Path()
	}
	return ""
}

// List returns the stored asciicast files under the base path.
func (m *Manager) List() ([]string, error) {
	return m.fs.Glob(filepath.Join(m.basePath, "*.cast"))
}

// CloseAll closes every open artifact.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, recorder := range m.recorders {
		recorder.Close()
		delete(m.recorders, id)
	}
	for id, eventLog := range m.eventLogs {
		eventLog.Close()
		delete(m.eventLogs, id)
	}
}

// IsEnabled returns whether recording is enabled.
func (m *Manager) IsEnabled() bool {
	return m.enabled
}
