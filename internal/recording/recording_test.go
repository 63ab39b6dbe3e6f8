package recording

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pasta-sh/pasta/internal/lifecycle"
	"github.com/pasta-sh/pasta/internal/testing/fakes/fakeclock"
	"github.com/pasta-sh/pasta/internal/testing/fakes/fakefs"
)

func testDeps() (*fakefs.FS, *fakeclock.Clock) {
	fs := fakefs.New()
	clock := fakeclock.New(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return fs, clock
}

func readLines(t *testing.T, fs *fakefs.FS, path string) []string {
	t.Helper()
	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecorder_WritesHeader(t *testing.T) {
	fs, clock := testDeps()

	r, err := NewRecorder("/rec", "sess1", 120, 40, fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	lines := readLines(t, fs, r.Path())
	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if header.Version != 2 {
		t.Errorf("version = %d, want 2", header.Version)
	}
	if header.Width != 120 || header.Height != 40 {
		t.Errorf("size = %dx%d, want 120x40", header.Width, header.Height)
	}
	if header.Timestamp != clock.Now().Unix() {
		t.Errorf("timestamp = %d", header.Timestamp)
	}
}

func TestRecorder_EventTimesRelative(t *testing.T) {
	fs, clock := testDeps()

	r, err := NewRecorder("/rec", "sess1", 80, 24, fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	if err := r.RecordOutput("$ "); err != nil {
		t.Fatalf("RecordOutput: %v", err)
	}
	clock.Advance(1500 * time.Millisecond)
	r.Output([]byte("ls\r\n"))
	r.Input([]byte("x"))

	lines := readLines(t, fs, r.Path())
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3 events", len(lines))
	}

	var first, second, third []interface{}
	mustUnmarshal(t, lines[1], &first)
	mustUnmarshal(t, lines[2], &second)
	mustUnmarshal(t, lines[3], &third)

	if first[0].(float64) != 0 || first[1] != "o" || first[2] != "$ " {
		t.Errorf("first event = %v", first)
	}
	if second[0].(float64) != 1.5 || second[1] != "o" || second[2] != "ls\r\n" {
		t.Errorf("second event = %v", second)
	}
	if third[1] != "i" || third[2] != "x" {
		t.Errorf("third event = %v", third)
	}
}

func TestRecorder_MaskedInput(t *testing.T) {
	fs, clock := testDeps()

	r, err := NewRecorder("/rec", "sess1", 80, 24, fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	if err := r.RecordMaskedInput(7); err != nil {
		t.Fatalf("RecordMaskedInput: %v", err)
	}

	lines := readLines(t, fs, r.Path())
	var ev []interface{}
	mustUnmarshal(t, lines[1], &ev)
	if ev[1] != "i" || ev[2] != "*******" {
		t.Errorf("masked event = %v", ev)
	}
}

func TestRecorder_RecordAfterCloseIgnored(t *testing.T) {
	fs, clock := testDeps()

	r, err := NewRecorder("/rec", "sess1", 80, 24, fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.RecordOutput("late"); err != nil {
		t.Errorf("record after close must be a no-op, got %v", err)
	}

	lines := readLines(t, fs, r.Path())
	if len(lines) != 1 {
		t.Errorf("lines = %d, want header only", len(lines))
	}
}

// ---------------------------------------------------------------------------
// EventLog
// ---------------------------------------------------------------------------

func TestEventLog_WritesJSONL(t *testing.T) {
	fs, clock := testDeps()

	l, err := NewEventLog("/rec", "sess1", fs, clock)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}

	code := 1
	l.Emit(lifecycle.Event{Type: lifecycle.CommandInputEnd, Offset: 12, Depth: 1, Data: "false"})
	l.Emit(lifecycle.Event{Type: lifecycle.CommandOutputEnd, Offset: 20, Depth: 1, ExitCode: &code})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, fs, l.Path())
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var ev lifecycle.Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != lifecycle.CommandInputEnd || ev.Offset != 12 || ev.Data != "false" {
		t.Errorf("event = %+v", ev)
	}

	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ExitCode == nil || *ev.ExitCode != 1 {
		t.Errorf("exit code = %v, want 1", ev.ExitCode)
	}
}

func TestEventLog_EmitAfterCloseIgnored(t *testing.T) {
	fs, clock := testDeps()

	l, err := NewEventLog("/rec", "sess1", fs, clock)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	l.Close()
	l.Emit(lifecycle.Event{Type: lifecycle.PromptStart})

	data, err := fs.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("event written after close: %q", data)
	}
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

func TestManager_Disabled(t *testing.T) {
	fs, clock := testDeps()
	m := NewManager("/rec", false, true, fs, clock)

	rec, log, err := m.StartRecording("sess1", 80, 24)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if rec != nil || log != nil {
		t.Error("disabled manager returned artifacts")
	}
	if files := fs.Files(); len(files) != 0 {
		t.Errorf("disabled manager created files: %v", files)
	}
}

func TestManager_StartStopAndList(t *testing.T) {
	fs, clock := testDeps()
	m := NewManager("/rec", true, true, fs, clock)

	rec, log, err := m.StartRecording("sess1", 80, 24)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if rec == nil || log == nil {
		t.Fatal("expected both artifacts")
	}
	if m.RecordingPath("sess1") == "" {
		t.Error("no recording path for active session")
	}

	rec.Output([]byte("$ "))
	if err := m.StopRecording("sess1"); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if m.RecordingPath("sess1") != "" {
		t.Error("recording path survives stop")
	}

	casts, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(casts) != 1 || !strings.HasSuffix(casts[0], ".cast") {
		t.Errorf("List = %v, want one .cast file", casts)
	}
}

func TestManager_EventsDisabled(t *testing.T) {
	fs, clock := testDeps()
	m := NewManager("/rec", true, false, fs, clock)

	rec, log, err := m.StartRecording("sess1", 80, 24)
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if rec == nil {
		t.Fatal("expected recorder")
	}
	if log != nil {
		t.Error("event log created despite events=false")
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mustUnmarshal(t *testing.T, line string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(line), v); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
}
