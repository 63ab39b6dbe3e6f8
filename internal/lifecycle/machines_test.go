package lifecycle

import (
	"testing"
	"time"

	"github.com/pasta-sh/pasta/internal/ansi"
	"github.com/pasta-sh/pasta/internal/fingerprint"
	"github.com/pasta-sh/pasta/internal/testing/fakes/fakeclock"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type capture struct {
	events []Event
}

func (c *capture) Emit(ev Event) { c.events = append(c.events, ev) }

func (c *capture) types() []EventType {
	out := make([]EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *capture) {
	t.Helper()
	sink := &capture{}
	clock := fakeclock.New(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := NewEngine(fingerprint.NewClassifier(), sink, clock, opts...)
	return eng, sink
}

// feed runs the input through a real lexer in chunks of the given size,
// calling EndChunk at each chunk boundary the way the multiplexer does.
func feed(eng *Engine, input string, chunkSize int) {
	lx := ansi.NewLexer()
	data := []byte(input)
	for len(data) > 0 {
		n := chunkSize
		if n <= 0 || n > len(data) {
			n = len(data)
		}
		for _, tok := range lx.Write(data[:n]) {
			eng.Consume(tok)
		}
		eng.EndChunk()
		data = data[n:]
	}
}

func eventTypesEqual(a []EventType, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Simple command scenario
// ---------------------------------------------------------------------------

func TestEngine_SimpleCommand(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// Session already sitting at a rendered prompt; the user types a command,
	// the shell echoes it, runs it, and re-renders the prompt.
	feed(eng, "echo hi\r\nhi\r\n$ ", 0)

	want := []EventType{
		PromptEnd,
		CommandInputBegin,
		CommandInputEnd,
		CommandOutputBegin,
		CommandOutputEnd,
		PromptStart,
	}
	if !eventTypesEqual(sink.types(), want) {
		t.Fatalf("event order = %v, want %v", sink.types(), want)
	}

	if got := sink.events[2].Data; got != "echo hi" {
		t.Errorf("CommandInputEnd data = %q, want %q", got, "echo hi")
	}
	if got := sink.events[5].Fingerprint.Prompt; got != "$ " {
		t.Errorf("PromptStart fingerprint = %q, want %q", got, "$ ")
	}
	if eng.Depth() != 1 {
		t.Errorf("depth = %d, want 1", eng.Depth())
	}
}

func TestEngine_SimpleCommandChunked(t *testing.T) {
	// The same stream split into tiny chunks must produce the same events:
	// chunk boundaries inside output lines must not confirm spurious prompts.
	for _, size := range []int{1, 2, 3, 5} {
		eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))
		feed(eng, "echo hi\r\nhi\r\n$ ", size)

		want := []EventType{
			PromptEnd, CommandInputBegin, CommandInputEnd,
			CommandOutputBegin, CommandOutputEnd, PromptStart,
		}
		if !eventTypesEqual(sink.types(), want) {
			t.Errorf("chunk size %d: event order = %v, want %v", size, sink.types(), want)
		}
	}
}

func TestEngine_OutputOffsetsBracketOutput(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))
	input := "echo hi\r\nhi\r\n$ "
	feed(eng, input, 0)

	var begin, end int64 = -1, -1
	for _, ev := range sink.events {
		switch ev.Type {
		case CommandOutputBegin:
			begin = ev.Offset
		case CommandOutputEnd:
			end = ev.Offset
		}
	}
	// Output region is "\nhi\r\n" between the echoed CR and the next prompt.
	if begin < 0 || end < 0 || begin >= end {
		t.Fatalf("output range [%d, %d) not a valid region", begin, end)
	}
	if got := input[begin:end]; got != "\nhi\r\n" {
		t.Errorf("output region = %q, want %q", got, "\nhi\r\n")
	}
}

// ---------------------------------------------------------------------------
// Prompt handling
// ---------------------------------------------------------------------------

func TestEngine_LearnsFirstPrompt(t *testing.T) {
	eng, sink := newTestEngine(t)

	// Fresh session: the shell renders its first prompt. No fingerprint is
	// known, so the prompt-rule heuristic confirms and the engine learns it.
	feed(eng, "user@host:~$ ", 0)

	want := []EventType{PromptStart}
	if !eventTypesEqual(sink.types(), want) {
		t.Fatalf("event order = %v, want %v", sink.types(), want)
	}
	if got := eng.TopFingerprint().Prompt; got != "user@host:~$ " {
		t.Errorf("learned fingerprint = %q", got)
	}
}

func TestEngine_PromptPrefixStripped(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// A fast typist: the chunk ends after the prompt render plus the first
	// echoed input bytes. The learned prefix belongs to the prompt, the rest
	// to the command input.
	feed(eng, "ls\r\nout\r\n$ pwd", 0)
	feed(eng, "\r\n/home\r\n$ ", 0)

	var inputs []string
	for _, ev := range sink.events {
		if ev.Type == CommandInputEnd {
			inputs = append(inputs, ev.Data)
		}
	}
	if len(inputs) != 2 || inputs[0] != "ls" || inputs[1] != "pwd" {
		t.Errorf("inputs = %q, want [ls pwd] (prompt prefix must be stripped)", inputs)
	}
}

func TestEngine_MidOutputPromptLookalikeIgnored(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("user@host:~$ "))

	// cat prints a line that looks like a foreign prompt, and the chunk
	// boundary falls right after it. Without spawn evidence or a fingerprint
	// match it must stay classified as output.
	feed(eng, "cat f\r\nadmin@other:/x# ", 0)
	feed(eng, "\r\nmore\r\nuser@host:~$ ", 0)

	for _, ev := range sink.events {
		if ev.Type == ShellEnter {
			t.Fatalf("prompt-shaped output line opened a shell level: %+v", ev)
		}
	}
	if eng.Depth() != 1 {
		t.Errorf("depth = %d, want 1", eng.Depth())
	}
}

func TestEngine_PromptRedrawSameFingerprint(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("user@host:~/a$ "))

	// cd changes the embedded working directory. Same terminator plus a
	// common prefix over half the shorter prompt keeps it the same shell.
	feed(eng, "cd b\r\nuser@host:~/b$ ", 0)

	if eng.Depth() != 1 {
		t.Fatalf("depth = %d, want 1", eng.Depth())
	}
	if got := eng.TopFingerprint().Prompt; got != "user@host:~/b$ " {
		t.Errorf("fingerprint not refreshed: %q", got)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != PromptStart {
		t.Errorf("last event = %v, want PromptStart", last.Type)
	}
}

// ---------------------------------------------------------------------------
// Shell stack scenarios
// ---------------------------------------------------------------------------

func TestEngine_SubshellEnterAndExit(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("user@local:~$ "))

	// ssh to a remote host: spawn evidence plus a prompt-shaped line with a
	// different fingerprint opens a child level.
	feed(eng, "ssh remote\r\nWelcome\r\nadmin@remote:~# ", 0)

	want := []EventType{
		PromptEnd, CommandInputBegin, CommandInputEnd,
		CommandOutputBegin, CommandOutputEnd,
		ShellEnter, PromptStart,
	}
	if !eventTypesEqual(sink.types(), want) {
		t.Fatalf("enter: event order = %v, want %v", sink.types(), want)
	}
	if eng.Depth() != 2 {
		t.Fatalf("depth after enter = %d, want 2", eng.Depth())
	}

	// A command inside the subshell is attributed to depth 1.
	sink.events = nil
	feed(eng, "hostname\r\nremote\r\nadmin@remote:~# ", 0)
	for _, ev := range sink.events {
		if ev.Depth != 1 {
			t.Errorf("subshell event %v at depth %d, want 1", ev.Type, ev.Depth)
		}
	}

	// Exit: the ancestor's prompt reappears and the stack unwinds.
	sink.events = nil
	feed(eng, "exit\r\nlogout\r\nuser@local:~$ ", 0)

	sawExit := false
	for i, ev := range sink.events {
		if ev.Type == ShellExit {
			sawExit = true
			if ev.Depth != 1 {
				t.Errorf("ShellExit depth = %d, want 1", ev.Depth)
			}
			// ShellExit precedes the ancestor's PromptStart.
			if i == len(sink.events)-1 || sink.events[len(sink.events)-1].Type != PromptStart {
				t.Errorf("PromptStart must follow ShellExit: %v", sink.types())
			}
		}
	}
	if !sawExit {
		t.Fatalf("no ShellExit emitted: %v", sink.types())
	}
	if eng.Depth() != 1 {
		t.Errorf("depth after exit = %d, want 1", eng.Depth())
	}
}

func TestEngine_ParentIdleWhileChildActive(t *testing.T) {
	eng, _ := newTestEngine(t, WithEstablishedPrompt("user@local:~$ "))

	feed(eng, "ssh remote\r\nadmin@remote:~# ", 0)
	if eng.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", eng.Depth())
	}

	// Mid-command in the child: the parent level must be fully idle.
	feed(eng, "sleep 99\r\n", 0)
	parent := eng.stack[0]
	if parent.prompt != promptIdle || parent.cmd != cmdIdle {
		t.Errorf("parent machines not idle while child mid-command: prompt=%d cmd=%d",
			parent.prompt, parent.cmd)
	}
	if eng.top().cmd != cmdOutput {
		t.Errorf("child cmd state = %d, want output", eng.top().cmd)
	}
}

func TestEngine_NestedShellsUnwindMultipleLevels(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("user@alpha:~$ "))

	feed(eng, "ssh beta\r\nadmin@beta:~# ", 0)
	feed(eng, "ssh gamma\r\nguest@gamma:~% ", 0)
	if eng.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", eng.Depth())
	}

	// Dropping straight back to the root prompt pops both levels, deepest
	// first.
	sink.events = nil
	feed(eng, "exit\r\nuser@alpha:~$ ", 0)

	var exits []int
	for _, ev := range sink.events {
		if ev.Type == ShellExit {
			exits = append(exits, ev.Depth)
		}
	}
	if len(exits) != 2 || exits[0] != 2 || exits[1] != 1 {
		t.Errorf("exit depths = %v, want [2 1]", exits)
	}
	if eng.Depth() != 1 {
		t.Errorf("depth = %d, want 1", eng.Depth())
	}
}

func TestEngine_AmbiguousPromptStaysSame(t *testing.T) {
	eng, _ := newTestEngine(t, WithEstablishedPrompt("user@host:~$ "))

	// python3 is spawn evidence, and ">>> " matches a REPL rule: child.
	feed(eng, "python3\r\nPython 3.12\r\n>>> ", 0)
	if eng.Depth() != 2 {
		t.Fatalf("depth after python = %d, want 2", eng.Depth())
	}

	// Inside the REPL, a printed "$ "-shaped string with no spawn evidence
	// must not open another level, even when the chunk ends on it.
	feed(eng, "print('x$ ')\r\nx$ ", 0)
	feed(eng, "\r\n>>> ", 0)
	if eng.Depth() != 2 {
		t.Errorf("depth = %d, want 2 (printed lookalike must not nest)", eng.Depth())
	}
}

// ---------------------------------------------------------------------------
// OSC 133 shell integration
// ---------------------------------------------------------------------------

func TestEngine_PromptMarkConfirmsUnknownPrompt(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// An OSC 133;A mark confirms the following render as a prompt even when
	// no rule or fingerprint would. Spawn evidence makes it a child.
	feed(eng, "ssh weird\r\n\x1b]133;A\x07::unusual:: ", 0)

	sawEnter := false
	for _, ev := range sink.events {
		if ev.Type == ShellEnter {
			sawEnter = true
		}
	}
	if !sawEnter {
		t.Fatalf("marked prompt after spawn did not open a level: %v", sink.types())
	}
	if got := eng.TopFingerprint().Prompt; got != "::unusual:: " {
		t.Errorf("fingerprint = %q, want %q", got, "::unusual:: ")
	}
}

func TestEngine_ExitCodeFromMark(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	feed(eng, "false\r\n\x1b]133;D;1\x07\x1b]133;A\x07$ ", 0)

	var end *Event
	for i := range sink.events {
		if sink.events[i].Type == CommandOutputEnd {
			end = &sink.events[i]
		}
	}
	if end == nil {
		t.Fatalf("no CommandOutputEnd: %v", sink.types())
	}
	if end.ExitCode == nil || *end.ExitCode != 1 {
		t.Errorf("exit code = %v, want 1", end.ExitCode)
	}
}

func TestEngine_MarkBAndCDriveInputBoundaries(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// 133;B ends the prompt, 133;C ends the input region.
	feed(eng, "\x1b]133;B\x07ls\x1b]133;C\x07out\r\n$ ", 0)

	want := []EventType{
		PromptEnd, CommandInputBegin, CommandInputEnd,
		CommandOutputBegin, CommandOutputEnd, PromptStart,
	}
	if !eventTypesEqual(sink.types(), want) {
		t.Fatalf("event order = %v, want %v", sink.types(), want)
	}
	for _, ev := range sink.events {
		if ev.Type == CommandInputEnd && ev.Data != "ls" {
			t.Errorf("input = %q, want %q", ev.Data, "ls")
		}
	}
}

// ---------------------------------------------------------------------------
// Editing and control handling
// ---------------------------------------------------------------------------

func TestEngine_BackspaceEditsInput(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	feed(eng, "lsx\x7f\r\n$ ", 0)

	for _, ev := range sink.events {
		if ev.Type == CommandInputEnd && ev.Data != "ls" {
			t.Errorf("input after backspace = %q, want %q", ev.Data, "ls")
		}
	}
}

func TestEngine_EmptyEnterAtPrompt(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// Enter with no input still runs a full (empty) command cycle.
	feed(eng, "\r\n$ ", 0)

	want := []EventType{
		PromptEnd, CommandInputBegin, CommandInputEnd,
		CommandOutputBegin, CommandOutputEnd, PromptStart,
	}
	if !eventTypesEqual(sink.types(), want) {
		t.Fatalf("event order = %v, want %v", sink.types(), want)
	}
	for _, ev := range sink.events {
		if ev.Type == CommandInputEnd && ev.Data != "" {
			t.Errorf("input = %q, want empty", ev.Data)
		}
	}
}

func TestEngine_EscapesInvisibleToLine(t *testing.T) {
	eng, _ := newTestEngine(t, WithEstablishedPrompt("user@host:~$ "))

	// A colored prompt: SGR sequences around the text must not pollute the
	// fingerprint prompt string.
	feed(eng, "ls\r\n\x1b[1;32muser@host:~$\x1b[0m ", 0)

	if got := eng.TopFingerprint().Prompt; got != "user@host:~$ " {
		t.Errorf("fingerprint prompt = %q, want %q", got, "user@host:~$ ")
	}
	if len(eng.TopFingerprint().SGR) == 0 {
		t.Errorf("SGR metadata not captured")
	}
}

// ---------------------------------------------------------------------------
// Invariants
// ---------------------------------------------------------------------------

// Within a level, an active prompt and an active command are mutually
// exclusive; checked after every token across a mixed stream.
func TestEngine_StateExclusivity(t *testing.T) {
	sink := &capture{}
	clock := fakeclock.New(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := NewEngine(fingerprint.NewClassifier(), sink, clock, WithEstablishedPrompt("$ "))

	input := "echo hi\r\nhi\r\n$ ssh x\r\nuser@x:~$ exit\r\n$ "
	lx := ansi.NewLexer()
	for _, b := range []byte(input) {
		for _, tok := range lx.Write([]byte{b}) {
			eng.Consume(tok)
			for _, lv := range eng.stack {
				if lv.prompt == promptActive && lv.cmd != cmdIdle {
					t.Fatalf("level %d: prompt active while cmd=%d", lv.depth, lv.cmd)
				}
			}
		}
		eng.EndChunk()
	}
}

func TestEngine_RootNeverPopped(t *testing.T) {
	eng, _ := newTestEngine(t, WithEstablishedPrompt("$ "))

	// exit at the root: no ancestor matches, the candidate matches the top,
	// the stack must not underflow.
	feed(eng, "exit\r\n$ ", 0)
	if eng.Depth() != 1 {
		t.Errorf("depth = %d, want 1", eng.Depth())
	}
}

func TestEngine_CloseFinalizesOpenCommand(t *testing.T) {
	eng, sink := newTestEngine(t, WithEstablishedPrompt("$ "))

	// Child dies mid-command: Close must end the output region at the last
	// seen offset.
	feed(eng, "sleep 99\r\npartial out", 0)
	eng.Close()

	last := sink.events[len(sink.events)-1]
	if last.Type != CommandOutputEnd {
		t.Fatalf("last event = %v, want CommandOutputEnd", last.Type)
	}
	if last.Offset != int64(len("sleep 99\r\npartial out")) {
		t.Errorf("final offset = %d, want %d", last.Offset, len("sleep 99\r\npartial out"))
	}
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecorder_AssemblesCommandRecords(t *testing.T) {
	rec := NewRecorder()
	sink := MultiSink{rec}
	clock := fakeclock.New(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng := NewEngine(fingerprint.NewClassifier(), sink, clock, WithEstablishedPrompt("$ "))

	feed(eng, "echo hi\r\nhi\r\n$ pwd", 0)
	feed(eng, "\r\n/home\r\n$ ", 0)

	records := rec.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Input != "echo hi" || records[1].Input != "pwd" {
		t.Errorf("inputs = %q, %q", records[0].Input, records[1].Input)
	}
	if records[0].ID == "" || records[0].ID == records[1].ID {
		t.Errorf("record IDs not unique: %q, %q", records[0].ID, records[1].ID)
	}
	if records[0].OutputStart >= records[0].OutputEnd {
		t.Errorf("record 0 output range [%d, %d)", records[0].OutputStart, records[0].OutputEnd)
	}
}

func TestFeed_DeliversInOrder(t *testing.T) {
	feed := NewFeed(4)
	feed.Emit(Event{Type: PromptStart})
	feed.Emit(Event{Type: PromptEnd})
	feed.Close()

	var got []EventType
	for ev := range feed.Events() {
		got = append(got, ev.Type)
	}
	if !eventTypesEqual(got, []EventType{PromptStart, PromptEnd}) {
		t.Errorf("order = %v", got)
	}
}
