package lifecycle

import (
	"bytes"
	"log/slog"
	"strconv"

	"github.com/pasta-sh/pasta/internal/ansi"
	"github.com/pasta-sh/pasta/internal/fingerprint"
	"github.com/pasta-sh/pasta/internal/ports"
)

type promptState int

const (
	promptIdle promptState = iota
	promptActive
)

type cmdState int

const (
	cmdIdle cmdState = iota
	cmdInput
	cmdOutput
)

// level is one shell-stack entry. The parent pointer is a weak back-reference
// for lookup only; the stack slice owns the entries top to bottom.
type level struct {
	depth  int
	parent *level
	fp     fingerprint.Fingerprint

	prompt promptState
	cmd    cmdState
	input  []byte
}

// Engine consumes tokens and emits lifecycle events. All three machines
// operate on the top of the shell stack; levels below the top are frozen in
// an idle state until the stack unwinds back to them.
//
// Prompt confirmation is deferred to chunk boundaries (EndChunk): a prompt
// render may span several tokens, and the end of a read chunk is the bounded
// grace window that absorbs multi-segment renders without timers.
type Engine struct {
	classifier *fingerprint.Classifier
	sink       Sink
	clock      ports.Clock

	stack []*level

	// line is the printable text of the current (unterminated) output line,
	// the candidate prompt region.
	line    []byte
	lineOff int64

	// Escape-sequence evidence accumulated for the current line.
	title string
	sgr   []string

	sawMarkA    bool // OSC 133;A seen since the last confirmation
	markAOff    int64
	pendingExit *int // exit code from OSC 133;D, attached to the next output end

	lastSpawn bool // the last completed command invoked a shell-spawning program

	lastOff int64
	closed  bool
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEstablishedPrompt seeds the root level with a known prompt fingerprint
// and starts the session in the prompt-active state, as if the prompt had
// already rendered.
func WithEstablishedPrompt(prompt string) EngineOption {
	return func(e *Engine) {
		root := e.stack[0]
		root.fp = fingerprint.Fingerprint{Prompt: prompt}
		root.prompt = promptActive
	}
}

// NewEngine creates an engine with a single root level at depth zero. The
// root level is never popped while the session lives.
func NewEngine(classifier *fingerprint.Classifier, sink Sink, clock ports.Clock, opts ...EngineOption) *Engine {
	e := &Engine{
		classifier: classifier,
		sink:       sink,
		clock:      clock,
		stack:      []*level{{depth: 0}},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Depth returns the current shell-stack depth (root is 1).
func (e *Engine) Depth() int {
	return len(e.stack)
}

// TopFingerprint returns the fingerprint of the current stack top.
func (e *Engine) TopFingerprint() fingerprint.Fingerprint {
	return e.top().fp
}

// Consume feeds one token into the machines.
func (e *Engine) Consume(tok ansi.Token) {
	if e.closed {
		return
	}
	switch tok.Kind {
	case ansi.KindText:
		e.handleText(tok)
	case ansi.KindControl:
		e.handleControl(tok)
	case ansi.KindEscape:
		e.handleEscape(tok)
	}
	if end := tok.Offset + int64(len(tok.Raw)); end > e.lastOff {
		e.lastOff = end
	}
}

// EndChunk marks a read-chunk boundary. This is where a pending prompt
// candidate is confirmed and the shell machine consulted.
func (e *Engine) EndChunk() {
	if e.closed {
		return
	}
	e.confirmPrompt()
}

// Close finalizes the session: a trailing prompt candidate is still
// confirmed, and a command left mid-output is closed at the final offset.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.confirmPrompt()
	top := e.top()
	if top.cmd == cmdOutput {
		e.emit(Event{Type: CommandOutputEnd, Offset: e.lastOff, Depth: top.depth, ExitCode: e.pendingExit})
		top.cmd = cmdIdle
	}
	e.closed = true
}

func (e *Engine) top() *level {
	return e.stack[len(e.stack)-1]
}

func (e *Engine) emit(ev Event) {
	ev.Time = e.clock.Now()
	e.sink.Emit(ev)
}

func (e *Engine) handleText(tok ansi.Token) {
	top := e.top()
	data := tok.Raw

	if top.prompt == promptActive {
		consumed := promptContinuation(e.line, top.fp.Prompt, data)
		e.appendLine(tok.Offset, data[:consumed])
		if consumed == len(data) {
			return
		}
		boundary := tok.Offset + int64(consumed)
		e.emit(Event{Type: PromptEnd, Offset: boundary, Depth: top.depth, Data: string(e.line)})
		top.prompt = promptIdle
		e.emit(Event{Type: CommandInputBegin, Offset: boundary, Depth: top.depth})
		top.cmd = cmdInput
		top.input = append([]byte(nil), data[consumed:]...)
		e.appendLine(boundary, data[consumed:])
		return
	}

	if top.cmd == cmdInput {
		top.input = append(top.input, data...)
	}
	e.appendLine(tok.Offset, data)
}

func (e *Engine) handleControl(tok ansi.Token) {
	top := e.top()
	b := tok.Control()

	if top.prompt == promptActive {
		// First non-prompt token after the prompt closes it and opens input.
		e.emit(Event{Type: PromptEnd, Offset: tok.Offset, Depth: top.depth, Data: string(e.line)})
		top.prompt = promptIdle
		e.emit(Event{Type: CommandInputBegin, Offset: tok.Offset, Depth: top.depth})
		top.cmd = cmdInput
		top.input = nil
	}

	switch {
	case top.cmd == cmdInput && (b == '\r' || b == '\n'):
		input := string(top.input)
		e.emit(Event{Type: CommandInputEnd, Offset: tok.Offset, Depth: top.depth, Data: input})
		e.emit(Event{Type: CommandOutputBegin, Offset: tok.Offset + int64(len(tok.Raw)), Depth: top.depth})
		top.cmd = cmdOutput
		top.input = nil
		e.lastSpawn = e.classifier.SpawnCommand(input)
		e.resetLine()
	case top.cmd == cmdInput && (b == 0x08 || b == 0x7f):
		if n := len(top.input); n > 0 {
			top.input = top.input[:n-1]
		}
		e.trimLine()
	case b == '\r' || b == '\n':
		e.resetLine()
	case b == 0x08:
		e.trimLine()
	}
}

func (e *Engine) handleEscape(tok ansi.Token) {
	switch tok.Class {
	case ansi.EscTitle:
		if len(tok.Params) >= 2 {
			e.title = tok.Params[1]
		}
	case ansi.EscSGR:
		if len(e.sgr) < 8 {
			e.sgr = append(e.sgr, tok.Text())
		}
	case ansi.EscPromptMark:
		e.handlePromptMark(tok)
	}
}

func (e *Engine) handlePromptMark(tok ansi.Token) {
	if len(tok.Params) < 2 {
		return
	}
	top := e.top()
	switch tok.Params[1] {
	case "A":
		e.sawMarkA = true
		e.markAOff = tok.Offset
	case "B":
		if top.prompt == promptActive {
			e.emit(Event{Type: PromptEnd, Offset: tok.Offset, Depth: top.depth, Data: string(e.line)})
			top.prompt = promptIdle
			e.emit(Event{Type: CommandInputBegin, Offset: tok.Offset + int64(len(tok.Raw)), Depth: top.depth})
			top.cmd = cmdInput
			top.input = nil
		}
	case "C":
		if top.cmd == cmdInput {
			input := string(top.input)
			e.emit(Event{Type: CommandInputEnd, Offset: tok.Offset, Depth: top.depth, Data: input})
			e.emit(Event{Type: CommandOutputBegin, Offset: tok.Offset + int64(len(tok.Raw)), Depth: top.depth})
			top.cmd = cmdOutput
			top.input = nil
			e.lastSpawn = e.classifier.SpawnCommand(input)
			e.resetLine()
		}
	case "D":
		if len(tok.Params) >= 3 {
			if code, err := strconv.Atoi(tok.Params[2]); err == nil {
				e.pendingExit = &code
			}
		}
	}
}

// confirmPrompt decides whether the current trailing line is a prompt render
// and, if so, drives the command and shell machines through the transition.
func (e *Engine) confirmPrompt() {
	top := e.top()
	if top.prompt == promptActive {
		e.sawMarkA = false
		return
	}
	if top.cmd == cmdInput {
		// Mid-input; a chunk boundary means nothing here.
		return
	}

	candidate := fingerprint.Fingerprint{
		Prompt: string(e.line),
		Title:  e.title,
		SGR:    e.sgr,
	}

	confirmed := e.sawMarkA
	if !confirmed && len(e.line) > 0 {
		confirmed = e.isPromptCandidate(candidate)
	}
	var remainder []byte
	if !confirmed && len(e.line) > 0 {
		// The chunk may have carried the prompt render plus the first echoed
		// input bytes in one line ("$ pwd"). Split on the learned prefix and
		// replay the rest as input once the prompt machine is active.
		if p, ok := e.splitPromptPrefix(); ok {
			confirmed = true
			remainder = append([]byte(nil), e.line[len(p):]...)
			e.line = e.line[:len(p)]
			candidate.Prompt = p
		}
	}
	if !confirmed {
		return
	}

	promptOff := e.lineOff
	if len(e.line) == 0 && e.sawMarkA {
		promptOff = e.markAOff
	}

	if top.cmd == cmdOutput {
		e.emit(Event{Type: CommandOutputEnd, Offset: promptOff, Depth: top.depth, ExitCode: e.pendingExit})
		top.cmd = cmdIdle
		e.pendingExit = nil
	}

	cls := e.classifier.Classify(candidate, e.fingerprints(), fingerprint.Evidence{
		Spawn:      e.lastSpawn,
		PromptMark: e.sawMarkA,
	})
	if cls.Confidence < 0.7 {
		slog.Debug("low-confidence shell classification",
			slog.String("result", cls.Result.String()),
			slog.String("reason", cls.Reason),
			slog.Float64("confidence", cls.Confidence),
		)
	}

	switch cls.Result {
	case fingerprint.Same:
		if top.fp.Zero() || top.fp.Matches(candidate) {
			e.refreshFingerprint(top, candidate)
		}
	case fingerprint.NewChild:
		child := &level{depth: top.depth + 1, parent: top, fp: candidate}
		e.stack = append(e.stack, child)
		e.emit(Event{Type: ShellEnter, Offset: promptOff, Depth: child.depth, Fingerprint: candidate})
	case fingerprint.ReturnToAncestor:
		for len(e.stack)-1 > cls.Depth {
			popped := e.stack[len(e.stack)-1]
			e.stack = e.stack[:len(e.stack)-1]
			e.emit(Event{Type: ShellExit, Offset: promptOff, Depth: popped.depth, Fingerprint: popped.fp})
		}
		e.refreshFingerprint(e.top(), candidate)
	}

	top = e.top()
	e.emit(Event{Type: PromptStart, Offset: promptOff, Depth: top.depth, Fingerprint: top.fp})
	top.prompt = promptActive
	top.cmd = cmdIdle
	e.sawMarkA = false
	e.lastSpawn = false

	if len(remainder) > 0 {
		e.handleText(ansi.Token{
			Kind:   ansi.KindText,
			Raw:    remainder,
			Offset: promptOff + int64(len(e.line)),
		})
	}
}

// splitPromptPrefix reports whether a learned prompt on the stack is a proper
// prefix of the trailing line.
func (e *Engine) splitPromptPrefix() (string, bool) {
	for i := len(e.stack) - 1; i >= 0; i-- {
		p := e.stack[i].fp.Prompt
		if p != "" && len(e.line) > len(p) && bytes.HasPrefix(e.line, []byte(p)) {
			return p, true
		}
	}
	return "", false
}

// isPromptCandidate applies the heuristic confirmation policy: the line
// matches a known fingerprint on the stack, or it matches a prompt rule and
// there is corroborating spawn evidence, or no fingerprint has been learned
// yet (session start).
func (e *Engine) isPromptCandidate(candidate fingerprint.Fingerprint) bool {
	for _, lv := range e.stack {
		if lv.fp.Matches(candidate) {
			return true
		}
	}
	if _, ok := e.classifier.LooksLikePrompt(candidate.Prompt); ok {
		return e.lastSpawn || e.top().fp.Zero()
	}
	return false
}

func (e *Engine) refreshFingerprint(lv *level, candidate fingerprint.Fingerprint) {
	lv.fp.Prompt = candidate.Prompt
	if candidate.Title != "" {
		lv.fp.Title = candidate.Title
	}
	if len(candidate.SGR) > 0 {
		lv.fp.SGR = candidate.SGR
	}
}

func (e *Engine) fingerprints() []fingerprint.Fingerprint {
	fps := make([]fingerprint.Fingerprint, len(e.stack))
	for i, lv := range e.stack {
		fps[i] = lv.fp
	}
	return fps
}

func (e *Engine) appendLine(off int64, data []byte) {
	if len(data) == 0 {
		return
	}
	if len(e.line) == 0 {
		e.lineOff = off
	}
	e.line = append(e.line, data...)
}

func (e *Engine) resetLine() {
	e.line = e.line[:0]
	e.sgr = nil
}

func (e *Engine) trimLine() {
	if n := len(e.line); n > 0 {
		e.line = e.line[:n-1]
	}
}

// promptContinuation returns how many leading bytes of data belong to the
// prompt render: the line so far must still be a prefix of the known prompt,
// and data must continue it. Only a full continuation (data exhausted or
// prompt completed) counts; anything else is user input.
func promptContinuation(line []byte, prompt string, data []byte) int {
	if prompt == "" || len(line) >= len(prompt) {
		return 0
	}
	if !bytes.HasPrefix([]byte(prompt), line) {
		return 0
	}
	rem := prompt[len(line):]
	n := 0
	for n < len(data) && n < len(rem) && data[n] == rem[n] {
		n++
	}
	if n == len(data) || n == len(rem) {
		return n
	}
	return 0
}
