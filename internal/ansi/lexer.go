package ansi

const (
	esc = 0x1b
	bel = 0x07
	del = 0x7f
)

type state int

const (
	stGround state = iota
	stEscape  // saw ESC, waiting for the introducer byte
	stCSI     // collecting a control-sequence introducer body
	stOSC     // collecting an operating-system-command payload
	stDCS     // collecting a device-control string
	stCharset // collecting ESC intermediate bytes, waiting for the final
)

// Lexer is a streaming lexer over a terminal byte stream. It is not safe for
// concurrent use; feed it from a single goroutine in arrival order.
//
// A sequence left unterminated at the end of a chunk is retained and resumed
// on the next Write. A byte that does not fit the grammar of the sequence
// being collected forces a resync: the collected bytes are reclassified as
// text and the offending byte is processed again from ground state, so no
// byte is ever lost or reordered.
type Lexer struct {
	state state

	text    []byte // pending printable run
	textOff int64

	pend    []byte // partially collected escape sequence
	pendOff int64

	// stringEsc is set while collecting OSC/DCS after an ESC was seen, to
	// disambiguate the two-byte string terminator (ESC \) from an abort.
	stringEsc bool

	off int64 // absolute offset of the next input byte
}

// NewLexer returns a lexer positioned at byte offset zero.
func NewLexer() *Lexer {
	return &Lexer{}
}

// Offset returns the absolute offset of the next byte the lexer will consume.
func (l *Lexer) Offset() int64 {
	return l.off
}

// Pending returns the partially collected escape sequence as a KindIncomplete
// token, if any. The returned token is a snapshot; the lexer keeps ownership
// of the underlying collection state.
func (l *Lexer) Pending() (Token, bool) {
	if len(l.pend) == 0 {
		return Token{}, false
	}
	raw := make([]byte, len(l.pend))
	copy(raw, l.pend)
	return Token{Kind: KindIncomplete, Raw: raw, Offset: l.pendOff}, true
}

// Write feeds a chunk of bytes and returns the tokens completed by it.
// The input slice is not retained.
func (l *Lexer) Write(p []byte) []Token {
	var out []Token
	for _, b := range p {
		out = l.step(out, b)
		l.off++
	}
	out = l.flushText(out)
	return out
}

// Close flushes any buffered state. A pending partial escape sequence is
// reclassified as text so the stream stays reconstructable after the session
// ends mid-sequence.
func (l *Lexer) Close() []Token {
	var out []Token
	out = l.flushText(out)
	if len(l.pend) > 0 {
		out = append(out, Token{Kind: KindText, Raw: l.pend, Offset: l.pendOff})
		l.pend = nil
	}
	l.state = stGround
	l.stringEsc = false
	return out
}

func (l *Lexer) step(out []Token, b byte) []Token {
	switch l.state {
	case stGround:
		return l.stepGround(out, b)
	case stEscape:
		return l.stepEscape(out, b)
	case stCSI:
		return l.stepCSI(out, b)
	case stOSC:
		return l.stepString(out, b, stOSC)
	case stDCS:
		return l.stepString(out, b, stDCS)
	case stCharset:
		return l.stepCharset(out, b)
	}
	return out
}

func (l *Lexer) stepGround(out []Token, b byte) []Token {
	switch {
	case b == esc:
		out = l.flushText(out)
		l.beginEscape(b)
	case b < 0x20 || b == del:
		out = l.flushText(out)
		out = append(out, Token{Kind: KindControl, Raw: []byte{b}, Offset: l.off})
	default:
		if len(l.text) == 0 {
			l.textOff = l.off
		}
		l.text = append(l.text, b)
	}
	return out
}

func (l *Lexer) stepEscape(out []Token, b byte) []Token {
	switch {
	case b == '[':
		l.pend = append(l.pend, b)
		l.state = stCSI
	case b == ']':
		l.pend = append(l.pend, b)
		l.state = stOSC
	case b == 'P':
		l.pend = append(l.pend, b)
		l.state = stDCS
	case b >= 0x20 && b <= 0x2f:
		l.pend = append(l.pend, b)
		l.state = stCharset
	case b >= 0x30 && b <= 0x7e:
		l.pend = append(l.pend, b)
		out = append(out, parseSimple(l.pend, l.pendOff))
		l.reset()
	default:
		out = l.resync(out, b)
	}
	return out
}

func (l *Lexer) stepCSI(out []Token, b byte) []Token {
	switch {
	case b >= 0x30 && b <= 0x3f: // parameter bytes
		// Parameters may not follow intermediates; that is a grammar error.
		if hasIntermediate(l.pend[2:]) {
			return l.resync(out, b)
		}
		l.pend = append(l.pend, b)
	case b >= 0x20 && b <= 0x2f: // intermediate bytes
		l.pend = append(l.pend, b)
	case b >= 0x40 && b <= 0x7e: // final byte
		l.pend = append(l.pend, b)
		out = append(out, parseCSI(l.pend, l.pendOff))
		l.reset()
	default:
		out = l.resync(out, b)
	}
	return out
}

// stepString handles the OSC and DCS payload states, which share the same
// terminator grammar (BEL or ESC \ for OSC, ESC \ only for DCS).
func (l *Lexer) stepString(out []Token, b byte, st state) []Token {
	if l.stringEsc {
		l.stringEsc = false
		if b == '\\' {
			l.pend = append(l.pend, b)
			out = append(out, parseString(l.pend, l.pendOff, st))
			l.reset()
			return out
		}
		// The ESC did not open a string terminator: reclassify everything
		// before it as text and restart from the ESC itself.
		seq := l.pend[:len(l.pend)-1]
		if len(seq) > 0 {
			out = append(out, Token{Kind: KindText, Raw: seq, Offset: l.pendOff})
		}
		l.pend = nil
		l.state = stGround
		l.beginEscapeAt(esc, l.off-1)
		return l.step(out, b)
	}

	switch {
	case b == bel && st == stOSC:
		l.pend = append(l.pend, b)
		out = append(out, parseString(l.pend, l.pendOff, st))
		l.reset()
	case b == esc:
		l.pend = append(l.pend, b)
		l.stringEsc = true
	case b >= 0x20 || b == 0x09: // payload bytes, tabs tolerated in titles
		l.pend = append(l.pend, b)
	default:
		out = l.resync(out, b)
	}
	return out
}

func (l *Lexer) stepCharset(out []Token, b byte) []Token {
	switch {
	case b >= 0x20 && b <= 0x2f:
		l.pend = append(l.pend, b)
	case b >= 0x30 && b <= 0x7e:
		l.pend = append(l.pend, b)
		out = append(out, Token{
			Kind:   KindEscape,
			Raw:    l.pend,
			Offset: l.pendOff,
			Class:  EscCharset,
			Final:  b,
		})
		l.reset()
	default:
		out = l.resync(out, b)
	}
	return out
}

func (l *Lexer) beginEscape(b byte) {
	l.beginEscapeAt(b, l.off)
}

func (l *Lexer) beginEscapeAt(b byte, off int64) {
	l.pend = append(l.pend[:0:0], b)
	l.pendOff = off
	l.state = stEscape
}

// resync reclassifies the collected escape bytes as text and replays the
// offending byte from ground state.
func (l *Lexer) resync(out []Token, b byte) []Token {
	out = append(out, Token{Kind: KindText, Raw: l.pend, Offset: l.pendOff})
	l.reset()
	return l.step(out, b)
}

func (l *Lexer) reset() {
	l.pend = nil
	l.state = stGround
	l.stringEsc = false
}

func (l *Lexer) flushText(out []Token) []Token {
	if len(l.text) == 0 {
		return out
	}
	out = append(out, Token{Kind: KindText, Raw: l.text, Offset: l.textOff})
	l.text = nil
	return out
}

func hasIntermediate(body []byte) bool {
	for _, b := range body {
		if b >= 0x20 && b <= 0x2f {
			return true
		}
	}
	return false
}

// parseCSI builds a token from a complete CSI sequence: ESC [ body final.
func parseCSI(raw []byte, off int64) Token {
	t := Token{Kind: KindEscape, Raw: raw, Offset: off}
	body := raw[2 : len(raw)-1]
	t.Final = raw[len(raw)-1]

	if len(body) > 0 {
		switch body[0] {
		case '?', '>', '<', '=':
			t.Private = body[0]
			body = body[1:]
		}
	}
	// Strip trailing intermediates from the parameter section.
	end := len(body)
	for end > 0 && body[end-1] >= 0x20 && body[end-1] <= 0x2f {
		end--
	}
	t.Params = splitParams(body[:end])

	switch t.Final {
	case 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'd', 'f', 'S', 'T', 's', 'u':
		t.Class = EscCursor
	case 'm':
		t.Class = EscSGR
	case 'J', 'K', 'X':
		t.Class = EscErase
	case 'h', 'l':
		t.Class = EscMode
	default:
		t.Class = EscCSI
	}
	return t
}

// parseString builds a token from a complete OSC or DCS sequence.
func parseString(raw []byte, off int64, st state) Token {
	t := Token{Kind: KindEscape, Raw: raw, Offset: off}
	if st == stDCS {
		t.Class = EscDCS
		t.Params = splitParams(stringPayload(raw))
		return t
	}
	t.Params = splitParams(stringPayload(raw))
	switch {
	case len(t.Params) > 0 && t.Params[0] == "133":
		t.Class = EscPromptMark
	case len(t.Params) > 0 && (t.Params[0] == "0" || t.Params[0] == "2"):
		t.Class = EscTitle
	default:
		t.Class = EscOSC
	}
	return t
}

// stringPayload strips the ESC ] / ESC P introducer and the terminator.
func stringPayload(raw []byte) []byte {
	body := raw[2:]
	if len(body) > 0 && body[len(body)-1] == bel {
		return body[:len(body)-1]
	}
	if len(body) >= 2 && body[len(body)-2] == esc && body[len(body)-1] == '\\' {
		return body[:len(body)-2]
	}
	return body
}

func parseSimple(raw []byte, off int64) Token {
	return Token{
		Kind:   KindEscape,
		Raw:    raw,
		Offset: off,
		Class:  EscSimple,
		Final:  raw[len(raw)-1],
	}
}

func splitParams(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var params []string
	start := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == ';' {
			params = append(params, string(body[start:i]))
			start = i + 1
		}
	}
	return params
}
