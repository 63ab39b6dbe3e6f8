// Package ansi provides a streaming lexer for terminal byte streams.
//
// The lexer splits raw pty traffic into typed tokens: runs of printable
// text, single control characters, and complete escape sequences. It never
// drops bytes: concatenating the Raw field of every emitted token, in
// order, reproduces the input stream exactly, including through resync of
// malformed sequences.
package ansi

// Kind identifies the lexical class of a token.
type Kind int

const (
	// KindText is a run of printable bytes (including UTF-8 multibyte runes).
	KindText Kind = iota
	// KindControl is a single control byte (C0 range or DEL), excluding ESC.
	KindControl
	// KindEscape is a complete escape sequence.
	KindEscape
	// KindIncomplete is a partially collected escape sequence awaiting more
	// bytes. It is only observable through Lexer.Pending; the lexer never
	// emits it into the token stream.
	KindIncomplete
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindControl:
		return "control"
	case KindEscape:
		return "escape"
	case KindIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// EscClass identifies the recognized escape-sequence family of a KindEscape
// token.
type EscClass int

const (
	EscUnknown EscClass = iota
	// EscCursor covers CSI cursor movement and scrolling (CUU, CUD, CUP, ...).
	EscCursor
	// EscSGR covers CSI select-graphic-rendition (colors and attributes).
	EscSGR
	// EscErase covers CSI erase-in-display and erase-in-line.
	EscErase
	// EscMode covers CSI set/reset mode, including private DEC modes.
	EscMode
	// EscCSI covers any other well-formed CSI sequence.
	EscCSI
	// EscTitle covers OSC 0 and OSC 2 window-title sequences.
	EscTitle
	// EscPromptMark covers OSC 133 shell-integration prompt marks.
	EscPromptMark
	// EscOSC covers any other well-formed OSC sequence.
	EscOSC
	// EscDCS covers device-control strings.
	EscDCS
	// EscCharset covers ESC sequences with intermediate bytes, such as
	// charset designations (ESC ( B) and DECALN-style sequences.
	EscCharset
	// EscSimple covers two-byte ESC sequences (ESC 7, ESC =, ESC c, ...).
	EscSimple
)

func (c EscClass) String() string {
	switch c {
	case EscCursor:
		return "cursor"
	case EscSGR:
		return "sgr"
	case EscErase:
		return "erase"
	case EscMode:
		return "mode"
	case EscCSI:
		return "csi"
	case EscTitle:
		return "title"
	case EscPromptMark:
		return "prompt-mark"
	case EscOSC:
		return "osc"
	case EscDCS:
		return "dcs"
	case EscCharset:
		return "charset"
	case EscSimple:
		return "simple"
	default:
		return "unknown"
	}
}

// Token is one atomic lexical unit. Tokens are immutable once emitted; Raw
// always holds the exact input bytes the token was built from, and Offset is
// the absolute position of Raw[0] in the byte stream.
type Token struct {
	Kind   Kind
	Raw    []byte
	Offset int64

	// Escape-sequence fields, set only for KindEscape.
	Class   EscClass
	Params  []string // CSI parameters or OSC payload segments
	Final   byte     // CSI final byte, or the terminating byte of an ESC sequence
	Private byte     // CSI private-parameter marker ('?', '>', '<', '='), if any
}

// Text returns the token's raw bytes as a string.
func (t Token) Text() string {
	return string(t.Raw)
}

// Control returns the control byte of a KindControl token.
func (t Token) Control() byte {
	if len(t.Raw) == 0 {
		return 0
	}
	return t.Raw[0]
}

// IsPromptMark reports whether the token is an OSC 133 mark with the given
// code ("A", "B", "C" or "D").
func (t Token) IsPromptMark(code string) bool {
	return t.Kind == KindEscape && t.Class == EscPromptMark &&
		len(t.Params) >= 2 && t.Params[1] == code
}
