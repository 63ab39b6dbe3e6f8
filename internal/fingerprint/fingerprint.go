package fingerprint

import (
	"strings"
)

// Fingerprint is a derived signature for one shell context: the prompt text
// it renders, plus escape-sequence metadata observed during the render.
type Fingerprint struct {
	Prompt string   // trailing prompt line, exactly as rendered (escapes stripped)
	Title  string   // last OSC 0/2 window title seen before the prompt
	SGR    []string // raw SGR sequences observed in the prompt render
}

// Zero reports whether the fingerprint has not been learned yet.
func (f Fingerprint) Zero() bool {
	return f.Prompt == ""
}

// promptTerminators are the final glyphs a prompt line conventionally ends
// with, used for the stability comparison between consecutive prompts.
var promptTerminators = []string{"$ ", "# ", "% ", "> "}

func terminator(prompt string) string {
	for _, t := range promptTerminators {
		if strings.HasSuffix(prompt, t) {
			return t
		}
	}
	return ""
}

// Matches reports whether candidate plausibly belongs to the same shell
// context as f. Exact prompt equality always matches. Otherwise the two must
// share a terminator and a substantial common prefix, which absorbs prompts
// that embed a changing working directory ("user@host:~/a$ " vs
// "user@host:~/b$ ").
func (f Fingerprint) Matches(candidate Fingerprint) bool {
	if f.Zero() {
		return false
	}
	if f.Prompt == candidate.Prompt {
		return true
	}
	ta, tb := terminator(f.Prompt), terminator(candidate.Prompt)
	if ta == "" || ta != tb {
		return false
	}
	shorter := len(f.Prompt)
	if len(candidate.Prompt) < shorter {
		shorter = len(candidate.Prompt)
	}
	common := commonPrefixLen(f.Prompt, candidate.Prompt)
	return shorter > len(ta) && common*2 >= shorter
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Result is the outcome of classifying a prompt candidate against the stack.
type Result int

const (
	// Same: the candidate belongs to the shell at the top of the stack.
	// This is the conservative default for every ambiguous case, since a
	// wrong NewChild corrupts the lifecycle stack for the session.
	Same Result = iota
	// NewChild: the candidate belongs to a shell nested under the current top.
	NewChild
	// ReturnToAncestor: the candidate matches a shell below the top; the
	// stack unwinds to Depth.
	ReturnToAncestor
)

func (r Result) String() string {
	switch r {
	case Same:
		return "same"
	case NewChild:
		return "new-child"
	case ReturnToAncestor:
		return "return-to-ancestor"
	default:
		return "unknown"
	}
}

// Classification carries the result plus the evidence trail for logging.
type Classification struct {
	Result     Result
	Depth      int // target depth for ReturnToAncestor
	Confidence float64
	Reason     string
}

// Evidence is out-of-band context available at classification time.
type Evidence struct {
	// Spawn is true when the command line that just completed invoked a
	// known shell-spawning program.
	Spawn bool
	// PromptMark is true when the prompt was announced by an OSC 133;A
	// shell-integration mark rather than inferred heuristically.
	PromptMark bool
}
