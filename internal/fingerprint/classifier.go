package fingerprint

import (
	"strings"
)

// Classifier decides, for each confirmed prompt render, whether the session
// stayed in the same shell, entered a subshell, or returned to an ancestor.
// It is a pure matcher: it holds rule state but no session state.
type Classifier struct {
	rules         []Rule
	spawnCommands map[string]bool
}

// ClassifierOption configures the classifier.
type ClassifierOption func(*Classifier)

// WithRules appends prompt-recognition rules, typically from configuration.
// Rules are checked before the built-in defaults.
func WithRules(rules []Rule) ClassifierOption {
	return func(c *Classifier) {
		c.rules = append(rules, c.rules...)
	}
}

// WithSpawnCommands replaces the built-in shell-spawning command list.
func WithSpawnCommands(commands []string) ClassifierOption {
	return func(c *Classifier) {
		c.spawnCommands = make(map[string]bool, len(commands))
		for _, cmd := range commands {
			c.spawnCommands[cmd] = true
		}
	}
}

// NewClassifier creates a classifier with the default rules.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{rules: DefaultRules()}
	c.spawnCommands = make(map[string]bool, len(defaultSpawnCommands))
	for _, cmd := range defaultSpawnCommands {
		c.spawnCommands[cmd] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LooksLikePrompt reports whether line matches any prompt-recognition rule.
func (c *Classifier) LooksLikePrompt(line string) (Rule, bool) {
	for _, r := range c.rules {
		if r.Pattern != nil && r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

// SpawnCommand reports whether the given command line invokes a program known
// to start a nested shell or interpreter. Leading sudo is skipped so that
// "sudo su" and "sudo -i bash" count.
func (c *Classifier) SpawnCommand(cmdline string) bool {
	fields := strings.Fields(cmdline)
	for len(fields) > 0 && (fields[0] == "sudo" || strings.HasPrefix(fields[0], "-")) {
		if fields[0] == "sudo" && c.spawnCommands["sudo"] {
			return true
		}
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return false
	}
	name := fields[0]
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return c.spawnCommands[name]
}

// Classify compares a prompt candidate against the shell stack (bottom first,
// the last element is the current top) and returns the lifecycle decision.
// Ambiguity resolves to Same.
func (c *Classifier) Classify(candidate Fingerprint, stack []Fingerprint, ev Evidence) Classification {
	if len(stack) == 0 {
		return Classification{Result: Same, Confidence: 1, Reason: "empty stack"}
	}

	top := stack[len(stack)-1]
	if top.Zero() {
		// First prompt at this level: learn, don't transition.
		return Classification{Result: Same, Confidence: 1, Reason: "learning prompt"}
	}
	if top.Matches(candidate) {
		return Classification{Result: Same, Confidence: 1, Reason: "matches top"}
	}

	// Deepest ancestor wins: an exited subshell returns to the closest frame
	// whose prompt reappears.
	for depth := len(stack) - 2; depth >= 0; depth-- {
		if stack[depth].Matches(candidate) {
			return Classification{
				Result:     ReturnToAncestor,
				Depth:      depth,
				Confidence: 0.9,
				Reason:     "matches ancestor prompt",
			}
		}
	}

	if rule, ok := c.LooksLikePrompt(candidate.Prompt); ok {
		conf := 0.6
		reason := "unrecognized prompt shape (" + rule.Name + ")"
		if ev.Spawn {
			conf = 0.9
			reason += ", after spawn command"
		}
		if ev.PromptMark {
			conf += 0.05
		}
		if ev.Spawn || ev.PromptMark {
			return Classification{Result: NewChild, Confidence: conf, Reason: reason}
		}
		// A prompt-shaped line with no corroborating evidence could equally
		// be command output; stay put.
		return Classification{Result: Same, Confidence: 0.5, Reason: reason + ", no evidence"}
	}

	// A shell-integration mark makes the render an authoritative prompt even
	// when its shape matches no rule; paired with a spawn command that is
	// enough to open a level.
	if ev.PromptMark && ev.Spawn {
		return Classification{Result: NewChild, Confidence: 0.85, Reason: "marked prompt after spawn command"}
	}

	return Classification{Result: Same, Confidence: 0.4, Reason: "ambiguous candidate"}
}
