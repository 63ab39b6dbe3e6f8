// Package fingerprint derives shell-context signatures from prompt renders
// and classifies them against the session's shell stack to detect subshell
// transitions.
package fingerprint

import "regexp"

// Rule pairs a shell selector with a prompt-recognition pattern. Shell is a
// doublestar glob matched against the wrapped command path ("**/zsh"); an
// empty Shell applies to every shell.
type Rule struct {
	Name    string
	Shell   string
	Pattern *regexp.Regexp
}

// DefaultRules returns the built-in prompt-recognition rules. They cover the
// common POSIX shell prompts plus a set of nested interpreters that present
// their own prompt (remote shells, database clients, REPLs) and therefore
// open a new shell-stack level.
func DefaultRules() []Rule {
	return []Rule{
		// POSIX shells: anything ending in a $, # or % terminator. The ">"
		// glyph is excluded here; see angle_prompt below.
		{
			Name:    "posix_prompt",
			Pattern: regexp.MustCompile(`[$#%] $`),
		},
		// ">"-terminated prompts only count with a word character in front
		// ("fish> "); a bare "> " collides with PS2 continuation prompts.
		{
			Name:    "angle_prompt",
			Pattern: regexp.MustCompile(`\w> $`),
		},
		// Remote shells frequently render host-prefixed prompts.
		{
			Name:    "host_prompt",
			Pattern: regexp.MustCompile(`[\w.-]+(?::[~/][^\s]*)?[$#] $`),
		},
		// Database clients.
		{
			Name:    "mysql_prompt",
			Pattern: regexp.MustCompile(`mysql> $`),
		},
		{
			Name:    "postgres_prompt",
			Pattern: regexp.MustCompile(`\w+=[#>] $`),
		},
		{
			Name:    "redis_prompt",
			Pattern: regexp.MustCompile(`\d+\.\d+\.\d+\.\d+:\d+> $`),
		},
		// Language REPLs distinctive enough to avoid false positives.
		{
			Name:    "python_prompt",
			Pattern: regexp.MustCompile(`>>> $`),
		},
		{
			Name:    "ruby_irb_prompt",
			Pattern: regexp.MustCompile(`irb\([^)]+\):\d+[:>]\d*> $`),
		},
	}
}

// defaultSpawnCommands are command names whose invocation is treated as
// evidence that the next prompt may belong to a child shell.
var defaultSpawnCommands = []string{
	"ssh", "su", "sudo", "bash", "zsh", "sh", "dash", "fish", "ksh",
	"docker", "podman", "kubectl", "chroot", "nix-shell", "screen",
	"python", "python3", "irb", "mysql", "psql", "redis-cli", "node",
}
