// Package term controls the proxy's own controlling terminal: raw mode for
// the lifetime of a session, size queries for pty propagation, and echo-state
// inspection for sensitive-input detection.
package term

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

// Raw holds the saved terminal state from before raw mode was entered.
type Raw struct {
	fd    int
	prev  *term.State
	once  sync.Once
	rerr  error
}

// MakeRaw switches the terminal into raw mode so every keystroke reaches the
// child unmodified. The caller must Restore before exiting; a wrapper that
// leaves the user's terminal raw is worse than one that crashes.
func MakeRaw(f *os.File) (*Raw, error) {
	fd := int(f.Fd())
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("make raw: %w", err)
	}
	return &Raw{fd: fd, prev: prev}, nil
}

// Restore puts the terminal back into its pre-raw state. Safe to call more
// than once; only the first call touches the terminal.
func (r *Raw) Restore() error {
	r.once.Do(func() {
		if err := term.Restore(r.fd, r.prev); err != nil {
			r.rerr = fmt.Errorf("restore terminal: %w", err)
		}
	})
	return r.rerr
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Size returns the terminal dimensions in rows and columns.
func Size(f *os.File) (rows, cols uint16, err error) {
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0, fmt.Errorf("terminal size: %w", err)
	}
	return uint16(h), uint16(w), nil
}
