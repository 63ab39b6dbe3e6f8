// Package pty allocates the pseudo-terminal pair and supervises the wrapped
// child process. The proxy owns the master side; the child gets the slave as
// its controlling terminal and cannot tell it is being observed.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Options configures session startup.
type Options struct {
	Argv []string // command and arguments; defaults to the user's shell
	Dir  string   // initial working directory
	Env  []string // appended to the inherited environment
	Rows uint16   // initial terminal rows (default 24)
	Cols uint16   // initial terminal columns (default 80)
}

// Session is one wrapped child process attached to a pty pair.
type Session struct {
	id    string
	shell string
	cmd   *exec.Cmd
	ptmx  *os.File

	closeOnce sync.Once
	closeErr  error
}

// Start launches the child on a freshly allocated pty sized to the given
// dimensions. The child inherits the parent environment unmodified except for
// the caller's additions; a transparent wrapper must not disturb TERM or the
// prompt variables.
func Start(opts Options) (*Session, error) {
	argv := opts.Argv
	if len(argv) == 0 {
		argv = []string{DetectShell()}
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &Session{
		id:    uuid.NewString(),
		shell: argv[0],
		cmd:   cmd,
		ptmx:  ptmx,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Command returns the path of the wrapped command.
func (s *Session) Command() string {
	return s.shell
}

// Read reads child output from the pty master.
func (s *Session) Read(b []byte) (int, error) {
	return s.ptmx.Read(b)
}

// Write writes user input to the pty master.
func (s *Session) Write(b []byte) (int, error) {
	return s.ptmx.Write(b)
}

// Resize propagates a new terminal size to the slave side. The kernel raises
// SIGWINCH in the child's foreground process group.
func (s *Session) Resize(rows, cols uint16) error {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Signal sends a signal to the child process.
func (s *Session) Signal(sig os.Signal) error {
	if s.cmd.Process == nil {
		return errors.New("process not started")
	}
	return s.cmd.Process.Signal(sig)
}

// Interrupt sends SIGINT to the child.
func (s *Session) Interrupt() error {
	return s.Signal(syscall.SIGINT)
}

// Wait blocks until the child exits and returns the exit code the wrapper
// should mirror: the child's own code, or 128+signal when it was killed.
func (s *Session) Wait() (int, error) {
	err := s.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait: %w", err)
}

// Close closes the master and kills the child if it is still running. Safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.ptmx.Close(); err != nil {
			s.closeErr = fmt.Errorf("close pty: %w", err)
		}
		if s.cmd.Process != nil && s.cmd.ProcessState == nil {
			_ = s.cmd.Process.Kill()
		}
	})
	return s.closeErr
}

// File exposes the master for callers that need the raw descriptor.
func (s *Session) File() *os.File {
	return s.ptmx
}

// DetectShell returns the user's shell, falling back through the common
// locations when SHELL is unset.
func DetectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}
