// Package proxy runs the transparent relay between the user's terminal and
// the wrapped child: stdin is forwarded to the pty master, child output is
// forwarded to stdout and teed into the lexer and lifecycle engine.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"syscall"

	"github.com/pasta-sh/pasta/internal/ansi"
	"github.com/pasta-sh/pasta/internal/lifecycle"
)

// chunkSize bounds one pty read. Output is forwarded to the user in the same
// chunks it was read in; analysis never delays or reorders the relay.
const chunkSize = 32 * 1024

// Child is the pty surface the multiplexer drives.
type Child interface {
	io.Reader
	io.Writer
	Resize(rows, cols uint16) error
}

// Tap observes raw stream traffic after it has been forwarded. Calls happen
// in stream order; Output on the relay goroutine, Input on the input
// goroutine.
type Tap interface {
	Output(data []byte)
	Input(data []byte)
}

// Size is a terminal geometry.
type Size struct {
	Rows uint16
	Cols uint16
}

// Mux couples one child session to one user terminal.
type Mux struct {
	child  Child
	stdin  io.Reader
	stdout io.Writer
	lexer  *ansi.Lexer
	engine *lifecycle.Engine
	taps   []Tap
	log    *slog.Logger

	// echo reports whether the child terminal currently echoes input; when it
	// does not, input bytes are withheld from taps (password entry).
	echo func() (bool, error)

	resize   chan Size
	lastSize Size
}

// MuxOption configures the multiplexer.
type MuxOption func(*Mux)

// WithTap attaches a raw-stream observer.
func WithTap(t Tap) MuxOption {
	return func(m *Mux) { m.taps = append(m.taps, t) }
}

// WithEchoProbe supplies the echo-state check used to suppress input capture
// while the child reads a password.
func WithEchoProbe(probe func() (bool, error)) MuxOption {
	return func(m *Mux) { m.echo = probe }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) MuxOption {
	return func(m *Mux) { m.log = log }
}

// NewMux creates a multiplexer. The engine must be dedicated to this mux; it
// is fed from the relay goroutine only.
func NewMux(child Child, stdin io.Reader, stdout io.Writer, engine *lifecycle.Engine, opts ...MuxOption) *Mux {
	m := &Mux{
		child:  child,
		stdin:  stdin,
		stdout: stdout,
		lexer:  ansi.NewLexer(),
		engine: engine,
		log:    slog.Default(),
		resize: make(chan Size, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resize requests a terminal-size propagation. Requests are coalesced: when
// resizes arrive faster than they can be applied, only the latest size
// matters.
func (m *Mux) Resize(rows, cols uint16) {
	s := Size{Rows: rows, Cols: cols}
	for {
		select {
		case m.resize <- s:
			return
		default:
			// Drop the stale pending size and retry with the new one.
			select {
			case <-m.resize:
			default:
			}
		}
	}
}

// Run relays until the child closes its side of the pty. The user sees every
// output byte before the engine does; on end of stream the lexer and engine
// are drained so trailing regions close deterministically.
func (m *Mux) Run(ctx context.Context) error {
	go m.applyResizes(ctx)
	go m.copyInput(ctx)

	buf := make([]byte, chunkSize)
	for {
		n, err := m.child.Read(buf)
		if n > 0 {
			if _, werr := m.stdout.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write stdout: %w", werr)
			}
			for _, t := range m.taps {
				t.Output(buf[:n])
			}
			for _, tok := range m.lexer.Write(buf[:n]) {
				m.engine.Consume(tok)
			}
			m.engine.EndChunk()
		}
		if err != nil {
			for _, tok := range m.lexer.Close() {
				m.engine.Consume(tok)
			}
			m.engine.Close()
			if isStreamEnd(err) {
				return nil
			}
			return fmt.Errorf("read pty: %w", err)
		}
	}
}

// isStreamEnd reports whether a pty master read error means the child side is
// gone. Linux returns EIO once the slave has no more open descriptors.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, fs.ErrClosed)
}

func (m *Mux) copyInput(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := m.stdin.Read(buf)
		if n > 0 {
			if _, werr := m.child.Write(buf[:n]); werr != nil {
				m.log.Debug("input relay ended", slog.String("error", werr.Error()))
				return
			}
			if m.captureInput() {
				for _, t := range m.taps {
					t.Input(buf[:n])
				}
			}
		}
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

func (m *Mux) captureInput() bool {
	if m.echo == nil {
		return true
	}
	on, err := m.echo()
	if err != nil {
		return true
	}
	return on
}

func (m *Mux) applyResizes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-m.resize:
			m.handleResize(s)
		}
	}
}

// handleResize applies one coalesced size, skipping no-op repeats.
func (m *Mux) handleResize(s Size) {
	if s == m.lastSize {
		return
	}
	if err := m.child.Resize(s.Rows, s.Cols); err != nil {
		m.log.Warn("resize failed",
			slog.Int("rows", int(s.Rows)),
			slog.Int("cols", int(s.Cols)),
			slog.String("error", err.Error()),
		)
		return
	}
	m.lastSize = s
}
