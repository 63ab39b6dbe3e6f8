package proxy

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pasta-sh/pasta/internal/term"
)

// WatchWinch propagates the user terminal's size to the mux: once at startup
// and again on every SIGWINCH. The signal channel is one deep; a burst of
// resizes during a window drag collapses into the latest size.
func WatchWinch(ctx context.Context, m *Mux, tty *os.File) {
	push := func() {
		rows, cols, err := term.Size(tty)
		if err != nil {
			return
		}
		m.Resize(rows, cols)
	}
	push()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				push()
			}
		}
	}()
}
