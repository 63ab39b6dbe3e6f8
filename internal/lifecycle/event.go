// Package lifecycle turns the tokenizer's output into prompt, command and
// shell lifecycle events. Three cooperating state machines run over the top
// of the shell stack: the prompt machine, the command machine, and the shell
// machine (the stack itself). The engine is single-consumer: tokens must be
// fed from one goroutine in arrival order.
package lifecycle

import (
	"time"

	"github.com/pasta-sh/pasta/internal/fingerprint"
)

// EventType names a lifecycle transition.
type EventType string

const (
	PromptStart        EventType = "prompt_start"
	PromptEnd          EventType = "prompt_end"
	CommandInputBegin  EventType = "command_input_begin"
	CommandInputEnd    EventType = "command_input_end"
	CommandOutputBegin EventType = "command_output_begin"
	CommandOutputEnd   EventType = "command_output_end"
	ShellEnter         EventType = "shell_enter"
	ShellExit          EventType = "shell_exit"
)

// Event is one lifecycle transition. Events are immutable and delivered in
// emission order; Offset is the position in the pty byte stream the event
// refers to, for traceability back to the raw session.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	Offset int64     `json:"offset"`
	Depth  int       `json:"depth"`

	// Data carries the region's bytes where that is useful: the prompt text
	// for PromptEnd, the command line for CommandInputEnd.
	Data string `json:"data,omitempty"`

	// Fingerprint is set on PromptStart, ShellEnter and ShellExit.
	Fingerprint fingerprint.Fingerprint `json:"fingerprint,omitempty"`

	// ExitCode is set on CommandOutputEnd when the shell reported one via an
	// OSC 133;D mark; nil otherwise.
	ExitCode *int `json:"exit_code,omitempty"`
}

// Sink consumes lifecycle events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans one event stream out to several sinks, preserving order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Feed is a buffered, append-only event feed for out-of-process consumers.
// Events are delivered in emission order on the channel returned by Events.
type Feed struct {
	ch chan Event
}

// NewFeed creates a feed with the given buffer capacity.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 256
	}
	return &Feed{ch: make(chan Event, capacity)}
}

// Emit implements Sink. It blocks if the consumer falls behind by more than
// the buffer capacity; the shell stack is not designed for concurrent
// mutation, so backpressure is preferred over reordering or loss.
func (f *Feed) Emit(ev Event) {
	f.ch <- ev
}

// Events returns the receive side of the feed.
func (f *Feed) Events() <-chan Event {
	return f.ch
}

// Close closes the feed channel. Only the emitting side may call it.
func (f *Feed) Close() {
	close(f.ch)
}
