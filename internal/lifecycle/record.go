package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/pasta-sh/pasta/internal/fingerprint"
)

// CommandRecord is the assembled history entry for one completed command:
// the prompt it was typed at, the input line, and the byte range of its
// output in the session stream.
type CommandRecord struct {
	ID          string                  `json:"id"`
	Depth       int                     `json:"depth"`
	Prompt      string                  `json:"prompt"`
	Input       string                  `json:"input"`
	Started     time.Time               `json:"started"`
	Elapsed     time.Duration           `json:"elapsed"`
	OutputStart int64                   `json:"output_start"`
	OutputEnd   int64                   `json:"output_end"`
	ExitCode    *int                    `json:"exit_code,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"-"`
}

// Recorder assembles lifecycle events into CommandRecords. It implements
// Sink and may be fanned in via MultiSink alongside other consumers.
type Recorder struct {
	records []CommandRecord
	open    *CommandRecord
	prompt  string
	fp      fingerprint.Fingerprint
}

// NewRecorder creates an empty command recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(ev Event) {
	switch ev.Type {
	case PromptStart:
		r.fp = ev.Fingerprint
	case PromptEnd:
		r.prompt = ev.Data
	case CommandInputBegin:
		r.open = &CommandRecord{
			ID:          uuid.NewString(),
			Depth:       ev.Depth,
			Prompt:      r.prompt,
			Started:     ev.Time,
			Fingerprint: r.fp,
		}
	case CommandInputEnd:
		if r.open != nil {
			r.open.Input = ev.Data
		}
	case CommandOutputBegin:
		if r.open != nil {
			r.open.OutputStart = ev.Offset
		}
	case CommandOutputEnd:
		if r.open == nil {
			return
		}
		r.open.OutputEnd = ev.Offset
		r.open.ExitCode = ev.ExitCode
		r.open.Elapsed = ev.Time.Sub(r.open.Started)
		r.records = append(r.records, *r.open)
		r.open = nil
	}
}

// Records returns the completed records in command order.
func (r *Recorder) Records() []CommandRecord {
	return r.records
}

// Last returns the most recently completed record, if any.
func (r *Recorder) Last() (CommandRecord, bool) {
	if len(r.records) == 0 {
		return CommandRecord{}, false
	}
	return r.records[len(r.records)-1], true
}
