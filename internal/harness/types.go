package harness

import (
	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// Step kinds recorded in the trace.
const (
	StepCreate      = "create"
	StepSubmit      = "submit"
	StepArchive     = "archive"
	StepUnarchive   = "unarchive"
	StepSubscribe   = "subscribe"
	StepUnsubscribe = "unsubscribe"
)

// TraceStep records what one scenario step did.
type TraceStep struct {
	Seq         int             `json:"seq"`
	Kind        string          `json:"kind"`
	Automata    string          `json:"automata"`
	EventType   string          `json:"event_type,omitempty"`
	BaseVersion version.Version `json:"base_version,omitempty"`
	Version     version.Version `json:"version,omitempty"`
	Committed   *bool           `json:"committed,omitempty"`
	Status      ir.Status       `json:"status,omitempty"`
	Error       string          `json:"error,omitempty"`
	State       ir.State        `json:"state,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one entry per create and flow step, in order.
	Trace []TraceStep `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Updates counts update frames delivered, by automata name.
	Updates map[string]int `json:"updates,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceStep{},
		Errors:  []string{},
		Updates: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addStep appends s to the trace, numbering it.
func (r *Result) addStep(s TraceStep) {
	s.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, s)
}
