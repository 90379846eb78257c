package compiler

import (
	"slices"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/transition"
)

// Coverage compares the event types a transition dispatches on with the
// event types the blueprint declares.
type Coverage struct {
	// Referenced are the types compared against event.type.
	Referenced []string `json:"referenced"`
	// Undeclared are referenced types that the blueprint does not declare.
	// Such branches can never run.
	Undeclared []string `json:"undeclared,omitempty"`
	// Unhandled are declared types the transition never mentions. Empty
	// when the transition does not dispatch on event.type at all.
	Unhandled []string `json:"unhandled,omitempty"`
}

// HasWarnings reports whether any branch is dead or any type unhandled.
func (c Coverage) HasWarnings() bool {
	return len(c.Undeclared) > 0 || len(c.Unhandled) > 0
}

// AnalyzeCoverage reports event type coverage for c.
func AnalyzeCoverage(c ir.BlueprintContent) (Coverage, error) {
	referenced, err := transition.ReferencedEventTypes(c.Transition)
	if err != nil {
		return Coverage{}, err
	}

	cov := Coverage{Referenced: referenced}
	for _, t := range referenced {
		if !c.HasEventType(t) {
			cov.Undeclared = append(cov.Undeclared, t)
		}
	}
	if len(referenced) == 0 {
		return cov, nil
	}
	for _, t := range c.EventTypes() {
		if !slices.Contains(referenced, t) {
			cov.Unhandled = append(cov.Unhandled, t)
		}
	}
	return cov, nil
}
