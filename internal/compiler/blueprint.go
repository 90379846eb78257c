package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/automata/internal/ir"
)

// CompileBlueprint parses a CUE value into blueprint content.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the blueprint struct itself; its label is the name:
//
//	blueprint: listing: {
//		app_id:        "@builtin/listing"
//		state_schema:  {type: "object", required: ["name"]}
//		events:        {SET_INFO: {type: "object"}, PUBLISH: {type: "object"}}
//		initial_state: {name: "Untitled App"}
//		transition:    "merge(state, event.data)"
//	}
//
// Schemas are written as CUE structs and exported as JSON. A `name` field,
// when present, overrides the label.
func CompileBlueprint(v cue.Value) (*ir.BlueprintContent, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	content := &ir.BlueprintContent{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		content.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		content.Name = name
	}

	var err error
	if content.AppID, err = requiredString(v, "app_id"); err != nil {
		return nil, err
	}
	if content.Transition, err = requiredString(v, "transition"); err != nil {
		return nil, err
	}

	if descVal := v.LookupPath(cue.ParsePath("description")); descVal.Exists() {
		if content.Description, err = descVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if schemaVal := v.LookupPath(cue.ParsePath("state_schema")); schemaVal.Exists() {
		if content.StateSchema, err = exportJSON(schemaVal); err != nil {
			return nil, err
		}
	}

	content.EventSchemas, err = parseEvents(v)
	if err != nil {
		return nil, err
	}
	if len(content.EventSchemas) == 0 {
		return nil, &CompileError{
			Field:   "events",
			Message: "at least one event type is required",
			Pos:     v.Pos(),
		}
	}

	if initVal := v.LookupPath(cue.ParsePath("initial_state")); initVal.Exists() {
		raw, err := exportJSON(initVal)
		if err != nil {
			return nil, err
		}
		if content.InitialState, err = ir.DecodeState(raw); err != nil {
			return nil, &CompileError{
				Field:   "initial_state",
				Message: err.Error(),
				Pos:     initVal.Pos(),
			}
		}
	}

	return content, nil
}

// parseEvents reads the events struct: event type -> JSON Schema of its
// data.
func parseEvents(v cue.Value) (map[string]json.RawMessage, error) {
	eventsVal := v.LookupPath(cue.ParsePath("events"))
	if !eventsVal.Exists() {
		return nil, nil
	}

	iter, err := eventsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	events := make(map[string]json.RawMessage)
	for iter.Next() {
		schema, err := exportJSON(iter.Value())
		if err != nil {
			return nil, err
		}
		events[iter.Label()] = schema
	}
	return events, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// exportJSON exports a concrete CUE value as JSON.
func exportJSON(v cue.Value) (json.RawMessage, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return data, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
