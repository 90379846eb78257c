package engine

import (
	"context"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/transition"
	"github.com/roach88/automata/internal/version"
)

// AppendRequest submits one event against the version the caller observed.
type AppendRequest struct {
	AutomataID      string
	ExpectedVersion version.Version
	EventType       string
	EventData       ir.State
	SenderID        string
}

// AppendResult reports the outcome of Append.
//
// Committed=true: the event is in the log at BaseVersion and the automata
// moved to Version with State.
//
// Committed=false: another writer got there first. Version and State are
// the automata's current values, read after the lost write; the caller
// decides whether to re-submit against them.
type AppendResult struct {
	Committed   bool            `json:"committed"`
	BaseVersion version.Version `json:"base_version,omitempty"`
	Version     version.Version `json:"version"`
	State       ir.State        `json:"state"`
}

// Append runs the append protocol:
//
//  1. Parse the expected version and load the automata; it must be active
//  2. Check the event type is declared and the data fits its schema
//  3. If the stored version already moved on, report Committed=false
//     without evaluating against state the caller never saw
//  4. Evaluate the transition and check the result against the state schema
//  5. In one transaction, record the event and advance the automata, both
//     conditioned on the expected version
//  6. After commit, snapshot and notify in the background
//
// A lost race is not an error and is never retried here.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (AppendResult, error) {
	expected, err := version.Parse(string(req.ExpectedVersion))
	if err != nil {
		return AppendResult{}, versionError(err, req.AutomataID, "expected version")
	}

	a, err := e.Get(ctx, req.AutomataID)
	if err != nil {
		return AppendResult{}, err
	}
	if a.Status != ir.StatusActive {
		return AppendResult{}, newError(ErrCodeAutomataArchived, a.ID, nil, "automata is archived")
	}

	cb, err := e.blueprint(ctx, a.BlueprintID)
	if err != nil {
		return AppendResult{}, err
	}

	data := req.EventData
	if data == nil {
		data = ir.State{}
	}
	if data, err = ir.Normalize(data); err != nil {
		return AppendResult{}, newError(ErrCodeInvalidEventData, a.ID, err, "event data is not a JSON object")
	}
	declared, err := cb.validateEvent(req.EventType, data)
	if !declared {
		return AppendResult{}, newError(ErrCodeUnknownEventType, a.ID, nil,
			"event type %q is not declared by blueprint %s", req.EventType, cb.ID)
	}
	if err != nil {
		return AppendResult{}, newError(ErrCodeInvalidEventData, a.ID, err,
			"event data does not satisfy the %s schema", req.EventType)
	}

	if a.Version != expected {
		e.logger.Debug("append lost: stale expected version",
			"automata_id", a.ID, "expected", expected, "current", a.Version)
		return AppendResult{Committed: false, Version: a.Version, State: a.State}, nil
	}

	next, err := version.Increment(expected)
	if err != nil {
		return AppendResult{}, versionError(err, a.ID, "expected version")
	}

	newState, err := e.evaluator.Evaluate(cb.Transition, a.State, transition.Input{Type: req.EventType, Data: data})
	if err != nil {
		return AppendResult{}, expressionError(err, a.ID)
	}
	if err := cb.validateState(newState); err != nil {
		return AppendResult{}, newError(ErrCodeExecutionFailed, a.ID, err,
			"transition result does not satisfy state_schema")
	}

	now := e.clock.Now()
	committed, err := e.store.AppendEvent(ctx, store.Append{
		Event: ir.Event{
			AutomataID:  a.ID,
			BaseVersion: expected,
			Type:        req.EventType,
			Data:        data,
			SenderID:    req.SenderID,
			Timestamp:   now,
		},
		Next:  next,
		State: newState,
		At:    now,
	})
	if err != nil {
		return AppendResult{}, storeError(err, ErrCodeAutomataNotFound, a.ID, "append event")
	}
	if !committed {
		return e.lost(ctx, a.ID, expected)
	}

	e.logger.Debug("event committed",
		"automata_id", a.ID, "event_type", req.EventType, "version", next)

	e.afterCommit(ctx, ir.Transition{
		AutomataID:  a.ID,
		OwnerID:     a.OwnerID,
		EventType:   req.EventType,
		BaseVersion: expected,
		Version:     next,
		State:       newState,
		SenderID:    req.SenderID,
	})

	return AppendResult{Committed: true, BaseVersion: expected, Version: next, State: newState}, nil
}

// lost reads the automata after a conditional write failed.
func (e *Engine) lost(ctx context.Context, id string, expected version.Version) (AppendResult, error) {
	a, err := e.Get(ctx, id)
	if err != nil {
		return AppendResult{}, err
	}
	e.logger.Debug("append lost: concurrent writer",
		"automata_id", id, "expected", expected, "current", a.Version)
	return AppendResult{Committed: false, Version: a.Version, State: a.State}, nil
}

// GetEvent returns the event recorded at baseVersion, the event that
// moved the automata from baseVersion to baseVersion+1.
func (e *Engine) GetEvent(ctx context.Context, automataID string, baseVersion version.Version) (ir.Event, error) {
	v, err := version.Parse(string(baseVersion))
	if err != nil {
		return ir.Event{}, versionError(err, automataID, "version")
	}
	ev, err := e.store.GetEvent(ctx, automataID, v)
	if err != nil {
		return ir.Event{}, storeError(err, ErrCodeEventNotFound, automataID, "get event")
	}
	return ev, nil
}
