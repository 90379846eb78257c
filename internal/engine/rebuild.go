package engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/transition"
	"github.com/roach88/automata/internal/version"
)

// Fold applies events in order to initial through expr. This is how the
// projection is defined: an automata's state is always the fold of the
// state it was created with through its log.
func Fold(eval transition.Evaluator, expr string, initial ir.State, events []ir.Event) (ir.State, error) {
	state := maps.Clone(initial)
	if state == nil {
		state = ir.State{}
	}
	for _, ev := range events {
		next, err := eval.Evaluate(expr, state, transition.Input{Type: ev.Type, Data: ev.Data})
		if err != nil {
			return nil, fmt.Errorf("fold at %s: %w", ev.BaseVersion, err)
		}
		state = next
	}
	return state, nil
}

// StateAt rebuilds the state an automata had at target, starting from the
// nearest snapshot at or below it.
func (e *Engine) StateAt(ctx context.Context, automataID string, target version.Version) (ir.State, error) {
	a, err := e.Get(ctx, automataID)
	if err != nil {
		return nil, err
	}
	v, err := e.checkAnchor(a, target)
	if err != nil {
		return nil, err
	}
	if v == a.Version {
		return a.State, nil
	}

	cb, err := e.blueprint(ctx, a.BlueprintID)
	if err != nil {
		return nil, err
	}

	snap, ok, err := e.LatestSnapshot(ctx, automataID, v)
	if err != nil {
		return nil, err
	}
	start, state := snap.Version, snap.State
	if !ok {
		start = version.Zero
		if state, err = e.initialState(ctx, a.ID, cb); err != nil {
			return nil, err
		}
	}

	events, err := e.store.EventsBetween(ctx, automataID, start, v)
	if err != nil {
		return nil, storeError(err, ErrCodeEventNotFound, automataID, "state at")
	}
	out, err := Fold(e.evaluator, cb.Transition, state, events)
	if err != nil {
		return nil, expressionError(err, automataID)
	}
	return out, nil
}

// VerifyResult reports whether the stored projection matches the log.
type VerifyResult struct {
	AutomataID          string          `json:"automata_id"`
	Version             version.Version `json:"version"`
	Events              int             `json:"events"`
	GapFree             bool            `json:"gap_free"`
	StoredHash          string          `json:"stored_hash"`
	ReplayedHash        string          `json:"replayed_hash"`
	Match               bool            `json:"match"`
	SnapshotsChecked    int             `json:"snapshots_checked"`
	SnapshotsMismatched []string        `json:"snapshots_mismatched,omitempty"`
}

// Verify folds the automata's initial state through the whole log and
// compares the result with the stored state. It also checks that base
// versions run contiguously from version.Zero and that every snapshot
// matches the fold at its version.
func (e *Engine) Verify(ctx context.Context, automataID string) (VerifyResult, error) {
	a, err := e.Get(ctx, automataID)
	if err != nil {
		return VerifyResult{}, err
	}
	cb, err := e.blueprint(ctx, a.BlueprintID)
	if err != nil {
		return VerifyResult{}, err
	}

	snapshots, err := e.store.ListSnapshotVersions(ctx, automataID)
	if err != nil {
		return VerifyResult{}, storeError(err, ErrCodeAutomataNotFound, automataID, "verify")
	}
	pending := make(map[version.Version]bool, len(snapshots))
	for _, v := range snapshots {
		pending[v] = true
	}

	initial, err := e.initialState(ctx, automataID, cb)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{AutomataID: automataID, Version: a.Version, GapFree: true}
	state := maps.Clone(initial)
	cursor := version.Zero
	for {
		events, err := e.store.EventsFrom(ctx, automataID, cursor, MaxPageLimit)
		if err != nil {
			return VerifyResult{}, storeError(err, ErrCodeEventNotFound, automataID, "verify")
		}
		for _, ev := range events {
			if ev.BaseVersion != version.MustEncode(uint64(res.Events)) {
				res.GapFree = false
			}
			res.Events++

			if state, err = Fold(e.evaluator, cb.Transition, state, []ir.Event{ev}); err != nil {
				return VerifyResult{}, expressionError(err, automataID)
			}
			if v := ev.Version(); pending[v] {
				delete(pending, v)
				res.SnapshotsChecked++
				if ok, err := e.snapshotMatches(ctx, automataID, v, state); err != nil {
					return VerifyResult{}, err
				} else if !ok {
					res.SnapshotsMismatched = append(res.SnapshotsMismatched, string(v))
				}
			}
		}
		if len(events) < MaxPageLimit {
			break
		}
		cursor = events[len(events)-1].Version()
	}

	if uint64(res.Events) != version.Index(a.Version) {
		res.GapFree = false
	}

	if res.StoredHash, err = ir.StateHash(a.State); err != nil {
		return VerifyResult{}, newError(ErrCodeStorageUnavailable, automataID, err, "hash stored state")
	}
	if res.ReplayedHash, err = ir.StateHash(state); err != nil {
		return VerifyResult{}, expressionError(err, automataID)
	}
	res.Match = res.StoredHash == res.ReplayedHash && res.GapFree && len(res.SnapshotsMismatched) == 0
	return res, nil
}

// initialState is the state an automata was created with, falling back to
// its blueprint's for rows that predate recording it.
func (e *Engine) initialState(ctx context.Context, automataID string, cb *compiledBlueprint) (ir.State, error) {
	state, ok, err := e.store.InitialState(ctx, automataID)
	if err != nil {
		return nil, storeError(err, ErrCodeAutomataNotFound, automataID, "initial state")
	}
	if !ok {
		return cb.InitialState, nil
	}
	return state, nil
}

func (e *Engine) snapshotMatches(ctx context.Context, automataID string, v version.Version, state ir.State) (bool, error) {
	snap, ok, err := e.store.LatestSnapshot(ctx, automataID, v)
	if err != nil {
		return false, storeError(err, ErrCodeAutomataNotFound, automataID, "verify snapshot")
	}
	if !ok || snap.Version != v {
		return false, nil
	}
	want, err := ir.StateHash(state)
	if err != nil {
		return false, expressionError(err, automataID)
	}
	got, err := ir.StateHash(snap.State)
	if err != nil {
		return false, newError(ErrCodeStorageUnavailable, automataID, err, "hash snapshot")
	}
	return want == got, nil
}
