package engine

import (
	"context"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// ShouldSnapshot reports whether a snapshot belongs at v:
// decode(v) mod interval == 0. Always false when snapshotting is disabled.
func (e *Engine) ShouldSnapshot(v version.Version) bool {
	if _, err := version.Parse(string(v)); err != nil {
		return false
	}
	return version.IsMultiple(v, e.snapshotInterval)
}

// maybeSnapshot records a snapshot of a committed transition when its
// version is on the interval. Failures are logged and dropped; the
// snapshot is a cache and the log is the source of truth.
func (e *Engine) maybeSnapshot(ctx context.Context, t ir.Transition) {
	if !e.ShouldSnapshot(t.Version) {
		return
	}

	inserted, err := e.store.PutSnapshot(ctx, ir.Snapshot{
		AutomataID: t.AutomataID,
		Version:    t.Version,
		State:      t.State,
		CreatedAt:  e.clock.Now(),
	})
	if err != nil {
		e.logger.Warn("snapshot failed",
			"automata_id", t.AutomataID, "version", t.Version, "error", err)
		return
	}
	if inserted {
		e.logger.Debug("snapshot written", "automata_id", t.AutomataID, "version", t.Version)
	}
}

// LatestSnapshot returns the snapshot at the largest interval multiple at
// or below maxVersion. If that snapshot was never written, the newest
// older one is returned instead. ok is false when none exists, in which
// case replay starts from version.Zero.
func (e *Engine) LatestSnapshot(ctx context.Context, automataID string, maxVersion version.Version) (snap ir.Snapshot, ok bool, err error) {
	v, err := version.Parse(string(maxVersion))
	if err != nil {
		return ir.Snapshot{}, false, versionError(err, automataID, "version")
	}
	if e.snapshotInterval == 0 {
		return ir.Snapshot{}, false, nil
	}

	floor := version.FloorMultiple(v, e.snapshotInterval)
	if floor == version.Zero {
		return ir.Snapshot{}, false, nil
	}

	snap, ok, err = e.store.LatestSnapshot(ctx, automataID, floor)
	if err != nil {
		return ir.Snapshot{}, false, storeError(err, ErrCodeAutomataNotFound, automataID, "latest snapshot")
	}
	return snap, ok, nil
}
