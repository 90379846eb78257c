package engine

import (
	"context"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// HistoryPage is one page of a backtrace or replay. NextAnchor is nil when
// the traversal is complete.
type HistoryPage struct {
	Events     []ir.Event       `json:"events"`
	NextAnchor *version.Version `json:"next_anchor"`
}

// Backtrace walks the log newest first.
//
// Returns events whose base version is at or below anchor (default: the
// current version), up to limit. NextAnchor is the version just before the
// oldest returned event; it is nil once the first event (base version.Zero)
// has been returned.
//
// A malformed anchor is a validation error and an anchor beyond the
// current version is a range error. Neither is clamped.
func (e *Engine) Backtrace(ctx context.Context, automataID string, anchor *version.Version, limit int) (HistoryPage, error) {
	a, err := e.Get(ctx, automataID)
	if err != nil {
		return HistoryPage{}, err
	}

	upper := a.Version
	if anchor != nil {
		if upper, err = e.checkAnchor(a, *anchor); err != nil {
			return HistoryPage{}, err
		}
	}

	events, err := e.store.EventsBefore(ctx, automataID, upper, clampLimit(limit))
	if err != nil {
		return HistoryPage{}, storeError(err, ErrCodeEventNotFound, automataID, "backtrace")
	}

	page := HistoryPage{Events: events}
	if n := len(events); n > 0 {
		if prev, err := version.Decrement(events[n-1].BaseVersion); err == nil {
			page.NextAnchor = &prev
		}
	}
	return page, nil
}

// Replay walks the log oldest first.
//
// Returns events whose resulting version (base version + 1) is above
// anchor (default: version.Zero), up to limit. NextAnchor is the resulting
// version of the last returned event; it is nil once that equals the
// current version.
func (e *Engine) Replay(ctx context.Context, automataID string, anchor *version.Version, limit int) (HistoryPage, error) {
	a, err := e.Get(ctx, automataID)
	if err != nil {
		return HistoryPage{}, err
	}

	lower := version.Zero
	if anchor != nil {
		if lower, err = e.checkAnchor(a, *anchor); err != nil {
			return HistoryPage{}, err
		}
	}

	events, err := e.store.EventsFrom(ctx, automataID, lower, clampLimit(limit))
	if err != nil {
		return HistoryPage{}, storeError(err, ErrCodeEventNotFound, automataID, "replay")
	}

	page := HistoryPage{Events: events}
	if n := len(events); n > 0 {
		if last := events[n-1].Version(); last != a.Version {
			page.NextAnchor = &last
		}
	}
	return page, nil
}

// checkAnchor validates a caller-supplied anchor against a.
func (e *Engine) checkAnchor(a ir.Automata, anchor version.Version) (version.Version, error) {
	v, err := version.Parse(string(anchor))
	if err != nil {
		return "", versionError(err, a.ID, "anchor")
	}
	if version.Compare(v, a.Version) > 0 {
		return "", newError(ErrCodeAnchorOutOfRange, a.ID, nil,
			"anchor %s is beyond current version %s", v, a.Version)
	}
	return v, nil
}
