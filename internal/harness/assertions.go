package harness

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// AssertionError represents a failed assertion with context.
type AssertionError struct {
	Index    int
	Type     string
	Automata string
	Message  string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion[%d] %s %s: %s", e.Index, e.Type, e.Automata, e.Message)
}

// checkExpect compares a step's trace with its expect clause. A nil clause
// expects success, and for a submit, a commit.
func checkExpect(trace TraceStep, expect *ExpectClause) []string {
	if expect == nil {
		expect = &ExpectClause{}
	}

	if expect.Error != "" {
		if trace.Error != expect.Error {
			return []string{fmt.Sprintf("expected error %s, got %q", expect.Error, trace.Error)}
		}
		return nil
	}
	if trace.Error != "" {
		return []string{fmt.Sprintf("unexpected error %s", trace.Error)}
	}

	var msgs []string
	if trace.Committed != nil {
		want := true
		if expect.Committed != nil {
			want = *expect.Committed
		}
		if *trace.Committed != want {
			msgs = append(msgs, fmt.Sprintf("expected committed=%t, got %t", want, *trace.Committed))
		}
	}
	if expect.Version != "" && string(trace.Version) != expect.Version {
		msgs = append(msgs, fmt.Sprintf("expected version %s, got %s", expect.Version, trace.Version))
	}
	if len(expect.State) > 0 {
		if msg := matchState(trace.State, expect.State); msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// matchState checks that actual contains every expected field. Expected
// values are normalized to JSON types first, so YAML integers compare
// equal to stored numbers.
func matchState(actual ir.State, expected map[string]any) string {
	want, err := ir.Normalize(expected)
	if err != nil {
		return fmt.Sprintf("expected state is not JSON: %v", err)
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("state field %q missing", k)
		}
		if !reflect.DeepEqual(got, want[k]) {
			return fmt.Sprintf("state field %q: expected %v, got %v", k, want[k], got)
		}
	}
	return ""
}

// evaluateAssertions evaluates all assertions against the run.
// Returns a slice of error messages for failed assertions.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string

	for i, a := range assertions {
		id := h.automata[a.Automata]

		var msg string
		switch a.Type {
		case AssertFinalState:
			msg = h.assertFinalState(ctx, id, a)
		case AssertEventCount:
			msg = h.assertEventCount(ctx, id, a)
		case AssertEventOrder:
			msg = h.assertEventOrder(ctx, id, a)
		case AssertUpdates:
			if got := result.Updates[a.Automata]; got != a.Count {
				msg = fmt.Sprintf("expected %d updates, got %d", a.Count, got)
			}
		case AssertConsistent:
			msg = h.assertConsistent(ctx, id)
		case AssertStatus:
			msg = h.assertStatus(ctx, id, a)
		default:
			msg = fmt.Sprintf("unknown assertion type %q", a.Type)
		}

		if msg != "" {
			errs = append(errs, (&AssertionError{
				Index:    i,
				Type:     a.Type,
				Automata: a.Automata,
				Message:  msg,
			}).Error())
		}
	}

	return errs
}

func (h *Harness) assertFinalState(ctx context.Context, id string, a Assertion) string {
	auto, err := h.engine.Get(ctx, id)
	if err != nil {
		return err.Error()
	}
	return matchState(auto.State, a.Expect)
}

func (h *Harness) assertEventCount(ctx context.Context, id string, a Assertion) string {
	types, err := h.eventTypes(ctx, id)
	if err != nil {
		return err.Error()
	}
	if len(types) != a.Count {
		return fmt.Sprintf("expected %d events, got %d", a.Count, len(types))
	}
	return ""
}

func (h *Harness) assertEventOrder(ctx context.Context, id string, a Assertion) string {
	types, err := h.eventTypes(ctx, id)
	if err != nil {
		return err.Error()
	}
	if !slices.Equal(types, a.Events) {
		return fmt.Sprintf("expected events %v, got %v", a.Events, types)
	}
	return ""
}

func (h *Harness) assertConsistent(ctx context.Context, id string) string {
	res, err := h.engine.Verify(ctx, id)
	if err != nil {
		return err.Error()
	}
	if !res.GapFree || !res.Match || len(res.SnapshotsMismatched) > 0 {
		return fmt.Sprintf("log does not reproduce state: gap_free=%t match=%t snapshots_mismatched=%v",
			res.GapFree, res.Match, res.SnapshotsMismatched)
	}
	return ""
}

func (h *Harness) assertStatus(ctx context.Context, id string, a Assertion) string {
	auto, err := h.engine.Get(ctx, id)
	if err != nil {
		return err.Error()
	}
	if string(auto.Status) != a.Status {
		return fmt.Sprintf("expected status %s, got %s", a.Status, auto.Status)
	}
	return ""
}

// eventTypes replays the whole log and returns its event types, oldest
// first.
func (h *Harness) eventTypes(ctx context.Context, id string) ([]string, error) {
	types := []string{}
	var anchor *version.Version
	for {
		page, err := h.engine.Replay(ctx, id, anchor, engine.MaxPageLimit)
		if err != nil {
			return nil, err
		}
		for _, ev := range page.Events {
			types = append(types, ev.Type)
		}
		if page.NextAnchor == nil {
			return types, nil
		}
		anchor = page.NextAnchor
	}
}
