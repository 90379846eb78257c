package store

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

func testAppend(automataID string, base version.Version, data ir.State) Append {
	next, _ := version.Increment(base)
	return Append{
		Event: ir.Event{
			AutomataID:  automataID,
			BaseVersion: base,
			Type:        "SET_INFO",
			Data:        data,
			SenderID:    "sender",
			Timestamp:   testTime,
		},
		Next:  next,
		State: data,
		At:    testTime,
	}
}

func TestAppendEvent_CommitsEventAndState(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")

	ok, err := s.AppendEvent(ctx, testAppend("a1", version.Zero, ir.State{"name": "X"}))
	require.NoError(t, err)
	require.True(t, ok)

	a, err := s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, version.MustEncode(1), a.Version)
	assert.Equal(t, ir.State{"name": "X"}, a.State)

	e, err := s.GetEvent(ctx, "a1", version.Zero)
	require.NoError(t, err)
	assert.Equal(t, "SET_INFO", e.Type)
	assert.Equal(t, ir.State{"name": "X"}, e.Data)
	assert.Equal(t, "sender", e.SenderID)
	assert.Equal(t, testTime, e.Timestamp)
	assert.Equal(t, version.MustEncode(1), e.Version())
}

func TestAppendEvent_StaleVersionWritesNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")
	appendN(t, s, "a1", 1)

	ok, err := s.AppendEvent(ctx, testAppend("a1", version.Zero, ir.State{"name": "late"}))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := s.GetEvent(ctx, "a1", version.Zero)
	require.NoError(t, err)
	assert.Equal(t, ir.State{"n": float64(1)}, e.Data, "original event untouched")

	n, err := s.CountEvents(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendEvent_OrphanEventRollsBackAdvance(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")

	// An event already sits at the base version even though the automata
	// was never advanced. The advance must roll back with the insert.
	_, err := s.db.Exec(`
		INSERT INTO events (automata_id, base_version, event_type, event_data, sender_id, created_at)
		VALUES ('a1', '000000', 'SET_INFO', '{}', 'x', 0)
	`)
	require.NoError(t, err)

	ok, err := s.AppendEvent(ctx, testAppend("a1", version.Zero, ir.State{"name": "X"}))
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, version.Zero, a.Version)
	assert.Equal(t, bp.InitialState, a.State)
}

func TestAppendEvent_MissingAutomata(t *testing.T) {
	s := createTestStore(t)

	ok, err := s.AppendEvent(t.Context(), testAppend("missing", version.Zero, ir.State{}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendEvent_ConcurrentSameVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")

	const writers = 8
	var (
		wg        sync.WaitGroup
		committed atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.AppendEvent(ctx, testAppend("a1", version.Zero, ir.State{"writer": float64(i)}))
			assert.NoError(t, err)
			if ok {
				committed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())

	n, err := s.CountEvents(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetEvent_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetEvent(t.Context(), "a1", version.Zero)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEventRanges(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")
	appendN(t, s, "a1", 5)

	bases := func(events []ir.Event) []version.Version {
		out := make([]version.Version, len(events))
		for i, e := range events {
			out[i] = e.BaseVersion
		}
		return out
	}
	v := version.MustEncode

	t.Run("before descending", func(t *testing.T) {
		events, err := s.EventsBefore(ctx, "a1", v(3), 2)
		require.NoError(t, err)
		assert.Equal(t, []version.Version{v(3), v(2)}, bases(events))
	})

	t.Run("from ascending", func(t *testing.T) {
		events, err := s.EventsFrom(ctx, "a1", v(2), 10)
		require.NoError(t, err)
		assert.Equal(t, []version.Version{v(2), v(3), v(4)}, bases(events))
	})

	t.Run("between half open", func(t *testing.T) {
		events, err := s.EventsBetween(ctx, "a1", v(1), v(3))
		require.NoError(t, err)
		assert.Equal(t, []version.Version{v(1), v(2)}, bases(events))
	})

	t.Run("empty is not nil", func(t *testing.T) {
		events, err := s.EventsFrom(ctx, "other", version.Zero, 10)
		require.NoError(t, err)
		assert.NotNil(t, events)
		assert.Empty(t, events)
	})
}

func TestEventRanges_GapFree(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bp := seedBlueprint(t, s)
	seedAutomata(t, s, bp, "a1", "owner")
	appendN(t, s, "a1", 70)

	events, err := s.EventsFrom(ctx, "a1", version.Zero, 100)
	require.NoError(t, err)
	require.Len(t, events, 70)
	for i, e := range events {
		assert.Equal(t, version.MustEncode(uint64(i)), e.BaseVersion)
	}
}
