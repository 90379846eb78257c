package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/testutil"
	"github.com/roach88/automata/internal/transition"
)

const listingTransition = `event.type == "PUBLISH"
	? merge(state, {"status": "published"})
	: merge(state, event.data)`

var owner = ir.Identity{TenantID: "tenant-1", AccountID: "account-1"}

func listingContent() ir.BlueprintContent {
	return ir.BlueprintContent{
		AppID: "@builtin/listing",
		Name:  "app-listing",
		StateSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"status": {"enum": ["draft", "published"]}
			},
			"required": ["name", "status"]
		}`),
		EventSchemas: map[string]json.RawMessage{
			"SET_INFO": json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"additionalProperties":false}`),
			"PUBLISH":  json.RawMessage(`{"type":"object","maxProperties":0}`),
		},
		InitialState: ir.State{"name": "Untitled App", "status": "draft"},
		Transition:   listingTransition,
	}
}

func counterContent() ir.BlueprintContent {
	return ir.BlueprintContent{
		AppID:       "@builtin/counter",
		Name:        "counter",
		StateSchema: json.RawMessage(`{"type":"object","properties":{"count":{"type":"number"}},"required":["count"]}`),
		EventSchemas: map[string]json.RawMessage{
			"INC": json.RawMessage(`{"type":"object"}`),
		},
		InitialState: ir.State{"count": float64(0)},
		Transition:   `{"count": state.count + 1.0}`,
	}
}

type testEnv struct {
	engine *Engine
	store  *store.Store
	clock  *testutil.FakeClock
	notes  *recordingNotifier
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func setupEngine(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()
	s := setupTestStore(t)
	eval, err := transition.NewCELEvaluator(transition.NewCache(64, time.Minute))
	require.NoError(t, err)

	env := &testEnv{
		store: s,
		clock: testutil.NewFakeClock(time.Time{}),
		notes: &recordingNotifier{},
	}
	base := []EngineOption{
		WithClock(env.clock),
		WithIDGenerator(testutil.NewSequentialIDs("automata")),
		WithNotifier(env.notes),
	}
	env.engine = New(s, eval, append(base, opts...)...)
	t.Cleanup(func() { env.engine.Close() })
	return env
}

func (env *testEnv) createBlueprint(t *testing.T, content ir.BlueprintContent) ir.Blueprint {
	t.Helper()
	bp, _, err := env.engine.CreateBlueprint(t.Context(), content, nil, "creator")
	require.NoError(t, err)
	return bp
}

func (env *testEnv) createAutomata(t *testing.T, content ir.BlueprintContent) ir.Automata {
	t.Helper()
	bp := env.createBlueprint(t, content)
	a, err := env.engine.Create(t.Context(), owner, bp.ID, nil)
	require.NoError(t, err)
	return a
}

// submit appends at the automata's current version and requires a commit.
func (env *testEnv) submit(t *testing.T, id, eventType string, data ir.State) AppendResult {
	t.Helper()
	a, err := env.engine.Get(t.Context(), id)
	require.NoError(t, err)
	res, err := env.engine.Append(t.Context(), AppendRequest{
		AutomataID:      id,
		ExpectedVersion: a.Version,
		EventType:       eventType,
		EventData:       data,
		SenderID:        "sender-1",
	})
	require.NoError(t, err)
	require.True(t, res.Committed)
	return res
}

// recordingNotifier captures broadcasts.
type recordingNotifier struct {
	mu          sync.Mutex
	transitions []ir.Transition
}

func (n *recordingNotifier) Broadcast(_ context.Context, t ir.Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, t)
}

func (n *recordingNotifier) all() []ir.Transition {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ir.Transition(nil), n.transitions...)
}
