package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/ir"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"listing_publish", "counter_observers"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "listing_publish.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
blueprints: [testdata/blueprints/counter.json]
automata:
  - name: c
    blueprint: counter
flow:
  - submit: c
    event: INC
    expect:
      state: { count: 5 }
  - submit: c
    event: NOPE
  - submit: c
    event: INC
    version: "000000"
assertions:
  - type: event_count
    automata: c
    count: 3
  - type: updates
    automata: c
    count: 1
  - type: status
    automata: c
    status: archived
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], `flow[0] submit c: state field "count": expected 5, got 1`)
	assert.Contains(t, result.Errors[1], "flow[1] submit c: unexpected error UNKNOWN_EVENT_TYPE")
	assert.Contains(t, result.Errors[2], "flow[2] submit c: expected committed=true, got false")
	assert.Contains(t, result.Errors[3], "assertion[0] event_count c: expected 3 events, got 1")
	assert.Contains(t, result.Errors[4], "assertion[1] updates c: expected 1 updates, got 0")
	assert.Contains(t, result.Errors[5], "assertion[2] status c: expected status archived, got active")
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing blueprint file",
			yaml: `
name: x
blueprints: [testdata/blueprints/missing.cue]
automata: [{name: a, blueprint: listing}]
`,
		},
		{
			name: "unknown blueprint label",
			yaml: `
name: x
blueprints: [testdata/blueprints/counter.json]
automata: [{name: a, blueprint: listing}]
`,
		},
		{
			name: "initial state violates schema",
			yaml: `
name: x
blueprints: [testdata/blueprints/counter.json]
automata: [{name: a, blueprint: counter, initial_state: {count: "many"}}]
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := ParseScenario([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = Run(scenario)
			assert.Error(t, err)
		})
	}
}

func TestLoadScenario_ResolvesBlueprintPaths(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "counter_observers.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("testdata", "blueprints", "counter.json")}, scenario.Blueprints)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nassertion: []\n"), 0o644))
	_, err = LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	const head = "name: x\nblueprints: [b.cue]\nautomata: [{name: a, blueprint: bp}]\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "blueprints: [b.cue]\nautomata: [{name: a, blueprint: bp}]\n", "name is required"},
		{"no blueprints", "name: x\nautomata: [{name: a, blueprint: bp}]\n", "blueprint file"},
		{"no automata", "name: x\nblueprints: [b.cue]\n", "at least one automata"},
		{"automata without blueprint", "name: x\nblueprints: [b.cue]\nautomata: [{name: a}]\n", "blueprint is required"},
		{"duplicate automata", "name: x\nblueprints: [b.cue]\nautomata: [{name: a, blueprint: bp}, {name: a, blueprint: bp}]\n", "duplicate name"},
		{"step without target", head + "flow: [{event: INC}]\n", "exactly one of"},
		{"step with two targets", head + "flow: [{submit: a, archive: a, event: INC}]\n", "got 2"},
		{"step on unknown automata", head + "flow: [{archive: b}]\n", `unknown automata "b"`},
		{"submit without event", head + "flow: [{submit: a}]\n", "event is required"},
		{"assertion without type", head + "assertions: [{automata: a}]\n", "type is required"},
		{"assertion on unknown automata", head + "assertions: [{type: consistent, automata: b}]\n", `unknown automata "b"`},
		{"unknown assertion", head + "assertions: [{type: vibes, automata: a}]\n", "unknown assertion type"},
		{"final_state without expect", head + "assertions: [{type: final_state, automata: a}]\n", "expect is required"},
		{"event_order without events", head + "assertions: [{type: event_order, automata: a}]\n", "events list is required"},
		{"negative count", head + "assertions: [{type: updates, automata: a, count: -1}]\n", "non-negative"},
		{"status without status", head + "assertions: [{type: status, automata: a}]\n", "status is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckExpect(t *testing.T) {
	committed := true
	lost := false
	step := TraceStep{
		Kind:      StepSubmit,
		Version:   "000001",
		Committed: &committed,
		State:     ir.State{"count": float64(1), "tags": []any{"a"}},
	}

	assert.Empty(t, checkExpect(step, nil))
	assert.Empty(t, checkExpect(step, &ExpectClause{
		Version: "000001",
		State:   map[string]any{"count": 1, "tags": []any{"a"}},
	}))
	assert.Equal(t, []string{"expected committed=false, got true"},
		checkExpect(step, &ExpectClause{Committed: &lost}))
	assert.Equal(t, []string{"expected version 000002, got 000001"},
		checkExpect(step, &ExpectClause{Version: "000002"}))
	assert.Equal(t, []string{`state field "missing" missing`},
		checkExpect(step, &ExpectClause{State: map[string]any{"missing": true}}))
	assert.Equal(t, []string{`expected error AUTOMATA_ARCHIVED, got ""`},
		checkExpect(step, &ExpectClause{Error: "AUTOMATA_ARCHIVED"}))

	failed := TraceStep{Kind: StepSubmit, Error: "AUTOMATA_ARCHIVED"}
	assert.Empty(t, checkExpect(failed, &ExpectClause{Error: "AUTOMATA_ARCHIVED"}))
	assert.Equal(t, []string{"unexpected error AUTOMATA_ARCHIVED"}, checkExpect(failed, nil))
}
