package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/version"
)

func TestBlueprintContentEventTypesSorted(t *testing.T) {
	c := BlueprintContent{EventSchemas: map[string]json.RawMessage{
		"PUBLISH":  nil,
		"ARCHIVE":  nil,
		"SET_INFO": nil,
	}}
	assert.Equal(t, []string{"ARCHIVE", "PUBLISH", "SET_INFO"}, c.EventTypes())
	assert.True(t, c.HasEventType("PUBLISH"))
	assert.False(t, c.HasEventType("DELETE"))
}

func TestBlueprintContentIsBuiltin(t *testing.T) {
	assert.True(t, BlueprintContent{AppID: "@builtin/core"}.IsBuiltin())
	assert.False(t, BlueprintContent{AppID: "@builtin/"}.IsBuiltin())
	assert.False(t, BlueprintContent{AppID: "tenant-app"}.IsBuiltin())
}

func TestEventVersion(t *testing.T) {
	e := Event{BaseVersion: version.Zero}
	assert.Equal(t, version.Version("000001"), e.Version())

	e = Event{BaseVersion: "00000z"}
	assert.Equal(t, version.Version("000010"), e.Version())
}

func TestBlueprintJSONFlattensContent(t *testing.T) {
	sig := "sig"
	bp := Blueprint{
		ID:               "a/b@h",
		BlueprintContent: BlueprintContent{AppID: "a", Name: "b", Transition: "state"},
		ContentHash:      "h",
		Signature:        &sig,
	}
	data, err := json.Marshal(bp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "a", m["app_id"])
	assert.Equal(t, "state", m["transition"])
	assert.Equal(t, "sig", m["signature"])
}
