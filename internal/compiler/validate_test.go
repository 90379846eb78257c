package compiler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/ir"
)

func validContent() ir.BlueprintContent {
	return ir.BlueprintContent{
		AppID:       "@builtin/listing",
		Name:        "listing",
		StateSchema: json.RawMessage(`{"type":"object"}`),
		EventSchemas: map[string]json.RawMessage{
			"SET_INFO": json.RawMessage(`{"type":"object"}`),
			"PUBLISH":  nil,
		},
		Transition: `event.type == "PUBLISH" ? merge(state, {"status": "published"}) : merge(state, event.data)`,
	}
}

func codes(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(validContent()))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.BlueprintContent)
		code   string
		field  string
	}{
		{"empty app", func(c *ir.BlueprintContent) { c.AppID = " " }, ErrAppIDEmpty, "app_id"},
		{"bare builtin prefix", func(c *ir.BlueprintContent) { c.AppID = ir.BuiltinNamespace }, ErrBareBuiltin, "app_id"},
		{"empty name", func(c *ir.BlueprintContent) { c.Name = "" }, ErrNameEmpty, "name"},
		{"no events", func(c *ir.BlueprintContent) { c.EventSchemas = nil }, ErrNoEvents, "events"},
		{"bad event type", func(c *ir.BlueprintContent) {
			c.EventSchemas["has space"] = nil
		}, ErrInvalidEventType, "events.has space"},
		{"schema not an object", func(c *ir.BlueprintContent) {
			c.EventSchemas["SET_INFO"] = json.RawMessage(`[]`)
		}, ErrInvalidSchema, "events.SET_INFO"},
		{"schema not JSON", func(c *ir.BlueprintContent) {
			c.StateSchema = json.RawMessage(`{`)
		}, ErrInvalidSchema, "state_schema"},
		{"schema of wrong type", func(c *ir.BlueprintContent) {
			c.StateSchema = json.RawMessage(`{"type":"array"}`)
		}, ErrSchemaNotObject, "state_schema"},
		{"empty transition", func(c *ir.BlueprintContent) { c.Transition = "" }, ErrTransitionEmpty, "transition"},
		{"unparseable transition", func(c *ir.BlueprintContent) { c.Transition = "merge(state," }, ErrTransitionInvalid, "transition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validContent()
			tt.mutate(&c)

			errs := Validate(c)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	errs := Validate(ir.BlueprintContent{})
	assert.Equal(t, []string{ErrAppIDEmpty, ErrNameEmpty, ErrNoEvents, ErrTransitionEmpty}, codes(errs))
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Field: "name", Message: "name is required", Code: ErrNameEmpty}
	assert.Equal(t, "[E102] name: name is required", err.Error())
}
