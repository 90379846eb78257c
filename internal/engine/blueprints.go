package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/automata/internal/ir"
)

// compiledBlueprint is a blueprint with its schemas ready to validate.
type compiledBlueprint struct {
	ir.Blueprint
	state  *jsonschema.Schema
	events map[string]*jsonschema.Schema
}

// validateState checks s against the state schema.
func (cb *compiledBlueprint) validateState(s ir.State) error {
	return cb.state.Validate(map[string]any(s))
}

// validateEvent checks data against the schema of eventType. ok is false
// when the blueprint does not declare eventType.
func (cb *compiledBlueprint) validateEvent(eventType string, data ir.State) (ok bool, err error) {
	sch, ok := cb.events[eventType]
	if !ok {
		return false, nil
	}
	return true, sch.Validate(map[string]any(data))
}

// CreateBlueprint stores content as a blueprint, or returns the existing
// blueprint with identical normalized content.
//
// Content is validated first: app and name present, at least one event
// type, every schema compiles (JSON Schema 2020-12), the initial state
// satisfies the state schema, and the transition compiles.
//
// signature must be nil only for builtin content; non-nil signatures are
// trusted as verified upstream.
//
// A concurrent create of the same content is not an error: whichever
// insert loses reads back and returns the winner with isNew=false.
func (e *Engine) CreateBlueprint(ctx context.Context, content ir.BlueprintContent, signature *string, creatorID string) (bp ir.Blueprint, isNew bool, err error) {
	if signature == nil && !content.IsBuiltin() {
		return ir.Blueprint{}, false, newError(ErrCodeUnsignedBlueprint, "", nil,
			"unsigned blueprints are only accepted in the %s namespace", ir.BuiltinNamespace)
	}

	normalized, err := normalizeContent(content)
	if err != nil {
		return ir.Blueprint{}, false, err
	}
	if _, err := compileBlueprint(ir.Blueprint{BlueprintContent: normalized}); err != nil {
		return ir.Blueprint{}, false, err
	}
	if err := e.evaluator.Compile(normalized.Transition); err != nil {
		return ir.Blueprint{}, false, expressionError(err, "")
	}

	hash, err := ir.ContentHash(normalized)
	if err != nil {
		return ir.Blueprint{}, false, newError(ErrCodeInvalidBlueprint, "", err, "content is not canonicalizable")
	}

	bp = ir.Blueprint{
		ID:               ir.BlueprintID(normalized.AppID, normalized.Name, hash),
		BlueprintContent: normalized,
		ContentHash:      hash,
		Signature:        signature,
		CreatorID:        creatorID,
		CreatedAt:        e.clock.Now(),
	}

	inserted, err := e.store.InsertBlueprint(ctx, bp)
	if err != nil {
		return ir.Blueprint{}, false, storeError(err, ErrCodeBlueprintNotFound, "", "insert blueprint")
	}
	if !inserted {
		existing, err := e.store.GetBlueprint(ctx, bp.ID)
		if err != nil {
			return ir.Blueprint{}, false, storeError(err, ErrCodeBlueprintNotFound, "", "get blueprint")
		}
		return existing, false, nil
	}

	e.logger.Debug("blueprint created", "blueprint_id", bp.ID, "creator_id", creatorID)
	return bp, true, nil
}

// GetBlueprint returns a blueprint by ID.
func (e *Engine) GetBlueprint(ctx context.Context, id string) (ir.Blueprint, error) {
	cb, err := e.blueprint(ctx, id)
	if err != nil {
		return ir.Blueprint{}, err
	}
	return cb.Blueprint, nil
}

// ListBlueprints returns stored blueprints, optionally filtered by app.
func (e *Engine) ListBlueprints(ctx context.Context, appID string) ([]ir.Blueprint, error) {
	list, err := e.store.ListBlueprints(ctx, appID)
	if err != nil {
		return nil, storeError(err, ErrCodeBlueprintNotFound, "", "list blueprints")
	}
	return list, nil
}

// blueprint loads and compiles a blueprint, through the cache.
func (e *Engine) blueprint(ctx context.Context, id string) (*compiledBlueprint, error) {
	if cb, ok := e.blueprints.Get(id); ok {
		return cb, nil
	}

	bp, err := e.store.GetBlueprint(ctx, id)
	if err != nil {
		return nil, storeError(err, ErrCodeBlueprintNotFound, "", fmt.Sprintf("get blueprint %s", id))
	}
	cb, err := compileBlueprint(bp)
	if err != nil {
		return nil, err
	}
	e.blueprints.Add(id, cb)
	return cb, nil
}

// normalizeContent checks required fields and rewrites the JSON parts of
// content into canonical form.
func normalizeContent(c ir.BlueprintContent) (ir.BlueprintContent, error) {
	invalid := func(err error, format string, args ...any) (ir.BlueprintContent, error) {
		return ir.BlueprintContent{}, newError(ErrCodeInvalidBlueprint, "", err, format, args...)
	}

	if c.AppID == "" {
		return invalid(nil, "app_id is required")
	}
	if c.Name == "" {
		return invalid(nil, "name is required")
	}
	if c.Transition == "" {
		return invalid(nil, "transition is required")
	}
	if len(c.EventSchemas) == 0 {
		return invalid(nil, "at least one event type is required")
	}

	out := c
	var err error
	if out.StateSchema, err = canonicalSchema(c.StateSchema); err != nil {
		return invalid(err, "state_schema")
	}
	out.EventSchemas = make(map[string]json.RawMessage, len(c.EventSchemas))
	for _, t := range c.EventTypes() {
		if t == "" {
			return invalid(nil, "event type names must be non-empty")
		}
		if out.EventSchemas[t], err = canonicalSchema(c.EventSchemas[t]); err != nil {
			return invalid(err, "event_schemas.%s", t)
		}
	}

	initial := c.InitialState
	if initial == nil {
		initial = ir.State{}
	}
	if out.InitialState, err = ir.Normalize(initial); err != nil {
		return invalid(err, "initial_state")
	}
	return out, nil
}

// canonicalSchema canonicalizes a schema document. An absent schema
// accepts any object.
func canonicalSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	out, err := ir.Canonicalize(raw)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// compileBlueprint compiles every schema and checks the initial state.
func compileBlueprint(bp ir.Blueprint) (*compiledBlueprint, error) {
	state, err := compileSchema("state", bp.StateSchema)
	if err != nil {
		return nil, newError(ErrCodeInvalidBlueprint, "", err, "state_schema does not compile")
	}

	events := make(map[string]*jsonschema.Schema, len(bp.EventSchemas))
	for t, raw := range bp.EventSchemas {
		sch, err := compileSchema("events/"+url.PathEscape(t), raw)
		if err != nil {
			return nil, newError(ErrCodeInvalidBlueprint, "", err, "event_schemas.%s does not compile", t)
		}
		events[t] = sch
	}

	cb := &compiledBlueprint{Blueprint: bp, state: state, events: events}
	if err := cb.validateState(bp.InitialState); err != nil {
		return nil, newError(ErrCodeInvalidBlueprint, "", err, "initial_state does not satisfy state_schema")
	}
	return cb, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://automata.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return sch, nil
}
