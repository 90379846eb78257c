package engine

import (
	"context"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

const (
	// DefaultPageLimit is used when a list call passes no limit.
	DefaultPageLimit = 20

	// MaxPageLimit caps every paginated read.
	MaxPageLimit = 100
)

// Page selects a slice of a listing. Cursor is the last ID of the
// previous page; empty starts from the beginning.
type Page struct {
	Cursor string
	Limit  int
}

// AutomataPage is one page of a listing. NextCursor is empty on the last
// page.
type AutomataPage struct {
	Items      []ir.Automata `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	return min(limit, MaxPageLimit)
}

// Create instantiates a blueprint for owner at version.Zero. A nil
// initial state uses the blueprint's; a supplied one must satisfy the
// state schema.
func (e *Engine) Create(ctx context.Context, owner ir.Identity, blueprintID string, initial ir.State) (ir.Automata, error) {
	cb, err := e.blueprint(ctx, blueprintID)
	if err != nil {
		return ir.Automata{}, err
	}

	state := cb.InitialState
	if initial != nil {
		if state, err = ir.Normalize(initial); err != nil {
			return ir.Automata{}, newError(ErrCodeInvalidState, "", err, "initial state is not a JSON object")
		}
		if err := cb.validateState(state); err != nil {
			return ir.Automata{}, newError(ErrCodeInvalidState, "", err, "initial state does not satisfy state_schema")
		}
	}

	now := e.clock.Now()
	a := ir.Automata{
		ID:          e.ids.Generate(),
		TenantID:    owner.TenantID,
		OwnerID:     owner.AccountID,
		BlueprintID: cb.ID,
		AppID:       cb.AppID,
		State:       state,
		Version:     version.Zero,
		Status:      ir.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateAutomata(ctx, a); err != nil {
		return ir.Automata{}, storeError(err, ErrCodeBlueprintNotFound, a.ID, "create automata")
	}

	e.logger.Debug("automata created", "automata_id", a.ID, "blueprint_id", cb.ID, "owner_id", a.OwnerID)
	return a, nil
}

// Get returns an automata by ID.
func (e *Engine) Get(ctx context.Context, id string) (ir.Automata, error) {
	a, err := e.store.GetAutomata(ctx, id)
	if err != nil {
		return ir.Automata{}, storeError(err, ErrCodeAutomataNotFound, id, "get automata")
	}
	return a, nil
}

// SetStatus archives or unarchives an automata. Version and state are
// unchanged. Moving to the status it already has is a conflict
// (ALREADY_ARCHIVED / ALREADY_ACTIVE), never a silent success.
func (e *Engine) SetStatus(ctx context.Context, id string, status ir.Status) (ir.Automata, error) {
	if !ir.ValidStatuses[status] {
		return ir.Automata{}, newError(ErrCodeInvalidState, id, nil, "unknown status %q", status)
	}

	a, err := e.Get(ctx, id)
	if err != nil {
		return ir.Automata{}, err
	}
	if a.Status == status {
		return ir.Automata{}, alreadyInStatus(id, status)
	}

	now := e.clock.Now()
	changed, err := e.store.SetAutomataStatus(ctx, id, a.Status, status, now)
	if err != nil {
		return ir.Automata{}, storeError(err, ErrCodeAutomataNotFound, id, "set status")
	}
	if !changed {
		// Someone else moved it, or deleted it, between our read and write.
		if _, err := e.Get(ctx, id); err != nil {
			return ir.Automata{}, err
		}
		return ir.Automata{}, alreadyInStatus(id, status)
	}

	e.logger.Debug("automata status changed", "automata_id", id, "status", status)
	a.Status = status
	a.UpdatedAt = now
	return a, nil
}

func alreadyInStatus(id string, status ir.Status) *Error {
	if status == ir.StatusArchived {
		return newError(ErrCodeAlreadyArchived, id, nil, "automata is already archived")
	}
	return newError(ErrCodeAlreadyActive, id, nil, "automata is already active")
}

// List returns automata owned by ownerID, ordered by ID.
func (e *Engine) List(ctx context.Context, ownerID string, page Page) (AutomataPage, error) {
	limit := clampLimit(page.Limit)
	items, err := e.store.ListAutomataByOwner(ctx, ownerID, page.Cursor, limit)
	if err != nil {
		return AutomataPage{}, storeError(err, ErrCodeAutomataNotFound, "", "list automata")
	}
	return newAutomataPage(items, limit), nil
}

// ListByBlueprint returns automata instantiated from blueprintID.
func (e *Engine) ListByBlueprint(ctx context.Context, blueprintID string, page Page) (AutomataPage, error) {
	limit := clampLimit(page.Limit)
	items, err := e.store.ListAutomataByBlueprint(ctx, blueprintID, page.Cursor, limit)
	if err != nil {
		return AutomataPage{}, storeError(err, ErrCodeAutomataNotFound, "", "list automata")
	}
	return newAutomataPage(items, limit), nil
}

// newAutomataPage sets NextCursor only for a full page. A full final page
// costs the caller one extra, empty, request.
func newAutomataPage(items []ir.Automata, limit int) AutomataPage {
	p := AutomataPage{Items: items}
	if len(items) == limit {
		p.NextCursor = items[len(items)-1].ID
	}
	return p
}

// Delete removes an automata with its events and snapshots.
func (e *Engine) Delete(ctx context.Context, id string) error {
	deleted, err := e.store.DeleteAutomata(ctx, id)
	if err != nil {
		return storeError(err, ErrCodeAutomataNotFound, id, "delete automata")
	}
	if !deleted {
		return newError(ErrCodeAutomataNotFound, id, nil, "delete automata: not found")
	}
	e.logger.Debug("automata deleted", "automata_id", id)
	return nil
}
