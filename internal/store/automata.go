package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

const automataColumns = `id, tenant_id, owner_id, blueprint_id, app_id, state, version, status, created_at, updated_at`

// ErrExists is returned (wrapped) when creating a record whose key is taken.
var ErrExists = errors.New("already exists")

// CreateAutomata inserts a new automata row. The blueprint must exist
// (foreign key). A duplicate ID wraps ErrExists. a.State is also recorded
// as the initial state the log folds from.
func (s *Store) CreateAutomata(ctx context.Context, a ir.Automata) error {
	state, err := marshalState(a.State)
	if err != nil {
		return fmt.Errorf("create automata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO automata
		(`+automataColumns+`, initial_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.TenantID,
		a.OwnerID,
		a.BlueprintID,
		a.AppID,
		state,
		string(a.Version),
		string(a.Status),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
		state,
	)
	if err != nil {
		return fmt.Errorf("create automata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create automata: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("create automata %s: %w", a.ID, ErrExists)
	}
	return nil
}

// GetAutomata returns the automata with the given ID.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) GetAutomata(ctx context.Context, id string) (ir.Automata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+automataColumns+`
		FROM automata
		WHERE id = ?
	`, id)

	a, err := scanAutomata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Automata{}, fmt.Errorf("get automata %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Automata{}, fmt.Errorf("get automata %s: %w", id, err)
	}
	return a, nil
}

// InitialState returns the state an automata was created with. ok is
// false for rows written without one; those fold from their blueprint's
// initial state.
func (s *Store) InitialState(ctx context.Context, id string) (state ir.State, ok bool, err error) {
	var initial sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT initial_state FROM automata WHERE id = ?
	`, id).Scan(&initial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("initial state %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("initial state %s: %w", id, err)
	}
	if !initial.Valid {
		return nil, false, nil
	}
	if state, err = unmarshalState(initial.String); err != nil {
		return nil, false, fmt.Errorf("initial state %s: %w", id, err)
	}
	return state, true, nil
}

// ListAutomataByOwner returns up to limit automata owned by ownerID with
// IDs strictly greater than cursor, ordered by ID. An empty cursor starts
// at the beginning.
func (s *Store) ListAutomataByOwner(ctx context.Context, ownerID, cursor string, limit int) ([]ir.Automata, error) {
	return s.listAutomata(ctx, "owner_id", ownerID, cursor, limit)
}

// ListAutomataByBlueprint returns up to limit automata instantiated from
// blueprintID with IDs strictly greater than cursor, ordered by ID.
func (s *Store) ListAutomataByBlueprint(ctx context.Context, blueprintID, cursor string, limit int) ([]ir.Automata, error) {
	return s.listAutomata(ctx, "blueprint_id", blueprintID, cursor, limit)
}

// listAutomata pages through one of the secondary indexes. column is
// always a constant supplied by this package.
func (s *Store) listAutomata(ctx context.Context, column, key, cursor string, limit int) ([]ir.Automata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+automataColumns+`
		FROM automata
		WHERE `+column+` = ? AND id > ?
		ORDER BY id COLLATE BINARY ASC
		LIMIT ?
	`, key, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list automata by %s: %w", column, err)
	}
	defer rows.Close()

	list := []ir.Automata{}
	for rows.Next() {
		a, err := scanAutomata(rows)
		if err != nil {
			return nil, fmt.Errorf("list automata by %s: %w", column, err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate automata: %w", err)
	}
	return list, nil
}

// AdvanceAutomata moves an active automata from expected to next,
// replacing its state. The update is conditioned on the stored version
// still equal to expected; a mismatch returns false with no error.
//
// AppendEvent performs the same conditional update together with the
// event insert and is what the write path uses.
func (s *Store) AdvanceAutomata(ctx context.Context, id string, expected, next version.Version, state ir.State, at time.Time) (bool, error) {
	stateJSON, err := marshalState(state)
	if err != nil {
		return false, fmt.Errorf("advance automata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, advanceSQL,
		stateJSON, string(next), toMillis(at), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("advance automata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance automata: rows affected: %w", err)
	}
	return affected == 1, nil
}

const advanceSQL = `
	UPDATE automata
	SET state = ?, version = ?, updated_at = ?
	WHERE id = ? AND version = ? AND status = 'active'
`

// SetAutomataStatus changes status from one value to another. The update
// only applies while the stored status equals from, so two concurrent
// callers cannot both observe a change. Returns false when the row is
// missing or already moved.
func (s *Store) SetAutomataStatus(ctx context.Context, id string, from, to ir.Status, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE automata
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toMillis(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("set automata status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set automata status: rows affected: %w", err)
	}
	return affected == 1, nil
}

// DeleteAutomata removes an automata; its events and snapshots go with it
// through ON DELETE CASCADE. Returns false if no row existed.
func (s *Store) DeleteAutomata(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automata WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete automata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete automata: rows affected: %w", err)
	}
	return affected == 1, nil
}

func scanAutomata(row scanner) (ir.Automata, error) {
	var (
		a                    ir.Automata
		state, ver, status   string
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.OwnerID, &a.BlueprintID, &a.AppID,
		&state, &ver, &status, &createdAt, &updatedAt)
	if err != nil {
		return ir.Automata{}, err
	}

	a.State, err = unmarshalState(state)
	if err != nil {
		return ir.Automata{}, err
	}
	a.Version = version.Version(ver)
	a.Status = ir.Status(status)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}
