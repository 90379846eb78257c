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

const eventColumns = `automata_id, base_version, event_type, event_data, sender_id, created_at`

// Append is one atomic log write: Event recorded at Event.BaseVersion and
// the automata advanced from Event.BaseVersion to Next with State.
type Append struct {
	Event ir.Event
	Next  version.Version
	State ir.State
	At    time.Time
}

// AppendEvent atomically inserts the event row and advances the automata.
// Both writes are conditioned on Event.BaseVersion still being current:
//
//   - the UPDATE must match exactly one active row at the expected version
//   - the INSERT uses ON CONFLICT DO NOTHING and must insert exactly one row
//
// If either condition fails the transaction rolls back and committed=false
// is returned with a nil error. Nothing is ever partially persisted.
func (s *Store) AppendEvent(ctx context.Context, a Append) (committed bool, err error) {
	stateJSON, err := marshalState(a.State)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	dataJSON, err := marshalState(a.Event.Data)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, advanceSQL,
		stateJSON, string(a.Next), toMillis(a.At), a.Event.AutomataID, string(a.Event.BaseVersion))
	if err != nil {
		return false, fmt.Errorf("append event: advance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event: advance: rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO events
		(`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(automata_id, base_version) DO NOTHING
	`,
		a.Event.AutomataID,
		string(a.Event.BaseVersion),
		a.Event.Type,
		dataJSON,
		a.Event.SenderID,
		toMillis(a.Event.Timestamp),
	)
	if err != nil {
		return false, fmt.Errorf("append event: insert: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event: insert: rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append event: commit: %w", err)
	}
	return true, nil
}

// GetEvent returns the event recorded at baseVersion.
// Returns an error wrapping ErrNotFound if there is none.
func (s *Store) GetEvent(ctx context.Context, automataID string, baseVersion version.Version) (ir.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE automata_id = ? AND base_version = ?
	`, automataID, string(baseVersion))

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Event{}, fmt.Errorf("get event %s@%s: %w", automataID, baseVersion, ErrNotFound)
	}
	if err != nil {
		return ir.Event{}, fmt.Errorf("get event %s@%s: %w", automataID, baseVersion, err)
	}
	return e, nil
}

// EventsBefore returns up to limit events with base version <= maxBase,
// newest first.
func (s *Store) EventsBefore(ctx context.Context, automataID string, maxBase version.Version, limit int) ([]ir.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE automata_id = ? AND base_version <= ?
		ORDER BY base_version COLLATE BINARY DESC
		LIMIT ?
	`, automataID, string(maxBase), limit)
}

// EventsFrom returns up to limit events with base version >= minBase,
// oldest first.
func (s *Store) EventsFrom(ctx context.Context, automataID string, minBase version.Version, limit int) ([]ir.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE automata_id = ? AND base_version >= ?
		ORDER BY base_version COLLATE BINARY ASC
		LIMIT ?
	`, automataID, string(minBase), limit)
}

// EventsBetween returns the events with minBase <= base version < maxBase,
// oldest first. Used to fold from a snapshot up to a target version.
func (s *Store) EventsBetween(ctx context.Context, automataID string, minBase, maxBase version.Version) ([]ir.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE automata_id = ? AND base_version >= ? AND base_version < ?
		ORDER BY base_version COLLATE BINARY ASC
	`, automataID, string(minBase), string(maxBase))
}

// CountEvents returns the number of events recorded for an automata.
func (s *Store) CountEvents(ctx context.Context, automataID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE automata_id = ?`, automataID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// queryEvents runs an event query and scans the results.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row scanner) (ir.Event, error) {
	var (
		e         ir.Event
		base      string
		data      string
		createdAt int64
	)
	if err := row.Scan(&e.AutomataID, &base, &e.Type, &data, &e.SenderID, &createdAt); err != nil {
		return ir.Event{}, err
	}

	d, err := unmarshalState(data)
	if err != nil {
		return ir.Event{}, err
	}
	e.BaseVersion = version.Version(base)
	e.Data = d
	e.Timestamp = fromMillis(createdAt)
	return e, nil
}
