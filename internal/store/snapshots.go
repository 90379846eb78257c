package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/version"
)

// PutSnapshot stores a snapshot if none exists at that version.
// Uses ON CONFLICT DO NOTHING: repeated or concurrent writes of the same
// version are harmless and report inserted=false.
func (s *Store) PutSnapshot(ctx context.Context, snap ir.Snapshot) (inserted bool, err error) {
	state, err := marshalState(snap.State)
	if err != nil {
		return false, fmt.Errorf("put snapshot: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (automata_id, version, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(automata_id, version) DO NOTHING
	`, snap.AutomataID, string(snap.Version), state, toMillis(snap.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("put snapshot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put snapshot: rows affected: %w", err)
	}
	return affected == 1, nil
}

// LatestSnapshot returns the newest snapshot at or below maxVersion.
// ok is false when there is none.
func (s *Store) LatestSnapshot(ctx context.Context, automataID string, maxVersion version.Version) (snap ir.Snapshot, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT automata_id, version, state, created_at
		FROM snapshots
		WHERE automata_id = ? AND version <= ?
		ORDER BY version COLLATE BINARY DESC
		LIMIT 1
	`, automataID, string(maxVersion))

	var (
		ver, state string
		createdAt  int64
	)
	err = row.Scan(&snap.AutomataID, &ver, &state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Snapshot{}, false, nil
	}
	if err != nil {
		return ir.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}

	snap.State, err = unmarshalState(state)
	if err != nil {
		return ir.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.Version = version.Version(ver)
	snap.CreatedAt = fromMillis(createdAt)
	return snap, true, nil
}

// ListSnapshotVersions returns the versions that have snapshots, ascending.
func (s *Store) ListSnapshotVersions(ctx context.Context, automataID string) ([]version.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version FROM snapshots
		WHERE automata_id = ?
		ORDER BY version COLLATE BINARY ASC
	`, automataID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	versions := []version.Version{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		versions = append(versions, version.Version(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return versions, nil
}
