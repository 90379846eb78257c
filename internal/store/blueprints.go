package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/automata/internal/ir"
)

// InsertBlueprint stores a blueprint if no blueprint with the same ID
// exists. Uses ON CONFLICT(id) DO NOTHING: a duplicate is not an error.
// Returns inserted=false when the row was already present; callers that
// need the stored record should follow up with GetBlueprint.
func (s *Store) InsertBlueprint(ctx context.Context, bp ir.Blueprint) (inserted bool, err error) {
	content, err := marshalContent(bp.BlueprintContent)
	if err != nil {
		return false, fmt.Errorf("insert blueprint: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO blueprints
		(id, app_id, name, content_hash, content, signature, creator_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		bp.ID,
		bp.AppID,
		bp.Name,
		bp.ContentHash,
		content,
		nullString(bp.Signature),
		bp.CreatorID,
		toMillis(bp.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert blueprint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert blueprint: rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetBlueprint returns the blueprint with the given ID.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) GetBlueprint(ctx context.Context, id string) (ir.Blueprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, content, signature, creator_id, created_at
		FROM blueprints
		WHERE id = ?
	`, id)

	bp, err := scanBlueprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Blueprint{}, fmt.Errorf("get blueprint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Blueprint{}, fmt.Errorf("get blueprint %s: %w", id, err)
	}
	return bp, nil
}

// ListBlueprints returns blueprints ordered by app, name, and ID.
// An empty appID lists every blueprint.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListBlueprints(ctx context.Context, appID string) ([]ir.Blueprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, content, signature, creator_id, created_at
		FROM blueprints
		WHERE (? = '' OR app_id = ?)
		ORDER BY app_id COLLATE BINARY ASC, name COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, appID, appID)
	if err != nil {
		return nil, fmt.Errorf("list blueprints: %w", err)
	}
	defer rows.Close()

	blueprints := []ir.Blueprint{}
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, fmt.Errorf("list blueprints: %w", err)
		}
		blueprints = append(blueprints, bp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blueprints: %w", err)
	}
	return blueprints, nil
}

func scanBlueprint(row scanner) (ir.Blueprint, error) {
	var (
		bp        ir.Blueprint
		content   string
		signature sql.NullString
		createdAt int64
	)
	if err := row.Scan(&bp.ID, &bp.ContentHash, &content, &signature, &bp.CreatorID, &createdAt); err != nil {
		return ir.Blueprint{}, err
	}

	c, err := unmarshalContent(content)
	if err != nil {
		return ir.Blueprint{}, err
	}
	bp.BlueprintContent = c
	bp.Signature = stringPtr(signature)
	bp.CreatedAt = fromMillis(createdAt)
	return bp, nil
}
