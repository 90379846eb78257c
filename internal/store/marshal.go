package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/automata/internal/ir"
)

// marshalState converts a State to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalState(s ir.State) (string, error) {
	if s == nil {
		s = ir.State{}
	}
	data, err := ir.MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

// unmarshalState parses canonical JSON TEXT to a State.
func unmarshalState(data string) (ir.State, error) {
	s, err := ir.DecodeState([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return s, nil
}

// marshalContent stores the hashed portion of a blueprint as canonical
// JSON, the same bytes its content hash was computed over.
func marshalContent(c ir.BlueprintContent) (string, error) {
	data, err := ir.MarshalCanonical(c)
	if err != nil {
		return "", fmt.Errorf("marshal blueprint content: %w", err)
	}
	return string(data), nil
}

func unmarshalContent(data string) (ir.BlueprintContent, error) {
	var c ir.BlueprintContent
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return ir.BlueprintContent{}, fmt.Errorf("unmarshal blueprint content: %w", err)
	}
	if c.InitialState == nil {
		c.InitialState = ir.State{}
	}
	return c, nil
}

// Timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
