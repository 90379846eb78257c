package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing and storage.
// CRITICAL: This is the ONLY serialization that should be used for
// content-addressed identity computation.
//
// Differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units
//  2. No insignificant whitespace
//  3. No HTML escaping (< > & are NOT escaped)
//  4. Strings are NFC normalized, so visually identical text hashes the same
//  5. Numbers use the ECMAScript shortest round-trip form
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Canonicalize(buf.Bytes())
}

// Canonicalize rewrites arbitrary JSON text into its canonical form.
// JSON structural characters are ASCII, so NFC over the whole document
// only touches string contents.
func Canonicalize(data []byte) ([]byte, error) {
	out, err := jcs.Transform(norm.NFC.Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// DecodeState parses a JSON object. Empty input decodes to an empty state.
func DecodeState(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("decode state: expected a JSON object, got null")
	}
	return s, nil
}

// Normalize round-trips v through canonical JSON and decodes it as a State.
// The result has only JSON-native Go types (map[string]any, []any,
// float64, string, bool, nil), which is what the evaluator and schema
// validator expect.
func Normalize(v any) (State, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	return DecodeState(data)
}
