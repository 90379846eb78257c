// Package ir provides the data model shared by every layer of the automata
// engine: blueprints, automata, events, snapshots, and the identity handed
// to the core by its (already authenticated) callers.
//
// This package contains type definitions and content-addressing only. All
// other internal packages import ir; ir imports nothing internal except the
// version codec. This keeps the data model the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Blueprints are immutable and content addressed (see hash.go)
//   - State and event data are JSON objects; canonical bytes come from
//     RFC 8785 (JCS) after NFC normalization (see canonical.go)
//   - All JSON tags use snake_case
package ir
