// Package engine implements the event-sourced automata protocol.
//
// An automata is an instance of a blueprint: a state schema, typed event
// schemas, an initial state, and a pure transition expression. Callers
// drive an automata by appending events; each accepted event is logged,
// produces the next version, and is handed to observers.
//
// ARCHITECTURE:
//
// Optimistic Concurrency:
// Every append names the version the caller observed. The store records
// the event and advances the automata in one transaction conditioned on
// that version. Exactly one of several concurrent appends at the same
// version commits; the rest return Committed=false with the fresh state.
// The engine never retries on a caller's behalf.
//
// Append Flow:
// 1. Load automata and blueprint (compiled schemas are cached)
// 2. Validate event type and data
// 3. Evaluate the transition (pure, cost bounded)
// 4. Atomic conditional write (event + state advance)
// 5. Background: snapshot policy, then Notifier.Broadcast
//
// Step 5 runs after commit and cannot fail it. Drain waits for it.
//
// CRITICAL PATTERNS:
//
// Projection Invariant:
// Automata state always equals Fold(initial state, log). Verify checks
// this; StateAt rebuilds any historical version from the nearest snapshot.
//
// Gap-free Log:
// Base versions form the contiguous range [version.Zero, current).
//
// Snapshots Are Caches:
// Written at multiples of the snapshot interval with insert-if-absent.
// A missing or failed snapshot only costs replay distance.
package engine
