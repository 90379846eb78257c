// Package realtime fans committed transitions out to live subscribers.
//
// A client trades an authenticated call for a single-use Token
// (Hub.IssueToken), then opens a connection presenting it (Hub.Connect).
// Each connection moves Connecting -> Open -> Closed; Closed is terminal.
// While open it may subscribe to automata its account owns. Subscribe
// writes both indexes (by connection, for teardown; by automata, for
// fan-out) and acknowledges with the automata's current state, so a
// subscriber joining mid-stream starts consistent.
//
// Hub.Broadcast is the engine's Notifier. It runs after commit, pushes to
// every subscriber concurrently with a per-push timeout, and prunes
// subscriptions whose peer is gone. Delivery is best effort: a missed
// update is recovered by re-subscribing.
//
// Registries:
//   - MemoryRegistry: single process, hashicorp/go-memdb tables
//   - RedisRegistry: shared between processes, keys carry TTLs
//
// The transport is a Gateway supplied by the caller; frames are encoded by
// a Codec (JSON by default, or deterministic CBOR).
package realtime
