// Package harness runs blueprint scenarios against the real engine.
//
// A scenario loads blueprints from .cue or .json files, creates named
// automata, drives them through a flow of steps, and asserts on the
// outcome.
//
// # Scenario Format
//
//	name: listing_publish
//	description: "A listing is named, then published"
//	blueprints:
//	  - blueprints/listing.cue
//	automata:
//	  - name: app
//	    blueprint: listing
//	flow:
//	  - subscribe: app
//	  - submit: app
//	    event: SET_INFO
//	    data: { name: "Chat" }
//	    expect:
//	      version: "000001"
//	      state: { name: "Chat" }
//	  - submit: app
//	    event: PUBLISH
//	    version: "000000"
//	    expect:
//	      committed: false
//	assertions:
//	  - type: final_state
//	    automata: app
//	    expect: { name: "Chat" }
//	  - type: event_order
//	    automata: app
//	    events: [SET_INFO]
//
// A submit step sends at the automata's current version unless version is
// given. Expect clauses are subset matches on state.
//
// # Assertion Types
//
//   - final_state: the automata's state contains the expected fields
//   - event_count: the log holds exactly count events
//   - event_order: the log's event types, oldest first, equal events
//   - updates: subscribers of the automata received count update frames
//   - consistent: folding the log reproduces the stored state
//   - status: the automata's status equals status
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, a fixed clock and
// sequential IDs (automata-0001, automata-0002, ...), so identical
// scenarios produce identical traces. RunWithGolden compares the trace
// with testdata/golden/<name>.golden.
package harness
