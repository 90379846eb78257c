// Package transition evaluates blueprint transition expressions.
//
// A transition is a pure expression mapping (state, event) to the next
// state. Expressions are written in CEL with two variables:
//
//	state  the automata's current state (a JSON object)
//	event  {type: string, data: object}
//
// and one extra function, merge(a, b), a shallow object merge where keys
// in b win. Example:
//
//	event.type == "PUBLISH"
//	  ? merge(state, {"status": "published"})
//	  : merge(state, event.data)
//
// JSON numbers arrive as doubles, so arithmetic on state fields uses
// double literals (state.count + 1.0).
//
// Evaluation has no access to I/O, the clock, or randomness: the time
// functions are rejected at compile time and every evaluation runs under
// a cost limit. The result must be an object.
package transition
