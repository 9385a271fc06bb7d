// Package harness runs scenario files against real dispatchers.
//
// A scenario names a directory of CUE store specs, an optional store
// context and snapshot to start from, a list of dispatch steps, and
// assertions on the outcome. Every run builds a fresh dispatcher with a
// deterministic clock and a fixed session ID, journals it into an
// in-memory SQLite database, and reads the trace back from the journal.
//
// # Scenario Format
//
//	name: delay_waits_for_delayed_store
//	description: "Store waits for DelayedStore before finishing DELAY"
//	specs: ../specs/navigation
//	session: nav-1
//	context: { user: u1 }
//	steps:
//	  - dispatch: NAVIGATE
//	    payload: { page: home }
//	  - dispatch: DELAY
//	    no_wait: true
//	  - dispatch: BROKEN
//	    expect_error: "boom"
//	assertions:
//	  - type: final_state
//	    store: Store
//	    expect: { page: delay }
//	  - type: completion_order
//	    actions: [NAVIGATE, DELAY, BROKEN]
//
// # Assertion Types
//
//   - final_state: subset match on a store's GetState()
//   - completion_order: callback order of the actions the steps dispatched
//   - action_error: the named action failed (optionally with a code or message)
//   - handled_by: the stores that handled an action, in order
//   - snapshot_roundtrip: the final snapshot restores into a fresh session unchanged
//   - absent_from_snapshot: a store is not part of the final snapshot
//
// # Golden Traces
//
// GoldenBytes renders the journaled trace and the final snapshot as
// canonical JSON. RunWithGolden compares it against
// testdata/golden/{scenario.Name}.golden; run the tests with -update to
// regenerate.
package harness
