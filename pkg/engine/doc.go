// Package engine drives community actions through governance.
//
// Architecture:
//
// engine.go    - Engine wiring, Propose entry point, Reevaluate
// gate.go      - Permission gate (propose/execute capability fast paths)
// evaluator.go - Policy evaluation state machine (filter → initialize →
//                check → notify → success/fail) and proposal resolution
// effects.go   - Action effects: community mutations, policy CRUD, platform
// bundle.go    - Plain/election bundle execution and policy activation
// votes.go     - Vote casting and scoped tallies
// scheduler.go - Periodic and vote-triggered re-evaluation of open proposals
// locks.go     - Per-action serialization
//
// The engine owns the full action lifecycle: a member proposes an action,
// the gate fast-paths or defers it, the community's policies judge it across
// evaluation passes, and exactly one terminal resolution runs its effect (or
// suppresses it) and closes the proposal.
package engine
