// Package dag compiles a brick tree into a dependency graph and executes it.
//
// It is split into:
//   - Immutable graph definition (Graph): steps with resolved bindings,
//     dependency edges, and a stable GraphHash
//   - Mutable execution state (ExecutionState): per-run node states,
//     discarded when the run ends
//   - Executor: staleness sweep, cache lookup and work invocation in
//     dependency order, with independent nodes running concurrently
//
// A node depends on the producers of its inputs, on the producers of its
// bound outputs, and on its children, so a parent's own work runs after the
// parts it is composed of.
package dag
