// Package core defines the shared data model of the Polytool orchestration
// substrate: sessions, turns, tool call descriptors, memory fragments, agent
// replies and the error classification used to decide propagation policy.
//
// The package is dependency-free (standard library only) so every other
// package can import it without cycles. Behavior lives in the component
// packages (orchestrator, model, tool, memory, retriever); core holds the
// contracts they exchange.
package core
