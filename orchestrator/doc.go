// Package orchestrator drives the turn lifecycle: commit the user turn,
// retrieve context, call the model, execute requested tool calls through
// the gateway, and finalize an agent reply.
//
// Each session processes one turn at a time. Concurrent requests for the
// same session either queue or are rejected, depending on the configured
// busy policy; different sessions never block each other.
package orchestrator
