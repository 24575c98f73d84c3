// Package tool provides the tool registry and the invocation gateway.
//
// Tools declare a JSON schema for their parameters and a per-call latency
// budget. The gateway validates arguments against the schema before
// execution, enforces the budget with a context deadline, and converts
// panics and failures into typed errors so callers can distinguish
// capability errors from transient ones.
package tool
