// Package model defines the provider-agnostic contract for language model
// backends and the Adapter that routes requests to them.
//
// Core goals:
//   - Normalize heterogeneous provider APIs (including tool call syntax)
//     behind one Request/Response shape
//   - Keep request turn ordering intact across the adapter boundary
//   - Centralize backend selection, per-backend health (circuit breaker),
//     client-side rate limiting and bounded rate-limit retries
//   - Facilitate lightweight mocking for tests (MockBackend)
//
// Providers (OpenAI, Anthropic) implement the Backend interface in their own
// subpackages so higher layers stay decoupled from vendor SDKs.
package model
