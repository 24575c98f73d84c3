// Package memory provides durable conversation state: sessions, their
// ordered turns, and the fragment store that feeds retrieval.
//
// The Store interface is the single source of truth for sequence numbers;
// Append assigns them under the store's own synchronization so concurrent
// writers in one session never produce gaps or duplicates. Compact keeps
// the per-session fragment count bounded by folding the oldest fragments
// into summary fragments.
package memory
