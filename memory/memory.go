package memory

import (
	"context"
	"errors"

	"github.com/polytool/polytool/core"
)

// ErrSessionNotFound is returned when a session id has no record.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions, turns, and retrieval fragments.
//
// Append assigns the turn's sequence number and returns the sequenced copy;
// callers must not set Seq themselves. Implementations serialize appends
// per session so sequence numbers are gapless and strictly increasing.
type Store interface {
	// Create creates a new session with the given id. Creating an id that
	// already exists returns the existing session unchanged.
	Create(ctx context.Context, sessionID string) (*core.Session, error)

	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*core.Session, error)

	// Append commits a turn to the session's history and returns the turn
	// with its assigned sequence number.
	Append(ctx context.Context, sessionID string, turn core.Turn) (*core.Turn, error)

	// Recent returns up to n of the latest turns in chronological order.
	Recent(ctx context.Context, sessionID string, n int) ([]core.Turn, error)

	// Fragments returns the session's retrieval fragments, oldest first.
	Fragments(ctx context.Context, sessionID string) ([]core.Fragment, error)

	// Compact folds the oldest fragments into a summary fragment when the
	// session exceeds the fragment cap. It is a no-op below the cap.
	Compact(ctx context.Context, sessionID string) error
}

// Embedder produces embedding vectors for fragment text. A nil embedder is
// allowed; fragments are then stored without vectors and embedded lazily at
// retrieval time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
