package util

import "github.com/google/uuid"

// NewID returns a UUID string used for session, turn, call and fragment
// identifiers.
func NewID() string { return uuid.NewString() }
