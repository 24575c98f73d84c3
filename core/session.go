package core

import "time"

// Session is one ongoing conversation: an ordered, append-only turn history
// plus a mutable summary. Sessions are owned exclusively by the memory
// store, which serializes writes and assigns sequence numbers; the values
// handed out by a store are snapshots safe for the caller to read without
// synchronization.
type Session struct {
	ID         string    `json:"id"`
	Turns      []Turn    `json:"turns"`
	Summary    string    `json:"summary,omitempty"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Created: now, LastActive: now}
}

// Recent returns up to the last n turns in original order. n <= 0 returns
// an empty slice. The result is a copy.
func (s *Session) Recent(n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	start := len(s.Turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, 0, len(s.Turns)-start)
	for _, t := range s.Turns[start:] {
		out = append(out, t.Clone())
	}
	return out
}

// NextSeq returns the sequence number the next appended turn must receive.
func (s *Session) NextSeq() int {
	if len(s.Turns) == 0 {
		return 1
	}
	return s.Turns[len(s.Turns)-1].Seq + 1
}

// Clone returns a deep copy safe for independent use.
func (s *Session) Clone() *Session {
	c := &Session{ID: s.ID, Summary: s.Summary, Created: s.Created, LastActive: s.LastActive}
	c.Turns = make([]Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		c.Turns = append(c.Turns, t.Clone())
	}
	return c
}
