package core

import "time"

// Fragment is a unit of stored memory eligible for retrieval. Fragments are
// created when a turn commits and may later be replaced by a synthetic
// summary fragment during compaction. Vector is an opaque embedding; a nil
// vector means the producing store had no embedder configured and retrieval
// may embed Text lazily.
type Fragment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Summary   bool      `json:"summary,omitempty"`
}

// Clone returns an independent copy of the fragment.
func (f Fragment) Clone() Fragment {
	c := f
	if f.Vector != nil {
		c.Vector = append([]float32(nil), f.Vector...)
	}
	if f.Tags != nil {
		c.Tags = append([]string(nil), f.Tags...)
	}
	return c
}
