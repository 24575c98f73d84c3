// Package retriever ranks stored memory fragments against a query and
// returns the top matches for context injection. Scoring is cosine
// similarity over embedding vectors with recency as the tiebreaker.
package retriever

import (
	"context"
	"math"
	"sort"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/logging"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Source supplies the candidate fragments for a session, oldest first.
type Source interface {
	Fragments(ctx context.Context, sessionID string) ([]core.Fragment, error)
}

// Options configure a Retriever.
type Options struct {
	Logger logging.Logger
}

// Retriever scores a session's fragments against a query.
type Retriever struct {
	source   Source
	embedder Embedder
	logger   logging.Logger
}

// Match pairs a fragment with its similarity score.
type Match struct {
	Fragment core.Fragment
	Score    float64
}

// New creates a retriever over a fragment source.
func New(source Source, embedder Embedder, optFns ...func(o *Options)) *Retriever {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Retriever{source: source, embedder: embedder, logger: opts.Logger}
}

// Retrieve returns the k fragments most similar to query, best first. Ties
// break toward the more recent fragment. An empty history yields an empty
// result, never an error. Fragments stored without a vector are embedded
// lazily here.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	fragments, err := r.source.Fragments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return []Match{}, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(fragments))
	for _, f := range fragments {
		vec := f.Vector
		if vec == nil {
			vec, err = r.embedder.Embed(ctx, f.Text)
			if err != nil {
				r.logger.Warn("retriever.embed.failed", "session_id", sessionID, "fragment_id", f.ID, "error", err)
				continue
			}
			f.Vector = vec
		}
		matches = append(matches, Match{Fragment: f, Score: Cosine(queryVec, vec)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Fragment.Timestamp.After(matches[j].Fragment.Timestamp)
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Texts is a convenience that returns just the fragment texts of the top
// matches, for direct injection into a model request.
func (r *Retriever) Texts(ctx context.Context, sessionID, query string, k int) ([]string, error) {
	matches, err := r.Retrieve(ctx, sessionID, query, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Fragment.Text
	}
	return texts, nil
}

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// compare over the shorter prefix; a zero-norm vector scores 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
