package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/polytool/polytool/core"
)

// Summarizer condenses a block of fragments into one summary text.
type Summarizer interface {
	Summarize(ctx context.Context, fragments []core.Fragment) (string, error)
}

// ConcatSummarizer joins fragment texts and truncates the result. It is the
// default summarizer: deterministic, free, and good enough to keep old
// context findable.
type ConcatSummarizer struct {
	// MaxLen bounds the summary length in bytes. Zero means 2000.
	MaxLen int
}

var _ Summarizer = (*ConcatSummarizer)(nil)

// Summarize implements Summarizer.
func (s *ConcatSummarizer) Summarize(_ context.Context, fragments []core.Fragment) (string, error) {
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 2000
	}

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f.Text != "" {
			parts = append(parts, f.Text)
		}
	}
	summary := strings.Join(parts, " | ")
	if len(summary) > maxLen {
		// Never cut through a multibyte rune.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	return summary, nil
}

// ModelSummarizer delegates summarization to a text generation function,
// typically backed by a model adapter.
type ModelSummarizer struct {
	generate func(ctx context.Context, prompt string) (string, error)
}

var _ Summarizer = (*ModelSummarizer)(nil)

// NewModelSummarizer wraps a generation function as a Summarizer.
func NewModelSummarizer(generate func(ctx context.Context, prompt string) (string, error)) *ModelSummarizer {
	return &ModelSummarizer{generate: generate}
}

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, fragments []core.Fragment) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation excerpts into a short paragraph that preserves names, decisions, and facts:\n")
	for _, f := range fragments {
		fmt.Fprintf(&sb, "- %s\n", f.Text)
	}
	return s.generate(ctx, sb.String())
}
