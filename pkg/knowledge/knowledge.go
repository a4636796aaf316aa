package knowledge

import (
	"context"
	"errors"
	"iter"
	"slices"
)

// ErrIndexClosed is returned by Index operations after Close.
var ErrIndexClosed = errors.New("knowledge index is closed")

// Passage is one piece of evidence. SourceRef identifies where it came from,
// e.g. "knowledge.json#schedule".
type Passage struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"`
}

// Passages is a finite, restartable sequence of passages.
type Passages iter.Seq[Passage]

// Retriever returns passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (Passages, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string) (Passages, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string) (Passages, error) {
	return f(ctx, query)
}

// FromSlice returns a Passages backed by a copy of ps.
func FromSlice(ps []Passage) Passages {
	owned := slices.Clone(ps)
	return func(yield func(Passage) bool) {
		for _, p := range owned {
			if !yield(p) {
				return
			}
		}
	}
}

// Collect drains up to limit passages. A limit <= 0 means no limit.
func Collect(ps Passages, limit int) []Passage {
	var out []Passage
	if ps == nil {
		return out
	}
	for p := range ps {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, p)
	}
	return out
}
