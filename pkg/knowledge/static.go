package knowledge

import (
	"context"
	"slices"
	"sort"
)

// DefaultLimit is the number of passages a retrieval returns when no limit
// is configured.
const DefaultLimit = 8

// StaticRetriever scores a fixed set of passages by keyword overlap.
type StaticRetriever struct {
	passages []Passage
	tokens   []map[string]int
	limit    int
}

// NewStaticRetriever indexes passages in memory. limit <= 0 uses DefaultLimit.
func NewStaticRetriever(passages []Passage, limit int) *StaticRetriever {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &StaticRetriever{
		passages: slices.Clone(passages),
		tokens:   make([]map[string]int, len(passages)),
		limit:    limit,
	}
	for i, p := range s.passages {
		s.tokens[i] = termCounts(p.Text + " " + p.SourceRef)
	}
	return s
}

// LoadStatic parses every source under path into a StaticRetriever.
func LoadStatic(path string, limit int) (*StaticRetriever, error) {
	files, err := listSources(path)
	if err != nil {
		return nil, err
	}
	var all []Passage
	for _, f := range files {
		ps, err := LoadFile(f.full, f.rel)
		if err != nil {
			return nil, err
		}
		all = append(all, ps...)
	}
	return NewStaticRetriever(all, limit), nil
}

func (s *StaticRetriever) Retrieve(ctx context.Context, query string) (Passages, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := keywords(query)
	if len(terms) == 0 {
		return FromSlice(nil), nil
	}

	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, counts := range s.tokens {
		score := 0
		for _, t := range terms {
			if n := counts[t]; n > 0 {
				// Distinct matched terms dominate raw frequency.
				score += 100 + n
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > s.limit {
		hits = hits[:s.limit]
	}
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = s.passages[h.idx]
	}
	return FromSlice(out), nil
}

// Len returns the number of passages held.
func (s *StaticRetriever) Len() int { return len(s.passages) }

func termCounts(text string) map[string]int {
	counts := map[string]int{}
	for _, t := range tokenize(text) {
		counts[t]++
	}
	return counts
}

var (
	_ Retriever = (*StaticRetriever)(nil)
	_ Retriever = (*Index)(nil)
)
