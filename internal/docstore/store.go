// Package docstore is the persistent similarity index behind retrieval:
// documents are embedded on write and ranked by cosine distance on query.
package docstore

import (
	"cmp"
	"context"
	"math"
	"slices"
)

// Document is one indexed passage.
type Document struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Metadata describes where a passage came from.
type Metadata struct {
	Source   string `json:"source"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Chunk    int    `json:"chunk,omitempty"`
}

// Match is a ranked query hit. Distance is cosine distance in [0, 2].
type Match struct {
	Document
	Distance float64 `json:"distance"`
}

// Score converts distance to a relevance score in [0, 1].
func (m Match) Score() float64 {
	return max(0, min(1, 1-m.Distance))
}

// Filter narrows a query. A zero Filter matches everything.
type Filter struct {
	Category string
}

// Store is a document similarity index.
type Store interface {
	Query(ctx context.Context, text string, k int, filter *Filter) ([]Match, error)
	Add(ctx context.Context, docs []Document) error
	// DeleteFile removes every uploaded chunk of the named file and
	// reports how many were removed.
	DeleteFile(ctx context.Context, filename string) (int, error)
	Count(ctx context.Context) (int, error)
	Categories(ctx context.Context) (map[string]int, error)
	Reset(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func category(f *Filter) string {
	if f == nil {
		return ""
	}
	return f.Category
}

type candidate struct {
	doc Document
	vec []float32
}

// rank scores candidates against the query vector and keeps the k closest.
func rank(query []float32, cands []candidate, k int) []Match {
	out := make([]Match, 0, len(cands))
	for _, c := range cands {
		out = append(out, Match{Document: c.doc, Distance: 1 - cosine(query, c.vec)})
	}
	slices.SortStableFunc(out, func(a, b Match) int { return cmp.Compare(a.Distance, b.Distance) })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
