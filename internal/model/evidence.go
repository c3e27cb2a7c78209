package model

// Evidence is a scored, provenance-tagged passage returned by retrieval.
type Evidence struct {
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// Snippet returns at most n bytes of content, cut on a rune boundary.
func (e Evidence) Snippet(n int) string {
	if len(e.Content) <= n {
		return e.Content
	}
	r := []rune(e.Content)
	out := make([]rune, 0, n)
	size := 0
	for _, c := range r {
		size += len(string(c))
		if size > n {
			break
		}
		out = append(out, c)
	}
	return string(out) + "..."
}

// SourceRef is a trimmed evidence reference attached to step payloads.
type SourceRef struct {
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	Relevance float64 `json:"relevance"`
}

// RefsFrom converts the first n evidence items into source references.
func RefsFrom(evidence []Evidence, n int) []SourceRef {
	if n > len(evidence) {
		n = len(evidence)
	}
	refs := make([]SourceRef, 0, n)
	for _, e := range evidence[:n] {
		refs = append(refs, SourceRef{
			Content:   e.Snippet(200),
			Category:  e.Category,
			Relevance: e.Score,
		})
	}
	return refs
}
