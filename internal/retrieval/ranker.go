// Package retrieval ranks knowledge-base passages into scored evidence.
// Store failures never reach callers: they degrade to a synthetic item.
package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/model"
)

// SyntheticScore is the relevance assigned to fallback evidence. It sits
// below every usage threshold so the item is never reasoned over.
const SyntheticScore = 0.1

// Config tunes ranking.
type Config struct {
	UsageThreshold   float64
	SubjectThreshold float64
	SubjectLimit     int
	Timeout          time.Duration
}

func (c Config) normalized() Config {
	if c.UsageThreshold <= 0 {
		c.UsageThreshold = 0.2
	}
	if c.SubjectThreshold <= 0 {
		c.SubjectThreshold = 0.3
	}
	if c.SubjectLimit <= 0 {
		c.SubjectLimit = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Ranker queries a document store and scores the results.
type Ranker struct {
	store docstore.Store
	cfg   Config
}

// New returns a Ranker. A nil store is allowed and yields synthetic
// evidence for every query.
func New(store docstore.Store, cfg Config) *Ranker {
	return &Ranker{store: store, cfg: cfg.normalized()}
}

// Available reports whether a store is attached.
func (r *Ranker) Available() bool { return r.store != nil }

// Store returns the underlying store, which may be nil.
func (r *Ranker) Store() docstore.Store { return r.store }

// Config returns the effective configuration.
func (r *Ranker) Config() Config { return r.cfg }

// Search returns at most limit evidence items ordered by descending score.
// It always returns at least one item.
func (r *Ranker) Search(ctx context.Context, query string, limit int, category string) []model.Evidence {
	if limit <= 0 {
		limit = 5
	}
	if r.store == nil {
		return []model.Evidence{Synthetic(query)}
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var filter *docstore.Filter
	if category != "" {
		filter = &docstore.Filter{Category: category}
	}
	matches, err := r.store.Query(qctx, query, limit, filter)
	if err != nil {
		zap.L().Warn("retrieval: store query failed, using synthetic evidence",
			zap.String("query", query),
			zap.Error(err),
		)
		return []model.Evidence{Synthetic(query)}
	}
	if len(matches) == 0 {
		return []model.Evidence{Synthetic(query)}
	}

	out := make([]model.Evidence, 0, min(limit, len(matches)))
	for _, m := range matches[:min(limit, len(matches))] {
		out = append(out, model.Evidence{
			Content:  m.Content,
			Source:   m.Metadata.Source,
			Category: m.Metadata.Category,
			Score:    m.Score(),
		})
	}
	slices.SortStableFunc(out, func(a, b model.Evidence) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// Synthetic is the placeholder evidence returned when the store cannot
// answer.
func Synthetic(query string) model.Evidence {
	return model.Evidence{
		Content:   fmt.Sprintf("No indexed reference material available for %s.", query),
		Source:    "synthetic",
		Category:  "synthetic",
		Score:     SyntheticScore,
		Synthetic: true,
	}
}

// Usable keeps evidence at or above threshold. Synthetic items never pass.
func Usable(evidence []model.Evidence, threshold float64) []model.Evidence {
	out := make([]model.Evidence, 0, len(evidence))
	for _, e := range evidence {
		if !e.Synthetic && e.Score >= threshold {
			out = append(out, e)
		}
	}
	return out
}

// Usable filters with the configured usage threshold.
func (r *Ranker) Usable(evidence []model.Evidence) []model.Evidence {
	return Usable(evidence, r.cfg.UsageThreshold)
}

// Text joins evidence contents into one block for pattern extraction.
func Text(evidence []model.Evidence) string {
	parts := make([]string, 0, len(evidence))
	for _, e := range evidence {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, " ")
}

// SubjectProbe summarizes what the knowledge base knows about a subject.
type SubjectProbe struct {
	Subject    string           `json:"subject"`
	Known      bool             `json:"known"`
	Found      int              `json:"found_documents"`
	Categories []string         `json:"categories"`
	Scores     []float64        `json:"relevance_scores"`
	Evidence   []model.Evidence `json:"-"`
}

// SearchForSubject runs a broad search and reports observed categories and
// scores. Known is set when any item clears the subject threshold.
func (r *Ranker) SearchForSubject(ctx context.Context, name string) SubjectProbe {
	ev := r.Search(ctx, name, r.cfg.SubjectLimit, "")
	p := SubjectProbe{Subject: name, Evidence: ev}
	for _, e := range ev {
		if e.Synthetic {
			continue
		}
		p.Found++
		p.Scores = append(p.Scores, e.Score)
		if !slices.Contains(p.Categories, e.Category) {
			p.Categories = append(p.Categories, e.Category)
		}
		if e.Score >= r.cfg.SubjectThreshold {
			p.Known = true
		}
	}
	return p
}

// ContextFor renders the top n results as numbered source blocks for use
// in a prompt. It returns "" when nothing usable was found.
func (r *Ranker) ContextFor(ctx context.Context, query string, n int) string {
	ev := r.Usable(r.Search(ctx, query, n, ""))
	if len(ev) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range ev {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Source %d] (Relevance: %.2f)\n%s", i+1, e.Score, e.Content)
	}
	return b.String()
}
