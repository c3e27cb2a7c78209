package docstore

import (
	"context"
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed corpus.yaml
var corpusYAML []byte

const (
	// SeedSource marks passages loaded from the built-in corpus.
	SeedSource = "pharma_knowledge_base"
	// UploadSource marks passages added by users.
	UploadSource = "user_upload"

	seedBatchSize = 20
)

// categoryRules are checked in order; the first rule with a matching
// keyword wins.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{"ibuprofen", []string{"ibuprofen"}},
	{"aspirin", []string{"aspirin", "acetylsalicylic"}},
	{"glp1", []string{"semaglutide", "ozempic", "wegovy", "tirzepatide", "mounjaro", "zepbound"}},
	{"diabetes", []string{"metformin"}},
	{"immunotherapy", []string{"pembrolizumab", "keytruda", "pd-1", "checkpoint"}},
	{"tnf", []string{"adalimumab", "humira", "tnf"}},
	{"cardiovascular", []string{"atorvastatin", "lipitor", "statin"}},
	{"analgesic", []string{"paracetamol", "acetaminophen"}},
	{"clinical_trials", []string{"clinical trial", "phase"}},
	{"regulatory", []string{"fda", "regulatory", "patent", "approval"}},
	{"market", []string{"market", "billion", "sales"}},
}

// Categorize assigns a category to a passage by keyword.
func Categorize(text string) string {
	lower := strings.ToLower(text)
	for _, r := range categoryRules {
		if slices.ContainsFunc(r.keywords, func(kw string) bool { return strings.Contains(lower, kw) }) {
			return r.category
		}
	}
	return "general"
}

// Corpus returns the built-in seed passages as documents.
func Corpus() ([]Document, error) {
	var wrapper struct {
		Corpus []string `yaml:"corpus"`
	}
	if err := yaml.Unmarshal(corpusYAML, &wrapper); err != nil {
		return nil, eris.Wrap(err, "docstore: parse corpus")
	}
	docs := make([]Document, len(wrapper.Corpus))
	for i, text := range wrapper.Corpus {
		docs[i] = Document{
			ID:      fmt.Sprintf("kb_doc_%d", i),
			Content: text,
			Metadata: Metadata{
				Source:   SeedSource,
				Category: Categorize(text),
				Type:     "reference",
			},
		}
	}
	return docs, nil
}

// Seed loads the built-in corpus into an empty store. It returns the number
// of passages added, which is zero when the store already holds documents.
func Seed(ctx context.Context, s Store) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "docstore: seed count")
	}
	if n > 0 {
		return 0, nil
	}
	docs, err := Corpus()
	if err != nil {
		return 0, err
	}
	for batch := range slices.Chunk(docs, seedBatchSize) {
		if err := s.Add(ctx, batch); err != nil {
			return 0, eris.Wrap(err, "docstore: seed batch")
		}
	}
	zap.L().Info("docstore: seeded knowledge base", zap.Int("documents", len(docs)))
	return len(docs), nil
}

// Rebuild clears the store and reseeds it.
func Rebuild(ctx context.Context, s Store) (int, error) {
	if err := s.Reset(ctx); err != nil {
		return 0, eris.Wrap(err, "docstore: rebuild")
	}
	return Seed(ctx, s)
}
