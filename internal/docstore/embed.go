package docstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-research/pkg/gemini"
)

// Embedder turns texts into fixed-width vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HashEmbedder is a local feature-hashing embedder. It needs no network
// and gives stable lexical similarity for the seeded corpus.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder with the given width (default 256).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "with": true, "which": true,
}

func tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (h *HashEmbedder) vector(text string) []float32 {
	counts := map[string]int{}
	for _, tok := range tokens(text) {
		counts[tok]++
	}
	vec := make([]float64, h.dims)
	for tok, n := range counts {
		f := fnv.New32a()
		f.Write([]byte(tok))
		sum := f.Sum32()
		sign := 1.0
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[int(sum%uint32(h.dims))] += sign * (1 + math.Log(float64(n)))
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// GeminiEmbedder embeds through the Gemini embedding API.
type GeminiEmbedder struct {
	client gemini.Client
	model  string
	dims   int
}

// NewGeminiEmbedder returns an embedder using the given model and width.
func NewGeminiEmbedder(client gemini.Client, model string, dims int) *GeminiEmbedder {
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims <= 0 {
		dims = 768
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}
}

func (g *GeminiEmbedder) Dimensions() int { return g.dims }

func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.client.Embed(ctx, gemini.EmbedRequest{
		Model:      g.model,
		Texts:      texts,
		TaskType:   "SEMANTIC_SIMILARITY",
		Dimensions: int32(g.dims),
	})
	if err != nil {
		return nil, eris.Wrap(err, "docstore: gemini embed")
	}
	return vecs, nil
}

func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, eris.Errorf("docstore: embedder returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func embedDocs(ctx context.Context, e Embedder, docs []Document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(docs) {
		return nil, eris.Errorf("docstore: embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}
	return vecs, nil
}
