package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MemoryStore is an in-process Store used for tests and ephemeral runs.
type MemoryStore struct {
	embed Embedder

	mu    sync.RWMutex
	order []string
	docs  map[string]candidate
}

// NewMemory returns an empty MemoryStore.
func NewMemory(embed Embedder) *MemoryStore {
	return &MemoryStore{embed: embed, docs: map[string]candidate{}}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	vecs, err := embedDocs(ctx, s.embed, docs)
	if err != nil {
		return eris.Wrap(err, "memory: embed documents")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if _, ok := s.docs[d.ID]; !ok {
			s.order = append(s.order, d.ID)
		}
		s.docs[d.ID] = candidate{doc: d, vec: vecs[i]}
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, text string, k int, filter *Filter) ([]Match, error) {
	qv, err := embedOne(ctx, s.embed, text)
	if err != nil {
		return nil, eris.Wrap(err, "memory: embed query")
	}
	cat := category(filter)
	s.mu.RLock()
	cands := make([]candidate, 0, len(s.order))
	for _, id := range s.order {
		c := s.docs[id]
		if cat == "" || c.doc.Metadata.Category == cat {
			cands = append(cands, c)
		}
	}
	s.mu.RUnlock()
	return rank(qv, cands, k), nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *MemoryStore) Categories(context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]int{}
	for _, c := range s.docs {
		out[c.doc.Metadata.Category]++
	}
	return out, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, filename string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	n := 0
	for _, id := range s.order {
		m := s.docs[id].doc.Metadata
		if m.Source == UploadSource && m.Filename == filename {
			delete(s.docs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n, nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.docs = map[string]candidate{}
	return nil
}
