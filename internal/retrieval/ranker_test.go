package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/model"
)

type mockStore struct {
	mock.Mock
	docstore.Store
}

func (m *mockStore) Query(ctx context.Context, text string, k int, f *docstore.Filter) ([]docstore.Match, error) {
	args := m.Called(ctx, text, k, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]docstore.Match), args.Error(1)
}

func match(content, category string, distance float64) docstore.Match {
	return docstore.Match{
		Document: docstore.Document{Content: content, Metadata: docstore.Metadata{Source: docstore.SeedSource, Category: category}},
		Distance: distance,
	}
}

func seededRanker(t *testing.T) *Ranker {
	t.Helper()
	s := docstore.NewMemory(docstore.NewHashEmbedder(256))
	_, err := docstore.Seed(context.Background(), s)
	require.NoError(t, err)
	return New(s, Config{})
}

func TestSearch_NilStoreReturnsSynthetic(t *testing.T) {
	r := New(nil, Config{})
	ev := r.Search(context.Background(), "metformin", 5, "")
	require.Len(t, ev, 1)
	assert.True(t, ev[0].Synthetic)
	assert.Equal(t, SyntheticScore, ev[0].Score)
	assert.Contains(t, ev[0].Content, "metformin")
	assert.False(t, r.Available())
}

func TestSearch_StoreErrorReturnsSynthetic(t *testing.T) {
	s := new(mockStore)
	s.On("Query", mock.Anything, "aspirin", 5, (*docstore.Filter)(nil)).Return(nil, eris.New("db locked"))

	ev := New(s, Config{}).Search(context.Background(), "aspirin", 5, "")
	require.Len(t, ev, 1)
	assert.True(t, ev[0].Synthetic)
	s.AssertExpectations(t)
}

func TestSearch_EmptyStoreReturnsSynthetic(t *testing.T) {
	r := New(docstore.NewMemory(docstore.NewHashEmbedder(64)), Config{})
	ev := r.Search(context.Background(), "anything", 3, "")
	require.Len(t, ev, 1)
	assert.True(t, ev[0].Synthetic)
}

func TestSearch_ScoresAndOrders(t *testing.T) {
	s := new(mockStore)
	s.On("Query", mock.Anything, "q", 3, &docstore.Filter{Category: "glp1"}).Return([]docstore.Match{
		match("far", "glp1", 0.9),
		match("near", "glp1", 0.1),
		match("negative", "glp1", 1.4),
	}, nil)

	ev := New(s, Config{}).Search(context.Background(), "q", 3, "glp1")
	require.Len(t, ev, 3)
	assert.Equal(t, "near", ev[0].Content)
	assert.InDelta(t, 0.9, ev[0].Score, 1e-9)
	assert.InDelta(t, 0.1, ev[1].Score, 1e-9)
	assert.Equal(t, 0.0, ev[2].Score, "score is clamped at zero")
	assert.Equal(t, "glp1", ev[0].Category)
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	s := new(mockStore)
	s.On("Query", mock.Anything, "q", 1, (*docstore.Filter)(nil)).Return([]docstore.Match{
		match("a", "x", 0.2), match("b", "x", 0.3),
	}, nil)
	assert.Len(t, New(s, Config{}).Search(context.Background(), "q", 1, ""), 1)
}

func TestSearch_PerCallTimeout(t *testing.T) {
	s := new(mockStore)
	s.On("Query", mock.Anything, "slow", 5, (*docstore.Filter)(nil)).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	start := time.Now()
	ev := New(s, Config{Timeout: 20 * time.Millisecond}).Search(context.Background(), "slow", 5, "")
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, ev, 1)
	assert.True(t, ev[0].Synthetic)
}

func TestUsable(t *testing.T) {
	ev := []model.Evidence{
		{Content: "a", Score: 0.5},
		{Content: "b", Score: 0.2},
		{Content: "c", Score: 0.19},
		Synthetic("q"),
	}
	got := Usable(ev, 0.2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)
	assert.Empty(t, Usable([]model.Evidence{Synthetic("q")}, 0))
}

func TestSearchForSubject(t *testing.T) {
	r := seededRanker(t)

	p := r.SearchForSubject(context.Background(), "semaglutide")
	assert.Equal(t, 10, p.Found)
	assert.Contains(t, p.Categories, "glp1")
	assert.Len(t, p.Scores, 10)

	p = New(nil, Config{}).SearchForSubject(context.Background(), "semaglutide")
	assert.False(t, p.Known)
	assert.Zero(t, p.Found)
	assert.Len(t, p.Evidence, 1)
}

func TestSearchForSubject_KnownThreshold(t *testing.T) {
	s := new(mockStore)
	s.On("Query", mock.Anything, "novelumab", 10, (*docstore.Filter)(nil)).Return([]docstore.Match{
		match("weak", "general", 0.75),
	}, nil).Once()
	s.On("Query", mock.Anything, "metformin", 10, (*docstore.Filter)(nil)).Return([]docstore.Match{
		match("strong", "diabetes", 0.6),
		match("weak", "general", 0.75),
	}, nil).Once()
	r := New(s, Config{})

	p := r.SearchForSubject(context.Background(), "novelumab")
	assert.False(t, p.Known, "0.25 is usable but below the subject gate")
	assert.Equal(t, 1, p.Found)

	p = r.SearchForSubject(context.Background(), "metformin")
	assert.True(t, p.Known)
	assert.Equal(t, []string{"diabetes", "general"}, p.Categories)
	s.AssertExpectations(t)
}

func TestContextFor(t *testing.T) {
	r := seededRanker(t)
	got := r.ContextFor(context.Background(), "ibuprofen side effects gastrointestinal", 3)
	assert.Contains(t, got, "[Source 1] (Relevance: 0.")
	assert.Contains(t, got, "Ibuprofen side effects")

	assert.Empty(t, New(nil, Config{}).ContextFor(context.Background(), "x", 3))
}

func TestText(t *testing.T) {
	assert.Equal(t, "a b", Text([]model.Evidence{{Content: "a"}, {Content: "b"}}))
}
