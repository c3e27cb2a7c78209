package step

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

type mark struct {
	progress float64
	summary  string
}

type recorder struct {
	mu       sync.Mutex
	marks    []mark
	finishes []model.StepResult
	summary  string
}

func (r *recorder) Progress(p float64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, mark{p, s})
}

func (r *recorder) Finish(res model.StepResult, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, res)
	r.summary = s
}

type funcTask struct {
	id model.StepID
	fn func(ctx context.Context, in Input, report func(float64, string)) (Outcome, error)
}

func (f funcTask) ID() model.StepID { return f.id }

func (f funcTask) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	return f.fn(ctx, in, report)
}

// stubStore answers every query with the same matches.
type stubStore struct {
	docstore.Store
	matches []docstore.Match
	err     error
}

func (s *stubStore) Query(context.Context, string, int, *docstore.Filter) ([]docstore.Match, error) {
	return s.matches, s.err
}

func match(content string, distance float64) docstore.Match {
	return docstore.Match{
		Document: docstore.Document{ID: "d1", Content: content, Metadata: docstore.Metadata{Source: "kb", Category: "diabetes"}},
		Distance: distance,
	}
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testCatalog() *content.Catalog {
	return content.MustLoad().WithClock(func() time.Time { return fixedNow })
}

func testDeps(store docstore.Store) Deps {
	return Deps{
		Ranker:    retrieval.New(store, retrieval.Config{}),
		Extractor: extract.New(nil, time.Second),
		Catalog:   testCatalog(),
	}
}

func TestRun_Success(t *testing.T) {
	r := &recorder{}
	task := funcTask{id: model.StepMarket, fn: func(_ context.Context, _ Input, report func(float64, string)) (Outcome, error) {
		report(50, "halfway")
		report(100, "tries to finish early")
		return Outcome{Data: "payload", Summary: "Market analysis complete"}, nil
	}}

	res := Run(context.Background(), task, Input{JobID: "j1"}, r)

	assert.True(t, res.OK())
	assert.Equal(t, model.StepMarket, res.Step)
	assert.Equal(t, "payload", res.Data)
	assert.GreaterOrEqual(t, res.DurationSeconds, 0.0)
	assert.False(t, res.EndedAt.Before(res.StartedAt))

	require.Len(t, r.marks, 3)
	assert.Equal(t, mark{0, "Starting Market Analysis..."}, r.marks[0])
	assert.Equal(t, float64(intermediateCeiling), r.marks[2].progress)
	require.Len(t, r.finishes, 1)
	assert.Equal(t, "Market analysis complete", r.summary)
}

func TestRun_ErrorIsContained(t *testing.T) {
	r := &recorder{}
	task := funcTask{id: model.StepTrials, fn: func(context.Context, Input, func(float64, string)) (Outcome, error) {
		return Outcome{}, eris.New("index offline")
	}}

	res := Run(context.Background(), task, Input{}, r)

	assert.Equal(t, model.ResultError, res.Status)
	assert.Equal(t, "index offline", res.Error)
	assert.Nil(t, res.Data)
	assert.Equal(t, "Error in Clinical Trials Analysis: index offline", r.summary)
	require.Len(t, r.finishes, 1)
}

func TestRun_PanicIsContained(t *testing.T) {
	r := &recorder{}
	task := funcTask{id: model.StepRegulatory, fn: func(context.Context, Input, func(float64, string)) (Outcome, error) {
		var m map[string]int
		m["boom"]++
		return Outcome{}, nil
	}}

	res := Run(context.Background(), task, Input{}, r)

	assert.Equal(t, model.ResultError, res.Status)
	assert.Contains(t, res.Error, "panic:")
	require.Len(t, r.finishes, 1)
	assert.False(t, r.finishes[0].OK())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	task := funcTask{id: model.StepMarket, fn: func(context.Context, Input, func(float64, string)) (Outcome, error) {
		called = true
		return Outcome{}, nil
	}}

	res := Run(ctx, task, Input{}, nil)
	assert.False(t, called)
	assert.Equal(t, model.ResultError, res.Status)
	assert.Contains(t, res.Error, "context canceled")
}

func TestParse(t *testing.T) {
	res := Run(context.Background(), Parse{}, Input{Query: "analyze Ozempic", Subject: "semaglutide", Requested: []model.StepID{model.StepMarket}}, nil)
	require.True(t, res.OK())
	pq := res.Data.(model.ParsedQuery)
	assert.Equal(t, "semaglutide", pq.Subject)
	assert.Equal(t, []model.StepID{model.StepMarket}, pq.Requested)

	res = Run(context.Background(), Parse{}, Input{Query: "   "}, nil)
	assert.Equal(t, model.ResultError, res.Status)
}

func TestSubject_ReferenceWhenStoreUnavailable(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Subject{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "metformin"}, func(float64, string) {})
	require.NoError(t, err)

	p := out.Data.(model.SubjectProfile)
	assert.Equal(t, model.OriginReference, p.Origin)
	assert.Equal(t, "Metformin", p.Name)
	assert.Equal(t, "C4H11N5", p.Formula)
	assert.False(t, p.InKnowledgeBase)
	assert.Contains(t, out.Summary, "Biguanide")
}

func TestSubject_UnknownSubjectDefaults(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Subject{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "zorbitol"}, func(float64, string) {})
	require.NoError(t, err)

	p := out.Data.(model.SubjectProfile)
	assert.Equal(t, model.OriginDefault, p.Origin)
	assert.Equal(t, "Zorbitol", p.Name)
	assert.Equal(t, "Unknown", p.Category)
	assert.Equal(t, "Molecule analysis complete", out.Summary)
}

func TestSubject_KnownSubjectUsesEvidence(t *testing.T) {
	store := &stubStore{matches: []docstore.Match{match(
		"Metformin is a biguanide. Chemical formula: C4H11N5. Molecular weight: 129.16 g/mol.", 0.2)}}
	d := testDeps(store)

	var marks []float64
	out, err := (&Subject{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "metformin"}, func(p float64, _ string) { marks = append(marks, p) })
	require.NoError(t, err)

	p := out.Data.(model.SubjectProfile)
	assert.Equal(t, model.OriginRegex, p.Origin)
	assert.True(t, p.InKnowledgeBase)
	assert.Equal(t, "C4H11N5", p.Formula)
	assert.Equal(t, []string{"Type 2 Diabetes Mellitus", "Prediabetes"}, p.Indications)
	require.Len(t, p.Sources, 1)
	assert.InDelta(t, 0.8, p.Sources[0].Relevance, 0.001)
	assert.Equal(t, []float64{10, 20, 40, 60, 80}, marks)
}

func TestTrials_WithoutEvidence(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Trials{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "metformin"}, func(float64, string) {})
	require.NoError(t, err)

	ta := out.Data.(model.TrialsAnalysis)
	assert.Equal(t, model.OriginDefault, ta.Origin)
	assert.Len(t, ta.Evidence.KeyFindings, 3)
	assert.GreaterOrEqual(t, ta.TotalTrials, 5)
	assert.LessOrEqual(t, ta.TotalTrials, 10)

	sum := 0
	for _, n := range ta.PhaseSummary {
		sum += n
	}
	assert.Equal(t, ta.TotalTrials, sum)
	assert.Equal(t, fixedNow, ta.LastUpdated)
	assert.Empty(t, ta.Sources)
}

func TestMarket_CuratedFigures(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Market{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "metformin"}, func(float64, string) {})
	require.NoError(t, err)

	ma := out.Data.(model.MarketAnalysis)
	assert.Equal(t, model.OriginReference, ma.Origin)
	assert.Equal(t, int64(3_500_000_000), ma.MarketSize)
	assert.InDelta(t, 5.1, ma.GrowthRate, 0.001)
	assert.InDelta(t, 4.6, ma.YearOverYearGrowth, 0.001)
	assert.Len(t, ma.RevenueHistory, 5)
	assert.Len(t, ma.KeyInsights, 3)
	assert.Equal(t, "Market analysis complete: $3.5B market", out.Summary)
}

func TestMarket_ExtractedFigures(t *testing.T) {
	store := &stubStore{matches: []docstore.Match{match("The zorbitol market reached $2.5 billion with 12% annual growth.", 0.3)}}
	d := testDeps(store)
	out, err := (&Market{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "zorbitol"}, func(float64, string) {})
	require.NoError(t, err)

	ma := out.Data.(model.MarketAnalysis)
	assert.Equal(t, model.OriginRegex, ma.Origin)
	assert.Equal(t, int64(2_500_000_000), ma.MarketSize)
	assert.InDelta(t, 12.0, ma.GrowthRate, 0.001)
	require.Len(t, ma.Sources, 1)
}

func TestRegulatory_Reference(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Regulatory{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "metformin"}, func(float64, string) {})
	require.NoError(t, err)

	ra := out.Data.(model.RegulatoryAnalysis)
	assert.Equal(t, model.OriginReference, ra.Origin)
	assert.Equal(t, "Approved", ra.FDA)
	assert.Equal(t, "Expired", ra.PatentExpiry)
	assert.Equal(t, "Off-Patent", ra.Patent.Status)
	assert.Equal(t, "No Exclusivity", ra.ExclusivityStatus)
	assert.NotEmpty(t, ra.LabelWarnings)
	assert.NotNil(t, ra.Designations)
	assert.Equal(t, "Regulatory analysis complete: Approved status", out.Summary)
}

func TestRegulatory_UnknownSubject(t *testing.T) {
	d := testDeps(nil)
	out, err := (&Regulatory{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog}).
		Execute(context.Background(), Input{Subject: "zorbitol"}, func(float64, string) {})
	require.NoError(t, err)

	ra := out.Data.(model.RegulatoryAnalysis)
	assert.Equal(t, model.OriginDefault, ra.Origin)
	assert.Equal(t, "Under Review", ra.FDA)
	assert.Equal(t, "Unknown", ra.PatentExpiry)
	assert.Equal(t, "Under Investigation", ra.Patent.Status)
}

func TestPatent(t *testing.T) {
	c := testCatalog()
	p := &Patent{Catalog: c}

	rc := model.NewRunContext("semaglutide", "")
	require.NoError(t, rc.Set(string(model.StepRegulatory), model.RegulatoryAnalysis{
		PatentExpiry: "2032",
		Patent:       c.Patent("semaglutide", "2032"),
	}))
	out, err := p.Execute(context.Background(), Input{Subject: "semaglutide", Context: rc.View(model.StepRegulatory)}, func(float64, string) {})
	require.NoError(t, err)
	info := out.Data.(model.PatentInfo)
	assert.Equal(t, "Active", info.Status)
	assert.Equal(t, "2032", info.ExpiryDate)
	assert.Equal(t, 6, info.Analysis.YearsRemaining)

	failed := model.NewRunContext("semaglutide", "")
	require.NoError(t, failed.Set(string(model.StepRegulatory), model.Unavailable))
	out, err = p.Execute(context.Background(), Input{Subject: "semaglutide", Context: failed.View(model.StepRegulatory)}, func(float64, string) {})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", out.Data.(model.PatentInfo).Status)
}

func runAll(t *testing.T, d Deps, subject string, requested []model.StepID) *model.RunContext {
	t.Helper()
	rc := model.NewRunContext(subject, "")
	tasks := Standard(d)
	order := append([]model.StepID{model.StepSubject}, requested...)
	if slices.Contains(requested, model.StepRegulatory) {
		order = append(order, model.StepPatent)
	}
	for _, id := range order {
		res := Run(context.Background(), tasks[id], Input{Subject: subject, Requested: requested, Context: rc.View(id, model.StepRegulatory)}, nil)
		require.True(t, res.OK(), "step %s: %s", id, res.Error)
		require.NoError(t, rc.Set(string(id), res.Data))
	}
	return rc
}

func TestSynthesis_FullReport(t *testing.T) {
	d := testDeps(nil)
	requested := []model.StepID{model.StepTrials, model.StepMarket, model.StepRegulatory}
	rc := runAll(t, d, "semaglutide", requested)

	all := []model.StepID{model.StepSubject, model.StepTrials, model.StepMarket, model.StepRegulatory, model.StepPatent}
	res := Run(context.Background(), Standard(d)[model.StepSynthesis],
		Input{Subject: "semaglutide", Requested: requested, Context: rc.View(all...)}, nil)
	require.True(t, res.OK(), res.Error)

	rep := res.Data.(model.Report)
	assert.Equal(t, "Semaglutide", rep.Subject)
	require.Len(t, rep.Sections, 4)
	for i, id := range []model.StepID{model.StepSubject, model.StepTrials, model.StepMarket, model.StepRegulatory} {
		assert.Equal(t, id, rep.Sections[i].Step)
		assert.True(t, rep.Sections[i].Available)
	}
	require.NotNil(t, rep.Patent)
	assert.Equal(t, "Active", rep.Patent.Status)
	assert.Len(t, rep.Citations, 5)
	assert.Equal(t, "Approved", rep.KeyMetrics.FDAStatus)
	assert.Equal(t, int64(18_000_000_000), rep.KeyMetrics.MarketSize)
	assert.Contains(t, rep.Summary, "## Executive Summary: Semaglutide")
	assert.Contains(t, rep.Recommendations, "Prepare for patent cliff with lifecycle management strategies")

	var ids []string
	for _, in := range rep.Insights {
		ids = append(ids, in.ID)
	}
	assert.Contains(t, ids, "insight-market-1")
	assert.Contains(t, ids, "insight-reg-1")
	assert.Contains(t, ids, "insight-reg-2")
	assert.Equal(t, "insight-safety-1", ids[len(ids)-1])
}

func TestSynthesis_ToleratesMissingSlots(t *testing.T) {
	d := testDeps(nil)
	rc := model.NewRunContext("metformin", "")
	require.NoError(t, rc.Set(string(model.StepSubject), model.SubjectProfile{Name: "Metformin"}))
	require.NoError(t, rc.Set(string(model.StepMarket), model.Unavailable))

	requested := []model.StepID{model.StepTrials, model.StepMarket}
	res := Run(context.Background(), Standard(d)[model.StepSynthesis], Input{
		Subject:   "metformin",
		Requested: requested,
		Context:   rc.View(model.StepSubject, model.StepTrials, model.StepMarket),
	}, nil)
	require.True(t, res.OK(), res.Error)

	rep := res.Data.(model.Report)
	require.Len(t, rep.Sections, 3)
	assert.True(t, rep.Sections[0].Available)
	assert.False(t, rep.Sections[1].Available)
	assert.Equal(t, model.Unavailable, rep.Sections[1].Data)
	assert.False(t, rep.Sections[2].Available)
	assert.Equal(t, "Unknown", rep.KeyMetrics.FDAStatus)
	assert.Nil(t, rep.Patent)
	require.Len(t, rep.Insights, 1)
	assert.NotEmpty(t, rep.Citations)
}
