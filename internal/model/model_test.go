package model

import (
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status StepStatus
		want   bool
	}{
		{StepPending, false},
		{StepRunning, false},
		{StepCompleted, true},
		{StepError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}

	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.False(t, JobPending.Terminal())
}

func TestStepLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Subject Analysis", StepSubject.Label())
	assert.Equal(t, "custom", StepID("custom").Label())
}

func TestJobRecompute(t *testing.T) {
	t.Parallel()

	j := &Job{Steps: []StepState{
		{ID: StepParse, Status: StepCompleted},
		{ID: StepSubject, Status: StepError},
		{ID: StepTrials, Status: StepRunning},
		{ID: StepSynthesis, Status: StepPending},
	}}
	j.Recompute()

	assert.InDelta(t, 50.0, j.Progress, 0.001)
	assert.Equal(t, StepTrials, j.CurrentStep)
}

func TestJobCloneIsolated(t *testing.T) {
	t.Parallel()

	now := time.Now()
	j := Job{
		ID:    "j1",
		Steps: []StepState{{ID: StepParse, StartedAt: &now, History: []ProgressMark{{Progress: 0}}}},
	}
	c := j.Clone()
	c.Steps[0].History = append(c.Steps[0].History, ProgressMark{Progress: 100})
	c.Steps[0].Status = StepCompleted
	*c.Steps[0].StartedAt = now.Add(time.Hour)

	assert.Len(t, j.Steps[0].History, 1)
	assert.Equal(t, StepStatus(""), j.Steps[0].Status)
	assert.Equal(t, now, *j.Steps[0].StartedAt)
	require.NotNil(t, j.Step(StepParse))
	assert.Nil(t, j.Step(StepMarket))
}

func TestRunContextWriteOnce(t *testing.T) {
	t.Parallel()

	rc := NewRunContext("metformin", "type 2 diabetes")
	assert.Equal(t, "metformin", rc.SubjectName())
	assert.Equal(t, "type 2 diabetes", rc.FreeText())

	require.NoError(t, rc.Set(string(StepMarket), MarketAnalysis{MarketSize: 1}))
	err := rc.Set(string(StepMarket), MarketAnalysis{MarketSize: 2})
	assert.True(t, eris.Is(err, ErrSlotTaken))

	got, ok := Lookup[MarketAnalysis](rc, StepMarket)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.MarketSize)

	err = rc.Set(KeySubjectName, "other")
	assert.True(t, eris.Is(err, ErrSlotTaken))
	assert.Equal(t, []string{KeySubjectName, KeyFreeText, string(StepMarket)}, rc.Keys())
}

func TestRunContextView(t *testing.T) {
	t.Parallel()

	rc := NewRunContext("aspirin", "")
	require.NoError(t, rc.Set(string(StepSubject), SubjectProfile{Name: "aspirin"}))
	require.NoError(t, rc.Set(string(StepMarket), MarketAnalysis{}))

	view := rc.View(StepSubject)
	_, ok := view.Get(string(StepSubject))
	assert.True(t, ok)
	_, ok = view.Get(string(StepMarket))
	assert.False(t, ok, "market is not a declared dependency")
	assert.Equal(t, "aspirin", view.SubjectName())
}

func TestLookupPlaceholder(t *testing.T) {
	t.Parallel()

	rc := NewRunContext("x", "")
	require.NoError(t, rc.Set(string(StepRegulatory), Unavailable))
	_, ok := Lookup[RegulatoryAnalysis](rc, StepRegulatory)
	assert.False(t, ok)

	require.NoError(t, rc.Set(string(StepTrials), &TrialsAnalysis{TotalTrials: 3}))
	tr, ok := Lookup[TrialsAnalysis](rc, StepTrials)
	require.True(t, ok)
	assert.Equal(t, 3, tr.TotalTrials)
}

func TestRunContextConcurrentSet(t *testing.T) {
	t.Parallel()

	rc := NewRunContext("x", "")
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- rc.Set("slot", 1)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsUnavailable(Unavailable))
	assert.True(t, IsUnavailable(&Placeholder{Status: "unavailable"}))
	assert.False(t, IsUnavailable(MarketAnalysis{}))
	assert.False(t, IsUnavailable(nil))
}

func TestEvidenceSnippet(t *testing.T) {
	t.Parallel()
	e := Evidence{Content: "abcdef"}
	assert.Equal(t, "abcdef", e.Snippet(10))
	assert.Equal(t, "abc...", e.Snippet(3))

	refs := RefsFrom([]Evidence{{Content: "a", Category: "c", Score: 0.5}}, 3)
	require.Len(t, refs, 1)
	assert.Equal(t, 0.5, refs[0].Relevance)
}

func TestReportSection(t *testing.T) {
	t.Parallel()
	r := &Report{Sections: []Section{{Step: StepTrials, Available: true}}}
	s, ok := r.Section(StepTrials)
	assert.True(t, ok)
	assert.True(t, s.Available)
	_, ok = r.Section(StepMarket)
	assert.False(t, ok)
}
