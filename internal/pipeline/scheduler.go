// Package pipeline schedules analysis jobs over the step graph:
//
//	parse -> subject -> {requested analyses, concurrently} -> synthesis
//	                         regulatory -> patent
//
// Parse, subject and synthesis failures fail the job. Failures inside the
// fan-out group are recorded on the step and the job continues.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/progress"
	"github.com/sells-group/pharma-research/internal/step"
)

var (
	ErrJobNotFound     = eris.New("pipeline: job not found")
	ErrUnknownAnalysis = eris.New("pipeline: unknown analysis type")
	ErrJobTimeout      = eris.New("pipeline: job timed out")
	ErrEmptyQuery      = eris.New("pipeline: empty query")
	ErrNotReady        = eris.New("pipeline: job has not finished")
	ErrClosed          = eris.New("pipeline: scheduler closed")
)

// DefaultAnalyses run when a request names none.
var DefaultAnalyses = []model.StepID{model.StepTrials, model.StepMarket, model.StepRegulatory}

var analysisAliases = map[string]model.StepID{
	"trials":      model.StepTrials,
	"clinical":    model.StepTrials,
	"market":      model.StepMarket,
	"competitive": model.StepMarket,
	"regulatory":  model.StepRegulatory,
}

// Request submits a job.
type Request struct {
	// Subject is a molecule name or a free-text query naming one.
	Subject  string   `json:"molecule_name"`
	Analyses []string `json:"analysis_types"`
	Context  string   `json:"additional_context,omitempty"`
}

// Normalizer resolves free text to a canonical subject.
type Normalizer interface {
	Normalize(query string) string
}

// Config tunes scheduling.
type Config struct {
	JobTimeout  time.Duration
	MaxParallel int
}

// Scheduler owns every job it starts.
type Scheduler struct {
	tasks     map[model.StepID]step.Task
	progress  *progress.Broadcaster
	normalize Normalizer
	cfg       Config

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New returns a Scheduler. tasks must hold a task for every step ID.
func New(tasks map[model.StepID]step.Task, b *progress.Broadcaster, n Normalizer, cfg Config) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:     tasks,
		progress:  b,
		normalize: n,
		cfg:       cfg,
		base:      base,
		stop:      stop,
	}
}

// ResolveAnalyses maps analysis names and aliases to step IDs, keeping
// first-mention order and dropping duplicates.
func ResolveAnalyses(names []string) ([]model.StepID, error) {
	if len(names) == 0 {
		return slices.Clone(DefaultAnalyses), nil
	}
	var out []model.StepID
	for _, n := range names {
		id, ok := analysisAliases[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownAnalysis, "%q", n)
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Submit starts a job in the background and returns its ID.
func (s *Scheduler) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "pipeline: submit")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	job, err := s.open(req)
	if err != nil {
		s.wg.Done()
		return "", err
	}

	go func() {
		defer s.wg.Done()
		s.execute(s.base, job)
	}()

	zap.L().Info("pipeline: job submitted",
		zap.String("job_id", job.ID),
		zap.String("subject", job.Subject),
		zap.Any("analyses", job.Requested),
	)
	return job.ID, nil
}

// Run executes a job in the calling goroutine and returns its final view.
// The returned error covers only request validation; job failures are
// reported through the job's status.
func (s *Scheduler) Run(ctx context.Context, req Request) (*model.Job, error) {
	job, err := s.open(req)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, job)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.progress.Flush(fctx); err != nil {
		return nil, err
	}
	final, err := s.Job(job.ID)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// Job returns the current view of a job.
func (s *Scheduler) Job(id string) (model.Job, error) {
	j, ok := s.progress.Snapshot(id)
	if !ok {
		return model.Job{}, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	return j, nil
}

// Report returns the final report of a completed job.
func (s *Scheduler) Report(id string) (*model.Report, error) {
	j, err := s.Job(id)
	if err != nil {
		return nil, err
	}
	switch j.Status {
	case model.JobCompleted:
		return j.Report, nil
	case model.JobFailed:
		return nil, eris.Errorf("pipeline: job %s failed: %s", id, j.Error)
	}
	return nil, eris.Wrapf(ErrNotReady, "job %s is %s", id, j.Status)
}

// List returns jobs newest first.
func (s *Scheduler) List(limit, offset int) []model.Job {
	all := s.progress.List()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []model.Job{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// Close cancels running jobs and waits for them to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}

func (s *Scheduler) open(req Request) (model.Job, error) {
	query := strings.TrimSpace(req.Subject)
	if query == "" {
		return model.Job{}, ErrEmptyQuery
	}
	requested, err := ResolveAnalyses(req.Analyses)
	if err != nil {
		return model.Job{}, err
	}

	subject := query
	if s.normalize != nil {
		subject = s.normalize.Normalize(query)
	}

	job := model.Job{
		ID:        uuid.NewString(),
		Subject:   subject,
		Query:     query,
		Context:   req.Context,
		Requested: requested,
		Status:    model.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range plan(requested) {
		job.Steps = append(job.Steps, model.NewStepState(id))
	}
	if err := s.progress.Open(job); err != nil {
		return model.Job{}, eris.Wrap(err, "pipeline: open job")
	}
	return job, nil
}

// plan lists every step a job will run, in display order.
func plan(requested []model.StepID) []model.StepID {
	ids := []model.StepID{model.StepParse, model.StepSubject}
	ids = append(ids, requested...)
	if slices.Contains(requested, model.StepRegulatory) {
		ids = append(ids, model.StepPatent)
	}
	return append(ids, model.StepSynthesis)
}

func (s *Scheduler) execute(ctx context.Context, job model.Job) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("subject", job.Subject))
	start := time.Now()

	ctx, cancel := context.WithTimeoutCause(ctx, s.cfg.JobTimeout, ErrJobTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline: job panicked", zap.Any("panic", p))
			s.fail(job, fmt.Sprintf("internal error: %v", p))
		}
	}()

	log.Info("pipeline: starting job")
	s.progress.PublishJob(job.ID, progress.JobUpdate{Status: model.JobRunning})

	rc := model.NewRunContext(job.Subject, job.Context)
	in := step.Input{JobID: job.ID, Query: job.Query, Subject: job.Subject, Requested: job.Requested}

	runStep := func(ctx context.Context, id model.StepID, deps ...model.StepID) model.StepResult {
		sin := in
		sin.Context = rc.View(deps...)
		res := step.Run(ctx, s.tasks[id], sin, s.progress.StepReporter(job.ID, id))

		var slot any = model.Unavailable
		if res.OK() {
			slot = res.Data
		}
		if err := rc.Set(string(id), slot); err != nil {
			log.Error("pipeline: run context write rejected", zap.String("step", string(id)), zap.Error(err))
		}
		return res
	}

	// A step that gave up because the deadline passed fails the job as a
	// timeout, not with the step's own error.
	fatal := func(stage string, res model.StepResult) {
		if ctx.Err() != nil {
			s.fail(job, timeoutMessage(ctx))
			return
		}
		s.fail(job, stage+": "+res.Error)
	}

	if res := runStep(ctx, model.StepParse); !res.OK() {
		fatal("parse", res)
		return
	}
	if res := runStep(ctx, model.StepSubject, model.StepParse); !res.OK() {
		fatal("subject analysis", res)
		return
	}

	if !s.fanOut(ctx, job, runStep) {
		return
	}
	if ctx.Err() != nil {
		s.fail(job, timeoutMessage(ctx))
		return
	}

	deps := plan(job.Requested)
	res := runStep(ctx, model.StepSynthesis, deps[:len(deps)-1]...)
	if !res.OK() {
		fatal("synthesis", res)
		return
	}
	if ctx.Err() != nil {
		s.fail(job, timeoutMessage(ctx))
		return
	}
	report, ok := res.Data.(model.Report)
	if !ok {
		s.fail(job, fmt.Sprintf("synthesis: unexpected payload %T", res.Data))
		return
	}

	s.progress.PublishJob(job.ID, progress.JobUpdate{Status: model.JobCompleted, Report: &report})
	log.Info("pipeline: job complete", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// fanOut runs the requested analyses concurrently and joins them once. The
// patent step chains directly after regulatory. It reports false when the
// job deadline passed first, after failing the job and waiting for the
// members to return.
func (s *Scheduler) fanOut(ctx context.Context, job model.Job, runStep func(context.Context, model.StepID, ...model.StepID) model.StepResult) bool {
	var g errgroup.Group
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}
	for _, id := range job.Requested {
		g.Go(func() error {
			runStep(ctx, id, model.StepSubject)
			if id == model.StepRegulatory {
				runStep(ctx, model.StepPatent, model.StepSubject, model.StepRegulatory)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		s.fail(job, timeoutMessage(ctx))
		<-done
		return false
	}
}

func timeoutMessage(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return ErrJobTimeout.Error()
}

// fail marks every unfinished step and the job as failed. Steps already
// terminal keep their state.
func (s *Scheduler) fail(job model.Job, reason string) {
	zap.L().Error("pipeline: job failed", zap.String("job_id", job.ID), zap.String("reason", reason))
	for _, st := range job.Steps {
		s.progress.PublishStep(job.ID, progress.StepUpdate{
			Step:    st.ID,
			Status:  model.StepError,
			Summary: "Stopped: job failed",
			Error:   reason,
		})
	}
	s.progress.PublishJob(job.ID, progress.JobUpdate{Status: model.JobFailed, Error: reason})
}
