// Package progress multiplexes step progress from running jobs into
// pull-based job snapshots. Producers enqueue updates without blocking; a
// single goroutine applies them in publish order, and observers read deep
// copies of the latest state.
package progress

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/model"
)

// ErrDuplicateJob is returned by Open when the job ID is already tracked.
var ErrDuplicateJob = eris.New("progress: job already open")

// StepUpdate is a state change for one step. An empty Status is derived
// from Progress: 100 completes the step, anything lower marks it running.
type StepUpdate struct {
	Step     model.StepID
	Status   model.StepStatus
	Progress float64
	Summary  string
	Result   any
	Error    string
}

// JobUpdate is a state change for the job itself.
type JobUpdate struct {
	Status model.JobStatus
	Report *model.Report
	Error  string
}

type event struct {
	jobID   string
	at      time.Time
	step    *StepUpdate
	job     *JobUpdate
	barrier chan struct{}
}

// Broadcaster owns every tracked job view.
type Broadcaster struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	order []string

	qmu    sync.Mutex
	queue  []event
	closed bool
	wake   chan struct{}
	done   chan struct{}

	now func() time.Time
}

// New starts a Broadcaster. Close must be called to stop its goroutine.
func New() *Broadcaster {
	b := &Broadcaster{
		jobs: make(map[string]*model.Job),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go b.run()
	return b
}

// Open starts tracking a job with its initial step states.
func (b *Broadcaster) Open(job model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.jobs[job.ID]; ok {
		return eris.Wrapf(ErrDuplicateJob, "job %s", job.ID)
	}
	j := job.Clone()
	if j.Status == "" {
		j.Status = model.JobPending
	}
	j.Recompute()
	b.jobs[j.ID] = &j
	b.order = append(b.order, j.ID)
	return nil
}

// Publish records a progress checkpoint for a step.
func (b *Broadcaster) Publish(jobID string, step model.StepID, progress float64, summary string) {
	b.PublishStep(jobID, StepUpdate{Step: step, Progress: progress, Summary: summary})
}

// PublishStep enqueues a step update.
func (b *Broadcaster) PublishStep(jobID string, u StepUpdate) {
	b.enqueue(event{jobID: jobID, at: b.now(), step: &u})
}

// PublishJob enqueues a job-level update.
func (b *Broadcaster) PublishJob(jobID string, u JobUpdate) {
	b.enqueue(event{jobID: jobID, at: b.now(), job: &u})
}

// StepReporter returns a reporter bound to one step of one job.
func (b *Broadcaster) StepReporter(jobID string, step model.StepID) *StepReporter {
	return &StepReporter{b: b, jobID: jobID, step: step}
}

// Flush blocks until every update published before the call is visible to
// Snapshot.
func (b *Broadcaster) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !b.enqueue(event{barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-b.done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "progress: flush")
	}
}

// Snapshot returns a deep copy of the job's current view.
func (b *Broadcaster) Snapshot(jobID string) (model.Job, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	j, ok := b.jobs[jobID]
	if !ok {
		return model.Job{}, false
	}
	return j.Clone(), true
}

// List returns copies of all tracked jobs, newest first.
func (b *Broadcaster) List() []model.Job {
	b.mu.RLock()
	out := make([]model.Job, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.jobs[id].Clone())
	}
	b.mu.RUnlock()

	slices.SortStableFunc(out, func(a, c model.Job) int {
		return c.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Close drains pending updates and stops the writer goroutine. Publishing
// after Close is a no-op.
func (b *Broadcaster) Close() {
	b.qmu.Lock()
	if b.closed {
		b.qmu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.qmu.Unlock()
	b.signal()
	<-b.done
}

func (b *Broadcaster) enqueue(e event) bool {
	b.qmu.Lock()
	if b.closed {
		b.qmu.Unlock()
		return false
	}
	b.queue = append(b.queue, e)
	b.qmu.Unlock()
	b.signal()
	return true
}

func (b *Broadcaster) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for range b.wake {
		for {
			b.qmu.Lock()
			batch := b.queue
			b.queue = nil
			closed := b.closed
			b.qmu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			b.apply(batch)
		}
	}
}

func (b *Broadcaster) apply(batch []event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range batch {
		if e.barrier != nil {
			close(e.barrier)
			continue
		}
		j, ok := b.jobs[e.jobID]
		if !ok {
			zap.L().Debug("progress: update for unknown job", zap.String("job_id", e.jobID))
			continue
		}
		switch {
		case e.step != nil:
			applyStep(j, *e.step, e.at)
		case e.job != nil:
			applyJob(j, *e.job, e.at)
		}
	}
}

func applyStep(j *model.Job, u StepUpdate, at time.Time) {
	s := j.Step(u.Step)
	if s == nil || s.Status.Terminal() {
		return
	}

	progress := min(max(u.Progress, 0), 100)
	status := u.Status
	if status == "" {
		status = model.StepRunning
		if progress >= 100 {
			status = model.StepCompleted
		}
	}
	if status.Terminal() {
		progress = 100
	}
	progress = max(progress, s.Progress)

	mark := model.ProgressMark{Progress: progress, Summary: u.Summary, Status: status, At: at}
	if n := len(s.History); n == 0 || !sameMark(s.History[n-1], mark) {
		s.History = append(s.History, mark)
	}

	// A step that errors without ever running keeps a nil start.
	if s.StartedAt == nil && status != model.StepError {
		t := at
		s.StartedAt = &t
	}
	s.Status = status
	s.Progress = progress
	if u.Summary != "" {
		s.Summary = u.Summary
	}
	if u.Result != nil {
		s.Result = u.Result
	}
	if u.Error != "" {
		s.Error = u.Error
	}
	if status.Terminal() {
		t := at
		s.EndedAt = &t
	}

	if j.Status == model.JobPending {
		j.Status = model.JobRunning
	}
	j.Recompute()
}

func sameMark(a, b model.ProgressMark) bool {
	return a.Progress == b.Progress && a.Summary == b.Summary && a.Status == b.Status
}

func applyJob(j *model.Job, u JobUpdate, at time.Time) {
	if j.Status.Terminal() {
		return
	}
	j.Status = cmp.Or(u.Status, j.Status)
	if u.Report != nil {
		j.Report = u.Report
	}
	if u.Error != "" {
		j.Error = u.Error
	}
	if j.Status.Terminal() {
		t := at
		j.CompletedAt = &t
	}
	j.Recompute()
}

// StepReporter forwards one step's progress to a Broadcaster.
type StepReporter struct {
	b     *Broadcaster
	jobID string
	step  model.StepID
}

// Progress publishes an intermediate checkpoint.
func (r *StepReporter) Progress(progress float64, summary string) {
	r.b.Publish(r.jobID, r.step, progress, summary)
}

// Finish publishes the terminal state carried by res.
func (r *StepReporter) Finish(res model.StepResult, summary string) {
	u := StepUpdate{Step: r.step, Status: model.StepCompleted, Progress: 100, Summary: summary}
	if res.OK() {
		u.Result = res.Data
	} else {
		u.Status = model.StepError
		u.Error = res.Error
	}
	r.b.PublishStep(r.jobID, u)
}
