package model

import "time"

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StepStatus represents the lifecycle state of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Terminal reports whether the step has finished, successfully or not.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepError
}

// StepID names a node in the pipeline step graph. It doubles as the
// RunContext key the step's completion write lands in.
type StepID string

const (
	StepParse      StepID = "parse"
	StepSubject    StepID = "subject"
	StepTrials     StepID = "trials"
	StepMarket     StepID = "market"
	StepRegulatory StepID = "regulatory"
	StepPatent     StepID = "patent"
	StepSynthesis  StepID = "synthesis"
)

var stepLabels = map[StepID]string{
	StepParse:      "Query Parsing",
	StepSubject:    "Subject Analysis",
	StepTrials:     "Clinical Trials Analysis",
	StepMarket:     "Market Analysis",
	StepRegulatory: "Regulatory Status",
	StepPatent:     "Patent Analysis",
	StepSynthesis:  "Report Synthesis",
}

// Label returns the human-readable name shown to observers.
func (id StepID) Label() string {
	if l, ok := stepLabels[id]; ok {
		return l
	}
	return string(id)
}

// ProgressMark is one entry in a step's progress trail.
type ProgressMark struct {
	Progress float64    `json:"progress"`
	Summary  string     `json:"summary,omitempty"`
	Status   StepStatus `json:"status"`
	At       time.Time  `json:"at"`
}

// StepState is the externally observable state of one step within a job.
type StepState struct {
	ID        StepID         `json:"id"`
	Label     string         `json:"label"`
	Status    StepStatus     `json:"status"`
	Progress  float64        `json:"progress"`
	Summary   string         `json:"summary,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	History   []ProgressMark `json:"history,omitempty"`
}

// NewStepState returns a pending state for the given step.
func NewStepState(id StepID) StepState {
	return StepState{ID: id, Label: id.Label(), Status: StepPending}
}

// Job is a single pipeline run: the subject under analysis, the ordered
// step states and, once synthesis has run, the final report.
type Job struct {
	ID          string      `json:"id"`
	Subject     string      `json:"subject"`
	Query       string      `json:"query"`
	Context     string      `json:"context,omitempty"`
	Requested   []StepID    `json:"requested"`
	Status      JobStatus   `json:"status"`
	Progress    float64     `json:"progress"`
	CurrentStep StepID      `json:"current_step,omitempty"`
	Steps       []StepState `json:"steps"`
	Report      *Report     `json:"report,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Step returns a pointer to the named step state, or nil.
func (j *Job) Step(id StepID) *StepState {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			return &j.Steps[i]
		}
	}
	return nil
}

// Recompute derives the overall progress and the current step from the
// step states. Progress is the share of steps in a terminal state.
func (j *Job) Recompute() {
	if len(j.Steps) == 0 {
		j.Progress = 0
		j.CurrentStep = ""
		return
	}
	done := 0
	j.CurrentStep = ""
	for _, s := range j.Steps {
		if s.Status.Terminal() {
			done++
			continue
		}
		if s.Status == StepRunning && j.CurrentStep == "" {
			j.CurrentStep = s.ID
		}
	}
	j.Progress = float64(done) / float64(len(j.Steps)) * 100
}

// Clone returns a deep copy of the job safe to hand to another goroutine.
// Step results and the report are immutable once published and are shared.
func (j Job) Clone() Job {
	out := j
	out.Requested = append([]StepID(nil), j.Requested...)
	out.Steps = make([]StepState, len(j.Steps))
	for i, s := range j.Steps {
		s.History = append([]ProgressMark(nil), s.History...)
		s.StartedAt = cloneTime(s.StartedAt)
		s.EndedAt = cloneTime(s.EndedAt)
		out.Steps[i] = s
	}
	out.CompletedAt = cloneTime(j.CompletedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
