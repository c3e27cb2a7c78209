package model

import "time"

// ResultStatus discriminates a StepResult.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// StepResult is the outcome of a single step execution. Exactly one of
// Data (on success) or Error (on error) is meaningful.
type StepResult struct {
	Step            StepID       `json:"step"`
	Status          ResultStatus `json:"status"`
	DurationSeconds float64      `json:"duration_seconds"`
	Data            any          `json:"data,omitempty"`
	Error           string       `json:"error,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	EndedAt         time.Time    `json:"ended_at"`
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool {
	return r.Status == ResultSuccess
}

// Placeholder marks a RunContext slot whose step did not produce data.
type Placeholder struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Unavailable is the placeholder written for failed steps.
var Unavailable = Placeholder{Status: "unavailable"}

// IsUnavailable reports whether v is an unavailable placeholder.
func IsUnavailable(v any) bool {
	switch p := v.(type) {
	case Placeholder:
		return p.Status == Unavailable.Status
	case *Placeholder:
		return p != nil && p.Status == Unavailable.Status
	}
	return false
}
