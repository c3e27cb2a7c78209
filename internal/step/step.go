// Package step holds the unit of pipeline work and the analysis steps
// built on it. Run contains every failure inside a StepResult so that a
// step can never abort its siblings.
package step

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/model"
)

// Reporter receives a step's progress. Progress carries intermediate
// checkpoints; Finish carries the terminal outcome and is called once.
type Reporter interface {
	Progress(progress float64, summary string)
	Finish(result model.StepResult, summary string)
}

// Discard is a Reporter that drops everything.
type Discard struct{}

func (Discard) Progress(float64, string)        {}
func (Discard) Finish(model.StepResult, string) {}

// Input is what a step may read.
type Input struct {
	JobID     string
	Query     string
	Subject   string
	Requested []model.StepID
	// Context is restricted to the step's declared dependencies.
	Context model.ContextReader
}

// Outcome is a successful step's payload and closing summary.
type Outcome struct {
	Data    any
	Summary string
}

// Task is one named step.
type Task interface {
	ID() model.StepID
	Execute(ctx context.Context, in Input, report func(progress float64, summary string)) (Outcome, error)
}

// intermediateCeiling caps checkpoints so only Finish can complete a step.
const intermediateCeiling = 99

// Run executes t with timing, progress bracketing and panic containment.
func Run(ctx context.Context, t Task, in Input, r Reporter) (res model.StepResult) {
	if r == nil {
		r = Discard{}
	}
	id := t.ID()
	log := zap.L().With(zap.String("job_id", in.JobID), zap.String("step", string(id)))

	start := time.Now()
	res = model.StepResult{Step: id, StartedAt: start}
	var summary string

	defer func() {
		if p := recover(); p != nil {
			log.Error("step: panic recovered",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			res.Status = model.ResultError
			res.Data = nil
			res.Error = fmt.Sprintf("panic: %v", p)
			summary = ""
		}

		res.EndedAt = time.Now()
		res.DurationSeconds = res.EndedAt.Sub(start).Seconds()
		duration := res.EndedAt.Sub(start).Milliseconds()

		if res.OK() {
			log.Info("step: complete", zap.Int64("duration_ms", duration))
			if summary == "" {
				summary = "Completed " + id.Label()
			}
		} else {
			log.Error("step: failed", zap.Int64("duration_ms", duration), zap.String("error", res.Error))
			summary = fmt.Sprintf("Error in %s: %s", id.Label(), res.Error)
		}
		r.Finish(res, summary)
	}()

	r.Progress(0, "Starting "+id.Label()+"...")
	if err := ctx.Err(); err != nil {
		res.Status = model.ResultError
		res.Error = eris.Wrap(err, "step: not started").Error()
		return res
	}

	report := func(progress float64, s string) {
		r.Progress(min(progress, intermediateCeiling), s)
	}
	out, err := t.Execute(ctx, in, report)
	if err != nil {
		res.Status = model.ResultError
		res.Error = err.Error()
		return res
	}

	res.Status = model.ResultSuccess
	res.Data = out.Data
	summary = out.Summary
	return res
}
