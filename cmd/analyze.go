package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/pipeline"
)

var (
	analyzeAnalyses []string
	analyzeContext  string
	analyzeJSON     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <molecule or query>",
	Short: "Run a full analysis for one molecule and print the report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		req := pipeline.Request{
			Subject:  strings.Join(args, " "),
			Analyses: analyzeAnalyses,
			Context:  analyzeContext,
		}
		job, err := followJob(ctx, env.Scheduler, req, cmd.ErrOrStderr(), 500*time.Millisecond)
		if err != nil {
			return err
		}

		if analyzeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		printJob(cmd.OutOrStdout(), job)
		if job.Status == model.JobFailed {
			return eris.Errorf("analysis failed: %s", job.Error)
		}
		return nil
	},
}

// followJob submits a job and prints step transitions to w until it ends.
func followJob(ctx context.Context, s *pipeline.Scheduler, req pipeline.Request, w io.Writer, every time.Duration) (model.Job, error) {
	id, err := s.Submit(ctx, req)
	if err != nil {
		return model.Job{}, err
	}

	seen := make(map[model.StepID]model.StepStatus)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		job, err := s.Job(id)
		if err != nil {
			return model.Job{}, err
		}
		for _, st := range job.Steps {
			if seen[st.ID] == st.Status || st.Status == model.StepPending {
				continue
			}
			seen[st.ID] = st.Status
			fmt.Fprintf(w, "[%3.0f%%] %-26s %-9s %s\n", job.Progress, st.Label, st.Status, st.Summary)
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, eris.Wrap(ctx.Err(), "analysis interrupted")
		case <-ticker.C:
		}
	}
}

// printJob renders a finished job as plain text.
func printJob(w io.Writer, job model.Job) {
	fmt.Fprintf(w, "Job %s: %s (%s)\n", job.ID, job.Subject, job.Status)
	if job.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", job.Error)
	}
	for _, st := range job.Steps {
		line := fmt.Sprintf("  %-26s %s", st.Label, st.Status)
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Fprintln(w, line)
	}

	r := job.Report
	if r == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n", r.Summary)

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
	if len(r.Risks) > 0 {
		fmt.Fprintln(w, "\nRisks:")
		for _, risk := range r.Risks {
			fmt.Fprintf(w, "  - [%s] %s (%s)\n", risk.Severity, risk.Risk, risk.Timeframe)
		}
	}
	if len(r.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, c := range r.Citations {
			fmt.Fprintf(w, "  [%s] %s, %s\n", c.ID, c.Title, c.Publisher)
		}
	}
}

func init() {
	analyzeCmd.Flags().StringSliceVarP(&analyzeAnalyses, "analyses", "a", nil, "analyses to run: trials|clinical, market|competitive, regulatory (default all)")
	analyzeCmd.Flags().StringVar(&analyzeContext, "context", "", "additional free-text context for the job")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full job as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
