package step

import (
	"context"
	"fmt"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

// Trials summarizes clinical evidence and builds the trial listing.
type Trials struct {
	Ranker    *retrieval.Ranker
	Extractor *extract.Extractor
	Catalog   *content.Catalog
}

func (t *Trials) ID() model.StepID { return model.StepTrials }

func (t *Trials) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	report(10, "Searching clinical trial knowledge base...")
	ev := t.Ranker.Search(ctx, in.Subject+" clinical trials phase efficacy safety endpoints", 8, "")

	report(30, "Analyzing trial evidence...")
	usable := t.Ranker.Usable(ev)

	report(50, "Extracting trial data...")
	res := extract.Extract(ctx, t.Extractor, in.Subject, usable, extract.Schema[model.ClinicalEvidence]{
		Name:         "trials",
		Shape:        extract.ClinicalShape,
		Instructions: extract.ClinicalInstructions,
		Rules:        extract.ClinicalRules,
		Default: func(subject string) (model.ClinicalEvidence, model.Origin) {
			return extract.GenericClinical(subject), model.OriginDefault
		},
		Valid: func(c model.ClinicalEvidence) bool { return len(c.KeyFindings) > 0 || c.EfficacyData != "" },
	})

	report(70, "Generating trial analysis...")
	conditions := t.Catalog.Conditions(retrieval.Text(usable), in.Subject)
	trials := t.Catalog.Trials(in.Subject, conditions)

	report(90, "Compiling clinical report...")
	out := model.TrialsAnalysis{
		Trials:       trials,
		TotalTrials:  len(trials),
		PhaseSummary: make(map[string]int),
		Evidence:     res.Record,
		Origin:       res.Origin,
		Sources:      model.RefsFrom(usable, 3),
		LastUpdated:  t.Catalog.Now().UTC(),
	}
	enrolled := 0
	for _, tr := range trials {
		out.PhaseSummary[tr.Phase]++
		switch tr.Status {
		case "Recruiting":
			out.ActiveTrials++
		case "Completed":
			out.CompletedTrials++
		}
		enrolled += tr.Enrollment
	}
	if len(trials) > 0 {
		out.AverageEnrollment = enrolled / len(trials)
	}

	return Outcome{Data: out, Summary: fmt.Sprintf("Analyzed %d clinical trials", len(trials))}, nil
}
