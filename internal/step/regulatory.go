package step

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

// Regulatory reports approval status, label warnings and the patent
// position.
type Regulatory struct {
	Ranker    *retrieval.Ranker
	Extractor *extract.Extractor
	Catalog   *content.Catalog
}

func (r *Regulatory) ID() model.StepID { return model.StepRegulatory }

func (r *Regulatory) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	report(10, "Searching regulatory knowledge base...")
	ev := r.Ranker.Search(ctx, in.Subject+" FDA EMA approval regulatory patent exclusivity indication", 6, "")

	report(30, "Analyzing approval status...")
	usable := r.Ranker.Usable(ev)
	text := retrieval.Text(usable)

	report(50, "Extracting regulatory details...")
	res := extract.Extract(ctx, r.Extractor, in.Subject, usable, extract.Schema[model.RegulatoryInsights]{
		Name:         "regulatory",
		Shape:        extract.RegulatoryShape,
		Instructions: extract.RegulatoryInstructions,
		Rules:        extract.RegulatoryRules,
		Default: func(string) (model.RegulatoryInsights, model.Origin) {
			return model.RegulatoryInsights{FDAStatus: "Under Review", EMAStatus: "Under Review"}, model.OriginDefault
		},
		Valid: func(ri model.RegulatoryInsights) bool { return ri.FDAStatus != "" },
	})
	insights := res.Record

	out := model.RegulatoryAnalysis{
		FDA:          "Under Review",
		EMA:          "Under Review",
		PatentExpiry: "Unknown",
		Origin:       res.Origin,
		Designations: insights.Designations,
	}
	if m, ok := r.Catalog.Molecule(in.Subject); ok && m.Approval.FDA != "" {
		out.FDA = m.Approval.FDA
		out.EMA = m.Approval.EMA
		out.ApprovalDate = m.Approval.ApprovalDate
		out.PatentExpiry = m.Approval.PatentExpiry
		out.Origin = model.OriginReference
	} else if res.Origin != model.OriginDefault {
		out.FDA = insights.FDAStatus
		out.EMA = insights.EMAStatus
		if insights.ApprovalYear > 0 {
			out.ApprovalDate = strconv.Itoa(insights.ApprovalYear)
		}
	}

	report(70, "Analyzing patent landscape...")
	out.ApprovedIndications = r.Catalog.ApprovedIndications(in.Subject, text)
	if out.Origin != model.OriginReference && len(insights.KeyIndications) > 0 {
		out.ApprovedIndications = slices.Clone(insights.KeyIndications)
	}
	out.Patent = r.Catalog.Patent(in.Subject, out.PatentExpiry)

	report(85, "Compiling regulatory report...")
	out.LabelWarnings = r.Catalog.Warnings(in.Subject, text)
	out.Pathway = content.Pathway(text)
	out.ExclusivityStatus = r.Catalog.Exclusivity(out.PatentExpiry)
	out.RecentActions = r.Catalog.RecentActions()
	out.Sources = model.RefsFrom(usable, 3)
	if out.Designations == nil {
		out.Designations = []string{}
	}

	return Outcome{
		Data:    out,
		Summary: fmt.Sprintf("Regulatory analysis complete: %s status", out.FDA),
	}, nil
}

// Patent derives the patent record from the regulatory step's output. A
// missing or failed regulatory step yields an unknown position.
type Patent struct {
	Catalog *content.Catalog
}

func (p *Patent) ID() model.StepID { return model.StepPatent }

func (p *Patent) Execute(_ context.Context, in Input, report func(float64, string)) (Outcome, error) {
	report(50, "Reading regulatory patent data...")

	reg, ok := model.Lookup[model.RegulatoryAnalysis](in.Context, model.StepRegulatory)
	if !ok {
		return Outcome{
			Data: model.PatentInfo{
				Status:   "Unknown",
				Analysis: p.Catalog.Patent(in.Subject, "Unknown"),
			},
			Summary: "Patent analysis complete: regulatory data unavailable",
		}, nil
	}

	info := model.PatentInfo{Status: "Unknown", Analysis: reg.Patent}
	switch reg.PatentExpiry {
	case "Expired":
		info.Status = "Expired"
	case "", "Unknown":
	default:
		info.Status = "Active"
		info.ExpiryDate = reg.PatentExpiry
	}
	return Outcome{Data: info, Summary: "Patent analysis complete: " + info.Status}, nil
}
