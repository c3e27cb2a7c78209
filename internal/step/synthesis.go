package step

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/model"
)

// Synthesis merges every upstream slot into the final report. Missing or
// failed slots become unavailable sections rather than errors.
type Synthesis struct {
	Catalog *content.Catalog
	// LLM optionally writes the narrative summary. The template is used
	// when it is nil, unavailable or fails.
	LLM llm.Completer
}

func (s *Synthesis) ID() model.StepID { return model.StepSynthesis }

func (s *Synthesis) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	report(10, "Analyzing research data...")
	name := s.Catalog.DisplayName(in.Subject)

	subject, _ := model.Lookup[model.SubjectProfile](in.Context, model.StepSubject)
	trials, hasTrials := model.Lookup[model.TrialsAnalysis](in.Context, model.StepTrials)
	market, hasMarket := model.Lookup[model.MarketAnalysis](in.Context, model.StepMarket)
	reg, hasReg := model.Lookup[model.RegulatoryAnalysis](in.Context, model.StepRegulatory)
	patent, hasPatent := model.Lookup[model.PatentInfo](in.Context, model.StepPatent)

	rep := model.Report{
		Subject:     name,
		GeneratedAt: s.Catalog.Now().UTC(),
		Sections:    sections(in),
	}
	if hasPatent {
		rep.Patent = &patent
	}

	report(30, "Identifying key patterns...")
	d := digest{
		name:      name,
		subject:   subject,
		trials:    trials,
		hasTrials: hasTrials,
		market:    market,
		hasMarket: hasMarket,
		reg:       reg,
		hasReg:    hasReg,
		patent:    patent,
		hasPatent: hasPatent,
	}
	rep.Insights = d.insights()

	report(50, "Generating strategic recommendations...")
	rep.KeyMetrics = d.keyMetrics()
	rep.Recommendations = d.recommendations()
	rep.Risks = d.risks()
	rep.Summary = s.summarize(ctx, d, rep)

	report(70, "Compiling source citations...")
	rep.Citations = s.Catalog.Citations(in.Subject)

	report(90, "Finalizing report...")
	return Outcome{Data: rep, Summary: fmt.Sprintf("Generated %d insights", len(rep.Insights))}, nil
}

// sections lists the subject step and every requested analysis in request
// order, each marked available only when its slot holds real data.
func sections(in Input) []model.Section {
	ids := append([]model.StepID{model.StepSubject}, in.Requested...)
	out := make([]model.Section, 0, len(ids))
	for _, id := range ids {
		v, ok := in.Context.Get(string(id))
		sec := model.Section{Step: id, Title: id.Label(), Available: ok && !model.IsUnavailable(v), Data: v}
		if !ok {
			sec.Data = model.Unavailable
		}
		out = append(out, sec)
	}
	return out
}

type digest struct {
	name    string
	subject model.SubjectProfile

	trials    model.TrialsAnalysis
	hasTrials bool
	market    model.MarketAnalysis
	hasMarket bool
	reg       model.RegulatoryAnalysis
	hasReg    bool
	patent    model.PatentInfo
	hasPatent bool
}

func (d digest) insights() []model.Insight {
	var out []model.Insight
	if d.hasMarket {
		if d.market.MarketSize > 10_000_000_000 {
			out = append(out, model.Insight{
				ID: "insight-market-1", Category: "Market Size", Title: "Blockbuster Drug Status",
				Content: fmt.Sprintf("%s operates in a $%.1fB market, placing it among top pharmaceutical products globally.",
					d.name, float64(d.market.MarketSize)/1e9),
				Impact: "high", Confidence: 0.92,
			})
		}
		if d.market.GrowthRate > 20 {
			out = append(out, model.Insight{
				ID: "insight-market-2", Category: "Growth", Title: "Exceptional Growth Trajectory",
				Content: fmt.Sprintf("The market is growing at %.1f%% annually, significantly outpacing industry average of 5-7%%.",
					d.market.GrowthRate),
				Impact: "high", Confidence: 0.88,
			})
		}
	}
	if d.hasTrials && d.trials.TotalTrials > 5 {
		out = append(out, model.Insight{
			ID: "insight-clinical-1", Category: "Development Pipeline", Title: "Robust Clinical Pipeline",
			Content: fmt.Sprintf("%d clinical trials identified, with %d actively recruiting, indicating strong development momentum.",
				d.trials.TotalTrials, d.trials.ActiveTrials),
			Impact: "medium", Confidence: 0.95,
		})
	}
	if d.hasReg && d.reg.FDA == "Approved" {
		out = append(out, model.Insight{
			ID: "insight-reg-1", Category: "Approval Status", Title: "Full Regulatory Approval",
			Content: fmt.Sprintf("%s has FDA and EMA approval, providing strong market access in major territories.", d.name),
			Impact:  "high", Confidence: 0.99,
		})
	}
	if d.hasPatent && d.patent.Status == "Active" {
		out = append(out, model.Insight{
			ID: "insight-reg-2", Category: "IP Protection", Title: "Patent Protection Active",
			Content: fmt.Sprintf("Patent protection extends until %s, providing market exclusivity.", d.patent.ExpiryDate),
			Impact:  "high", Confidence: 0.97,
		})
	}
	if d.hasMarket && len(d.market.Competitors) > 0 {
		out = append(out, model.Insight{
			ID: "insight-comp-1", Category: "Competition", Title: "Competitive Landscape Analysis",
			Content: fmt.Sprintf("%d major competitors identified in the therapeutic area, with varying market share distribution.",
				len(d.market.Competitors)),
			Impact: "medium", Confidence: 0.85,
		})
	}
	out = append(out, model.Insight{
		ID: "insight-safety-1", Category: "Safety Profile", Title: "Established Safety Profile",
		Content: fmt.Sprintf("%s has demonstrated an acceptable safety profile in clinical studies and post-marketing surveillance.", d.name),
		Impact:  "medium", Confidence: 0.82,
	})
	return out
}

func (d digest) keyMetrics() model.KeyMetrics {
	km := model.KeyMetrics{FDAStatus: "Unknown", PatentStatus: "Unknown"}
	if d.hasMarket {
		km.MarketSize = d.market.MarketSize
		km.GrowthRate = d.market.GrowthRate
		km.MarketShare = d.market.MarketShare
	}
	if d.hasTrials {
		km.ActiveTrials = d.trials.ActiveTrials
		km.TotalTrials = d.trials.TotalTrials
	}
	if d.hasReg {
		km.FDAStatus = d.reg.FDA
	}
	if d.hasPatent {
		km.PatentStatus = d.patent.Status
	}
	return km
}

func (d digest) recommendations() []string {
	out := []string{"Monitor competitive pipeline developments closely"}
	if d.hasMarket {
		out = append(out, "Explore expansion into adjacent therapeutic areas")
	}
	switch {
	case d.hasPatent && d.patent.Status == "Active":
		out = append(out, "Prepare for patent cliff with lifecycle management strategies")
	case d.hasPatent && d.patent.Status == "Expired":
		out = append(out, "Compete on cost and supply reliability against generic entrants")
	}
	return append(out,
		"Invest in real-world evidence generation to support market access",
		"Consider geographic expansion in emerging markets",
	)
}

func (d digest) risks() []model.Risk {
	patentRisk := model.Risk{Risk: "Patent Expiration", Severity: "medium", Timeframe: "Unknown", Mitigation: "Lifecycle management, new formulations"}
	if d.hasPatent {
		switch {
		case d.patent.Status == "Expired":
			patentRisk = model.Risk{Risk: "Generic Competition", Severity: "high", Timeframe: "Ongoing", Mitigation: "Brand differentiation and cost leadership"}
		case d.patent.Analysis.YearsRemaining > 0 && d.patent.Analysis.YearsRemaining <= 5:
			patentRisk.Severity = "high"
			patentRisk.Timeframe = fmt.Sprintf("%d years", d.patent.Analysis.YearsRemaining)
		case d.patent.Analysis.YearsRemaining > 5:
			patentRisk.Timeframe = fmt.Sprintf("%d years", d.patent.Analysis.YearsRemaining)
		}
	}
	return []model.Risk{
		patentRisk,
		{Risk: "Competitive Pressure", Severity: "medium", Timeframe: "Ongoing", Mitigation: "Differentiation through clinical evidence"},
		{Risk: "Regulatory Changes", Severity: "medium", Timeframe: "1-3 years", Mitigation: "Proactive regulatory engagement"},
	}
}

func (d digest) template(insightCount int) string {
	fda := "Unknown"
	if d.hasReg {
		fda = d.reg.FDA
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Executive Summary: %s\n\n", d.name)
	if d.hasMarket {
		fmt.Fprintf(&b, "**Market Position:** %s operates in a $%.1fB market with %.1f%% projected growth.\n\n",
			d.name, float64(d.market.MarketSize)/1e9, d.market.GrowthRate)
	}
	fmt.Fprintf(&b, "**Regulatory Status:** Currently %s by FDA.\n\n", fda)
	if d.subject.Category != "" && d.subject.Category != "Unknown" {
		fmt.Fprintf(&b, "**Class:** %s.\n\n", d.subject.Category)
	}
	b.WriteString("**Key Findings:**\n")
	fmt.Fprintf(&b, "- %d key insights identified across market, clinical, regulatory, and competitive dimensions\n", insightCount)
	if d.hasTrials {
		fmt.Fprintf(&b, "- %d clinical trials identified, %d actively recruiting\n", d.trials.TotalTrials, d.trials.ActiveTrials)
	}
	if d.hasPatent {
		fmt.Fprintf(&b, "- Patent position: %s\n", d.patent.Status)
	}
	return b.String()
}

func (s *Synthesis) summarize(ctx context.Context, d digest, rep model.Report) string {
	tmpl := d.template(len(rep.Insights))
	if s.LLM == nil || !s.LLM.Available() {
		return tmpl
	}

	var facts strings.Builder
	facts.WriteString(tmpl)
	for _, in := range rep.Insights {
		fmt.Fprintf(&facts, "- %s: %s\n", in.Title, in.Content)
	}
	text, err := s.LLM.Complete(ctx, llm.Request{
		System: "You are a pharmaceutical research analyst writing concise executive summaries in Markdown.",
		Prompt: fmt.Sprintf("Write an executive summary for %s in under 200 words using only these facts:\n\n%s", d.name, facts.String()),
		Step:   string(model.StepSynthesis),
	})
	if err != nil || strings.TrimSpace(text) == "" {
		zap.L().Warn("step: summary generation failed, using template", zap.String("subject", d.name), zap.Error(err))
		return tmpl
	}
	return text
}
