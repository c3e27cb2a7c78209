package step

import (
	"context"
	"fmt"
	"math"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

// Market sizes the subject's market and sketches the competitive landscape.
// Curated figures win over extracted ones; extracted ones win over the
// deterministic estimate.
type Market struct {
	Ranker    *retrieval.Ranker
	Extractor *extract.Extractor
	Catalog   *content.Catalog
}

func (m *Market) ID() model.StepID { return model.StepMarket }

func (m *Market) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	report(10, "Gathering market intelligence from knowledge base...")
	ev := m.Ranker.Search(ctx, in.Subject+" market size revenue sales billion growth pharmaceutical", 6, "")

	report(30, "Analyzing market size and trends...")
	usable := m.Ranker.Usable(ev)
	text := retrieval.Text(usable)
	figures, curated := m.Catalog.EstimateMarket(in.Subject)

	report(50, "Extracting market metrics...")
	res := extract.Extract(ctx, m.Extractor, in.Subject, usable, extract.Schema[model.MarketInsights]{
		Name:         "market",
		Shape:        extract.MarketShape,
		Instructions: extract.MarketInstructions,
		Rules:        extract.MarketRules,
		Default: func(string) (model.MarketInsights, model.Origin) {
			return model.MarketInsights{}, model.OriginDefault
		},
		Valid: func(mi model.MarketInsights) bool { return mi.MarketSizeUSD > 0 || len(mi.KeyInsights) > 0 },
	})
	insights := res.Record

	size, growth, share := figures.Size, figures.Growth, figures.Share
	origin := model.OriginDefault
	switch {
	case curated:
		origin = model.OriginReference
	case res.Origin != model.OriginDefault:
		origin = res.Origin
		if insights.MarketSizeUSD > 0 {
			size = int64(insights.MarketSizeUSD)
		}
		if insights.GrowthRate > 0 {
			growth = insights.GrowthRate
		}
		if insights.MarketShare > 0 {
			share = insights.MarketShare
		}
	}

	report(70, "Identifying competitors...")
	competitors := m.Catalog.Competitors(in.Subject, text)

	report(85, "Analyzing revenue trends...")
	revenue := m.Catalog.RevenueHistory(in.Subject, size, growth)

	report(95, "Compiling market report...")
	display := m.Catalog.DisplayName(in.Subject)
	keyInsights := insights.KeyInsights
	if len(keyInsights) == 0 {
		keyInsights = []string{
			"Market analysis for " + display,
			"Multiple competitors in therapeutic area",
			"Growth driven by unmet medical need",
		}
	}

	out := model.MarketAnalysis{
		MarketSize:          size,
		GrowthRate:          round1(growth),
		MarketShare:         round1(share),
		YearOverYearGrowth:  round1(growth * 0.9),
		ProjectedMarket2028: int64(float64(size) * math.Pow(1+growth/100, 5)),
		Competitors:         competitors,
		RevenueHistory:      revenue,
		Trends:              m.Catalog.Trends(text),
		KeyInsights:         keyInsights,
		Origin:              origin,
		Sources:             model.RefsFrom(usable, 3),
	}
	return Outcome{
		Data:    out,
		Summary: fmt.Sprintf("Market analysis complete: $%.1fB market", float64(size)/1e9),
	}, nil
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
