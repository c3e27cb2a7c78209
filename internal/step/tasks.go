package step

import (
	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

// Deps are the collaborators shared by the standard steps.
type Deps struct {
	Ranker    *retrieval.Ranker
	Extractor *extract.Extractor
	Catalog   *content.Catalog
	LLM       llm.Completer
}

// Standard returns one task per step ID.
func Standard(d Deps) map[model.StepID]Task {
	return map[model.StepID]Task{
		model.StepParse:      Parse{},
		model.StepSubject:    &Subject{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog},
		model.StepTrials:     &Trials{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog},
		model.StepMarket:     &Market{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog},
		model.StepRegulatory: &Regulatory{Ranker: d.Ranker, Extractor: d.Extractor, Catalog: d.Catalog},
		model.StepPatent:     &Patent{Catalog: d.Catalog},
		model.StepSynthesis:  &Synthesis{Catalog: d.Catalog, LLM: d.LLM},
	}
}
