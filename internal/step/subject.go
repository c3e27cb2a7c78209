package step

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/model"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

// Parse records the accepted query. It fails when no subject could be
// resolved, which is fatal to the job.
type Parse struct{}

func (Parse) ID() model.StepID { return model.StepParse }

func (Parse) Execute(_ context.Context, in Input, _ func(float64, string)) (Outcome, error) {
	if in.Subject == "" {
		return Outcome{}, eris.New("step: parse: no subject in query")
	}
	return Outcome{
		Data: model.ParsedQuery{
			Query:     in.Query,
			Subject:   in.Subject,
			Requested: append([]model.StepID(nil), in.Requested...),
		},
		Summary: "Query parsed: " + in.Subject,
	}, nil
}

// Subject profiles the molecule. Knowledge-base evidence feeds the
// extractor; when the subject is unknown to the store the curated
// reference entry is used instead.
type Subject struct {
	Ranker    *retrieval.Ranker
	Extractor *extract.Extractor
	Catalog   *content.Catalog
}

func (s *Subject) ID() model.StepID { return model.StepSubject }

func (s *Subject) Execute(ctx context.Context, in Input, report func(float64, string)) (Outcome, error) {
	name := in.Subject
	report(10, "Parsing molecule query...")
	report(20, fmt.Sprintf("Searching knowledge base for %s...", name))

	probe := s.Ranker.SearchForSubject(ctx, name)
	report(40, "Processing search results...")

	var profile model.SubjectProfile
	if probe.Known {
		report(60, "Extracting molecular information...")
		res := extract.Extract(ctx, s.Extractor, name, probe.Evidence, extract.Schema[model.SubjectProfile]{
			Name:         "subject",
			Shape:        extract.SubjectShape,
			Instructions: extract.SubjectInstructions,
			Rules:        extract.SubjectRules,
			Default:      s.fallback,
			Valid:        func(p model.SubjectProfile) bool { return p.Name != "" },
		})
		profile = res.Record
		profile.Origin = res.Origin
		if len(profile.Indications) == 0 {
			profile.Indications = s.Catalog.Indications(name)
		}
		profile.InKnowledgeBase = true
		profile.Sources = model.RefsFrom(probe.Evidence, 3)
		report(80, "Formatting results...")
	} else {
		report(60, fmt.Sprintf("Checking reference database for %s...", name))
		var origin model.Origin
		profile, origin = s.fallback(name)
		profile.Origin = origin
	}

	summary := "Molecule analysis complete"
	if profile.Category != "" && profile.Category != "Unknown" {
		summary = fmt.Sprintf("Molecule analysis complete: %s (%s)", profile.Name, profile.Category)
	}
	return Outcome{Data: profile, Summary: summary}, nil
}

// fallback is the reference entry when the catalog has one and a bare
// unknown profile otherwise.
func (s *Subject) fallback(name string) (model.SubjectProfile, model.Origin) {
	if m, ok := s.Catalog.Molecule(name); ok {
		return model.SubjectProfile{
			Name:              m.Name,
			Formula:           m.Formula,
			MolecularWeight:   m.MolecularWeight,
			Category:          m.Category,
			Description:       fmt.Sprintf("%s is a %s.", m.Name, m.Category),
			CASNumber:         m.CASNumber,
			MechanismOfAction: m.Mechanism,
			Indications:       append([]string(nil), m.Indications...),
			Sources:           []model.SourceRef{{Content: "Reference Database", Category: "reference", Relevance: 1}},
		}, model.OriginReference
	}
	return model.SubjectProfile{
		Name:              s.Catalog.DisplayName(name),
		Formula:           "Unknown",
		Category:          "Unknown",
		Description:       fmt.Sprintf("Limited information available for %s. Consider adding relevant research papers to the knowledge base.", name),
		MechanismOfAction: "Data not available in knowledge base",
		Indications:       []string{},
	}, model.OriginDefault
}
