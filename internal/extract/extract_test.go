package extract

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/model"
)

// MockCompleter implements llm.Completer for testing.
type MockCompleter struct {
	mock.Mock
	available bool
}

func (m *MockCompleter) Available() bool { return m.available }

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockCompleter) Stream(context.Context, llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {}
}

const metforminText = "Metformin is a biguanide antidiabetic medication. " +
	"Chemical formula: C4H11N5. Molecular weight: 129.16 g/mol. CAS number: 657-24-9. " +
	"Mechanism of action: decreases hepatic glucose production and improves insulin sensitivity."

func evidence(text string) []model.Evidence {
	return []model.Evidence{{Content: text, Source: "kb", Category: "diabetes", Score: 0.8}}
}

func subjectSchema() Schema[model.SubjectProfile] {
	return Schema[model.SubjectProfile]{
		Name:         "subject",
		Shape:        SubjectShape,
		Instructions: SubjectInstructions,
		Rules:        SubjectRules,
		Default: func(subject string) (model.SubjectProfile, model.Origin) {
			return model.SubjectProfile{Name: subject, Category: "Unknown"}, model.OriginDefault
		},
		Valid: func(p model.SubjectProfile) bool { return p.Name != "" },
	}
}

func TestExtract_Generative(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.JSON && r.Step == "subject"
	})).Return("```json\n{\"name\": \"Metformin\", \"formula\": \"C4H11N5\", \"molecular_weight\": 129.16}\n```", nil)

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())

	assert.Equal(t, model.OriginGenerative, res.Origin)
	assert.Equal(t, "Metformin", res.Record.Name)
	assert.InDelta(t, 129.16, res.Record.MolecularWeight, 0.001)
	m.AssertExpectations(t)
}

func TestExtract_MalformedCompletionFallsBackToRules(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.Anything).Return("I could not find a formula, sorry.", nil)

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())

	assert.Equal(t, model.OriginRegex, res.Origin)
	assert.Equal(t, "C4H11N5", res.Record.Formula)
	assert.InDelta(t, 129.16, res.Record.MolecularWeight, 0.001)
	assert.Equal(t, "657-24-9", res.Record.CASNumber)
	assert.Equal(t, "Biguanide", res.Record.Category)
}

func TestExtract_BrokenJSONFallsBackToRules(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.Anything).Return(`{"name": "Metformin", "formula": `, nil)

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())
	assert.Equal(t, model.OriginRegex, res.Origin)
}

func TestExtract_CompletionErrorFallsBackToRules(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.Anything).Return("", eris.New("upstream 500"))

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())
	assert.Equal(t, model.OriginRegex, res.Origin)
}

func TestExtract_InvalidRecordFallsBackToRules(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.Anything).Return(`{"name": ""}`, nil)

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())
	assert.Equal(t, model.OriginRegex, res.Origin)
}

func TestExtract_UnavailableCompleterSkipsGenerative(t *testing.T) {
	m := &MockCompleter{available: false}

	res := Extract(context.Background(), New(m, time.Second), "metformin", evidence(metforminText), subjectSchema())

	assert.Equal(t, model.OriginRegex, res.Origin)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestExtract_NoEvidenceUsesDefault(t *testing.T) {
	m := &MockCompleter{available: true}
	x := New(m, time.Second)

	res := Extract(context.Background(), x, "zorbitol", nil, subjectSchema())
	assert.Equal(t, model.OriginDefault, res.Origin)
	assert.Equal(t, "zorbitol", res.Record.Name)

	synthetic := []model.Evidence{{Content: "No indexed reference material available.", Synthetic: true}}
	res = Extract(context.Background(), x, "zorbitol", synthetic, subjectSchema())
	assert.Equal(t, model.OriginDefault, res.Origin)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestExtract_NoRuleMatchUsesDefault(t *testing.T) {
	res := Extract(context.Background(), New(nil, 0), "zorbitol", evidence("An unrelated passage about hospital logistics."), subjectSchema())
	assert.Equal(t, model.OriginDefault, res.Origin)
}

func TestExtract_TimeoutFallsBack(t *testing.T) {
	m := &MockCompleter{available: true}
	m.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	res := Extract(context.Background(), New(m, 20*time.Millisecond), "metformin", evidence(metforminText), subjectSchema())
	assert.Equal(t, model.OriginRegex, res.Origin)
}

func TestNew_Defaults(t *testing.T) {
	x := New(nil, 0)
	assert.False(t, x.Generative())
	assert.Equal(t, 30*time.Second, x.timeout)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", "Here you go: {\"a\": {\"b\": 2}} hope it helps", `{"a": {"b": 2}}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt("metformin", "ctx text", "extract things.", "{}")
	assert.Contains(t, p, "knowledge about metformin, extract things.")
	assert.Contains(t, p, "CONTEXT:\nctx text")
	assert.Contains(t, p, "Only output the JSON")
}

func TestSubjectRules(t *testing.T) {
	text := "Tirzepatide is a dual GIP/GLP-1 receptor agonist approved for type 2 diabetes and weight management. " +
		"Its mechanism of action: activates both incretin receptors."
	p, ok := SubjectRules("tirzepatide", text)
	require.True(t, ok)
	assert.Equal(t, "Tirzepatide", p.Name)
	assert.Equal(t, "Dual GIP/GLP-1 Agonist", p.Category)
	assert.Equal(t, "Activates both incretin receptors.", p.MechanismOfAction)
	assert.Contains(t, p.Description, "Tirzepatide is a dual GIP/GLP-1")

	_, ok = SubjectRules("zorbitol", "Nothing relevant here.")
	assert.False(t, ok)
}

func TestClinicalRules(t *testing.T) {
	text := "The SURMOUNT-1 trial enrolled adults with obesity. Participants lost 20.9% of body weight at 72 weeks. " +
		"Side effects: nausea and diarrhea were most common."
	ce, ok := ClinicalRules("tirzepatide", text)
	require.True(t, ok)
	assert.Equal(t, []string{"SURMOUNT-1"}, ce.TrialNames)
	require.Len(t, ce.KeyFindings, 1)
	assert.Contains(t, ce.KeyFindings[0], "20.9%")
	assert.Equal(t, "nausea and diarrhea were most common.", ce.SafetyProfile)
	assert.Contains(t, ce.Endpoints, "Body weight change")
	assert.Equal(t, "Adults with obesity or overweight", ce.PatientPopulation)

	_, ok = ClinicalRules("zorbitol", "No trials are described in this passage")
	assert.False(t, ok)
}

func TestGenericClinical(t *testing.T) {
	ce := GenericClinical("zorbitol")
	assert.Len(t, ce.KeyFindings, 3)
	assert.Contains(t, ce.EfficacyData, "Zorbitol")
	assert.NotNil(t, ce.TrialNames)
}

func TestMarketRules(t *testing.T) {
	text := "The GLP-1 market reached $23.5 billion in 2023 with 25% annual growth. " +
		"Novo Nordisk and Eli Lilly dominate sales"
	mi, ok := MarketRules("semaglutide", text)
	require.True(t, ok)
	assert.InDelta(t, 23.5e9, mi.MarketSizeUSD, 1)
	assert.InDelta(t, 25.0, mi.GrowthRate, 0.001)
	assert.Equal(t, []string{"Novo Nordisk", "Eli Lilly"}, mi.KeyPlayers)
	assert.Equal(t, "strong", mi.CompetitivePosition)
	assert.Len(t, mi.KeyInsights, 2)

	_, ok = MarketRules("zorbitol", "no figures")
	assert.False(t, ok)
}

func TestRegulatoryRules(t *testing.T) {
	text := "Tirzepatide was FDA approved in 2022 for type 2 diabetes. EMA authorization followed. " +
		"Tirzepatide received priority review."
	ri, ok := RegulatoryRules("tirzepatide", text)
	require.True(t, ok)
	assert.Equal(t, "Approved", ri.FDAStatus)
	assert.Equal(t, "Approved", ri.EMAStatus)
	assert.Equal(t, 2022, ri.ApprovalYear)
	assert.Equal(t, []string{"Priority Review"}, ri.Designations)

	ri, ok = RegulatoryRules("zorbitol", "An early-stage compound.")
	assert.False(t, ok)
	assert.Equal(t, "Under Review", ri.FDAStatus)
}
