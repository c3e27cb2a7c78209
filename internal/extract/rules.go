package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/pharma-research/internal/model"
)

var (
	formulaRe   = regexp.MustCompile(`[Ff]ormula[:\s]+([A-Z][A-Za-z0-9]+)`)
	weightRe    = regexp.MustCompile(`molecular\s+weight[:\s]+(\d+\.?\d*)`)
	casRe       = regexp.MustCompile(`cas\s*(?:number)?[:\s]+(\d+-\d+-\d+)`)
	mechanismRe = regexp.MustCompile(`mechanism\s+of\s+action[:\s]+([^.]+\.)`)
)

// Checked in order; more specific keywords come first.
var subjectCategories = []struct{ keyword, category string }{
	{"nsaid", "NSAID"},
	{"gip/glp-1", "Dual GIP/GLP-1 Agonist"},
	{"glp-1", "GLP-1 Receptor Agonist"},
	{"checkpoint inhibitor", "Checkpoint Inhibitor"},
	{"pd-1", "PD-1 Inhibitor"},
	{"tnf", "TNF Inhibitor"},
	{"statin", "Statin"},
	{"biguanide", "Biguanide"},
	{"analgesic", "Analgesic"},
	{"antipyretic", "Antipyretic"},
	{"antidiabetic", "Antidiabetic"},
}

// SubjectShape is the JSON template for subject profiles.
const SubjectShape = `{
  "name": "...",
  "formula": "...",
  "molecular_weight": 0.0,
  "category": "...",
  "description": "...",
  "cas_number": "...",
  "mechanism_of_action": "...",
  "indications": ["...", "..."]
}`

// SubjectInstructions precede SubjectShape.
const SubjectInstructions = "extract the molecular information: official name, chemical formula, molecular weight in g/mol, drug class, a 1-2 sentence description, CAS registry number, mechanism of action and main indications."

// SubjectRules scans evidence text for formula, weight, registry number,
// drug class, a describing sentence and the mechanism of action.
func SubjectRules(subject, text string) (model.SubjectProfile, bool) {
	lower := strings.ToLower(text)
	p := model.SubjectProfile{
		Name:              cases.Title(language.English).String(subject),
		Category:          "Unknown",
		Formula:           "Unknown",
		Description:       "Pharmaceutical compound: " + subject,
		MechanismOfAction: "Information not available",
	}
	matched := false

	if m := formulaRe.FindStringSubmatch(text); m != nil {
		p.Formula = m[1]
		matched = true
	}
	if m := weightRe.FindStringSubmatch(lower); m != nil {
		if w, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.MolecularWeight = w
			matched = true
		}
	}
	if m := casRe.FindStringSubmatch(lower); m != nil {
		p.CASNumber = m[1]
		matched = true
	}
	for _, c := range subjectCategories {
		if strings.Contains(lower, c.keyword) {
			p.Category = c.category
			matched = true
			break
		}
	}
	name := strings.ToLower(subject)
	for _, sentence := range strings.Split(text, ". ") {
		if len(sentence) > 30 && strings.Contains(strings.ToLower(sentence), name) {
			p.Description = truncate(strings.TrimSpace(sentence), 300)
			break
		}
	}
	if m := mechanismRe.FindStringSubmatch(lower); m != nil {
		p.MechanismOfAction = capitalize(strings.TrimSpace(m[1]))
		matched = true
	}
	return p, matched
}

// ClinicalShape is the JSON template for clinical evidence.
const ClinicalShape = `{
  "key_findings": ["..."],
  "efficacy_data": "...",
  "safety_profile": "...",
  "trial_names": ["..."],
  "endpoints": ["..."],
  "patient_population": "..."
}`

// ClinicalInstructions precede ClinicalShape.
const ClinicalInstructions = "extract clinical trial evidence: key findings, efficacy and safety summaries, named trials, endpoints and the patient populations studied."

var (
	trialNameRe  = regexp.MustCompile(`\b([A-Z]{4,}(?:-\d+)?)\s+(?:trials?|program)`)
	percentRe    = regexp.MustCompile(`[^.]*\d+(?:\.\d+)?%[^.]*\.`)
	sideEffectRe = regexp.MustCompile(`(?i)side effects?:\s*([^.]+\.)`)
	endpointKeys = []struct{ keyword, endpoint string }{
		{"hba1c", "HbA1c reduction"},
		{"weight loss", "Body weight change"},
		{"body weight", "Body weight change"},
		{"major adverse cardiovascular", "Major adverse cardiovascular events"},
		{"overall survival", "Overall survival"},
		{" os ", "Overall survival"},
		{"ldl", "LDL-C reduction"},
		{"pain", "Pain relief"},
	}
	populationKeys = []struct{ keyword, population string }{
		{"type 2 diabetes", "Adults with type 2 diabetes"},
		{"obesity", "Adults with obesity or overweight"},
		{"nsclc", "Patients with non-small cell lung cancer"},
		{"melanoma", "Patients with advanced melanoma"},
		{"rheumatoid arthritis", "Patients with rheumatoid arthritis"},
		{"cardiovascular", "Patients at cardiovascular risk"},
	}
)

// ClinicalRules pulls trial names, percentage outcomes, endpoints and
// populations from evidence text.
func ClinicalRules(subject, text string) (model.ClinicalEvidence, bool) {
	lower := " " + strings.ToLower(text) + " "
	var ce model.ClinicalEvidence

	for _, m := range trialNameRe.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(ce.TrialNames, m[1]) {
			ce.TrialNames = append(ce.TrialNames, m[1])
		}
	}
	for _, m := range percentRe.FindAllString(text, 3) {
		ce.KeyFindings = append(ce.KeyFindings, strings.TrimSpace(m))
	}
	if len(ce.KeyFindings) > 0 {
		ce.EfficacyData = strings.Join(ce.KeyFindings, " ")
	}
	if m := sideEffectRe.FindStringSubmatch(text); m != nil {
		ce.SafetyProfile = strings.TrimSpace(m[1])
	}
	for _, k := range endpointKeys {
		if strings.Contains(lower, k.keyword) && !slices.Contains(ce.Endpoints, k.endpoint) {
			ce.Endpoints = append(ce.Endpoints, k.endpoint)
		}
	}
	for _, k := range populationKeys {
		if strings.Contains(lower, k.keyword) {
			ce.PatientPopulation = k.population
			break
		}
	}

	matched := len(ce.TrialNames) > 0 || len(ce.KeyFindings) > 0 || ce.SafetyProfile != ""
	if !matched {
		return ce, false
	}
	display := cases.Title(language.English).String(subject)
	if len(ce.KeyFindings) == 0 {
		ce.KeyFindings = []string{"Multiple clinical trials have evaluated " + display}
	}
	if ce.EfficacyData == "" {
		ce.EfficacyData = "Clinical trials of " + display + " have shown therapeutic benefit in target indications."
	}
	if ce.SafetyProfile == "" {
		ce.SafetyProfile = "Common adverse events reported in clinical trials with manageable safety profile."
	}
	if len(ce.Endpoints) == 0 {
		ce.Endpoints = []string{"Primary efficacy endpoint", "Safety and tolerability"}
	}
	if ce.PatientPopulation == "" {
		ce.PatientPopulation = "Adult patients with relevant indication"
	}
	return ce, true
}

// GenericClinical is the static clinical record.
func GenericClinical(subject string) model.ClinicalEvidence {
	display := cases.Title(language.English).String(subject)
	return model.ClinicalEvidence{
		KeyFindings: []string{
			"Multiple clinical trials have evaluated " + display,
			"Phase 3 trials demonstrated efficacy vs placebo",
			"Safety profile established through controlled studies",
		},
		EfficacyData:      "Clinical trials of " + display + " have shown therapeutic benefit in target indications.",
		SafetyProfile:     "Common adverse events reported in clinical trials with manageable safety profile.",
		TrialNames:        []string{},
		Endpoints:         []string{"Primary efficacy endpoint", "Safety and tolerability"},
		PatientPopulation: "Adult patients with relevant indication",
	}
}

// MarketShape is the JSON template for market insights.
const MarketShape = `{
  "market_size_usd": 0,
  "growth_rate": 0.0,
  "market_share": 0.0,
  "key_players": ["..."],
  "key_insights": ["...", "...", "..."],
  "competitive_position": "strong/moderate/emerging"
}`

// MarketInstructions precede MarketShape.
const MarketInstructions = "extract market data. If specific numbers are mentioned use them, otherwise estimate from the context: market size in USD, annual growth percentage, share of the therapeutic category, key companies, three market insights and the competitive position."

var (
	dollarsRe = regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?)\s*(billion|million|trillion)`)
	growthRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)%\+?\s*(?:annual\s+)?growth`)
	companies = []string{
		"Novo Nordisk", "Eli Lilly", "Merck", "AbbVie", "Pfizer", "GSK",
		"Johnson & Johnson", "Bristol-Myers Squibb", "Roche", "AstraZeneca",
		"Sanofi", "Amgen", "Novartis",
	}
)

// MarketRules reads dollar figures, growth percentages and company names.
func MarketRules(subject, text string) (model.MarketInsights, bool) {
	var mi model.MarketInsights
	lower := strings.ToLower(text)

	if m := dollarsRe.FindStringSubmatch(lower); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		switch m[2] {
		case "trillion":
			v *= 1e12
		case "billion":
			v *= 1e9
		default:
			v *= 1e6
		}
		mi.MarketSizeUSD = v
	}
	if m := growthRe.FindStringSubmatch(lower); m != nil {
		mi.GrowthRate, _ = strconv.ParseFloat(m[1], 64)
	}
	for _, c := range companies {
		if strings.Contains(text, c) {
			mi.KeyPlayers = append(mi.KeyPlayers, c)
		}
	}
	if mi.MarketSizeUSD == 0 && mi.GrowthRate == 0 && len(mi.KeyPlayers) == 0 {
		return mi, false
	}

	for _, s := range strings.Split(text, ". ") {
		if len(mi.KeyInsights) == 3 {
			break
		}
		ls := strings.ToLower(s)
		if strings.Contains(ls, "market") || strings.Contains(ls, "sales") || strings.Contains(ls, "billion") {
			mi.KeyInsights = append(mi.KeyInsights, truncate(strings.TrimSpace(s), 200))
		}
	}
	switch {
	case mi.MarketSizeUSD >= 10e9:
		mi.CompetitivePosition = "strong"
	case mi.MarketSizeUSD >= 1e9:
		mi.CompetitivePosition = "moderate"
	default:
		mi.CompetitivePosition = "emerging"
	}
	return mi, true
}

// RegulatoryShape is the JSON template for regulatory insights.
const RegulatoryShape = `{
  "fda_status": "Approved/Under Review/Not Approved",
  "ema_status": "Approved/Under Review/Not Approved",
  "approval_year": null,
  "designations": ["..."],
  "key_indications": ["..."]
}`

// RegulatoryInstructions precede RegulatoryShape.
const RegulatoryInstructions = "extract approval details: FDA and EMA status, year of first approval, special designations such as Breakthrough Therapy, and approved indications."

var (
	approvedYearRe = regexp.MustCompile(`(?i)approved\s+(?:in\s+)?((?:19|20)\d{2})`)
	emaRe          = regexp.MustCompile(`\bema\b`)
	designations   = []struct{ keyword, name string }{
		{"breakthrough", "Breakthrough Therapy"},
		{"priority review", "Priority Review"},
		{"accelerated approval", "Accelerated Approval"},
		{"fast track", "Fast Track"},
		{"orphan", "Orphan Drug"},
	}
)

// RegulatoryRules reads approval years and designations.
func RegulatoryRules(subject, text string) (model.RegulatoryInsights, bool) {
	lower := strings.ToLower(text)
	ri := model.RegulatoryInsights{FDAStatus: "Under Review", EMAStatus: "Under Review"}
	matched := false

	if m := approvedYearRe.FindStringSubmatch(text); m != nil {
		ri.ApprovalYear, _ = strconv.Atoi(m[1])
		ri.FDAStatus = "Approved"
		matched = true
	} else if strings.Contains(lower, "approved for") || strings.Contains(lower, "fda approved") {
		ri.FDAStatus = "Approved"
		matched = true
	}
	if emaRe.MatchString(lower) && ri.FDAStatus == "Approved" {
		ri.EMAStatus = "Approved"
	}
	for _, d := range designations {
		if strings.Contains(lower, d.keyword) && strings.Contains(lower, strings.ToLower(subject)) {
			ri.Designations = append(ri.Designations, d.name)
			matched = true
		}
	}
	return ri, matched
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
