package model

import "time"

// Origin records which path produced a step payload.
type Origin string

const (
	OriginGenerative Origin = "generative"
	OriginRegex      Origin = "regex"
	OriginDefault    Origin = "default"
	OriginReference  Origin = "reference"
)

// ParsedQuery is the payload of the parse step.
type ParsedQuery struct {
	Query     string   `json:"query"`
	Subject   string   `json:"subject"`
	Requested []StepID `json:"requested"`
}

// SubjectProfile describes the molecule under analysis.
type SubjectProfile struct {
	Name              string      `json:"name"`
	Formula           string      `json:"formula,omitempty"`
	MolecularWeight   float64     `json:"molecular_weight,omitempty"`
	Category          string      `json:"category,omitempty"`
	Description       string      `json:"description,omitempty"`
	CASNumber         string      `json:"cas_number,omitempty"`
	MechanismOfAction string      `json:"mechanism_of_action,omitempty"`
	Indications       []string    `json:"indications,omitempty"`
	InKnowledgeBase   bool        `json:"in_knowledge_base"`
	Origin            Origin      `json:"origin"`
	Sources           []SourceRef `json:"sources,omitempty"`
}

// Trial is a single clinical trial record.
type Trial struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Phase               string `json:"phase"`
	Status              string `json:"status"`
	Enrollment          int    `json:"enrollment"`
	Condition           string `json:"condition"`
	Sponsor             string `json:"sponsor"`
	StartDate           string `json:"start_date"`
	EstimatedCompletion string `json:"estimated_completion"`
	PrimaryOutcome      string `json:"primary_outcome"`
	Locations           int    `json:"locations"`
}

// ClinicalEvidence is the structured record extracted from trial evidence.
type ClinicalEvidence struct {
	KeyFindings       []string `json:"key_findings"`
	EfficacyData      string   `json:"efficacy_data"`
	SafetyProfile     string   `json:"safety_profile"`
	TrialNames        []string `json:"trial_names"`
	Endpoints         []string `json:"endpoints"`
	PatientPopulation string   `json:"patient_population"`
}

// TrialsAnalysis is the payload of the trials step.
type TrialsAnalysis struct {
	Trials            []Trial          `json:"trials"`
	TotalTrials       int              `json:"total_trials"`
	PhaseSummary      map[string]int   `json:"phase_summary"`
	ActiveTrials      int              `json:"active_trials"`
	CompletedTrials   int              `json:"completed_trials"`
	AverageEnrollment int              `json:"average_enrollment"`
	Evidence          ClinicalEvidence `json:"evidence"`
	Origin            Origin           `json:"origin"`
	Sources           []SourceRef      `json:"sources,omitempty"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// MarketInsights is the structured record extracted from market evidence.
type MarketInsights struct {
	MarketSizeUSD       float64  `json:"market_size_usd"`
	GrowthRate          float64  `json:"growth_rate"`
	MarketShare         float64  `json:"market_share"`
	KeyPlayers          []string `json:"key_players"`
	KeyInsights         []string `json:"key_insights"`
	CompetitivePosition string   `json:"competitive_position"`
}

// Competitor is one entry in the competitive landscape.
type Competitor struct {
	Name        string  `json:"name"`
	Company     string  `json:"company"`
	MarketShare float64 `json:"market_share"`
	Trend       string  `json:"trend"`
}

// RevenuePoint is one year of revenue history.
type RevenuePoint struct {
	Year    int     `json:"year"`
	Revenue int64   `json:"revenue"`
	Growth  float64 `json:"growth"`
}

// MarketTrend is a qualitative market driver.
type MarketTrend struct {
	Trend  string `json:"trend"`
	Impact string `json:"impact"`
}

// MarketAnalysis is the payload of the market step.
type MarketAnalysis struct {
	MarketSize          int64          `json:"market_size"`
	GrowthRate          float64        `json:"growth_rate"`
	MarketShare         float64        `json:"market_share"`
	YearOverYearGrowth  float64        `json:"year_over_year_growth"`
	ProjectedMarket2028 int64          `json:"projected_market_2028"`
	Competitors         []Competitor   `json:"competitors"`
	RevenueHistory      []RevenuePoint `json:"revenue_history"`
	Trends              []MarketTrend  `json:"trends"`
	KeyInsights         []string       `json:"key_insights"`
	Origin              Origin         `json:"origin"`
	Sources             []SourceRef    `json:"sources,omitempty"`
}

// RegulatoryInsights is the structured record extracted from regulatory evidence.
type RegulatoryInsights struct {
	FDAStatus      string   `json:"fda_status"`
	EMAStatus      string   `json:"ema_status"`
	ApprovalYear   int      `json:"approval_year,omitempty"`
	Designations   []string `json:"designations"`
	KeyIndications []string `json:"key_indications"`
}

// PatentAnalysis summarizes the patent position derived from an expiry value.
type PatentAnalysis struct {
	Status               string `json:"status"`
	ExpiryDate           string `json:"expiry_date"`
	GenericCompetition   string `json:"generic_competition"`
	BiosimilarsAvailable bool   `json:"biosimilars_available"`
	YearsRemaining       int    `json:"years_remaining,omitempty"`
	ExclusivityRemaining string `json:"exclusivity_remaining,omitempty"`
}

// RegulatoryAction is a dated regulatory event.
type RegulatoryAction struct {
	Date        string `json:"date"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// RegulatoryAnalysis is the payload of the regulatory step.
type RegulatoryAnalysis struct {
	FDA                 string             `json:"fda"`
	EMA                 string             `json:"ema"`
	ApprovalDate        string             `json:"approval_date,omitempty"`
	PatentExpiry        string             `json:"patent_expiry"`
	ApprovedIndications []string           `json:"approved_indications"`
	LabelWarnings       []string           `json:"label_warnings"`
	Patent              PatentAnalysis     `json:"patent"`
	Pathway             string             `json:"pathway"`
	ExclusivityStatus   string             `json:"exclusivity_status"`
	Designations        []string           `json:"designations"`
	RecentActions       []RegulatoryAction `json:"recent_actions"`
	Origin              Origin             `json:"origin"`
	Sources             []SourceRef        `json:"sources,omitempty"`
}

// PatentInfo is the payload of the patent step.
type PatentInfo struct {
	Status     string         `json:"status"`
	ExpiryDate string         `json:"expiry_date"`
	Analysis   PatentAnalysis `json:"analysis"`
}
