package model

import "time"

// Section is one report section, one per completed analysis step.
type Section struct {
	Step      StepID `json:"step"`
	Title     string `json:"title"`
	Available bool   `json:"available"`
	Data      any    `json:"data"`
}

// Insight is a single finding surfaced by synthesis.
type Insight struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Impact     string  `json:"impact"`
	Confidence float64 `json:"confidence"`
}

// Citation references a source consulted for the report.
type Citation struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	Publisher   string  `json:"publisher"`
	Date        string  `json:"date,omitempty"`
	URL         string  `json:"url,omitempty"`
	Reliability float64 `json:"reliability"`
}

// KeyMetrics are headline numbers pulled from the sections.
type KeyMetrics struct {
	MarketSize   int64   `json:"market_size"`
	GrowthRate   float64 `json:"growth_rate"`
	MarketShare  float64 `json:"market_share"`
	ActiveTrials int     `json:"active_trials"`
	TotalTrials  int     `json:"total_trials"`
	FDAStatus    string  `json:"fda_status"`
	PatentStatus string  `json:"patent_status"`
}

// Risk is a risk factor with its mitigation.
type Risk struct {
	Risk       string `json:"risk"`
	Severity   string `json:"severity"`
	Timeframe  string `json:"timeframe"`
	Mitigation string `json:"mitigation"`
}

// Report is the final merged output of a job.
type Report struct {
	Subject         string      `json:"subject"`
	GeneratedAt     time.Time   `json:"generated_at"`
	Sections        []Section   `json:"sections"`
	Patent          *PatentInfo `json:"patent,omitempty"`
	Summary         string      `json:"summary"`
	Insights        []Insight   `json:"insights"`
	Citations       []Citation  `json:"citations"`
	KeyMetrics      KeyMetrics  `json:"key_metrics"`
	Recommendations []string    `json:"recommendations"`
	Risks           []Risk      `json:"risks"`
}

// Section returns the section for the given step.
func (r *Report) Section(id StepID) (Section, bool) {
	for _, s := range r.Sections {
		if s.Step == id {
			return s, true
		}
	}
	return Section{}, false
}
