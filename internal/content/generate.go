package content

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/pharma-research/internal/model"
)

// rng returns a generator seeded from the subject so repeated runs for the
// same subject produce the same synthetic records.
func rng(subject, salt string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(subject)))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>17|1))
}

func sortByLenDesc(keys []string) {
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
}

func sortedKeys(m map[string]string) []string {
	keys := slices.Collect(maps.Keys(m))
	sortByLenDesc(keys)
	return keys
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

// Conditions derives up to five studied conditions from evidence text and
// the subject name.
func (c *Catalog) Conditions(text, subject string) []string {
	text = strings.ToLower(text)
	subject = strings.ToLower(subject)
	var out []string
	for _, r := range c.data.Conditions {
		if strings.Contains(text, r.Keyword) || strings.Contains(subject, r.Keyword) {
			for _, cond := range r.Conditions {
				if !slices.Contains(out, cond) {
					out = append(out, cond)
				}
			}
		}
	}
	if len(out) == 0 {
		out = slices.Clone(c.data.DefaultConditions)
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// Trials synthesizes five to ten trial listings. Known landmark trial
// names for the subject title the first entries.
func (c *Catalog) Trials(subject string, conditions []string) []model.Trial {
	if len(conditions) == 0 {
		conditions = c.data.DefaultConditions
	}
	display := c.DisplayName(subject)
	var names []string
	if m, ok := c.Molecule(subject); ok {
		names = m.TrialNames
	}

	r := rng(subject, "trials")
	now := c.now()
	n := 5 + r.IntN(6)
	trials := make([]model.Trial, 0, n)
	for i := range n {
		start := now.AddDate(0, 0, -(100 + r.IntN(1400)))
		end := start.AddDate(0, 0, 365+r.IntN(730))
		cond := conditions[r.IntN(len(conditions))]

		title := fmt.Sprintf("Study of %s in %s", display, cond)
		if i < len(names) {
			title = names[i] + ": " + title
		}
		trials = append(trials, model.Trial{
			ID:                  fmt.Sprintf("NCT%08d", 10000000+r.IntN(90000000)),
			Title:               title,
			Phase:               c.data.Phases[r.IntN(len(c.data.Phases))],
			Status:              c.data.Statuses[r.IntN(len(c.data.Statuses))],
			Enrollment:          50 + r.IntN(4951),
			Condition:           conditions[r.IntN(len(conditions))],
			Sponsor:             c.data.Sponsors[r.IntN(len(c.data.Sponsors))],
			StartDate:           start.Format("2006-01-02"),
			EstimatedCompletion: end.Format("2006-01-02"),
			PrimaryOutcome:      fmt.Sprintf("Efficacy of %s measured by primary endpoint", display),
			Locations:           5 + r.IntN(96),
		})
	}
	return trials
}

// EstimateMarket returns reference market figures, or a deterministic
// estimate for subjects outside the catalog.
func (c *Catalog) EstimateMarket(subject string) (MarketFigures, bool) {
	if m, ok := c.Molecule(subject); ok {
		return m.Market, true
	}
	r := rng(subject, "market")
	return MarketFigures{
		Size:   500_000_000 + r.Int64N(4_500_000_000),
		Growth: round1(5 + r.Float64()*15),
		Share:  round1(5 + r.Float64()*20),
	}, false
}

// Competitors returns up to five competitors from the first pool whose
// keywords appear in the subject or the evidence text.
func (c *Catalog) Competitors(subject, text string) []model.Competitor {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)

	pool := c.data.GenericCompetitors
	for _, p := range c.data.CompetitorPools {
		if slices.ContainsFunc(p.Keywords, func(kw string) bool {
			return strings.Contains(subject, kw) || strings.Contains(text, kw)
		}) {
			pool = p.Competitors
			break
		}
	}

	r := rng(subject, "competitors")
	trends := []string{"growing", "stable", "declining"}
	out := make([]model.Competitor, 0, min(5, len(pool)))
	for _, ref := range pool[:min(5, len(pool))] {
		out = append(out, model.Competitor{
			Name:        ref.Name,
			Company:     ref.Company,
			MarketShare: round1(5 + r.Float64()*25),
			Trend:       trends[r.IntN(len(trends))],
		})
	}
	return out
}

// RevenueHistory works five years back from size at the given growth rate,
// ending at the last full calendar year.
func (c *Catalog) RevenueHistory(subject string, size int64, growth float64) []model.RevenuePoint {
	r := rng(subject, "revenue")
	last := c.now().Year() - 1
	out := make([]model.RevenuePoint, 0, 5)
	for i := range 5 {
		back := 4 - i
		p := model.RevenuePoint{
			Year:    last - back,
			Revenue: int64(float64(size) / math.Pow(1+growth/100, float64(back))),
		}
		if i > 0 {
			p.Growth = round1(growth * (0.7 + r.Float64()*0.6))
		}
		out = append(out, p)
	}
	return out
}

// Trends picks market trends matching the evidence text.
func (c *Catalog) Trends(text string) []model.MarketTrend {
	text = strings.ToLower(text)
	src := c.data.DefaultTrends
	for _, set := range c.data.TrendSets {
		if slices.ContainsFunc(set.Keywords, func(kw string) bool { return strings.Contains(text, kw) }) {
			src = set.Trends
			break
		}
	}
	out := make([]model.MarketTrend, 0, min(4, len(src)))
	for _, t := range src[:min(4, len(src))] {
		out = append(out, model.MarketTrend{Trend: t.Trend, Impact: t.Impact})
	}
	return out
}

// Warnings returns label warnings for the subject's drug class.
func (c *Catalog) Warnings(subject, text string) []string {
	subject = strings.ToLower(subject)
	text = strings.ToLower(text)
	for _, wc := range c.data.WarningClasses {
		if wc.re.MatchString(subject) || wc.re.MatchString(text) {
			return slices.Clone(wc.Warnings)
		}
	}
	return slices.Clone(c.data.DefaultWarnings)
}

// ApprovedIndications returns curated indications for known subjects and
// keyword-derived ones otherwise.
func (c *Catalog) ApprovedIndications(subject, text string) []string {
	if m, ok := c.Molecule(subject); ok && len(m.ApprovedIndications) > 0 {
		return slices.Clone(m.ApprovedIndications)
	}
	search := strings.ToLower(text + " " + subject)
	var out []string
	for _, r := range c.data.IndicationKeywords {
		if strings.Contains(search, r.Keyword) && !slices.Contains(out, r.Indication) {
			out = append(out, r.Indication)
		}
	}
	if len(out) == 0 {
		return []string{"Primary Indication Pending Review"}
	}
	return out[:min(5, len(out))]
}

// Indications returns the curated indication list used in subject profiles.
func (c *Catalog) Indications(subject string) []string {
	if m, ok := c.Molecule(subject); ok {
		return slices.Clone(m.Indications)
	}
	return nil
}

// Pathway infers the regulatory pathway from evidence text.
func Pathway(text string) string {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "breakthrough"):
		return "Breakthrough Therapy"
	case strings.Contains(text, "accelerated"):
		return "Accelerated Approval"
	case strings.Contains(text, "priority"):
		return "Priority Review"
	case strings.Contains(text, "fast track"):
		return "Fast Track"
	}
	return "Standard Review"
}

// Patent derives the patent position from an expiry value, which is a
// year, "Expired" or "Unknown".
func (c *Catalog) Patent(subject, expiry string) model.PatentAnalysis {
	switch expiry {
	case "Expired":
		return model.PatentAnalysis{
			Status:               "Off-Patent",
			ExpiryDate:           "Expired",
			GenericCompetition:   "Yes",
			BiosimilarsAvailable: strings.Contains(strings.ToLower(subject), "mab"),
			ExclusivityRemaining: "None",
		}
	case "", "Unknown":
		return model.PatentAnalysis{
			Status:               "Under Investigation",
			ExpiryDate:           "Unknown",
			GenericCompetition:   "TBD",
			ExclusivityRemaining: "Unknown",
		}
	}

	year, err := strconv.Atoi(expiry)
	if err != nil {
		return model.PatentAnalysis{
			Status:               "Protected",
			ExpiryDate:           expiry,
			GenericCompetition:   "Limited",
			ExclusivityRemaining: "Active",
		}
	}
	left := max(0, year-c.now().Year())
	return model.PatentAnalysis{
		Status:               "Patent Protected",
		ExpiryDate:           fmt.Sprintf("~%d", year),
		GenericCompetition:   "No",
		YearsRemaining:       left,
		ExclusivityRemaining: fmt.Sprintf("~%d years", left),
	}
}

// Exclusivity summarizes market exclusivity from an expiry value.
func (c *Catalog) Exclusivity(expiry string) string {
	switch expiry {
	case "Expired":
		return "No Exclusivity"
	case "", "Unknown":
		return "Under Investigation"
	}
	year, err := strconv.Atoi(expiry)
	if err != nil {
		return "Exclusivity Active"
	}
	left := year - c.now().Year()
	switch {
	case left <= 0:
		return "Exclusivity Expired"
	case left <= 2:
		return "Exclusivity Expiring Soon"
	}
	return "Full Exclusivity Protection"
}

// RecentActions returns the regulatory timeline.
func (c *Catalog) RecentActions() []model.RegulatoryAction {
	out := make([]model.RegulatoryAction, 0, len(c.data.RecentActions))
	for _, a := range c.data.RecentActions {
		out = append(out, model.RegulatoryAction{Date: a.Date, Action: a.Action, Description: a.Description})
	}
	return out
}

// Citations returns the standing source list for a report on subject.
func (c *Catalog) Citations(subject string) []model.Citation {
	name := c.DisplayName(subject)
	year := strconv.Itoa(c.now().Year())
	return []model.Citation{
		{ID: "src-1", Title: name + " Market Analysis Report", Type: "Market Research", Publisher: "Global Market Insights", Date: year, Reliability: 0.95},
		{ID: "src-2", Title: "ClinicalTrials.gov Database", Type: "Clinical Database", Publisher: "U.S. National Library of Medicine", Date: year, URL: "https://clinicaltrials.gov", Reliability: 0.99},
		{ID: "src-3", Title: "FDA Drug Approval Database", Type: "Regulatory", Publisher: "U.S. Food and Drug Administration", Date: year, URL: "https://www.accessdata.fda.gov/scripts/cder/daf/", Reliability: 0.99},
		{ID: "src-4", Title: name + " Prescribing Information", Type: "Product Label", Publisher: "Manufacturer", Date: year, Reliability: 0.98},
		{ID: "src-5", Title: "USPTO Patent Database", Type: "Patent", Publisher: "United States Patent and Trademark Office", Date: year, URL: "https://www.uspto.gov", Reliability: 0.99},
	}
}
