// Package content is the reference-data oracle consulted by analysis steps:
// curated molecule, market and approval tables plus deterministic
// generators for trial listings, revenue history and landscape data.
package content

import (
	_ "embed"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Kind selects the record family returned by Lookup.
type Kind string

const (
	KindMolecule   Kind = "molecule"
	KindMarket     Kind = "market"
	KindApproval   Kind = "approval"
	KindTrialNames Kind = "trial_names"
)

// Provider is the lookup contract steps depend on.
type Provider interface {
	Lookup(subject string, kind Kind) (any, bool)
}

// Molecule is a curated reference entry.
type Molecule struct {
	Name                string        `yaml:"name"`
	Formula             string        `yaml:"formula"`
	MolecularWeight     float64       `yaml:"molecular_weight"`
	Category            string        `yaml:"category"`
	Mechanism           string        `yaml:"mechanism"`
	CASNumber           string        `yaml:"cas_number"`
	Indications         []string      `yaml:"indications"`
	ApprovedIndications []string      `yaml:"approved_indications"`
	TrialNames          []string      `yaml:"trial_names"`
	Market              MarketFigures `yaml:"market"`
	Approval            Approval      `yaml:"approval"`
}

// MarketFigures are the headline market numbers for a molecule.
type MarketFigures struct {
	Size   int64   `yaml:"size"`
	Growth float64 `yaml:"growth"`
	Share  float64 `yaml:"share"`
}

// Approval is the regulatory reference for a molecule.
type Approval struct {
	FDA          string `yaml:"fda"`
	EMA          string `yaml:"ema"`
	ApprovalDate string `yaml:"approval_date"`
	PatentExpiry string `yaml:"patent_expiry"`
}

type competitorRef struct {
	Name    string `yaml:"name"`
	Company string `yaml:"company"`
}

type competitorPool struct {
	Name        string          `yaml:"name"`
	Keywords    []string        `yaml:"keywords"`
	Competitors []competitorRef `yaml:"competitors"`
}

type warningClass struct {
	Pattern  string   `yaml:"pattern"`
	Warnings []string `yaml:"warnings"`
	re       *regexp.Regexp
}

type conditionRule struct {
	Keyword    string   `yaml:"keyword"`
	Conditions []string `yaml:"conditions"`
}

type indicationRule struct {
	Keyword    string `yaml:"keyword"`
	Indication string `yaml:"indication"`
}

type trend struct {
	Trend  string `yaml:"trend"`
	Impact string `yaml:"impact"`
}

type trendSet struct {
	Keywords []string `yaml:"keywords"`
	Trends   []trend  `yaml:"trends"`
}

type action struct {
	Date        string `yaml:"date"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

type catalogData struct {
	Synonyms           map[string]string   `yaml:"synonyms"`
	Molecules          map[string]Molecule `yaml:"molecules"`
	CompetitorPools    []competitorPool    `yaml:"competitor_pools"`
	GenericCompetitors []competitorRef     `yaml:"generic_competitors"`
	WarningClasses     []warningClass      `yaml:"warning_classes"`
	DefaultWarnings    []string            `yaml:"default_warnings"`
	Conditions         []conditionRule     `yaml:"conditions"`
	DefaultConditions  []string            `yaml:"default_conditions"`
	IndicationKeywords []indicationRule    `yaml:"indication_keywords"`
	TrendSets          []trendSet          `yaml:"trend_sets"`
	DefaultTrends      []trend             `yaml:"default_trends"`
	RecentActions      []action            `yaml:"recent_actions"`
	Sponsors           []string            `yaml:"sponsors"`
	Phases             []string            `yaml:"phases"`
	Statuses           []string            `yaml:"statuses"`
}

// Catalog is the embedded reference data. All methods are pure functions
// of their arguments and the catalog clock.
type Catalog struct {
	data catalogData
	keys []string
	now  func() time.Time
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// MustLoad is Load for process assembly and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from YAML with a top-level "catalog" key.
func Parse(raw []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog catalogData `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return nil, eris.Wrap(err, "content: parse catalog")
	}
	data := wrapper.Catalog
	for i := range data.WarningClasses {
		re, err := regexp.Compile(data.WarningClasses[i].Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "content: warning pattern %q", data.WarningClasses[i].Pattern)
		}
		data.WarningClasses[i].re = re
	}

	c := &Catalog{data: data, now: time.Now}
	for k := range data.Molecules {
		c.keys = append(c.keys, k)
	}
	// Longest key first so substring matching prefers the specific name.
	sortByLenDesc(c.keys)
	return c, nil
}

// WithClock returns a copy of the catalog using the given clock.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	cp := *c
	cp.now = now
	return &cp
}

// Now returns the catalog clock's current time.
func (c *Catalog) Now() time.Time { return c.now() }

// Lookup implements Provider.
func (c *Catalog) Lookup(subject string, kind Kind) (any, bool) {
	m, ok := c.Molecule(subject)
	if !ok {
		return nil, false
	}
	switch kind {
	case KindMolecule:
		return m, true
	case KindMarket:
		return m.Market, true
	case KindApproval:
		return m.Approval, true
	case KindTrialNames:
		return m.TrialNames, len(m.TrialNames) > 0
	}
	return nil, false
}

// Molecule finds the reference entry whose key is contained in subject.
func (c *Catalog) Molecule(subject string) (Molecule, bool) {
	key := c.key(subject)
	if key == "" {
		return Molecule{}, false
	}
	return c.data.Molecules[key], true
}

func (c *Catalog) key(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	if s == "" {
		return ""
	}
	if _, ok := c.data.Molecules[s]; ok {
		return s
	}
	if g, ok := c.data.Synonyms[s]; ok {
		return g
	}
	for _, k := range c.keys {
		if strings.Contains(s, k) {
			return k
		}
	}
	return ""
}

// DisplayName title-cases a subject for presentation.
func (c *Catalog) DisplayName(subject string) string {
	if m, ok := c.Molecule(subject); ok {
		return m.Name
	}
	// Casers carry state and are not shared across goroutines.
	return cases.Title(language.English).String(strings.TrimSpace(subject))
}

var queryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`analyze\s+(\w+)`),
	regexp.MustCompile(`about\s+(\w+)`),
	regexp.MustCompile(`information\s+on\s+(\w+)`),
	regexp.MustCompile(`properties\s+of\s+(\w+)`),
	regexp.MustCompile(`what\s+is\s+(\w+)`),
}

// Normalize resolves a free-text query to a canonical lowercase subject:
// brand names map to the generic, and phrases like "analyze X" yield X.
func (c *Catalog) Normalize(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ""
	}
	for _, brand := range sortedKeys(c.data.Synonyms) {
		if strings.Contains(q, brand) {
			return c.data.Synonyms[brand]
		}
	}
	for _, re := range queryPatterns {
		if m := re.FindStringSubmatch(q); m != nil {
			return c.synonym(m[1])
		}
	}
	return c.synonym(strings.Fields(q)[0])
}

func (c *Catalog) synonym(word string) string {
	if g, ok := c.data.Synonyms[word]; ok {
		return g
	}
	return word
}
