package models

import (
	"encoding/json"
	"time"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/fingerprint"
)

// GlobalScope is the configuration scope that applies to every company
const GlobalScope = "global"

// Thresholds gate what happens to a scored pair
type Thresholds struct {
	Minimum     float64 `json:"minimum" yaml:"minimum"`
	AutoReject  float64 `json:"auto_reject" yaml:"auto_reject"`
	AutoConfirm float64 `json:"auto_confirm" yaml:"auto_confirm"`
}

// AnomalySettings tune the false-positive filter
type AnomalySettings struct {
	GenericIdentifierCompanies int     `json:"generic_identifier_companies" yaml:"generic_identifier_companies"`
	PlaceholderLocalCount      int     `json:"placeholder_local_count" yaml:"placeholder_local_count"`
	SingleSignalMinimum        int     `json:"single_signal_minimum" yaml:"single_signal_minimum"`
	SingleSignalConfidence     float64 `json:"single_signal_confidence" yaml:"single_signal_confidence"`
	NonTrivialSimilarity       float64 `json:"non_trivial_similarity" yaml:"non_trivial_similarity"`
	NameConflictSimilarity     float64 `json:"name_conflict_similarity" yaml:"name_conflict_similarity"`
	NameConflictDisagreement   float64 `json:"name_conflict_disagreement" yaml:"name_conflict_disagreement"`
}

// NameScoring tunes the fuzzy name comparator
type NameScoring struct {
	PrefixScale       float64             `json:"prefix_scale" yaml:"prefix_scale"`
	SoundexBonus      float64             `json:"soundex_bonus" yaml:"soundex_bonus"`
	ShortNameDiscount float64             `json:"short_name_discount" yaml:"short_name_discount"`
	Nicknames         map[string][]string `json:"nicknames,omitempty" yaml:"nicknames,omitempty"`
}

// RunSettings bound the orchestrator's resource use
type RunSettings struct {
	MaxCandidates int           `json:"max_candidates" yaml:"max_candidates"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	Workers       int           `json:"workers" yaml:"workers"`
	PairTimeout   time.Duration `json:"pair_timeout" yaml:"pair_timeout"`
	PairRetries   int           `json:"pair_retries" yaml:"pair_retries"`
}

// MatchingConfiguration is the read-only input to scoring and aggregation. It is
// passed explicitly; there is no process-wide copy.
type MatchingConfiguration struct {
	Scope               string                     `json:"scope" yaml:"scope"`
	Weights             map[IdentifierKind]float64 `json:"weights" yaml:"weights"`
	Thresholds          Thresholds                 `json:"thresholds" yaml:"thresholds"`
	GracePeriodDays     map[EmployeeType]int       `json:"grace_period_days" yaml:"grace_period_days"`
	EnabledIdentifiers  []IdentifierKind           `json:"enabled_identifiers" yaml:"enabled_identifiers"`
	RequiredIdentifiers []IdentifierKind           `json:"required_identifiers,omitempty" yaml:"required_identifiers,omitempty"`
	Anomaly             AnomalySettings            `json:"anomaly" yaml:"anomaly"`
	Names               NameScoring                `json:"names" yaml:"names"`
	Run                 RunSettings                `json:"run" yaml:"run"`
	UpdatedAt           time.Time                  `json:"updated_at,omitempty" yaml:"-"`
}

// DefaultMatchingConfiguration returns the global defaults
func DefaultMatchingConfiguration() *MatchingConfiguration {
	return &MatchingConfiguration{
		Scope: GlobalScope,
		Weights: map[IdentifierKind]float64{
			IdentifierSSN:   0.45,
			IdentifierEmail: 0.20,
			IdentifierPhone: 0.15,
			IdentifierDOB:   0.10,
			IdentifierName:  0.10,
		},
		Thresholds: Thresholds{
			Minimum:     0.50,
			AutoReject:  0.60,
			AutoConfirm: 0.95,
		},
		GracePeriodDays: map[EmployeeType]int{
			EmployeeTypeFullTime: 14,
			EmployeeTypePartTime: 21,
			EmployeeTypeContract: 7,
			EmployeeTypeIntern:   30,
		},
		EnabledIdentifiers: append([]IdentifierKind(nil), AllIdentifiers...),
		Anomaly: AnomalySettings{
			GenericIdentifierCompanies: 25,
			PlaceholderLocalCount:      3,
			SingleSignalMinimum:        2,
			SingleSignalConfidence:     0.50,
			NonTrivialSimilarity:       0.3,
			NameConflictSimilarity:     0.97,
			NameConflictDisagreement:   0.1,
		},
		Names: NameScoring{
			PrefixScale:       0.1,
			SoundexBonus:      0.05,
			ShortNameDiscount: 0.5,
		},
		Run: RunSettings{
			MaxCandidates: 500,
			BatchSize:     100,
			Workers:       4,
			PairTimeout:   2 * time.Second,
			PairRetries:   3,
		},
	}
}

// IsEnabled reports whether an identifier participates in scoring
func (c *MatchingConfiguration) IsEnabled(kind IdentifierKind) bool {
	for _, k := range c.EnabledIdentifiers {
		if k == kind {
			return true
		}
	}
	return false
}

// IsRequired reports whether policy requires the identifier on every record
func (c *MatchingConfiguration) IsRequired(kind IdentifierKind) bool {
	for _, k := range c.RequiredIdentifiers {
		if k == kind {
			return true
		}
	}
	return false
}

// GracePeriod returns the grace days for an employee type, 0 when unknown
func (c *MatchingConfiguration) GracePeriod(t EmployeeType) int {
	return c.GracePeriodDays[t]
}

// Version is a content hash of the configuration, used in pair cache keys so a
// configuration change invalidates cached results.
func (c *MatchingConfiguration) Version() string {
	clone := *c
	clone.UpdatedAt = time.Time{}
	data, err := json.Marshal(clone)
	if err != nil {
		return ""
	}
	v, err := fingerprint.GenerateFromJSON(data)
	if err != nil {
		return ""
	}
	return v[:16]
}

// Validate rejects configurations the aggregator cannot use
func (c *MatchingConfiguration) Validate() error {
	cerr := matcherrors.NewConfigurationError()

	var total float64
	for kind, w := range c.Weights {
		if w < 0 {
			cerr.Add("weight for %s is negative (%v)", kind, w)
		}
		if c.IsEnabled(kind) {
			total += w
		}
	}
	if total <= 0 {
		cerr.Add("enabled identifier weights sum to zero")
	}

	checkUnit := func(name string, v float64) {
		if v < 0 || v > 1 {
			cerr.Add("%s threshold %v outside [0,1]", name, v)
		}
	}
	checkUnit("minimum", c.Thresholds.Minimum)
	checkUnit("auto_reject", c.Thresholds.AutoReject)
	checkUnit("auto_confirm", c.Thresholds.AutoConfirm)
	if c.Thresholds.Minimum > c.Thresholds.AutoReject {
		cerr.Add("minimum %v is above auto_reject %v", c.Thresholds.Minimum, c.Thresholds.AutoReject)
	}
	if c.Thresholds.AutoReject > c.Thresholds.AutoConfirm {
		cerr.Add("auto_reject %v is above auto_confirm %v", c.Thresholds.AutoReject, c.Thresholds.AutoConfirm)
	}

	for t, days := range c.GracePeriodDays {
		if days < 0 {
			cerr.Add("grace period for %s is negative (%d)", t, days)
		}
	}

	if c.Names.PrefixScale < 0 || c.Names.PrefixScale > 0.25 {
		cerr.Add("prefix_scale %v outside [0,0.25]", c.Names.PrefixScale)
	}
	if c.Names.ShortNameDiscount < 0 || c.Names.ShortNameDiscount > 1 {
		cerr.Add("short_name_discount %v outside [0,1]", c.Names.ShortNameDiscount)
	}
	if c.Names.SoundexBonus < 0 || c.Names.SoundexBonus > 0.25 {
		cerr.Add("soundex_bonus %v outside [0,0.25]", c.Names.SoundexBonus)
	}

	if c.Anomaly.GenericIdentifierCompanies <= 0 {
		cerr.Add("generic_identifier_companies must be positive")
	}
	if c.Anomaly.PlaceholderLocalCount <= 0 {
		cerr.Add("placeholder_local_count must be positive")
	}
	if c.Anomaly.SingleSignalMinimum < 1 {
		cerr.Add("single_signal_minimum must be at least 1")
	}
	checkSimilarity := func(name string, v float64) {
		if v < 0 || v > 1 {
			cerr.Add("%s %v outside [0,1]", name, v)
		}
	}
	checkSimilarity("single_signal_confidence", c.Anomaly.SingleSignalConfidence)
	checkSimilarity("non_trivial_similarity", c.Anomaly.NonTrivialSimilarity)
	checkSimilarity("name_conflict_similarity", c.Anomaly.NameConflictSimilarity)
	checkSimilarity("name_conflict_disagreement", c.Anomaly.NameConflictDisagreement)
	if c.Anomaly.NameConflictDisagreement >= c.Anomaly.NameConflictSimilarity {
		cerr.Add("name_conflict_disagreement %v must be below name_conflict_similarity %v",
			c.Anomaly.NameConflictDisagreement, c.Anomaly.NameConflictSimilarity)
	}

	if c.Run.MaxCandidates <= 0 {
		cerr.Add("max_candidates must be positive")
	}
	if c.Run.BatchSize <= 0 {
		cerr.Add("batch_size must be positive")
	}
	if c.Run.Workers <= 0 {
		cerr.Add("workers must be positive")
	}
	if c.Run.PairTimeout <= 0 {
		cerr.Add("pair_timeout must be positive")
	}
	if c.Run.PairRetries < 0 {
		cerr.Add("pair_retries must not be negative")
	}

	return cerr.OrNil()
}

// Clone returns a deep copy
func (c *MatchingConfiguration) Clone() *MatchingConfiguration {
	clone := *c
	clone.Weights = make(map[IdentifierKind]float64, len(c.Weights))
	for k, v := range c.Weights {
		clone.Weights[k] = v
	}
	clone.GracePeriodDays = make(map[EmployeeType]int, len(c.GracePeriodDays))
	for k, v := range c.GracePeriodDays {
		clone.GracePeriodDays[k] = v
	}
	clone.EnabledIdentifiers = append([]IdentifierKind(nil), c.EnabledIdentifiers...)
	clone.RequiredIdentifiers = append([]IdentifierKind(nil), c.RequiredIdentifiers...)
	if c.Names.Nicknames != nil {
		clone.Names.Nicknames = make(map[string][]string, len(c.Names.Nicknames))
		for k, v := range c.Names.Nicknames {
			clone.Names.Nicknames[k] = append([]string(nil), v...)
		}
	}
	return &clone
}
