package matching

import (
	"time"

	"github.com/Ramsey-B/sorrel/pkg/aggregate"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/temporal"
)

// Engine scores one candidate pair end to end: field scorers, temporal overlap
// and aggregation under a single configuration
type Engine struct {
	cfg      *models.MatchingConfiguration
	scorers  *ScorerSet
	analyzer *temporal.Analyzer
	version  string
}

// Evaluation is the complete outcome for one pair, in canonical order
type Evaluation struct {
	First    *models.EmployeeProfile
	Second   *models.EmployeeProfile
	Temporal temporal.Result
	Result   aggregate.Result
}

// NewEngine validates cfg and builds the scorers it describes. A nil nickname
// table uses the built-in one; cfg.Names.Nicknames extends it.
func NewEngine(cfg *models.MatchingConfiguration, nicknames *NicknameTable, analyzer *temporal.Analyzer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nicknames == nil {
		var err error
		nicknames, err = DefaultNicknames()
		if err != nil {
			return nil, err
		}
	}
	if analyzer == nil {
		analyzer = temporal.NewAnalyzer(nil)
	}

	return &Engine{
		cfg:      cfg,
		scorers:  NewScorerSet(NewNameComparator(cfg.Names, nicknames)),
		analyzer: analyzer,
		version:  cfg.Version(),
	}, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() *models.MatchingConfiguration {
	return e.cfg
}

// ConfigVersion is the content hash of the engine's configuration
func (e *Engine) ConfigVersion() string {
	return e.version
}

// Scorers exposes the registry so alternative scorers can be plugged in
func (e *Engine) Scorers() *ScorerSet {
	return e.scorers
}

// Score compares two identifier sets and returns one factor per registered
// identifier kind. Disabled identifiers are reported but never present.
func (e *Engine) Score(a, b *models.HashedIdentifierSet) []models.MatchFactor {
	kinds := e.scorers.Kinds()
	factors := make([]models.MatchFactor, 0, len(kinds))
	for _, kind := range kinds {
		factor := models.MatchFactor{Identifier: kind}
		if !e.cfg.IsEnabled(kind) {
			factor.Details = []string{models.DetailDisabled}
			factors = append(factors, factor)
			continue
		}

		scorer, _ := e.scorers.Get(kind)
		c := scorer.Score(a, b)
		factor.Present = c.Comparable
		factor.Similarity = c.Similarity
		factor.Details = c.Details
		factors = append(factors, factor)
	}
	return factors
}

// Evaluate scores a pair. Arguments are put in canonical order first so the
// outcome does not depend on which side triggered the comparison.
func (e *Engine) Evaluate(a, b *models.EmployeeProfile) *Evaluation {
	_, _, swapped := models.CanonicalPair(a.Ref(), b.Ref())
	if swapped {
		a, b = b, a
	}

	t := e.analyzer.Analyze(temporal.FromProfile(a), temporal.FromProfile(b), e.cfg.GracePeriodDays)
	factors := e.Score(&a.Identifiers, &b.Identifiers)

	return &Evaluation{
		First:    a,
		Second:   b,
		Temporal: t,
		Result:   aggregate.Aggregate(factors, t, e.cfg),
	}
}

// Factor returns the weighted factor for a kind
func (ev *Evaluation) Factor(kind models.IdentifierKind) (models.MatchFactor, bool) {
	for _, f := range ev.Result.Factors {
		if f.Identifier == kind {
			return f, true
		}
	}
	return models.MatchFactor{}, false
}

// ToMatch builds the match row for this evaluation. The id and timestamps are
// left for the caller when merging with an existing row.
func (ev *Evaluation) ToMatch(configVersion string, now time.Time) *models.Match {
	return &models.Match{
		Employee1:           ev.First.Ref(),
		Employee2:           ev.Second.Ref(),
		Employee1Version:    ev.First.Version,
		Employee2Version:    ev.Second.Version,
		ConfidenceScore:     ev.Result.Confidence,
		MatchFactors:        ev.Result.Factors,
		TemporalOverlap:     ev.Temporal.TemporalOverlap(),
		OverlapDays:         ev.Temporal.OverlapDays,
		AdjustedOverlapDays: ev.Temporal.AdjustedOverlapDays,
		WithinGracePeriod:   ev.Temporal.WithinGracePeriod,
		RiskLevel:           ev.Result.Risk,
		Status:              ev.Result.Status,
		ConfigVersion:       configVersion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
