package matching

import (
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Comparison is the outcome of comparing one identifier across two records.
// Comparable is false when either record lacks the identifier.
type Comparison struct {
	Comparable bool
	Similarity float64
	Details    []string
}

// FieldScorer compares one identifier kind. Deterministic scorers and any
// future learned scorer share this interface.
type FieldScorer interface {
	Kind() models.IdentifierKind
	Score(a, b *models.HashedIdentifierSet) Comparison
}

// ExactScorer compares salted digests byte for byte
type ExactScorer struct {
	kind models.IdentifierKind
}

func NewExactScorer(kind models.IdentifierKind) *ExactScorer {
	return &ExactScorer{kind: kind}
}

func (s *ExactScorer) Kind() models.IdentifierKind {
	return s.kind
}

func (s *ExactScorer) Score(a, b *models.HashedIdentifierSet) Comparison {
	ha, hb := a.Hash(s.kind), b.Hash(s.kind)
	if ha == "" || hb == "" {
		return Comparison{Details: []string{models.DetailMissingSide}}
	}
	if ha == hb {
		return Comparison{Comparable: true, Similarity: 1.0, Details: []string{models.DetailExact}}
	}
	return Comparison{Comparable: true, Similarity: 0.0}
}

// NameScorer adapts the NameComparator to the FieldScorer interface
type NameScorer struct {
	comparator *NameComparator
}

func NewNameScorer(comparator *NameComparator) *NameScorer {
	return &NameScorer{comparator: comparator}
}

func (s *NameScorer) Kind() models.IdentifierKind {
	return models.IdentifierName
}

func (s *NameScorer) Score(a, b *models.HashedIdentifierSet) Comparison {
	return s.comparator.Compare(a, b)
}

// ScorerSet holds one scorer per identifier kind in a stable order
type ScorerSet struct {
	order   []models.IdentifierKind
	scorers map[models.IdentifierKind]FieldScorer
}

// NewScorerSet returns the deterministic scorers for every known identifier
func NewScorerSet(names *NameComparator) *ScorerSet {
	set := &ScorerSet{scorers: map[models.IdentifierKind]FieldScorer{}}
	for _, kind := range models.ExactIdentifiers {
		set.Register(NewExactScorer(kind))
	}
	set.Register(NewNameScorer(names))
	return set
}

// Register adds or replaces the scorer for its kind
func (s *ScorerSet) Register(scorer FieldScorer) {
	if _, ok := s.scorers[scorer.Kind()]; !ok {
		s.order = append(s.order, scorer.Kind())
	}
	s.scorers[scorer.Kind()] = scorer
}

// Get returns the scorer for a kind
func (s *ScorerSet) Get(kind models.IdentifierKind) (FieldScorer, bool) {
	scorer, ok := s.scorers[kind]
	return scorer, ok
}

// Kinds lists registered kinds in registration order
func (s *ScorerSet) Kinds() []models.IdentifierKind {
	return append([]models.IdentifierKind(nil), s.order...)
}
