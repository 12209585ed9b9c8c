package matching

import (
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// ComponentScore is the similarity of one name component (first, middle or last)
type ComponentScore struct {
	Similarity    float64
	Nickname      bool
	SoundexBonus  bool
	Metaphone     bool
	LowConfidence bool
}

// NameComparator compares normalized names using the nickname table first,
// then the better of Jaro-Winkler and Levenshtein plus a Soundex bonus
type NameComparator struct {
	scorer    *Scorer
	nicknames *NicknameTable
	settings  models.NameScoring
}

// NewNameComparator creates a comparator from name scoring settings
func NewNameComparator(settings models.NameScoring, nicknames *NicknameTable) *NameComparator {
	if len(settings.Nicknames) > 0 {
		nicknames = nicknames.With(settings.Nicknames)
	}
	return &NameComparator{
		scorer:    NewScorer(settings.PrefixScale),
		nicknames: nicknames,
		settings:  settings,
	}
}

// Nicknames exposes the effective nickname table
func (c *NameComparator) Nicknames() *NicknameTable {
	return c.nicknames
}

// CompareComponent scores two normalized name components
func (c *NameComparator) CompareComponent(a, b string) ComponentScore {
	if a == "" || b == "" {
		return ComponentScore{}
	}

	var score ComponentScore
	switch {
	case a == b:
		score.Similarity = 1.0
	case c.nicknames.Equivalent(a, b):
		score.Similarity = 1.0
		score.Nickname = true
	default:
		score.Similarity = max(c.scorer.JaroWinkler(a, b), c.scorer.Levenshtein(a, b))
		if c.scorer.SoundexMatch(a, b) == 1.0 {
			score.Similarity = min(1.0, score.Similarity+c.settings.SoundexBonus)
			score.SoundexBonus = true
		}
		score.Metaphone = c.scorer.MetaphoneMatch(a, b) == 1.0
	}

	if min(len([]rune(a)), len([]rune(b))) == 1 {
		score.Similarity *= c.settings.ShortNameDiscount
		score.LowConfidence = true
	}

	return score
}

// Compare scores two identifier sets by name. The result is not comparable when
// either side has no usable name. First and last components are averaged; the
// middle name joins the average only when both sides have one.
func (c *NameComparator) Compare(a, b *models.HashedIdentifierSet) Comparison {
	type pair struct{ x, y string }
	var components []pair
	if a.FirstNormalized != "" && b.FirstNormalized != "" {
		components = append(components, pair{a.FirstNormalized, b.FirstNormalized})
	}
	if a.LastNormalized != "" && b.LastNormalized != "" {
		components = append(components, pair{a.LastNormalized, b.LastNormalized})
	}
	if a.MiddleNormalized != "" && b.MiddleNormalized != "" {
		components = append(components, pair{a.MiddleNormalized, b.MiddleNormalized})
	}

	if !a.Has(models.IdentifierName) || !b.Has(models.IdentifierName) {
		return Comparison{Details: []string{models.DetailMissingSide}}
	}
	if len(components) == 0 {
		// both have a name but no component lines up (first-only vs last-only)
		return Comparison{Comparable: true}
	}

	var total float64
	details := newDetailSet()
	for _, p := range components {
		s := c.CompareComponent(p.x, p.y)
		total += s.Similarity
		if s.Nickname {
			details.add(models.DetailNickname)
		}
		if s.SoundexBonus {
			details.add(models.DetailSoundexBonus)
		}
		if s.Metaphone {
			details.add(models.DetailMetaphone)
		}
		if s.LowConfidence {
			details.add(models.DetailLowConfidence)
		}
	}

	return Comparison{
		Comparable: true,
		Similarity: total / float64(len(components)),
		Details:    details.list(),
	}
}

type detailSet struct {
	order []string
	seen  map[string]bool
}

func newDetailSet() *detailSet {
	return &detailSet{seen: map[string]bool{}}
}

func (d *detailSet) add(detail string) {
	if d.seen[detail] {
		return
	}
	d.seen[detail] = true
	d.order = append(d.order, detail)
}

func (d *detailSet) list() []string {
	if len(d.order) == 0 {
		return nil
	}
	return d.order
}
