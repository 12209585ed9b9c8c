package matching

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/antzucaro/matchr"
)

// Jaro-Winkler prefix bonus is computed over at most this many leading characters
const maxPrefixLength = 4

// Scorer provides string comparison primitives. All similarities are in [0,1]
// and an empty operand always scores 0.
type Scorer struct {
	prefixScale float64
}

// NewScorer creates a new Scorer with the given Jaro-Winkler prefix scale
func NewScorer(prefixScale float64) *Scorer {
	if prefixScale < 0 {
		prefixScale = 0
	}
	if prefixScale > 1.0/maxPrefixLength {
		prefixScale = 1.0 / maxPrefixLength
	}
	return &Scorer{prefixScale: prefixScale}
}

// ExactMatch returns 1.0 for equal non-empty values, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings,
// boosting pairs that share up to four leading characters
func (s *Scorer) JaroWinkler(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	jaro := jaro(ra, rb)

	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < maxPrefixLength; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*s.prefixScale*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	return jaro(ra, rb)
}

func jaro(a, b []rune) float64 {
	if string(a) == string(b) {
		return 1.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein returns 1 - distance/max(len(a), len(b)), measured in runes
func (s *Scorer) Levenshtein(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(max(la, lb))
}

// Soundex calculates the American Soundex encoding of a string. Non-letters
// are ignored; the result is empty when the input has no letters.
func (s *Scorer) Soundex(str string) string {
	letters := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return -1
	}, str)
	if letters == "" {
		return ""
	}
	return matchr.Soundex(letters)
}

// SoundexMatch returns 1.0 if both strings have the same non-empty Soundex code
func (s *Scorer) SoundexMatch(a, b string) float64 {
	ca, cb := s.Soundex(a), s.Soundex(b)
	if ca == "" || cb == "" || ca != cb {
		return 0.0
	}
	return 1.0
}

// Metaphone returns the primary Double Metaphone code of a string
func (s *Scorer) Metaphone(str string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, str)
	if clean == "" {
		return ""
	}
	primary, _ := matchr.DoubleMetaphone(clean)
	return primary
}

// MetaphoneMatch returns 1.0 when any Double Metaphone code of a matches any of b
func (s *Scorer) MetaphoneMatch(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	pa, sa := matchr.DoubleMetaphone(a)
	pb, sb := matchr.DoubleMetaphone(b)
	for _, x := range []string{pa, sa} {
		if x == "" {
			continue
		}
		if x == pb || x == sb {
			return 1.0
		}
	}
	return 0.0
}
