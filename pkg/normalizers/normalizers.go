// Package normalizers canonicalizes raw identifier values before hashing or comparison
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = map[string]Normalizer{
	"lowercase":         Lowercase,
	"trim":              Trim,
	"nphone":            NormalizePhone,
	"nssn":              NormalizeSSN,
	"nname":             NormalizeName,
	"remove_diacritics": StripDiacritics,
	"digits_only":       DigitsOnly,
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value untouched.
func Apply(value, normalizer string) string {
	fn, ok := Get(normalizer)
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizePhone keeps digits and drops the North American country code from
// 11 digit numbers so "+1 (555) 010-9999" and "555.010.9999" agree.
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// NormalizeSSN keeps digits only
func NormalizeSSN(s string) string {
	return DigitsOnly(s)
}

// StripDiacritics decomposes the string and drops combining marks, so "José"
// becomes "Jose".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "md": true, "dds": true, "esq": true,
}

// NormalizeName normalizes a person's name for matching:
// diacritics stripped, lowercased, punctuation removed, trailing generational
// and professional suffixes dropped, whitespace collapsed.
func NormalizeName(s string) string {
	tokens := NameTokens(s)
	return strings.Join(tokens, " ")
}

// NameTokens returns the normalized tokens of a name. Hyphens and apostrophes
// join rather than split ("O'Brien" → "obrien", "Smith-Jones" → "smithjones").
func NameTokens(s string) []string {
	s = strings.ToLower(StripDiacritics(s))

	var current strings.Builder
	var tokens []string
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		case unicode.IsSpace(r) || r == ',' || r == '.' || r == '/':
			flush()
		}
	}
	flush()

	for len(tokens) > 1 && nameSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}
