// Package textmatch holds the row-level matchers shared by the storage
// engine's scalar functions and the in-process IOC re-test.
package textmatch

import (
	"strings"
	"unicode/utf8"
)

const (
	shortTermRunes     = 5
	shortTermThreshold = 0.7
	longTermThreshold  = 0.6
)

// FuzzyMatch reports whether term approximately occurs in text. A plain
// case-insensitive substring hit always matches. Otherwise the term is cut
// into overlapping n-grams (bigrams below five runes, trigrams from five)
// and enough of them must occur in text.
func FuzzyMatch(term, text string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	text = strings.ToLower(text)
	if strings.Contains(text, term) {
		return true
	}

	grams := NGrams(term)
	if len(grams) == 0 {
		return false
	}
	hits := 0
	for _, g := range grams {
		if strings.Contains(text, g) {
			hits++
		}
	}
	return float64(hits)/float64(len(grams)) >= FuzzyThreshold(term)
}

// FuzzyThreshold is the fraction of n-grams that must be present.
func FuzzyThreshold(term string) float64 {
	if utf8.RuneCountInString(term) < shortTermRunes {
		return shortTermThreshold
	}
	return longTermThreshold
}

// NGrams returns the overlapping n-grams of term, n chosen by its length.
// Terms shorter than n yield nothing.
func NGrams(term string) []string {
	runes := []rune(term)
	n := 3
	if len(runes) < shortTermRunes {
		n = 2
	}
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}
