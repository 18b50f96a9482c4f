package contextbuilder

import (
	"math"
	"regexp"
	"strings"
)

// relevanceScore blends 7-day half-life recency decay, a domain-match
// boost, and a validation-count boost into a score in [0.25, 1.0]. It takes
// no task argument; keyword overlap with the task plays no part in the score.
func relevanceScore(ageDays float64, itemDomain, wantDomain string, timesValidated int) float64 {
	score := 0.5

	recencyFactor := math.Pow(0.5, ageDays/7)
	score *= 0.5 + 0.5*recencyFactor

	if wantDomain != "" && itemDomain == wantDomain {
		score *= 1.5
	}

	switch {
	case timesValidated > 10:
		score *= 1.4
	case timesValidated > 5:
		score *= 1.2
	}

	return math.Min(score, 1.0)
}

var wordPattern = regexp.MustCompile(`\W+`)

func keywordSet(text string) map[string]bool {
	words := wordPattern.Split(strings.ToLower(text), -1)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 3 {
			set[w] = true
		}
	}
	return set
}

// jaccardSimilarity is the ratio of shared to total keywords between two
// keyword sets.
func jaccardSimilarity(a, b map[string]bool) (float64, []string) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	var shared []string
	for w := range a {
		if b[w] {
			shared = append(shared, w)
		}
	}
	union := len(a)
	for w := range b {
		if !a[w] {
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return float64(len(shared)) / float64(union), shared
}
