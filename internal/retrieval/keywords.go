// Package retrieval selects agents and shortlists tools for a user
// query. Ranking blends embedding similarity with lexical keyword
// overlap, then applies per-agent feedback boosts; an optional reranker
// can reorder the shortlist.
package retrieval

import (
	"strings"
	"unicode"
)

// QueryKeywords holds the tokens extracted from a user query, split by
// how strongly they should count in lexical matching.
type QueryKeywords struct {
	// Primary keywords are distinctive tokens (proper nouns, long or
	// rare words like place names and KPI ids).
	Primary []string

	// Secondary keywords are ordinary content words.
	Secondary []string

	// Weights map keywords to importance scores (0.0-1.0).
	Weights map[string]float64
}

// swedishStopwords covers the function words of both query languages.
var swedishStopwords = map[string]bool{
	// Swedish
	"och": true, "i": true, "att": true, "det": true, "som": true,
	"en": true, "ett": true, "är": true, "av": true, "för": true,
	"på": true, "med": true, "till": true, "den": true, "har": true,
	"de": true, "inte": true, "om": true, "du": true, "jag": true,
	"vad": true, "vem": true, "hur": true, "när": true, "var": true,
	"blir": true, "kan": true, "ska": true, "vill": true, "finns": true,
	"mig": true, "alla": true, "här": true, "där": true, "nu": true,
	// English
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"what": true, "who": true, "how": true, "when": true, "where": true,
	"of": true, "to": true, "in": true, "for": true, "and": true,
	"can": true, "you": true, "me": true, "my": true, "all": true,
	"will": true, "be": true, "do": true, "does": true, "this": true,
}

// ExtractKeywords tokenizes a query and classifies its content words.
// Capitalized tokens and digit-bearing tokens (place names, KPI ids,
// organization numbers) are primary; other content words secondary.
func ExtractKeywords(query string) *QueryKeywords {
	kw := &QueryKeywords{Weights: make(map[string]float64)}

	seen := make(map[string]bool)
	for _, raw := range strings.Fields(query) {
		tok := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)
		if swedishStopwords[lower] || len([]rune(lower)) < 2 || seen[lower] {
			continue
		}
		seen[lower] = true

		first := []rune(tok)[0]
		hasDigit := strings.IndexFunc(tok, unicode.IsDigit) >= 0
		if hasDigit || unicode.IsUpper(first) || len([]rune(lower)) >= 8 {
			kw.Primary = append(kw.Primary, lower)
			kw.Weights[lower] = 0.9
		} else {
			kw.Secondary = append(kw.Secondary, lower)
			kw.Weights[lower] = 0.5
		}
	}
	return kw
}

// AllKeywords returns all keywords in priority order.
func (kw *QueryKeywords) AllKeywords() []string {
	all := make([]string, 0, len(kw.Primary)+len(kw.Secondary))
	all = append(all, kw.Primary...)
	all = append(all, kw.Secondary...)
	return all
}

// OverlapScore sums the weights of the keywords found in text.
// Text is matched case-insensitively.
func (kw *QueryKeywords) OverlapScore(text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	matched := 0
	for _, k := range kw.AllKeywords() {
		if strings.Contains(lower, k) {
			score += kw.Weights[k]
			matched++
		}
	}
	// Matching several distinct keywords counts for more than one
	// strong match.
	if matched > 1 {
		score *= 1.0 + float64(matched-1)*0.2
	}
	return score
}
