package categorization

import (
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FuzzyMatchResult is a category hit together with its edit distance.
type FuzzyMatchResult struct {
	Triple   Triple // first taxonomy entry carrying the category
	Distance int    // edits between candidate and category (lower = closer)
}

// FuzzyMatcher finds the taxonomy category closest to a misspelt one, catching
// OCR and typing noise such as "餐欲" for "餐饮" or "交通费" for "交通".
type FuzzyMatcher struct {
	categories []fuzzyCategory
}

type fuzzyCategory struct {
	normalized string
	runes      int
	entry      Triple
}

// NewFuzzyMatcher indexes one representative triple per category.
func NewFuzzyMatcher(entries []Triple) *FuzzyMatcher {
	fm := &FuzzyMatcher{categories: make([]fuzzyCategory, 0, len(entries))}
	for _, entry := range entries {
		normalized := normalizeName(entry.Category)
		fm.categories = append(fm.categories, fuzzyCategory{
			normalized: normalized,
			runes:      utf8.RuneCountInString(normalized),
			entry:      entry,
		})
	}
	return fm
}

// Match returns the closest category within maxDistance edits.
// Ties go to the category seen first.
func (fm *FuzzyMatcher) Match(category string, maxDistance int) (Triple, bool) {
	ranked := fm.RankMatches(category, maxDistance, 1)
	if len(ranked) == 0 {
		return Triple{}, false
	}
	return ranked[0].Triple, true
}

// RankMatches returns up to limit categories within maxDistance, closest first.
func (fm *FuzzyMatcher) RankMatches(category string, maxDistance, limit int) []FuzzyMatchResult {
	if fm == nil || maxDistance <= 0 || limit <= 0 {
		return nil
	}
	needle := normalizeName(category)
	if needle == "" {
		return nil
	}
	needleRunes := utf8.RuneCountInString(needle)

	var results []FuzzyMatchResult
	for _, c := range fm.categories {
		if abs(c.runes-needleRunes) > maxDistance {
			continue
		}
		distance := fuzzy.LevenshteinDistance(needle, c.normalized)
		if distance > maxDistance {
			continue
		}
		results = insertRanked(results, FuzzyMatchResult{Triple: c.entry, Distance: distance})
		if len(results) > limit {
			results = results[:limit]
		}
	}
	return results
}

// insertRanked keeps results ordered by distance; equal distances keep arrival order.
func insertRanked(results []FuzzyMatchResult, r FuzzyMatchResult) []FuzzyMatchResult {
	i := len(results)
	for i > 0 && results[i-1].Distance > r.Distance {
		i--
	}
	results = append(results, FuzzyMatchResult{})
	copy(results[i+1:], results[i:])
	results[i] = r
	return results
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
