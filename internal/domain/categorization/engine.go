package categorization

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
)

// MatchResult represents a single keyword hit with the triple it proposes
type MatchResult struct {
	Pattern  string // The leaf name found in the text
	Triple   Triple // The taxonomy entry the leaf belongs to
	Priority int    // Higher priority matches take precedence
}

// Engine infers a triple from free text (an expense description) by scanning it for
// taxonomy leaf names with the Aho-Corasick algorithm, in a single pass regardless
// of how many leaves the household has defined.
type Engine struct {
	matcher  *ahocorasick.Matcher
	patterns []string        // Unique patterns in same order as matcher
	metadata [][]MatchResult // Metadata for each pattern
	mu       sync.RWMutex    // Protects rebuilding the matcher
}

// NewEngine creates an engine over a taxonomy snapshot.
func NewEngine(tax *Taxonomy) *Engine {
	e := &Engine{}
	e.Build(tax)
	return e
}

// Build constructs the matcher from sub_category and category names.
// Sub-category hits outrank category hits and longer names outrank shorter ones.
// The catch-all name 其他 is never a keyword.
func (e *Engine) Build(tax *Taxonomy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.matcher = nil
	e.patterns = nil
	e.metadata = nil
	if tax.Len() == 0 {
		return
	}

	patternToIndex := make(map[string]int)
	addPattern := func(name string, result MatchResult) {
		clean := strings.ToUpper(strings.TrimSpace(name))
		if clean == "" || clean == OtherName {
			return
		}
		result.Pattern = name
		result.Priority += utf8.RuneCountInString(clean)
		if idx, exists := patternToIndex[clean]; exists {
			e.metadata[idx] = append(e.metadata[idx], result)
			return
		}
		patternToIndex[clean] = len(e.patterns)
		e.patterns = append(e.patterns, clean)
		e.metadata = append(e.metadata, []MatchResult{result})
	}

	for _, t := range tax.Triples() {
		addPattern(t.SubCategory, MatchResult{Triple: t, Priority: 1000})
	}
	for _, t := range tax.Categories() {
		addPattern(t.Category, MatchResult{Triple: t})
	}

	if len(e.patterns) == 0 {
		return
	}
	bytePatterns := make([][]byte, len(e.patterns))
	for i, p := range e.patterns {
		bytePatterns[i] = []byte(p)
	}
	e.matcher = ahocorasick.NewMatcher(bytePatterns)
}

// Match finds all leaf names in the description and returns the best one, or nil.
// Among equal priorities the entry seen first in the taxonomy wins.
func (e *Engine) Match(description string) *MatchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.match(description)
}

// MatchBatch infers triples for many descriptions under a single lock.
func (e *Engine) MatchBatch(descriptions []string) []*MatchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]*MatchResult, len(descriptions))
	for i, desc := range descriptions {
		results[i] = e.match(desc)
	}
	return results
}

func (e *Engine) match(description string) *MatchResult {
	if e.matcher == nil || description == "" {
		return nil
	}

	matches := e.matcher.MatchThreadSafe([]byte(strings.ToUpper(description)))
	if len(matches) == 0 {
		return nil
	}

	var bestMatch *MatchResult
	bestIdx := -1
	for _, idx := range matches {
		if idx < 0 || idx >= len(e.metadata) {
			continue
		}
		// only the first entry per pattern: it is the earliest in the taxonomy
		match := e.metadata[idx][0]
		if bestMatch == nil || match.Priority > bestMatch.Priority ||
			(match.Priority == bestMatch.Priority && idx < bestIdx) {
			matchCopy := match
			bestMatch = &matchCopy
			bestIdx = idx
		}
	}
	return bestMatch
}

// PatternCount returns the number of patterns loaded in the engine.
func (e *Engine) PatternCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.patterns)
}

// IsEmpty returns true if the engine has no patterns loaded.
func (e *Engine) IsEmpty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matcher == nil
}
