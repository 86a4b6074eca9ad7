// Package categorization resolves (project, category, sub_category) triples against the
// household taxonomy so imported and AI-parsed records never grow near-duplicate leaves.
package categorization

import "strings"

// Catch-all leaf names and the hard default triple.
const (
	OtherName      = "其他"
	DefaultProject = "日常开支"
)

// DefaultTriple is returned when the taxonomy offers nothing better.
var DefaultTriple = Triple{Project: DefaultProject, Category: OtherName, SubCategory: OtherName}

// Triple is one leaf of the category hierarchy. A candidate may leave fields empty;
// a resolved triple never does.
type Triple struct {
	Project     string `json:"project"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

// Trim returns t with surrounding whitespace removed from every field.
func (t Triple) Trim() Triple {
	return Triple{
		Project:     strings.TrimSpace(t.Project),
		Category:    strings.TrimSpace(t.Category),
		SubCategory: strings.TrimSpace(t.SubCategory),
	}
}

// Complete reports whether all three fields are non-empty.
func (t Triple) Complete() bool {
	return t.Project != "" && t.Category != "" && t.SubCategory != ""
}

func (t Triple) String() string {
	return t.Project + "/" + t.Category + "/" + t.SubCategory
}

type categoryPair struct {
	category    string
	subCategory string
}

// Taxonomy is an immutable snapshot of known triples. Lookups that can hit several
// entries resolve to the first one in source order.
type Taxonomy struct {
	triples    []Triple
	set        map[Triple]struct{}
	byPair     map[categoryPair]int
	byCategory map[string]int
	other      int
	fuzzy      *FuzzyMatcher
}

// NewTaxonomy indexes triples, dropping incomplete entries and duplicates.
func NewTaxonomy(triples []Triple) *Taxonomy {
	tax := &Taxonomy{
		triples:    make([]Triple, 0, len(triples)),
		set:        make(map[Triple]struct{}, len(triples)),
		byPair:     make(map[categoryPair]int),
		byCategory: make(map[string]int),
		other:      -1,
	}

	for _, t := range triples {
		t = t.Trim()
		if !t.Complete() {
			continue
		}
		if _, dup := tax.set[t]; dup {
			continue
		}

		idx := len(tax.triples)
		tax.triples = append(tax.triples, t)
		tax.set[t] = struct{}{}

		pair := categoryPair{t.Category, t.SubCategory}
		if _, ok := tax.byPair[pair]; !ok {
			tax.byPair[pair] = idx
		}
		if _, ok := tax.byCategory[t.Category]; !ok {
			tax.byCategory[t.Category] = idx
		}
		if tax.other < 0 && t.Category == OtherName && t.SubCategory == OtherName {
			tax.other = idx
		}
	}
	tax.fuzzy = NewFuzzyMatcher(tax.Categories())

	return tax
}

// Contains is the exact, case-sensitive membership test on the trimmed triple.
func (tax *Taxonomy) Contains(t Triple) bool {
	if tax == nil {
		return false
	}
	_, ok := tax.set[t.Trim()]
	return ok
}

// Len returns the number of distinct triples.
func (tax *Taxonomy) Len() int {
	if tax == nil {
		return 0
	}
	return len(tax.triples)
}

// Triples returns a copy of the snapshot in source order.
func (tax *Taxonomy) Triples() []Triple {
	if tax == nil {
		return nil
	}
	return append([]Triple(nil), tax.triples...)
}

// Categories returns distinct category names with the first entry carrying each.
func (tax *Taxonomy) Categories() []Triple {
	if tax == nil {
		return nil
	}
	out := make([]Triple, 0, len(tax.byCategory))
	for i, t := range tax.triples {
		if tax.byCategory[t.Category] == i {
			out = append(out, t)
		}
	}
	return out
}

func (tax *Taxonomy) lookupPair(category, subCategory string) (Triple, bool) {
	idx, ok := tax.byPair[categoryPair{category, subCategory}]
	if !ok {
		return Triple{}, false
	}
	return tax.triples[idx], true
}

func (tax *Taxonomy) lookupCategory(category string) (Triple, bool) {
	idx, ok := tax.byCategory[category]
	if !ok {
		return Triple{}, false
	}
	return tax.triples[idx], true
}

func (tax *Taxonomy) lookupOther() (Triple, bool) {
	if tax.other < 0 {
		return Triple{}, false
	}
	return tax.triples[tax.other], true
}
