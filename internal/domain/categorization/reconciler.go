package categorization

// Rule names which step of the matching chain produced a triple.
type Rule string

const (
	RuleExact    Rule = "exact"
	RulePair     Rule = "category_sub_category"
	RuleCategory Rule = "category"
	RuleFuzzy    Rule = "fuzzy_category"
	RuleOther    Rule = "other"
	RuleDefault  Rule = "default"
)

// Resolution is a reconciled triple and the rule that produced it.
type Resolution struct {
	Triple
	Rule Rule `json:"rule"`
}

// Reconciler resolves candidate triples against a taxonomy snapshot.
// It never writes to the taxonomy; the zero value runs the plain chain.
type Reconciler struct {
	// FuzzyDistance enables a Levenshtein category match after the category-only
	// step when greater than zero.
	FuzzyDistance int
}

// Reconcile resolves a candidate with the default chain.
func Reconcile(candidate Triple, tax *Taxonomy) Triple {
	return Reconciler{}.Resolve(candidate, tax).Triple
}

// Reconcile resolves candidate and returns the triple only.
func (r Reconciler) Reconcile(candidate Triple, tax *Taxonomy) Triple {
	return r.Resolve(candidate, tax).Triple
}

// Resolve runs the matching chain; the first rule that fires wins:
//  1. the trimmed triple exists verbatim
//  2. an entry shares category and sub_category: adopt its project
//  3. an entry shares the category: adopt its project, keep the candidate's
//     sub_category when present, otherwise adopt the entry's
//  4. (optional) the closest category within FuzzyDistance, as in 3
//  5. any 其他/其他 entry
//  6. DefaultTriple
func (r Reconciler) Resolve(candidate Triple, tax *Taxonomy) Resolution {
	c := candidate.Trim()
	if tax == nil || tax.Len() == 0 {
		return Resolution{Triple: DefaultTriple, Rule: RuleDefault}
	}

	if c.Complete() && tax.Contains(c) {
		return Resolution{Triple: c, Rule: RuleExact}
	}

	if c.Category != "" && c.SubCategory != "" {
		if entry, ok := tax.lookupPair(c.Category, c.SubCategory); ok {
			return Resolution{Triple: entry, Rule: RulePair}
		}
	}

	if c.Category != "" {
		if entry, ok := tax.lookupCategory(c.Category); ok {
			return Resolution{Triple: adopt(entry, c.SubCategory), Rule: RuleCategory}
		}
	}

	if r.FuzzyDistance > 0 && c.Category != "" {
		if entry, ok := tax.fuzzy.Match(c.Category, r.FuzzyDistance); ok {
			return Resolution{Triple: adopt(entry, c.SubCategory), Rule: RuleFuzzy}
		}
	}

	if entry, ok := tax.lookupOther(); ok {
		return Resolution{Triple: entry, Rule: RuleOther}
	}

	return Resolution{Triple: DefaultTriple, Rule: RuleDefault}
}

func adopt(entry Triple, subCategory string) Triple {
	if subCategory != "" {
		entry.SubCategory = subCategory
	}
	return entry
}
