package categorization

import (
	"slices"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// DefaultFuzzyThreshold is the minimum similarity for a rule_fuzzy match.
const DefaultFuzzyThreshold = 80

// Engine evaluates a user's rules and learned patterns against descriptions.
// Both keyword sets are compiled into Aho-Corasick automata so a description
// is scanned once per stage regardless of how many patterns the user has.
// An Engine is immutable once built and safe for concurrent use.
type Engine struct {
	rules     []Rule
	ruleIndex *ahocorasick.Matcher
	// ruleGroups maps each automaton entry to the rules sharing that pattern.
	ruleGroups [][]int

	fuzzy          *FuzzyMatcher
	fuzzyThreshold int

	patterns      []LearnedPattern
	keywordIndex  *ahocorasick.Matcher
	keywordGroups [][]int

	merchants *MerchantSanitizer
}

// NewEngine compiles the active rules and patterns. Inactive or archived
// entries are ignored.
func NewEngine(rules []Rule, patterns []LearnedPattern) *Engine {
	e := &Engine{fuzzyThreshold: DefaultFuzzyThreshold, merchants: defaultMerchants}

	for _, r := range rules {
		if r.IsActive && r.ArchivedAt == nil && strings.TrimSpace(r.Pattern) != "" {
			e.rules = append(e.rules, r)
		}
	}
	slices.SortStableFunc(e.rules, func(a, b Rule) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	e.ruleIndex, e.ruleGroups = compile(len(e.rules), func(i int) string { return e.rules[i].Pattern })
	e.fuzzy = NewFuzzyMatcher(e.rules)

	for _, p := range patterns {
		if p.IsActive && strings.TrimSpace(p.Keyword) != "" {
			e.patterns = append(e.patterns, p)
		}
	}
	e.keywordIndex, e.keywordGroups = compile(len(e.patterns), func(i int) string { return e.patterns[i].Keyword })

	return e
}

// compile builds an automaton over the lowercased keys, grouping entries that
// share a key.
func compile(n int, key func(int) string) (*ahocorasick.Matcher, [][]int) {
	if n == 0 {
		return nil, nil
	}
	index := make(map[string]int, n)
	var dict []string
	var groups [][]int
	for i := range n {
		k := strings.ToLower(strings.TrimSpace(key(i)))
		if at, ok := index[k]; ok {
			groups[at] = append(groups[at], i)
			continue
		}
		index[k] = len(dict)
		dict = append(dict, k)
		groups = append(groups, []int{i})
	}
	return ahocorasick.NewStringMatcher(dict), groups
}

// RuleCount returns the number of active rules loaded.
func (e *Engine) RuleCount() int { return len(e.rules) }

// PatternCount returns the number of active learned patterns loaded.
func (e *Engine) PatternCount() int { return len(e.patterns) }

// Categorize runs the rule stage and, when no rule matches, the learned
// pattern stage. Exact rules and learned keywords also see the canonical
// merchant name, so "AMZN MKTP US*2K3" matches a rule for "amazon". It never
// returns nil.
func (e *Engine) Categorize(description string) *Suggestion {
	lower := strings.ToLower(e.merchants.MatchText(description))

	if r := e.matchExact(lower); r != nil {
		return ruleSuggestion(r, SourceRuleExact, 100)
	}
	if m := e.fuzzy.Match(description, e.fuzzyThreshold); m != nil {
		// 100 is reserved for exact matches
		return ruleSuggestion(&m.Rule, SourceRuleFuzzy, min(m.Score, 99))
	}
	if p, keywords := e.matchLearned(lower); p != nil {
		categoryID, patternID := p.CategoryID, p.ID
		return &Suggestion{
			CategoryID:      &categoryID,
			Source:          SourceLearned,
			PatternID:       &patternID,
			MatchedKeywords: keywords,
			Confidence:      p.ConfidenceScore,
		}
	}
	return &Suggestion{Source: SourceNone}
}

func ruleSuggestion(r *Rule, source Source, confidence int) *Suggestion {
	categoryID, ruleID := r.CategoryID, r.ID
	return &Suggestion{
		CategoryID:      &categoryID,
		Source:          source,
		RuleID:          &ruleID,
		MatchedKeywords: []string{strings.ToLower(r.Pattern)},
		Confidence:      confidence,
	}
}

// matchExact returns the lowest-priority rule whose pattern is a substring.
func (e *Engine) matchExact(lower string) *Rule {
	if e.ruleIndex == nil {
		return nil
	}
	best := -1
	for _, hit := range e.ruleIndex.MatchThreadSafe([]byte(lower)) {
		for _, i := range e.ruleGroups[hit] {
			if best < 0 || i < best {
				best = i
			}
		}
	}
	if best < 0 {
		return nil
	}
	return &e.rules[best]
}

// matchLearned picks the matching pattern with the highest confidence, then
// the highest occurrence count. It also returns every matched keyword that
// points at the chosen category.
func (e *Engine) matchLearned(lower string) (*LearnedPattern, []string) {
	if e.keywordIndex == nil {
		return nil, nil
	}
	var matched []int
	for _, hit := range e.keywordIndex.MatchThreadSafe([]byte(lower)) {
		matched = append(matched, e.keywordGroups[hit]...)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	best := matched[0]
	for _, i := range matched[1:] {
		if betterPattern(&e.patterns[i], &e.patterns[best]) {
			best = i
		}
	}
	chosen := &e.patterns[best]

	var keywords []string
	for _, i := range matched {
		if e.patterns[i].CategoryID == chosen.CategoryID {
			keywords = append(keywords, strings.ToLower(e.patterns[i].Keyword))
		}
	}
	slices.Sort(keywords)
	return chosen, slices.Compact(keywords)
}

func betterPattern(a, b *LearnedPattern) bool {
	if a.ConfidenceScore != b.ConfidenceScore {
		return a.ConfidenceScore > b.ConfidenceScore
	}
	if a.OccurrenceCount != b.OccurrenceCount {
		return a.OccurrenceCount > b.OccurrenceCount
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}
