package categorization

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FuzzyMatch is a typo-tolerant rule hit.
type FuzzyMatch struct {
	Rule  Rule
	Score int // 0-100
}

// FuzzyMatcher catches misspelled or truncated merchant names such as
// "AMAZN MKTP" against a rule for "amazon".
type FuzzyMatcher struct {
	rules []fuzzyRule
}

type fuzzyRule struct {
	normalized string
	words      int
	rule       Rule
}

// NewFuzzyMatcher expects rules already ordered by priority.
func NewFuzzyMatcher(rules []Rule) *FuzzyMatcher {
	fm := &FuzzyMatcher{rules: make([]fuzzyRule, 0, len(rules))}
	for _, r := range rules {
		n := normalizeText(r.Pattern)
		if n == "" {
			continue
		}
		fm.rules = append(fm.rules, fuzzyRule{
			normalized: n,
			words:      len(strings.Fields(n)),
			rule:       r,
		})
	}
	return fm
}

// Match returns the best rule scoring at least threshold. Equal scores go to
// the rule evaluated first.
func (fm *FuzzyMatcher) Match(description string, threshold int) *FuzzyMatch {
	if fm == nil || len(fm.rules) == 0 {
		return nil
	}
	tokens := strings.Fields(normalizeText(description))
	if len(tokens) == 0 {
		return nil
	}

	var best *FuzzyMatch
	for _, fr := range fm.rules {
		score := windowScore(tokens, fr.normalized, fr.words)
		if score < threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &FuzzyMatch{Rule: fr.rule, Score: score}
		}
	}
	return best
}

// windowScore compares the pattern with every run of the same number of
// description words and keeps the best similarity.
func windowScore(tokens []string, pattern string, words int) int {
	if len(tokens) <= words {
		return similarity(strings.Join(tokens, " "), pattern)
	}
	best := 0
	for i := 0; i+words <= len(tokens); i++ {
		if s := similarity(strings.Join(tokens[i:i+words], " "), pattern); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// similarity is the better of normalized edit distance and an
// accent-insensitive subsequence rank, on a 0-100 scale.
func similarity(text, pattern string) int {
	if text == pattern {
		return 100
	}
	maxLen := max(len([]rune(text)), len([]rune(pattern)))
	if maxLen == 0 {
		return 0
	}
	score := 100 * (maxLen - levenshtein.ComputeDistance(text, pattern)) / maxLen

	if rank := fuzzy.RankMatchNormalizedFold(pattern, text); rank >= 0 {
		textLen := len([]rune(text))
		if fold := 100 - 100*rank/textLen; fold > score {
			score = fold
		}
	}
	return score
}

// normalizeText lowercases and replaces punctuation with spaces.
func normalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
