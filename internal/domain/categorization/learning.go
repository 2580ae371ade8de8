package categorization

import (
	"strings"
	"unicode"
)

// LearningPolicy decides how learned pattern confidence moves with feedback.
type LearningPolicy interface {
	// Initial is the confidence of a newly learned keyword.
	Initial() int
	// Reinforce is applied when the user agrees with the category.
	Reinforce(confidence int) int
	// Decay is applied when the user corrects or rejects the category.
	Decay(confidence int) int
	// Active reports whether a pattern at this confidence should keep matching.
	Active(confidence int) bool
}

// DefaultPolicy closes a quarter of the gap to 100 on agreement and drops a
// third on correction. Patterns below 20 stop matching.
type DefaultPolicy struct{}

func (DefaultPolicy) Initial() int { return 50 }

func (DefaultPolicy) Reinforce(c int) int {
	return clampConfidence(c + (100-c+3)/4)
}

func (DefaultPolicy) Decay(c int) int {
	return clampConfidence(c * 2 / 3)
}

func (DefaultPolicy) Active(c int) bool { return c >= 20 }

func clampConfidence(c int) int {
	return max(0, min(100, c))
}

const maxKeywords = 5

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "from": {}, "with": {}, "card": {}, "payment": {},
	"purchase": {}, "debit": {}, "credit": {}, "pos": {}, "transfer": {}, "www": {}, "com": {},
}

// Keywords extracts up to five distinct lowercase words of at least three
// letters, skipping numbers and common banking noise. A known merchant's
// canonical name comes first.
func Keywords(description string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(normalizeText(defaultMerchants.MatchText(description))) {
		if len([]rune(w)) < 3 || !hasLetter(w) {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
