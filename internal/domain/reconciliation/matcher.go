// Package reconciliation scores ledger transactions against statement lines
// and tracks which transactions a reconciliation has accepted.
package reconciliation

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
)

const (
	amountExactScore = 40
	amountNearScore  = 35
	dateMaxScore     = 30
	descMaxScore     = 30

	// Similarity at or above which two descriptions count as the same text.
	nearIdentical = 0.95
)

// DefaultAmountTolerance is the largest absolute amount difference a
// candidate may have and still be considered.
var DefaultAmountTolerance = decimal.New(1, -2)

// Matcher ranks candidates for a query. The zero value is not usable; use
// NewMatcher.
type Matcher struct {
	AmountTolerance decimal.Decimal
	DateWindowDays  int
}

func NewMatcher() *Matcher {
	return &Matcher{AmountTolerance: DefaultAmountTolerance, DateWindowDays: 3}
}

// Score returns the confidence of c for q. ok is false when the amounts are
// further apart than the tolerance.
func (m *Matcher) Score(q Query, c Candidate) (Match, bool) {
	diff := q.Amount.Sub(c.Amount).Abs()
	if diff.GreaterThan(m.AmountTolerance) {
		return Match{}, false
	}
	exactAmount := diff.IsZero()

	score := amountNearScore
	if exactAmount {
		score = amountExactScore
	}

	delta := dayDelta(q.Date, c.Date)
	if delta <= m.DateWindowDays {
		window := m.DateWindowDays + 1
		score += dateMaxScore * (window - delta) / window
	}

	sim := DescriptionSimilarity(q.Description, c.Description)
	score += int(math.Round(sim * descMaxScore))

	switch {
	case exactAmount && delta == 0 && sim >= nearIdentical:
		score = 100
	case score > 99:
		score = 99
	}

	return Match{Transaction: c, Confidence: score, DateDelta: delta, Similarity: sim}, true
}

// Rank scores every candidate and orders the survivors by confidence, then
// smaller date distance, then transaction id.
func (m *Matcher) Rank(q Query, candidates []Candidate) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if match, ok := m.Score(q, c); ok {
			matches = append(matches, match)
		}
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if a.Confidence != b.Confidence {
			return cmp.Compare(b.Confidence, a.Confidence)
		}
		if a.DateDelta != b.DateDelta {
			return cmp.Compare(a.DateDelta, b.DateDelta)
		}
		return strings.Compare(a.Transaction.ID.String(), b.Transaction.ID.String())
	})
	return matches
}

func dayDelta(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(math.Round(from.Sub(to).Hours() / 24))
	if days < 0 {
		return -days
	}
	return days
}

// DescriptionSimilarity returns a value in [0,1]: the larger of token
// overlap (Jaccard) and normalized edit distance, ignoring case and
// punctuation.
func DescriptionSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return max(jaccard(ta, tb), editSimilarity(strings.Join(ta, " "), strings.Join(tb, " ")))
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = false
	}
	union := len(set)
	shared := 0
	for _, t := range b {
		seen, ok := set[t]
		switch {
		case !ok:
			set[t] = true
			union++
		case !seen:
			set[t] = true
			shared++
		}
	}
	return float64(shared) / float64(union)
}

func editSimilarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
