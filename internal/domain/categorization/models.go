package categorization

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPriorityTaken      = errors.New("another active rule already uses this priority")
	ErrRuleNotFound       = errors.New("rule not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrEmptyPattern       = errors.New("rule pattern is empty")
)

// Source identifies which stage produced a suggestion.
type Source string

const (
	SourceRuleExact Source = "rule_exact"
	SourceRuleFuzzy Source = "rule_fuzzy"
	SourceLearned   Source = "learned_pattern"
	SourceNone      Source = "none"
)

// UserAction is the feedback recorded on a suggestion log entry.
type UserAction string

const (
	ActionAccepted  UserAction = "accepted"
	ActionRejected  UserAction = "rejected"
	ActionCorrected UserAction = "corrected"
)

// Rule is a user-defined keyword to category mapping. Lower Priority values
// are evaluated first and are unique per user among unarchived rules.
type Rule struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Pattern    string
	CategoryID uuid.UUID
	Priority   int
	IsActive   bool
	ArchivedAt *time.Time
	CreatedAt  time.Time
}

// LearnedPattern is a keyword to category association built from feedback.
type LearnedPattern struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CategoryID      uuid.UUID
	Keyword         string
	OccurrenceCount int
	ConfidenceScore int
	FirstLearnedAt  time.Time
	LastMatchedAt   *time.Time
	IsActive        bool
}

// Suggestion is the outcome of running the engine on a description.
type Suggestion struct {
	CategoryID      *uuid.UUID
	Source          Source
	RuleID          *uuid.UUID
	PatternID       *uuid.UUID
	MatchedKeywords []string
	Confidence      int
	AutoApplied     bool
	// LogID is set once the attempt has been logged.
	LogID *uuid.UUID
}

// Matched reports whether any stage produced a category.
func (s *Suggestion) Matched() bool {
	return s != nil && s.CategoryID != nil
}

// SuggestionLog is the audit record of one categorization attempt.
type SuggestionLog struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	TransactionID       *uuid.UUID
	Description         string
	SuggestedCategoryID *uuid.UUID
	Source              Source
	RuleID              *uuid.UUID
	PatternID           *uuid.UUID
	MatchedKeywords     []string
	Confidence          int
	AutoApplied         bool
	UserAction          *UserAction
	ActionAt            *time.Time
	CreatedAt           time.Time
}

// Correction records a user overriding a category.
type Correction struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	TransactionID       uuid.UUID
	Description         string
	PreviousCategoryID  *uuid.UUID
	CorrectedCategoryID uuid.UUID
	SuggestionID        *uuid.UUID
	Keywords            []string
	CreatedAt           time.Time
}
