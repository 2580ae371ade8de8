package categorization

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import-engine/pkg/metrics"
)

// DefaultAutoApplyThreshold is the confidence a suggestion must exceed to be
// applied without asking the user.
const DefaultAutoApplyThreshold = 75

// Service handles rule management, suggestion and the feedback loop. It keeps
// no compiled state between calls: rules and patterns may be written by other
// processes, so every Engine is built from the repository.
type Service struct {
	repo    Repository
	policy  LearningPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithPolicy(p LearningPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new categorization service
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		policy: DefaultPolicy{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine compiles the user's current rules and active learned patterns. The
// result is a snapshot; callers that categorize many descriptions in one unit
// of work, such as an import run, should build it once and reuse it.
func (s *Service) Engine(ctx context.Context, userID uuid.UUID) (*Engine, error) {
	rules, err := s.repo.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categorization engine: %w", err)
	}
	patterns, err := s.repo.ListActivePatterns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categorization engine: %w", err)
	}
	return NewEngine(rules, patterns), nil
}

// Categorize builds a fresh engine and runs it without logging. Blank
// descriptions produce a SourceNone suggestion.
func (s *Service) Categorize(ctx context.Context, userID uuid.UUID, description string, threshold int) (*Suggestion, error) {
	if strings.TrimSpace(description) == "" {
		return &Suggestion{Source: SourceNone}, nil
	}
	e, err := s.Engine(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.CategorizeWith(e, description, threshold), nil
}

// CategorizeWith runs e against description. AutoApplied is set when
// confidence is strictly above threshold.
func (s *Service) CategorizeWith(e *Engine, description string, threshold int) *Suggestion {
	if e == nil || strings.TrimSpace(description) == "" {
		return &Suggestion{Source: SourceNone}
	}
	sugg := e.Categorize(description)
	sugg.AutoApplied = sugg.Matched() && sugg.Confidence > threshold
	s.metrics.Suggestion(string(sugg.Source), sugg.AutoApplied)
	return sugg
}

// LogSuggestion appends the attempt to the audit log and stores the log id on
// sugg.
func (s *Service) LogSuggestion(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, sugg *Suggestion) error {
	entry := &SuggestionLog{
		UserID:              userID,
		TransactionID:       transactionID,
		Description:         description,
		SuggestedCategoryID: sugg.CategoryID,
		Source:              sugg.Source,
		RuleID:              sugg.RuleID,
		PatternID:           sugg.PatternID,
		MatchedKeywords:     sugg.MatchedKeywords,
		Confidence:          sugg.Confidence,
		AutoApplied:         sugg.AutoApplied,
	}
	if err := s.repo.InsertSuggestionLog(ctx, entry); err != nil {
		return err
	}
	sugg.LogID = &entry.ID

	if sugg.PatternID != nil && sugg.AutoApplied {
		if err := s.repo.TouchPattern(ctx, *sugg.PatternID); err != nil {
			return err
		}
	}
	return nil
}

// Suggest is the manual-entry path: categorize and log. A failed log write is
// reported but does not discard the suggestion.
func (s *Service) Suggest(ctx context.Context, userID uuid.UUID, description string, threshold int) (*Suggestion, error) {
	if strings.TrimSpace(description) == "" {
		return &Suggestion{Source: SourceNone}, nil
	}
	sugg, err := s.Categorize(ctx, userID, description, threshold)
	if err != nil {
		return nil, err
	}
	if err := s.LogSuggestion(ctx, userID, nil, description, sugg); err != nil {
		s.logger.Warn("failed to log category suggestion",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
	return sugg, nil
}

// ListRules returns the user's unarchived rules.
func (s *Service) ListRules(ctx context.Context, userID uuid.UUID) ([]Rule, error) {
	return s.repo.ListRules(ctx, userID)
}

// CreateRule adds an active rule. Priorities are unique per user.
func (s *Service) CreateRule(ctx context.Context, userID uuid.UUID, pattern string, categoryID uuid.UUID, priority int) (*Rule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	rule := &Rule{
		UserID:     userID,
		Pattern:    pattern,
		CategoryID: categoryID,
		Priority:   priority,
		IsActive:   true,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ArchiveRule(ctx context.Context, userID, ruleID uuid.UUID) error {
	return s.repo.ArchiveRule(ctx, userID, ruleID)
}

// Accept records agreement with a suggestion and reinforces its keywords.
func (s *Service) Accept(ctx context.Context, userID, suggestionID uuid.UUID) error {
	entry, err := s.repo.GetSuggestionLog(ctx, userID, suggestionID)
	if err != nil {
		return err
	}
	if err := s.repo.SetSuggestionAction(ctx, userID, suggestionID, ActionAccepted); err != nil {
		return err
	}
	if entry.SuggestedCategoryID == nil {
		return nil
	}
	return s.learn(ctx, userID, feedbackKeywords(entry), *entry.SuggestedCategoryID, true)
}

// Reject records disagreement with a suggestion and decays the learned
// patterns that produced it.
func (s *Service) Reject(ctx context.Context, userID, suggestionID uuid.UUID) error {
	entry, err := s.repo.GetSuggestionLog(ctx, userID, suggestionID)
	if err != nil {
		return err
	}
	if err := s.repo.SetSuggestionAction(ctx, userID, suggestionID, ActionRejected); err != nil {
		return err
	}
	if entry.SuggestedCategoryID == nil || entry.Source != SourceLearned {
		return nil
	}
	return s.learn(ctx, userID, entry.MatchedKeywords, *entry.SuggestedCategoryID, false)
}

// CorrectionInput describes a user recategorizing a transaction.
type CorrectionInput struct {
	UserID              uuid.UUID
	TransactionID       uuid.UUID
	Description         string
	PreviousCategoryID  *uuid.UUID
	CorrectedCategoryID uuid.UUID
	SuggestionID        *uuid.UUID
}

// Correct records the correction, marks the originating suggestion, decays
// the keywords against the previous category and reinforces them against the
// corrected one.
func (s *Service) Correct(ctx context.Context, in CorrectionInput) (*Correction, error) {
	c := &Correction{
		UserID:              in.UserID,
		TransactionID:       in.TransactionID,
		Description:         in.Description,
		PreviousCategoryID:  in.PreviousCategoryID,
		CorrectedCategoryID: in.CorrectedCategoryID,
		SuggestionID:        in.SuggestionID,
		Keywords:            Keywords(in.Description),
	}
	if err := s.repo.InsertCorrection(ctx, c); err != nil {
		return nil, err
	}
	if in.SuggestionID != nil {
		if err := s.repo.SetSuggestionAction(ctx, in.UserID, *in.SuggestionID, ActionCorrected); err != nil {
			return nil, err
		}
	}

	if in.PreviousCategoryID != nil && *in.PreviousCategoryID != in.CorrectedCategoryID {
		if err := s.learn(ctx, in.UserID, c.Keywords, *in.PreviousCategoryID, false); err != nil {
			return nil, err
		}
	}
	if err := s.learn(ctx, in.UserID, c.Keywords, in.CorrectedCategoryID, true); err != nil {
		return nil, err
	}
	return c, nil
}

// Observe learns from a transaction the user categorized explicitly, such as
// an imported row with a category column.
func (s *Service) Observe(ctx context.Context, userID uuid.UUID, description string, categoryID uuid.UUID) error {
	return s.learn(ctx, userID, Keywords(description), categoryID, true)
}

func (s *Service) learn(ctx context.Context, userID uuid.UUID, keywords []string, categoryID uuid.UUID, agree bool) error {
	if len(keywords) == 0 {
		return nil
	}
	adjust := s.decay
	if agree {
		adjust = s.reinforce
	}
	for _, kw := range keywords {
		if err := s.repo.AdjustPattern(ctx, userID, kw, categoryID, agree, adjust); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reinforce(p *LearnedPattern) {
	if p.ID == uuid.Nil {
		p.ConfidenceScore = s.policy.Initial()
	} else {
		p.ConfidenceScore = s.policy.Reinforce(p.ConfidenceScore)
	}
	p.OccurrenceCount++
	p.IsActive = s.policy.Active(p.ConfidenceScore)
}

func (s *Service) decay(p *LearnedPattern) {
	p.ConfidenceScore = s.policy.Decay(p.ConfidenceScore)
	p.IsActive = s.policy.Active(p.ConfidenceScore)
}

// feedbackKeywords picks the keywords an acceptance should reinforce.
func feedbackKeywords(entry *SuggestionLog) []string {
	if entry.Source == SourceLearned && len(entry.MatchedKeywords) > 0 {
		return entry.MatchedKeywords
	}
	return Keywords(entry.Description)
}
