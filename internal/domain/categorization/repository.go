package categorization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/statement-import-engine/pkg/db"
)

// Repository persists rules, learned patterns and the feedback audit trail.
type Repository interface {
	ListRules(ctx context.Context, userID uuid.UUID) ([]Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	ArchiveRule(ctx context.Context, userID, ruleID uuid.UUID) error

	ListActivePatterns(ctx context.Context, userID uuid.UUID) ([]LearnedPattern, error)
	// AdjustPattern loads the (user, keyword, category) pattern under a row
	// lock, applies fn and saves it. When the pattern does not exist it is
	// created only if create is set; fn then sees a zero ID.
	AdjustPattern(ctx context.Context, userID uuid.UUID, keyword string, categoryID uuid.UUID, create bool, fn func(*LearnedPattern)) error
	TouchPattern(ctx context.Context, patternID uuid.UUID) error

	InsertSuggestionLog(ctx context.Context, log *SuggestionLog) error
	GetSuggestionLog(ctx context.Context, userID, id uuid.UUID) (*SuggestionLog, error)
	SetSuggestionAction(ctx context.Context, userID, id uuid.UUID, action UserAction) error
	InsertCorrection(ctx context.Context, c *Correction) error
}

// PostgresRepository implements Repository.
type PostgresRepository struct {
	pool db.Pool
}

func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListRules returns the user's unarchived rules ordered by priority.
func (r *PostgresRepository) ListRules(ctx context.Context, userID uuid.UUID) ([]Rule, error) {
	query := `
		SELECT id, user_id, pattern, category_id, priority, is_active, archived_at, created_at
		FROM auto_category_rules
		WHERE user_id = $1 AND archived_at IS NULL
		ORDER BY priority ASC, id ASC
	`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID,
			&rule.UserID,
			&rule.Pattern,
			&rule.CategoryID,
			&rule.Priority,
			&rule.IsActive,
			&rule.ArchivedAt,
			&rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// CreateRule inserts a rule. A clash on (user, priority) returns ErrPriorityTaken.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule *Rule) error {
	query := `
		INSERT INTO auto_category_rules (user_id, pattern, category_id, priority, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := db.Conn(ctx, r.pool).QueryRow(ctx, query,
		rule.UserID,
		rule.Pattern,
		rule.CategoryID,
		rule.Priority,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrPriorityTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ArchiveRule(ctx context.Context, userID, ruleID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE auto_category_rules SET archived_at = now(), is_active = false
		WHERE id = $1 AND user_id = $2 AND archived_at IS NULL`,
		ruleID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to archive rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

const patternColumns = `id, user_id, category_id, keyword, occurrence_count, confidence_score,
		first_learned_at, last_matched_at, is_active`

func scanPattern(row pgx.Row, p *LearnedPattern) error {
	return row.Scan(
		&p.ID,
		&p.UserID,
		&p.CategoryID,
		&p.Keyword,
		&p.OccurrenceCount,
		&p.ConfidenceScore,
		&p.FirstLearnedAt,
		&p.LastMatchedAt,
		&p.IsActive,
	)
}

func (r *PostgresRepository) ListActivePatterns(ctx context.Context, userID uuid.UUID) ([]LearnedPattern, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+patternColumns+`
		FROM learned_category_patterns
		WHERE user_id = $1 AND is_active
		ORDER BY confidence_score DESC, occurrence_count DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list learned patterns: %w", err)
	}
	defer rows.Close()

	var patterns []LearnedPattern
	for rows.Next() {
		var p LearnedPattern
		if err := scanPattern(rows, &p); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (r *PostgresRepository) AdjustPattern(ctx context.Context, userID uuid.UUID, keyword string, categoryID uuid.UUID, create bool, fn func(*LearnedPattern)) error {
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		var p LearnedPattern
		err := scanPattern(q.QueryRow(ctx, `
			SELECT `+patternColumns+`
			FROM learned_category_patterns
			WHERE user_id = $1 AND keyword = $2 AND category_id = $3
			FOR UPDATE`,
			userID, keyword, categoryID,
		), &p)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if !create {
				return nil
			}
			p = LearnedPattern{UserID: userID, CategoryID: categoryID, Keyword: keyword}
		case err != nil:
			return fmt.Errorf("failed to load learned pattern: %w", err)
		}

		fn(&p)

		if p.ID == uuid.Nil {
			_, err = q.Exec(ctx, `
				INSERT INTO learned_category_patterns
					(user_id, category_id, keyword, occurrence_count, confidence_score, is_active)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (user_id, keyword, category_id) DO NOTHING`,
				userID, categoryID, keyword, p.OccurrenceCount, p.ConfidenceScore, p.IsActive,
			)
		} else {
			_, err = q.Exec(ctx, `
				UPDATE learned_category_patterns
				SET occurrence_count = $2, confidence_score = $3, is_active = $4
				WHERE id = $1`,
				p.ID, p.OccurrenceCount, p.ConfidenceScore, p.IsActive,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to save learned pattern: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) TouchPattern(ctx context.Context, patternID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE learned_category_patterns SET last_matched_at = now() WHERE id = $1`, patternID)
	if err != nil {
		return fmt.Errorf("failed to touch learned pattern: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertSuggestionLog(ctx context.Context, l *SuggestionLog) error {
	keywords := l.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO auto_category_suggestion_logs (
			user_id, transaction_id, description, suggested_category_id, source,
			rule_id, pattern_id, matched_keywords, confidence, auto_applied
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		l.UserID, l.TransactionID, l.Description, l.SuggestedCategoryID, string(l.Source),
		l.RuleID, l.PatternID, keywords, l.Confidence, l.AutoApplied,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log suggestion: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSuggestionLog(ctx context.Context, userID, id uuid.UUID) (*SuggestionLog, error) {
	var (
		l      SuggestionLog
		source string
		action *string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, transaction_id, description, suggested_category_id, source,
		       rule_id, pattern_id, matched_keywords, confidence, auto_applied,
		       user_action, action_at, created_at
		FROM auto_category_suggestion_logs
		WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(
		&l.ID, &l.UserID, &l.TransactionID, &l.Description, &l.SuggestedCategoryID, &source,
		&l.RuleID, &l.PatternID, &l.MatchedKeywords, &l.Confidence, &l.AutoApplied,
		&action, &l.ActionAt, &l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSuggestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	l.Source = Source(source)
	if action != nil {
		a := UserAction(*action)
		l.UserAction = &a
	}
	return &l, nil
}

func (r *PostgresRepository) SetSuggestionAction(ctx context.Context, userID, id uuid.UUID, action UserAction) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE auto_category_suggestion_logs SET user_action = $3, action_at = now()
		WHERE id = $1 AND user_id = $2`,
		id, userID, string(action),
	)
	if err != nil {
		return fmt.Errorf("failed to record suggestion action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSuggestionNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertCorrection(ctx context.Context, c *Correction) error {
	keywords := c.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO auto_category_corrections (
			user_id, transaction_id, description, previous_category_id,
			corrected_category_id, suggestion_id, keywords
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		c.UserID, c.TransactionID, c.Description, c.PreviousCategoryID,
		c.CorrectedCategoryID, c.SuggestionID, keywords,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}
	return nil
}
