package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import-engine/pkg/db"
)

// Repository persists reconciliations and their matches.
type Repository interface {
	Create(ctx context.Context, rec *Reconciliation) error
	Get(ctx context.Context, id uuid.UUID) (*Reconciliation, error)

	// Candidates lists transactions on the reconciliation's account within
	// tolerance of amount that are not matched in this reconciliation yet.
	Candidates(ctx context.Context, rec *Reconciliation, amount, tolerance decimal.Decimal) ([]Candidate, error)

	Attach(ctx context.Context, reconciliationID, transactionID uuid.UUID, confidence int) error
	Detach(ctx context.Context, reconciliationID, transactionID uuid.UUID) error
	ListMatches(ctx context.Context, reconciliationID uuid.UUID) ([]MatchRecord, error)
	MatchedTotal(ctx context.Context, reconciliationID uuid.UUID) (decimal.Decimal, int, error)
	Complete(ctx context.Context, id uuid.UUID) error
}

type PostgresRepository struct {
	pool db.Pool
}

func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *Reconciliation) error {
	var status string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reconciliations (user_id, account_id, statement_date, statement_balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status, created_at`,
		rec.UserID, rec.AccountID, rec.StatementDate, rec.StatementBalance,
	).Scan(&rec.ID, &status, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	rec.Status = Status(status)
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	var (
		rec    Reconciliation
		status string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, account_id, statement_date, statement_balance, status, created_at, completed_at
		FROM reconciliations WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.AccountID, &rec.StatementDate, &rec.StatementBalance,
		&status, &rec.CreatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}

func (r *PostgresRepository) Candidates(ctx context.Context, rec *Reconciliation, amount, tolerance decimal.Decimal) ([]Candidate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT t.id, t.amount, t.transaction_date, t.description
		FROM transactions t
		WHERE t.account_id = $2
		  AND abs(t.amount - $3) <= $4
		  AND NOT EXISTS (
		      SELECT 1 FROM reconciliation_matches m
		      WHERE m.reconciliation_id = $1 AND m.transaction_id = t.id AND m.is_matched
		  )
		ORDER BY t.transaction_date, t.id`,
		rec.ID, rec.AccountID, amount, tolerance,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Amount, &c.Date, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// Attach records the match, re-activating a previously detached one. The
// transaction must belong to the reconciliation's account.
func (r *PostgresRepository) Attach(ctx context.Context, reconciliationID, transactionID uuid.UUID, confidence int) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO reconciliation_matches (reconciliation_id, transaction_id, is_matched, confidence, matched_at)
		SELECT r.id, t.id, true, $3, now()
		FROM reconciliations r
		JOIN transactions t ON t.account_id = r.account_id
		WHERE r.id = $1 AND t.id = $2
		ON CONFLICT (reconciliation_id, transaction_id) DO UPDATE
		SET is_matched = true, confidence = EXCLUDED.confidence, matched_at = EXCLUDED.matched_at`,
		reconciliationID, transactionID, confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to attach transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresRepository) Detach(ctx context.Context, reconciliationID, transactionID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reconciliation_matches SET is_matched = false, matched_at = NULL
		WHERE reconciliation_id = $1 AND transaction_id = $2 AND is_matched`,
		reconciliationID, transactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMatchNotFound
	}
	return nil
}

func (r *PostgresRepository) ListMatches(ctx context.Context, reconciliationID uuid.UUID) ([]MatchRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, reconciliation_id, transaction_id, is_matched, confidence, matched_at
		FROM reconciliation_matches
		WHERE reconciliation_id = $1
		ORDER BY created_at, id`, reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var m MatchRecord
		if err := rows.Scan(&m.ID, &m.ReconciliationID, &m.TransactionID, &m.IsMatched, &m.Confidence, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) MatchedTotal(ctx context.Context, reconciliationID uuid.UUID) (decimal.Decimal, int, error) {
	var (
		total decimal.Decimal
		count int
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(t.amount), 0), COUNT(*)
		FROM reconciliation_matches m
		JOIN transactions t ON t.id = m.transaction_id
		WHERE m.reconciliation_id = $1 AND m.is_matched`, reconciliationID,
	).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to total matches: %w", err)
	}
	return total, count, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reconciliations SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to complete reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompleted
	}
	return nil
}
