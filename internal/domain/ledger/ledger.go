// Package ledger defines the transaction store the import engine writes to,
// with a Postgres implementation that keeps the account running balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import-engine/pkg/db"
)

var ErrAccountNotFound = errors.New("account not found")

// TransactionType is the direction of money movement.
type TransactionType string

const (
	Debit  TransactionType = "debit"
	Credit TransactionType = "credit"
)

// TypeOf derives the type from a signed amount.
func TypeOf(amount decimal.Decimal) TransactionType {
	if amount.IsNegative() {
		return Debit
	}
	return Credit
}

// RecordInput describes a transaction to create. Amount is signed.
type RecordInput struct {
	UserID      uuid.UUID
	AccountID   uuid.UUID
	CategoryID  *uuid.UUID
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	SettledDate *time.Time
	TagIDs      []uuid.UUID
	ImportJobID *uuid.UUID
	ExternalID  string
}

// Transaction is a persisted ledger entry.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AccountID    uuid.UUID
	CategoryID   *uuid.UUID
	Type         TransactionType
	Amount       decimal.Decimal
	Description  string
	Date         time.Time
	SettledDate  *time.Time
	BalanceAfter decimal.Decimal
	TagIDs       []uuid.UUID
	CreatedAt    time.Time
}

// Account is the subset of account data the engine reads.
type Account struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Currency string
	Balance  decimal.Decimal
}

// Ledger records transactions and exposes account state.
type Ledger interface {
	// RecordTransaction creates the transaction, links its tags and applies
	// the balance change. It joins the caller's transaction when ctx has one.
	RecordTransaction(ctx context.Context, in RecordInput) (*Transaction, error)

	// GetAccount returns nil, nil when the account does not exist for the user.
	GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*Account, error)
}

// PostgresLedger implements Ledger on the accounts/transactions tables.
type PostgresLedger struct {
	pool db.Pool
}

func NewPostgresLedger(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) RecordTransaction(ctx context.Context, in RecordInput) (*Transaction, error) {
	if in.Type == "" {
		in.Type = TypeOf(in.Amount)
	}
	tx := &Transaction{
		UserID:      in.UserID,
		AccountID:   in.AccountID,
		CategoryID:  in.CategoryID,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: in.Description,
		Date:        in.Date,
		SettledDate: in.SettledDate,
		TagIDs:      in.TagIDs,
	}

	err := db.WithinTx(ctx, l.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, l.pool)

		err := q.QueryRow(ctx, `
			UPDATE accounts SET balance = balance + $3, updated_at = now()
			WHERE id = $1 AND user_id = $2
			RETURNING balance`,
			in.AccountID, in.UserID, in.Amount,
		).Scan(&tx.BalanceAfter)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update account balance: %w", err)
		}

		var externalID *string
		if in.ExternalID != "" {
			externalID = &in.ExternalID
		}
		err = q.QueryRow(ctx, `
			INSERT INTO transactions (
				user_id, account_id, category_id, type, amount, description,
				transaction_date, settled_date, balance_after, import_job_id, external_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at`,
			in.UserID, in.AccountID, in.CategoryID, string(in.Type), in.Amount, in.Description,
			in.Date, in.SettledDate, tx.BalanceAfter, in.ImportJobID, externalID,
		).Scan(&tx.ID, &tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		for _, tagID := range in.TagIDs {
			if _, err := q.Exec(ctx, `
				INSERT INTO transaction_tags (transaction_id, tag_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, tx.ID, tagID); err != nil {
				return fmt.Errorf("failed to tag transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (l *PostgresLedger) GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*Account, error) {
	var a Account
	err := db.Conn(ctx, l.pool).QueryRow(ctx, `
		SELECT id, user_id, name, currency, balance
		FROM accounts WHERE id = $1 AND user_id = $2`,
		accountID, userID,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Currency, &a.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}
