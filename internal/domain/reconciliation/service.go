package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/ledger"
	"github.com/FACorreiaa/statement-import-engine/pkg/money"
)

var tracer = otel.Tracer("github.com/FACorreiaa/statement-import-engine/reconciliation")

// Accounts reads account state from the ledger.
type Accounts interface {
	GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*ledger.Account, error)
}

type Service struct {
	repo     Repository
	accounts Accounts
	matcher  *Matcher
	logger   *slog.Logger
}

func NewService(repo Repository, accounts Accounts, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		matcher:  NewMatcher(),
		logger:   logger,
	}
}

// CreateInput starts a reconciliation of an account against a statement.
type CreateInput struct {
	UserID           uuid.UUID
	AccountID        uuid.UUID
	StatementDate    time.Time
	StatementBalance decimal.Decimal
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Reconciliation, error) {
	account, err := s.accounts.GetAccount(ctx, in.UserID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}

	rec := &Reconciliation{
		UserID:           in.UserID,
		AccountID:        in.AccountID,
		StatementDate:    in.StatementDate,
		StatementBalance: in.StatementBalance,
		Status:           StatusPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("reconciliation created",
		slog.String("reconciliation_id", rec.ID.String()),
		slog.String("account_id", rec.AccountID.String()),
	)
	return rec, nil
}

// Get returns the reconciliation when it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Reconciliation, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrNotFound
	}
	return rec, nil
}

// FindMatches ranks the account's unmatched transactions against q.
func (s *Service) FindMatches(ctx context.Context, userID, reconciliationID uuid.UUID, q Query) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "reconciliation.FindMatches", trace.WithAttributes(
		attribute.String("reconciliation.id", reconciliationID.String()),
		attribute.String("query.amount", q.Amount.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.Candidates(ctx, rec, q.Amount, s.matcher.AmountTolerance)
	if err != nil {
		return nil, err
	}

	matches = s.matcher.Rank(q, candidates)
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("matches", len(matches)),
	)
	return matches, nil
}

func (s *Service) Attach(ctx context.Context, userID, reconciliationID, transactionID uuid.UUID, confidence int) error {
	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompleted
	}
	if err := s.repo.Attach(ctx, rec.ID, transactionID, confidence); err != nil {
		return err
	}

	s.logger.Debug("transaction attached",
		slog.String("reconciliation_id", rec.ID.String()),
		slog.String("transaction_id", transactionID.String()),
		slog.Int("confidence", confidence),
	)
	return nil
}

func (s *Service) Detach(ctx context.Context, userID, reconciliationID, transactionID uuid.UUID) error {
	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompleted
	}
	return s.repo.Detach(ctx, rec.ID, transactionID)
}

func (s *Service) Matches(ctx context.Context, userID, reconciliationID uuid.UUID) ([]MatchRecord, error) {
	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMatches(ctx, rec.ID)
}

// Summary compares the statement balance with the account's ledger balance.
func (s *Service) Summary(ctx context.Context, userID, reconciliationID uuid.UUID) (*Summary, error) {
	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetAccount(ctx, userID, rec.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	total, count, err := s.repo.MatchedTotal(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	statement := money.NewFromDecimal(rec.StatementBalance, account.Currency)
	balance := money.NewFromDecimal(account.Balance, account.Currency)
	matched := money.NewFromDecimal(total, account.Currency)
	diff, err := statement.Subtract(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to compute difference: %w", err)
	}

	return &Summary{
		ReconciliationID:        rec.ID,
		Currency:                statement.Currency(),
		StatementBalance:        statement.ToDecimal(),
		LedgerBalance:           balance.ToDecimal(),
		Difference:              diff.ToDecimal(),
		MatchedTotal:            matched.ToDecimal(),
		MatchedCount:            count,
		Balanced:                diff.IsZero(),
		StatementBalanceDisplay: statement.Display(),
		LedgerBalanceDisplay:    balance.Display(),
		DifferenceDisplay:       diff.Display(),
		MatchedTotalDisplay:     matched.Display(),
	}, nil
}

func (s *Service) Complete(ctx context.Context, userID, reconciliationID uuid.UUID) (*Reconciliation, error) {
	rec, err := s.Get(ctx, userID, reconciliationID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Complete(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrCompleted) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to complete reconciliation %s: %w", rec.ID, err)
	}
	return s.repo.Get(ctx, rec.ID)
}
