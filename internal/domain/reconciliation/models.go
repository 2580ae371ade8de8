package reconciliation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("reconciliation not found")
	ErrCompleted           = errors.New("reconciliation already completed")
	ErrTransactionNotFound = errors.New("transaction not found on reconciliation account")
	ErrMatchNotFound       = errors.New("transaction is not matched in this reconciliation")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Reconciliation compares one account against a bank statement balance.
type Reconciliation struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AccountID        uuid.UUID
	StatementDate    time.Time
	StatementBalance decimal.Decimal
	Status           Status
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// MatchRecord links a ledger transaction to a reconciliation. A transaction
// has at most one record per reconciliation; detaching clears IsMatched.
type MatchRecord struct {
	ID               uuid.UUID
	ReconciliationID uuid.UUID
	TransactionID    uuid.UUID
	IsMatched        bool
	Confidence       int
	MatchedAt        *time.Time
}

// Candidate is the projection of a ledger transaction the matcher scores.
type Candidate struct {
	ID          uuid.UUID
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// Query describes the statement line being looked up.
type Query struct {
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

// Match is a scored candidate.
type Match struct {
	Transaction Candidate
	Confidence  int
	DateDelta   int
	Similarity  float64
}

// Summary reports how far the ledger is from the statement.
type Summary struct {
	ReconciliationID uuid.UUID
	Currency         string
	StatementBalance decimal.Decimal
	LedgerBalance    decimal.Decimal
	Difference       decimal.Decimal
	MatchedTotal     decimal.Decimal
	MatchedCount     int
	Balanced         bool

	StatementBalanceDisplay string
	LedgerBalanceDisplay    string
	DifferenceDisplay       string
	MatchedTotalDisplay     string
}
