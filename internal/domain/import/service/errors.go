package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCancelled is reported when a worker notices its job was failed
// externally while it was running.
var ErrCancelled = errors.New("import cancelled")

// CancelledMessage is the error_message written by Cancel.
const CancelledMessage = "cancelled"

// ConcurrencyLimitExceededError rejects an import because the user already has
// the maximum number of active imports.
type ConcurrencyLimitExceededError struct {
	UserID uuid.UUID
	Active int
	Limit  int
}

func (e *ConcurrencyLimitExceededError) Error() string {
	return fmt.Sprintf("concurrency limit exceeded: %d active imports (limit %d)", e.Active, e.Limit)
}

// DuplicateFileError reports that the same file was already imported into the
// account. Resubmitting with ForceReimport bypasses it.
type DuplicateFileError struct {
	ExistingImportID uuid.UUID
	FileHash         string
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("file already imported by import %s", e.ExistingImportID)
}

// ReconciliationNotFoundError fails an import whose reconciliation does not
// exist or belongs to another account.
type ReconciliationNotFoundError struct {
	ReconciliationID uuid.UUID
}

func (e *ReconciliationNotFoundError) Error() string {
	return fmt.Sprintf("reconciliation %s not found", e.ReconciliationID)
}
