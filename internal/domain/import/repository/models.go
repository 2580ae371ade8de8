// Package repository persists import jobs and the file/row fingerprints used
// for duplicate detection.
package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
)

var (
	ErrJobNotFound = errors.New("import job not found")
	// ErrJobNotActive is returned by status-guarded writes when the job has
	// already reached a terminal state, e.g. after a cancel.
	ErrJobNotActive  = errors.New("import job is not active")
	ErrRowHashExists = errors.New("row hash already recorded")
	ErrFileHashTaken = errors.New("file hash already has an active import")
)

// Status is the lifecycle state of an import job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusSuperseded only applies to file hash records replaced by a forced
// re-import.
const StatusSuperseded Status = "superseded"

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic. processing -> processing is allowed so redelivered jobs resume.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// RowError describes one rejected row in the error report.
type RowError struct {
	RowNumber    int    `json:"row_number" csv:"row_number"`
	Field        string `json:"field" csv:"field"`
	ErrorMessage string `json:"error_message" csv:"error_message"`
	RawValue     string `json:"raw_value" csv:"raw_value"`
}

// ImportJob is one uploaded statement file and its processing state.
type ImportJob struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AccountID        uuid.UUID
	Filename         string
	FileHash         string
	FilePath         string
	Format           string
	Status           Status
	ProcessedCount   int
	TotalCount       int
	SkippedCount     int
	DuplicateCount   int
	ErrorMessage     *string
	ErrorReport      []RowError
	ErrorReportPath  *string
	ReconciliationID *uuid.UUID
	ColumnMapping    *mapping.Config
	ForceReimport    bool
	Attempts         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// ProgressPercentage is processed/total*100, or 0 while the total is unknown.
func (j *ImportJob) ProgressPercentage() float64 {
	if j.TotalCount <= 0 {
		return 0
	}
	return float64(j.ProcessedCount) / float64(j.TotalCount) * 100
}

// Progress is the counter snapshot written at checkpoints.
type Progress struct {
	Processed int
	Skipped   int
	Duplicate int
	Total     int
}

// FileHashRecord guards against importing the same file twice into an account.
type FileHashRecord struct {
	ImportJobID uuid.UUID
	UserID      uuid.UUID
	AccountID   uuid.UUID
	FileHash    string
	Status      Status
	CreatedAt   time.Time
}

// RowHashRecord links an imported row fingerprint to the transaction it created.
type RowHashRecord struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountID     uuid.UUID
	RowHash       string
	TransactionID uuid.UUID
	ImportJobID   uuid.UUID
	CreatedAt     time.Time
}
