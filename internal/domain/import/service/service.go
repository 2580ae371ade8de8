// Package service orchestrates statement imports: admission and duplicate
// checks on submit, then background parsing, deduplication, categorization,
// ledger writes and reconciliation per row.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/categorization"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/fingerprint"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/ledger"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/taxonomy"
	"github.com/FACorreiaa/statement-import-engine/pkg/metrics"
	"github.com/FACorreiaa/statement-import-engine/pkg/settings"
	"github.com/FACorreiaa/statement-import-engine/pkg/storage"
)

var tracer = otel.Tracer("github.com/FACorreiaa/statement-import-engine/import")

// Transactor runs fn in one database transaction bound to ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Taxonomy resolves category and tag names, creating them on first use.
type Taxonomy interface {
	Category(ctx context.Context, userID uuid.UUID, name string) (*taxonomy.Category, error)
	Tags(ctx context.Context, userID uuid.UUID, names []string) ([]*taxonomy.Tag, error)
}

// Categorizer suggests categories for rows without an explicit one. Engine
// is called at most once per processing run; every row of that run is
// categorized against the same snapshot.
type Categorizer interface {
	Engine(ctx context.Context, userID uuid.UUID) (*categorization.Engine, error)
	CategorizeWith(e *categorization.Engine, description string, threshold int) *categorization.Suggestion
	LogSuggestion(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, description string, sugg *categorization.Suggestion) error
	Observe(ctx context.Context, userID uuid.UUID, description string, categoryID uuid.UUID) error
}

// Reconciler is the part of the reconciliation service imports drive.
type Reconciler interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*reconciliation.Reconciliation, error)
	FindMatches(ctx context.Context, userID, reconciliationID uuid.UUID, q reconciliation.Query) ([]reconciliation.Match, error)
	Attach(ctx context.Context, userID, reconciliationID, transactionID uuid.UUID, confidence int) error
}

// Enqueuer hands a job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
}

// Dependencies groups the collaborators of the import service. Categorizer,
// Queue and Metrics are optional.
type Dependencies struct {
	Repo        repository.ImportRepository
	Tx          Transactor
	Storage     storage.Storage
	Ledger      ledger.Ledger
	Taxonomy    Taxonomy
	Categorizer Categorizer
	Reconciler  Reconciler
	Settings    settings.Provider
	Queue       Enqueuer
	Metrics     *metrics.Metrics
}

// ImportService orchestrates submission and processing of statement imports.
type ImportService struct {
	repo        repository.ImportRepository
	tx          Transactor
	storage     storage.Storage
	ledger      ledger.Ledger
	taxonomy    Taxonomy
	categorizer Categorizer
	reconciler  Reconciler
	settings    settings.Provider
	queue       Enqueuer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewImportService creates a new import service
func NewImportService(deps Dependencies, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:        deps.Repo,
		tx:          deps.Tx,
		storage:     deps.Storage,
		ledger:      deps.Ledger,
		taxonomy:    deps.Taxonomy,
		categorizer: deps.Categorizer,
		reconciler:  deps.Reconciler,
		settings:    deps.Settings,
		queue:       deps.Queue,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SubmitInput is an uploaded statement.
type SubmitInput struct {
	UserID           uuid.UUID
	AccountID        uuid.UUID
	Filename         string
	Content          io.Reader
	ReconciliationID *uuid.UUID
	ColumnMapping    *mapping.Config
	ForceReimport    bool
}

// Submit validates and stores an upload and creates a pending import job.
// It returns *ConcurrencyLimitExceededError when the user is at the active
// import limit and *DuplicateFileError when the same file is already imported
// into the account and ForceReimport is not set.
func (s *ImportService) Submit(ctx context.Context, in SubmitInput) (job *repository.ImportJob, err error) {
	ctx, span := tracer.Start(ctx, "import.Submit", trace.WithAttributes(
		attribute.String("user.id", in.UserID.String()),
		attribute.String("account.id", in.AccountID.String()),
		attribute.String("import.filename", in.Filename),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cfg := ConfigFrom(s.settings)

	active, err := s.repo.CountActive(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if active >= cfg.MaxConcurrentImports {
		s.metrics.JobSubmitted("rejected_concurrency")
		return nil, &ConcurrencyLimitExceededError{UserID: in.UserID, Active: active, Limit: cfg.MaxConcurrentImports}
	}

	account, err := s.ledger.GetAccount(ctx, in.UserID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}

	data, err := io.ReadAll(in.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, &parser.ParseError{Format: parser.DetectFormat(in.Filename, nil), Err: errors.New("file is empty")}
	}

	hash := fingerprint.File(data)
	format := parser.DetectFormat(in.Filename, data)
	span.SetAttributes(attribute.String("import.format", string(format)))

	existing, err := s.repo.FindActiveFileHash(ctx, in.AccountID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil && !in.ForceReimport {
		s.metrics.JobSubmitted("rejected_duplicate")
		return nil, &DuplicateFileError{ExistingImportID: existing.ImportJobID, FileHash: hash}
	}

	path, err := s.storage.Store(ctx, in.UserID, in.Filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job = &repository.ImportJob{
		ID:               uuid.New(),
		UserID:           in.UserID,
		AccountID:        in.AccountID,
		Filename:         in.Filename,
		FileHash:         hash,
		FilePath:         path,
		Format:           string(format),
		Status:           repository.StatusPending,
		ReconciliationID: in.ReconciliationID,
		ForceReimport:    in.ForceReimport,
	}
	if format.Tabular() {
		job.ColumnMapping = in.ColumnMapping
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.ForceReimport && existing != nil {
			if err := s.repo.SupersedeFileHashes(ctx, in.AccountID, hash); err != nil {
				return err
			}
		}
		return s.repo.CreateJob(ctx, job)
	})
	if err != nil {
		if delErr := s.storage.Delete(ctx, path); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", slog.String("path", path), slog.Any("error", delErr))
		}
		if errors.Is(err, repository.ErrFileHashTaken) {
			s.metrics.JobSubmitted("rejected_duplicate")
			return nil, s.duplicateOf(ctx, in.AccountID, hash, err)
		}
		return nil, err
	}

	s.metrics.JobSubmitted("accepted")
	s.logger.Info("import submitted",
		slog.String("import_id", job.ID.String()),
		slog.String("user_id", job.UserID.String()),
		slog.String("format", job.Format),
		slog.Bool("force_reimport", job.ForceReimport),
	)

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			// The reaper picks up pending jobs that never reach a worker.
			s.logger.Warn("failed to enqueue import",
				slog.String("import_id", job.ID.String()),
				slog.Any("error", err),
			)
		}
	}
	return job, nil
}

// duplicateOf builds the DuplicateFileError for a lost file hash race.
func (s *ImportService) duplicateOf(ctx context.Context, accountID uuid.UUID, hash string, cause error) error {
	existing, err := s.repo.FindActiveFileHash(ctx, accountID, hash)
	if err != nil || existing == nil {
		return cause
	}
	return &DuplicateFileError{ExistingImportID: existing.ImportJobID, FileHash: hash}
}

// Get returns the import when it belongs to userID.
func (s *ImportService) Get(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

// Cancel forces a running or pending import to failed. The worker stops at
// its next checkpoint; rows committed before that stay imported.
func (s *ImportService) Cancel(ctx context.Context, userID, jobID uuid.UUID) error {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return repository.ErrJobNotActive
	}
	if err := s.repo.Fail(ctx, job.ID, CancelledMessage); err != nil {
		return err
	}
	s.logger.Info("import cancelled", slog.String("import_id", job.ID.String()))
	return nil
}

// Fail marks a job failed with message. Jobs that already finished are left
// alone.
func (s *ImportService) Fail(ctx context.Context, jobID uuid.UUID, message string) error {
	err := s.repo.Fail(ctx, jobID, message)
	if errors.Is(err, repository.ErrJobNotActive) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Warn("import failed",
		slog.String("import_id", jobID.String()),
		slog.String("error", message),
	)
	return nil
}

// RecoverStale re-enqueues active jobs that have not made progress since
// staleAfter, failing those that were already redelivered maxAttempts times.
func (s *ImportService) RecoverStale(ctx context.Context, staleAfter time.Duration, maxAttempts, limit int) (requeued, failed int, err error) {
	jobs, err := s.repo.ListStale(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range jobs {
		attempts, err := s.repo.IncrementAttempts(ctx, job.ID)
		if err != nil {
			return requeued, failed, err
		}
		if attempts >= maxAttempts {
			msg := fmt.Sprintf("import stalled after %d attempts", attempts)
			if err := s.Fail(ctx, job.ID, msg); err != nil {
				return requeued, failed, err
			}
			s.metrics.JobFinished(string(repository.StatusFailed))
			failed++
			continue
		}
		if s.queue == nil {
			continue
		}
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			return requeued, failed, fmt.Errorf("failed to requeue import %s: %w", job.ID, err)
		}
		s.metrics.Requeued()
		requeued++
	}

	if requeued > 0 || failed > 0 {
		s.logger.Info("stale imports recovered",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed),
		)
	}
	return requeued, failed, nil
}
