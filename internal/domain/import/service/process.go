package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/categorization"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/fingerprint"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/ledger"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/taxonomy"
	"github.com/FACorreiaa/statement-import-engine/pkg/metrics"
	"github.com/FACorreiaa/statement-import-engine/pkg/storage"
)

type parsedRow struct {
	row *parser.Row
	err error
}

// run holds the state of one processing attempt.
type run struct {
	job      *repository.ImportJob
	cfg      Config
	format   parser.Format
	progress repository.Progress
	report   []repository.RowError
	// hashes written or matched during this attempt, to tell in-file
	// duplicates from rows committed by an earlier delivery of the same job.
	seen map[string]struct{}
	// engine is compiled for the first row that needs auto-categorization
	// and reused for the rest of the run. Nil after a failed load.
	engine       *categorization.Engine
	engineLoaded bool
}

// Process runs an import job to completion. Terminal outcomes, including
// failures, are written to the job and return nil. An error is returned only
// when ctx ends mid-run, leaving the job processing so a retry resumes it.
func (s *ImportService) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "import.Process", trace.WithAttributes(
		attribute.String("import.id", jobID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	job, err := s.repo.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		s.logger.Warn("dropping unknown import", slog.String("import_id", jobID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		s.logger.Info("import already finished, skipping",
			slog.String("import_id", job.ID.String()),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	if err := s.repo.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrJobNotActive) {
			return nil
		}
		return err
	}
	job.Status = repository.StatusProcessing
	finish := s.metrics.JobStarted()

	r := &run{
		job:    job,
		cfg:    ConfigFrom(s.settings),
		format: parser.Format(job.Format),
		seen:   make(map[string]struct{}),
	}
	runErr := s.run(ctx, r)
	span.SetAttributes(
		attribute.Int("import.processed", r.progress.Processed),
		attribute.Int("import.skipped", r.progress.Skipped),
		attribute.Int("import.duplicates", r.progress.Duplicate),
	)

	switch {
	case runErr == nil:
		finish(string(repository.StatusCompleted))
		s.logger.Info("import completed",
			slog.String("import_id", job.ID.String()),
			slog.Int("total", r.progress.Total),
			slog.Int("processed", r.progress.Processed),
			slog.Int("skipped", r.progress.Skipped),
			slog.Int("duplicates", r.progress.Duplicate),
		)
		return nil

	case errors.Is(runErr, ErrCancelled):
		finish("cancelled")
		s.logger.Info("import stopped after cancel",
			slog.String("import_id", job.ID.String()),
			slog.Int("processed", r.progress.Processed),
		)
		return nil

	case ctx.Err() != nil:
		finish("interrupted")
		return fmt.Errorf("import %s interrupted: %w", job.ID, runErr)
	}

	finish(string(repository.StatusFailed))
	return s.Fail(ctx, job.ID, runErr.Error())
}

func (s *ImportService) run(ctx context.Context, r *run) error {
	job := r.job

	ahead, err := s.repo.CountActiveAhead(ctx, job)
	if err != nil {
		return err
	}
	if ahead >= r.cfg.MaxConcurrentImports {
		return &ConcurrencyLimitExceededError{UserID: job.UserID, Active: ahead + 1, Limit: r.cfg.MaxConcurrentImports}
	}

	account, err := s.ledger.GetAccount(ctx, job.UserID, job.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return ledger.ErrAccountNotFound
	}
	if job.ReconciliationID != nil {
		if err := s.checkReconciliation(ctx, job); err != nil {
			return err
		}
	}

	rows, err := s.parse(ctx, r)
	if err != nil {
		return err
	}
	r.progress.Total = len(rows)

	for i, pr := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		if pr.err != nil {
			var invalid *parser.InvalidRowDataError
			if !errors.As(pr.err, &invalid) {
				return pr.err
			}
			r.report = append(r.report, repository.RowError{
				RowNumber:    invalid.Row,
				Field:        invalid.Field,
				ErrorMessage: invalid.Message,
				RawValue:     invalid.RawValue,
			})
			r.progress.Skipped++
			s.metrics.Row(metrics.RowSkipped)
		} else {
			outcome, err := s.importRow(ctx, r, pr.row)
			if err != nil {
				return fmt.Errorf("row %d: %w", pr.row.Number, err)
			}
			if outcome == metrics.RowDuplicate {
				r.progress.Duplicate++
			} else {
				r.progress.Processed++
			}
			s.metrics.Row(outcome)
		}

		if (i+1)%r.cfg.CheckpointEvery == 0 {
			if err := s.checkpoint(ctx, r); err != nil {
				return err
			}
		}
	}

	var reportPath *string
	if len(r.report) > 0 {
		path, err := s.writeReport(ctx, job, r.report)
		if err != nil {
			s.logger.Warn("failed to store error report",
				slog.String("import_id", job.ID.String()),
				slog.Any("error", err),
			)
		} else {
			reportPath = &path
		}
	}

	err = s.repo.Complete(ctx, job.ID, r.progress, r.report, reportPath)
	if errors.Is(err, repository.ErrJobNotActive) {
		return ErrCancelled
	}
	return err
}

func (s *ImportService) checkReconciliation(ctx context.Context, job *repository.ImportJob) error {
	rec, err := s.reconciler.Get(ctx, job.UserID, *job.ReconciliationID)
	if errors.Is(err, reconciliation.ErrNotFound) || (err == nil && rec.AccountID != job.AccountID) {
		return &ReconciliationNotFoundError{ReconciliationID: *job.ReconciliationID}
	}
	return err
}

// parse reads the stored file and materializes its rows so the total is known
// before the first checkpoint.
func (s *ImportService) parse(ctx context.Context, r *run) ([]parsedRow, error) {
	data, err := storage.ReadAll(ctx, s.storage, r.job.FilePath)
	if err != nil {
		return nil, err
	}

	p, err := parser.New(r.format, parser.Options{Mapping: r.job.ColumnMapping, Location: r.cfg.Location})
	if err != nil {
		return nil, err
	}
	res, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	if res.Mapping != nil {
		if err := s.repo.SaveColumnMapping(ctx, r.job.ID, *res.Mapping); err != nil {
			return nil, err
		}
		r.job.ColumnMapping = res.Mapping
	}

	var rows []parsedRow
	for row, err := range res.Rows {
		rows = append(rows, parsedRow{row: row, err: err})
	}
	return rows, nil
}

func (s *ImportService) checkpoint(ctx context.Context, r *run) error {
	err := s.repo.UpdateProgress(ctx, r.job.ID, r.progress)
	if errors.Is(err, repository.ErrJobNotActive) {
		return ErrCancelled
	}
	return err
}

// importRow writes one statement row. It returns the metrics row outcome.
func (s *ImportService) importRow(ctx context.Context, r *run, row *parser.Row) (string, error) {
	job := r.job
	hash := fingerprint.Row(row.Date, row.Amount, row.Description)

	_, seenThisRun := r.seen[hash]
	r.seen[hash] = struct{}{}
	if seenThisRun {
		return metrics.RowDuplicate, nil
	}

	existing, err := s.repo.FindRowHash(ctx, job.UserID, job.AccountID, hash)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.ImportJobID == job.ID {
			// Committed by an earlier delivery of this job.
			return metrics.RowProcessed, nil
		}
		return metrics.RowDuplicate, nil
	}

	categoryID, sugg, err := s.category(ctx, r, row)
	if err != nil {
		return "", err
	}
	tagIDs, err := s.tagIDs(ctx, job.UserID, row.Tags)
	if err != nil {
		return "", err
	}

	var tx *ledger.Transaction
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		tx, err = s.ledger.RecordTransaction(ctx, ledger.RecordInput{
			UserID:      job.UserID,
			AccountID:   job.AccountID,
			CategoryID:  categoryID,
			Type:        ledger.TypeOf(row.Amount),
			Amount:      row.Amount,
			Description: row.Description,
			Date:        row.Date,
			SettledDate: row.SettledDate,
			TagIDs:      tagIDs,
			ImportJobID: &job.ID,
			ExternalID:  row.ExternalID,
		})
		if err != nil {
			return err
		}
		return s.repo.InsertRowHash(ctx, &repository.RowHashRecord{
			UserID:        job.UserID,
			AccountID:     job.AccountID,
			RowHash:       hash,
			TransactionID: tx.ID,
			ImportJobID:   job.ID,
		})
	})
	if errors.Is(err, repository.ErrRowHashExists) {
		return s.lostInsert(ctx, r, hash)
	}
	if err != nil {
		return "", err
	}

	s.learn(ctx, r, row, tx, sugg)
	s.offer(ctx, r, row, tx)
	return metrics.RowProcessed, nil
}

// lostInsert classifies a row whose hash was committed between the lookup and
// the insert. A concurrent delivery of this same job counts as processed,
// anything else as a duplicate.
func (s *ImportService) lostInsert(ctx context.Context, r *run, hash string) (string, error) {
	existing, err := s.repo.FindRowHash(ctx, r.job.UserID, r.job.AccountID, hash)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.ImportJobID == r.job.ID {
		return metrics.RowProcessed, nil
	}
	return metrics.RowDuplicate, nil
}

// category resolves the explicit category name, or asks the categorizer. A
// failing categorizer leaves the row uncategorized.
func (s *ImportService) category(ctx context.Context, r *run, row *parser.Row) (*uuid.UUID, *categorization.Suggestion, error) {
	userID := r.job.UserID
	if row.Category != "" {
		c, err := s.taxonomy.Category(ctx, userID, row.Category)
		switch {
		case err == nil:
			return &c.ID, nil, nil
		case !errors.Is(err, taxonomy.ErrEmptyName):
			return nil, nil, fmt.Errorf("failed to resolve category %q: %w", row.Category, err)
		}
	}

	if !r.cfg.AutoCategorize || s.categorizer == nil {
		return nil, nil, nil
	}
	engine := s.engine(ctx, r)
	if engine == nil {
		return nil, nil, nil
	}
	sugg := s.categorizer.CategorizeWith(engine, row.Description, r.cfg.AutoApplyThreshold)
	if sugg.AutoApplied {
		return sugg.CategoryID, sugg, nil
	}
	return nil, sugg, nil
}

// engine loads the user's categorization engine once per run. A failed load
// leaves the remaining rows uncategorized.
func (s *ImportService) engine(ctx context.Context, r *run) *categorization.Engine {
	if r.engineLoaded {
		return r.engine
	}
	r.engineLoaded = true

	e, err := s.categorizer.Engine(ctx, r.job.UserID)
	if err != nil {
		s.logger.Warn("categorization unavailable, rows left uncategorized",
			slog.String("import_id", r.job.ID.String()),
			slog.Any("error", err),
		)
		return nil
	}
	r.engine = e
	return e
}

func (s *ImportService) tagIDs(ctx context.Context, userID uuid.UUID, names []string) ([]uuid.UUID, error) {
	if len(names) == 0 {
		return nil, nil
	}
	tags, err := s.taxonomy.Tags(ctx, userID, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tags: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// learn logs the categorization attempt against the new transaction, or
// teaches the engine from an explicitly categorized row.
func (s *ImportService) learn(ctx context.Context, r *run, row *parser.Row, tx *ledger.Transaction, sugg *categorization.Suggestion) {
	if s.categorizer == nil {
		return
	}
	var err error
	switch {
	case sugg != nil:
		err = s.categorizer.LogSuggestion(ctx, r.job.UserID, &tx.ID, row.Description, sugg)
	case tx.CategoryID != nil:
		err = s.categorizer.Observe(ctx, r.job.UserID, row.Description, *tx.CategoryID)
	}
	if err != nil {
		s.logger.Warn("failed to record categorization feedback",
			slog.String("import_id", r.job.ID.String()),
			slog.String("transaction_id", tx.ID.String()),
			slog.Any("error", err),
		)
	}
}

// offer looks for a reconciliation match for the new transaction. OFX rows
// attach the best match at or above the configured threshold. Tabular rows
// only attach an exact match against the transaction they just created.
func (s *ImportService) offer(ctx context.Context, r *run, row *parser.Row, tx *ledger.Transaction) {
	job := r.job
	if job.ReconciliationID == nil {
		return
	}

	matches, err := s.reconciler.FindMatches(ctx, job.UserID, *job.ReconciliationID, reconciliation.Query{
		Amount:      row.Amount,
		Date:        row.Date,
		Description: row.Description,
	})
	if err != nil {
		s.logger.Warn("reconciliation lookup failed",
			slog.String("import_id", job.ID.String()),
			slog.Int("row", row.Number),
			slog.Any("error", err),
		)
		return
	}

	var pick *reconciliation.Match
	if r.format == parser.FormatOFX {
		if len(matches) > 0 && matches[0].Confidence >= r.cfg.ReconciliationThreshold {
			pick = &matches[0]
		}
	} else {
		for i := range matches {
			if matches[i].Transaction.ID == tx.ID && matches[i].Confidence == 100 {
				pick = &matches[i]
				break
			}
		}
	}
	if pick == nil {
		return
	}

	if err := s.reconciler.Attach(ctx, job.UserID, *job.ReconciliationID, pick.Transaction.ID, pick.Confidence); err != nil {
		s.logger.Warn("failed to attach reconciliation match",
			slog.String("import_id", job.ID.String()),
			slog.String("transaction_id", pick.Transaction.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	s.metrics.ReconciliationAttached(string(r.format))
}

// writeReport stores the error report as CSV next to the upload.
func (s *ImportService) writeReport(ctx context.Context, job *repository.ImportJob, report []repository.RowError) (string, error) {
	var buf bytes.Buffer
	if err := gocsv.Marshal(report, &buf); err != nil {
		return "", fmt.Errorf("failed to encode error report: %w", err)
	}
	return s.storage.Store(ctx, job.UserID, job.ID.String()+"-errors.csv", &buf)
}
