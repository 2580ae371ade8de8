package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	"github.com/FACorreiaa/statement-import-engine/pkg/db"
)

// ImportRepository defines persistence for import jobs and fingerprints.
type ImportRepository interface {
	CreateJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	CountActive(ctx context.Context, userID uuid.UUID) (int, error)
	CountActiveAhead(ctx context.Context, job *ImportJob) (int, error)

	FindActiveFileHash(ctx context.Context, accountID uuid.UUID, fileHash string) (*FileHashRecord, error)
	SupersedeFileHashes(ctx context.Context, accountID uuid.UUID, fileHash string) error

	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SaveColumnMapping(ctx context.Context, id uuid.UUID, cfg mapping.Config) error
	UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error
	Complete(ctx context.Context, id uuid.UUID, p Progress, report []RowError, reportPath *string) error
	Fail(ctx context.Context, id uuid.UUID, message string) error

	FindRowHash(ctx context.Context, userID, accountID uuid.UUID, rowHash string) (*RowHashRecord, error)
	InsertRowHash(ctx context.Context, rec *RowHashRecord) error

	ListStale(ctx context.Context, before time.Time, limit int) ([]*ImportJob, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// PostgresRepository implements ImportRepository. Every method runs inside the
// caller's transaction when ctx carries one.
type PostgresRepository struct {
	pool db.Pool
}

func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const jobColumns = `
	id, user_id, account_id, filename, file_hash, file_path, format, status,
	processed_count, total_count, skipped_count, duplicate_count,
	error_message, error_report, error_report_path, reconciliation_id,
	column_mapping, force_reimport, attempts, created_at, updated_at,
	started_at, completed_at`

func scanJob(row pgx.Row) (*ImportJob, error) {
	var (
		job         ImportJob
		status      string
		reportJSON  []byte
		mappingJSON []byte
	)
	if err := row.Scan(
		&job.ID, &job.UserID, &job.AccountID, &job.Filename, &job.FileHash, &job.FilePath, &job.Format, &status,
		&job.ProcessedCount, &job.TotalCount, &job.SkippedCount, &job.DuplicateCount,
		&job.ErrorMessage, &reportJSON, &job.ErrorReportPath, &job.ReconciliationID,
		&mappingJSON, &job.ForceReimport, &job.Attempts, &job.CreatedAt, &job.UpdatedAt,
		&job.StartedAt, &job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)

	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &job.ErrorReport); err != nil {
			return nil, fmt.Errorf("failed to decode error report: %w", err)
		}
	}
	if len(mappingJSON) > 0 && string(mappingJSON) != "null" {
		var m mapping.Config
		if err := json.Unmarshal(mappingJSON, &m); err != nil {
			return nil, fmt.Errorf("failed to decode column mapping: %w", err)
		}
		job.ColumnMapping = &m
	}
	return &job, nil
}

// CreateJob inserts the job and its pending file hash record. A concurrent
// upload of the same content surfaces as ErrFileHashTaken.
func (r *PostgresRepository) CreateJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = StatusPending

	var mappingJSON []byte
	if job.ColumnMapping != nil {
		b, err := json.Marshal(job.ColumnMapping)
		if err != nil {
			return fmt.Errorf("failed to encode column mapping: %w", err)
		}
		mappingJSON = b
	}

	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		err := q.QueryRow(ctx, `
			INSERT INTO import_jobs (
				id, user_id, account_id, filename, file_hash, file_path, format, status,
				reconciliation_id, column_mapping, force_reimport
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at`,
			job.ID, job.UserID, job.AccountID, job.Filename, job.FileHash, job.FilePath, job.Format,
			string(job.Status), job.ReconciliationID, mappingJSON, job.ForceReimport,
		).Scan(&job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert import job: %w", err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO import_file_hashes (import_job_id, user_id, account_id, file_hash, status)
			VALUES ($1, $2, $3, $4, $5)`,
			job.ID, job.UserID, job.AccountID, job.FileHash, string(StatusPending),
		)
		if db.IsUniqueViolation(err) {
			return ErrFileHashTaken
		}
		if err != nil {
			return fmt.Errorf("failed to insert file hash: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

// CountActive counts the user's pending and processing imports.
func (r *PostgresRepository) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*) FROM import_jobs
		WHERE user_id = $1 AND status IN ('pending', 'processing')`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active imports: %w", err)
	}
	return n, nil
}

// CountActiveAhead counts the user's active imports created before job, so
// that when the ceiling is breached the later submissions are the ones that
// fail.
func (r *PostgresRepository) CountActiveAhead(ctx context.Context, job *ImportJob) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*) FROM import_jobs
		WHERE user_id = $1 AND id <> $2 AND status IN ('pending', 'processing')
		  AND (created_at, id) < ($3, $2)`,
		job.UserID, job.ID, job.CreatedAt,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count imports ahead: %w", err)
	}
	return n, nil
}

// FindActiveFileHash returns the pending/processing/completed record for the
// content, or nil when the file may be imported.
func (r *PostgresRepository) FindActiveFileHash(ctx context.Context, accountID uuid.UUID, fileHash string) (*FileHashRecord, error) {
	var (
		rec    FileHashRecord
		status string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT import_job_id, user_id, account_id, file_hash, status, created_at
		FROM import_file_hashes
		WHERE account_id = $1 AND file_hash = $2 AND status IN ('pending', 'processing', 'completed')
		LIMIT 1`,
		accountID, fileHash,
	).Scan(&rec.ImportJobID, &rec.UserID, &rec.AccountID, &rec.FileHash, &status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up file hash: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}

// SupersedeFileHashes releases the active records for a forced re-import.
func (r *PostgresRepository) SupersedeFileHashes(ctx context.Context, accountID uuid.UUID, fileHash string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE import_file_hashes SET status = 'superseded'
		WHERE account_id = $1 AND file_hash = $2 AND status IN ('pending', 'processing', 'completed')`,
		accountID, fileHash,
	)
	if err != nil {
		return fmt.Errorf("failed to supersede file hashes: %w", err)
	}
	return nil
}

// setFileHashStatus mirrors the job status onto its file hash record unless the
// record was superseded.
func (r *PostgresRepository) setFileHashStatus(ctx context.Context, jobID uuid.UUID, status Status) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE import_file_hashes SET status = $2
		WHERE import_job_id = $1 AND status <> 'superseded'`,
		jobID, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update file hash status: %w", err)
	}
	return nil
}

// MarkProcessing moves a pending (or redelivered processing) job into
// processing. Terminal jobs return ErrJobNotActive.
func (r *PostgresRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
			UPDATE import_jobs
			SET status = 'processing', started_at = COALESCE(started_at, now()), updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'processing')`,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to mark import processing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotActive
		}
		return r.setFileHashStatus(ctx, id, StatusProcessing)
	})
}

// SaveColumnMapping records the mapping a tabular import was parsed with.
func (r *PostgresRepository) SaveColumnMapping(ctx context.Context, id uuid.UUID, cfg mapping.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode column mapping: %w", err)
	}
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE import_jobs SET column_mapping = $2, updated_at = now() WHERE id = $1`,
		id, raw,
	); err != nil {
		return fmt.Errorf("failed to save column mapping: %w", err)
	}
	return nil
}

// UpdateProgress writes a counter checkpoint. It only touches processing jobs,
// so ErrJobNotActive tells the worker the job was cancelled.
func (r *PostgresRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error {
	var status string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE import_jobs
		SET processed_count = $2, skipped_count = $3, duplicate_count = $4, total_count = $5, updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING status`,
		id, p.Processed, p.Skipped, p.Duplicate, p.Total,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotActive
	}
	if err != nil {
		return fmt.Errorf("failed to update import progress: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id uuid.UUID, p Progress, report []RowError, reportPath *string) error {
	if report == nil {
		report = []RowError{}
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode error report: %w", err)
	}

	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
			UPDATE import_jobs
			SET status = 'completed', processed_count = $2, skipped_count = $3, duplicate_count = $4,
			    total_count = $5, error_report = $6, error_report_path = $7,
			    completed_at = now(), updated_at = now()
			WHERE id = $1 AND status = 'processing'`,
			id, p.Processed, p.Skipped, p.Duplicate, p.Total, reportJSON, reportPath,
		)
		if err != nil {
			return fmt.Errorf("failed to complete import: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotActive
		}
		return r.setFileHashStatus(ctx, id, StatusCompleted)
	})
}

// Fail moves a non-terminal job to failed. Failing an already terminal job
// returns ErrJobNotActive and changes nothing.
func (r *PostgresRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
			UPDATE import_jobs
			SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'processing')`,
			id, message,
		)
		if err != nil {
			return fmt.Errorf("failed to fail import: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotActive
		}
		return r.setFileHashStatus(ctx, id, StatusFailed)
	})
}

func (r *PostgresRepository) FindRowHash(ctx context.Context, userID, accountID uuid.UUID, rowHash string) (*RowHashRecord, error) {
	var rec RowHashRecord
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, account_id, row_hash, transaction_id, import_job_id, created_at
		FROM import_row_hashes
		WHERE user_id = $1 AND account_id = $2 AND row_hash = $3`,
		userID, accountID, rowHash,
	).Scan(&rec.ID, &rec.UserID, &rec.AccountID, &rec.RowHash, &rec.TransactionID, &rec.ImportJobID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up row hash: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) InsertRowHash(ctx context.Context, rec *RowHashRecord) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO import_row_hashes (user_id, account_id, row_hash, transaction_id, import_job_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		rec.UserID, rec.AccountID, rec.RowHash, rec.TransactionID, rec.ImportJobID,
	).Scan(&rec.ID, &rec.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrRowHashExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert row hash: %w", err)
	}
	return nil
}

// ListStale returns active jobs not updated since before, oldest first.
func (r *PostgresRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*ImportJob, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE status IN ('pending', 'processing') AND updated_at < $1
		ORDER BY updated_at, id
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale imports: %w", err)
	}
	defer rows.Close()

	var jobs []*ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// IncrementAttempts bumps the delivery counter and touches updated_at so the
// job is not reaped again immediately.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE import_jobs SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}
