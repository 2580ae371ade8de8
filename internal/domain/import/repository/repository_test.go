package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
)

// ==========================================
// Model Tests
// ==========================================

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestProgressPercentage(t *testing.T) {
	job := &ImportJob{}
	assert.Zero(t, job.ProgressPercentage())

	job.TotalCount = 8
	job.ProcessedCount = 2
	assert.InDelta(t, 25.0, job.ProgressPercentage(), 0.0001)
}

// ==========================================
// Postgres Tests
// ==========================================

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepository(mock)
}

var jobColumnNames = []string{
	"id", "user_id", "account_id", "filename", "file_hash", "file_path", "format", "status",
	"processed_count", "total_count", "skipped_count", "duplicate_count",
	"error_message", "error_report", "error_report_path", "reconciliation_id",
	"column_mapping", "force_reimport", "attempts", "created_at", "updated_at",
	"started_at", "completed_at",
}

func TestCreateJob(t *testing.T) {
	mock, repo := newMock(t)
	now := time.Now()

	job := &ImportJob{
		UserID:    uuid.New(),
		AccountID: uuid.New(),
		Filename:  "statement.csv",
		FileHash:  "abc",
		FilePath:  "u/statement.csv",
		Format:    "csv",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO import_jobs").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO import_file_hashes").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateJob(context.Background(), job))
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, now, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_FileHashTaken(t *testing.T) {
	mock, repo := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO import_jobs").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO import_file_hashes").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateJob(context.Background(), &ImportJob{UserID: uuid.New(), AccountID: uuid.New()})
	assert.ErrorIs(t, err, ErrFileHashTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	mock, repo := newMock(t)
	id, userID, accountID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	var (
		noString *string
		noUUID   *uuid.UUID
		noTime   *time.Time
	)

	mock.ExpectQuery("SELECT (.+) FROM import_jobs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			id, userID, accountID, "s.csv", "hash", "path", "csv", "completed",
			1, 2, 1, 0,
			noString, []byte(`[{"row_number":3,"field":"amount","error_message":"invalid amount","raw_value":"abc"}]`), noString, noUUID,
			[]byte(`{"date":"Date","description":"Description","amount":"Amount"}`), false, 1, now, now,
			&now, noTime,
		))

	job, err := repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, job.ErrorReport, 1)
	assert.Equal(t, RowError{RowNumber: 3, Field: "amount", ErrorMessage: "invalid amount", RawValue: "abc"}, job.ErrorReport[0])
	require.NotNil(t, job.ColumnMapping)
	assert.Equal(t, mapping.Config{Date: "Date", Description: "Description", Amount: "Amount"}, *job.ColumnMapping)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_NotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM import_jobs").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCountActive(t *testing.T) {
	mock, repo := newMock(t)
	userID := uuid.New()
	mock.ExpectQuery("SELECT count").WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountActive(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCountActiveAhead(t *testing.T) {
	mock, repo := newMock(t)
	job := &ImportJob{ID: uuid.New(), UserID: uuid.New(), CreatedAt: time.Now()}
	mock.ExpectQuery(`SELECT count\(\*\) FROM import_jobs`).
		WithArgs(job.UserID, job.ID, job.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountActiveAhead(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFindActiveFileHash(t *testing.T) {
	mock, repo := newMock(t)
	accountID, jobID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM import_file_hashes").
		WithArgs(accountID, "hash").
		WillReturnRows(pgxmock.NewRows([]string{"import_job_id", "user_id", "account_id", "file_hash", "status", "created_at"}).
			AddRow(jobID, uuid.New(), accountID, "hash", "completed", now))
	mock.ExpectQuery("FROM import_file_hashes").
		WithArgs(accountID, "other").
		WillReturnError(pgx.ErrNoRows)

	rec, err := repo.FindActiveFileHash(context.Background(), accountID, "hash")
	require.NoError(t, err)
	assert.Equal(t, jobID, rec.ImportJobID)
	assert.Equal(t, StatusCompleted, rec.Status)

	rec, err = repo.FindActiveFileHash(context.Background(), accountID, "other")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMarkProcessing(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_jobs\s+SET status = 'processing'`).WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_file_hashes SET status").WithArgs(id, "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkProcessing(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessing_Terminal(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_jobs\s+SET status = 'processing'`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.MarkProcessing(context.Background(), uuid.New()), ErrJobNotActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgress(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE import_jobs\s+SET processed_count`).
		WithArgs(id, 10, 1, 2, 20).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectQuery(`UPDATE import_jobs\s+SET processed_count`).
		WithArgs(id, 20, 1, 2, 20).
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, repo.UpdateProgress(context.Background(), id, Progress{Processed: 10, Skipped: 1, Duplicate: 2, Total: 20}))
	err := repo.UpdateProgress(context.Background(), id, Progress{Processed: 20, Skipped: 1, Duplicate: 2, Total: 20})
	assert.ErrorIs(t, err, ErrJobNotActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveColumnMapping(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	cfg := mapping.Config{Date: "Date", Description: "Memo", Amount: "Amount"}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE import_jobs SET column_mapping").
		WithArgs(id, raw).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SaveColumnMapping(context.Background(), id, cfg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	path := "reports/x.csv"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_jobs\s+SET status = 'completed'`).
		WithArgs(id, 2, 1, 0, 3, []byte(`[{"row_number":4,"field":"date","error_message":"bad","raw_value":"x"}]`), &path).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_file_hashes SET status").WithArgs(id, "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := repo.Complete(context.Background(), id, Progress{Processed: 2, Skipped: 1, Total: 3},
		[]RowError{{RowNumber: 4, Field: "date", ErrorMessage: "bad", RawValue: "x"}}, &path)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFail(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_jobs\s+SET status = 'failed'`).WithArgs(id, "cancelled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_file_hashes SET status").WithArgs(id, "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_jobs\s+SET status = 'failed'`).WithArgs(id, "again").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	require.NoError(t, repo.Fail(context.Background(), id, "cancelled"))
	assert.ErrorIs(t, repo.Fail(context.Background(), id, "again"), ErrJobNotActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowHashes(t *testing.T) {
	mock, repo := newMock(t)
	rec := &RowHashRecord{
		UserID:        uuid.New(),
		AccountID:     uuid.New(),
		RowHash:       "rowhash",
		TransactionID: uuid.New(),
		ImportJobID:   uuid.New(),
	}
	newID, now := uuid.New(), time.Now()

	mock.ExpectQuery("INSERT INTO import_row_hashes").
		WithArgs(rec.UserID, rec.AccountID, rec.RowHash, rec.TransactionID, rec.ImportJobID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(newID, now))
	mock.ExpectQuery("INSERT INTO import_row_hashes").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("FROM import_row_hashes").
		WithArgs(rec.UserID, rec.AccountID, "missing").
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, repo.InsertRowHash(context.Background(), rec))
	assert.Equal(t, newID, rec.ID)

	assert.ErrorIs(t, repo.InsertRowHash(context.Background(), &RowHashRecord{}), ErrRowHashExists)

	found, err := repo.FindRowHash(context.Background(), rec.UserID, rec.AccountID, "missing")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementAttempts(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	mock.ExpectQuery("UPDATE import_jobs SET attempts").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(2))

	n, err := repo.IncrementAttempts(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
