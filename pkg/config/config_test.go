package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import-engine/pkg/storage"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, storage.StorageTypeLocal, cfg.Storage.Type)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Worker.AttemptTimeout)
	assert.Equal(t, "@every 5m", cfg.Worker.ReaperSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("IMPORT_WORKERS", "8")
	t.Setenv("IMPORT_ATTEMPT_TIMEOUT", "90s")
	t.Setenv("STORAGE_COMPRESS", "false")
	t.Setenv("POSTGRES_DB", "ledger")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.Equal(t, 90*time.Second, cfg.Worker.AttemptTimeout)
	assert.False(t, cfg.Storage.Compress)
	assert.Contains(t, cfg.Database.DSN(), "dbname=ledger")
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("IMPORT_MAX_ATTEMPTS", "many")
	t.Setenv("IMPORT_STALE_AFTER", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Worker.StaleAfter)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("workers", func(t *testing.T) {
		t.Setenv("IMPORT_WORKERS", "0")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("s3 bucket", func(t *testing.T) {
		t.Setenv("STORAGE_TYPE", "s3")
		t.Setenv("S3_BUCKET", "")
		_, err := Load()
		assert.Error(t, err)
	})
}
