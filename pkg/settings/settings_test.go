package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViperProvider_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_concurrent_imports_per_user = 2

[categorization]
auto_apply_threshold = 80
enabled = false

[import]
timezone = "Europe/Lisbon"
`), 0o600))

	p, err := NewViperProvider(path)
	require.NoError(t, err)

	assert.Equal(t, 2, p.GetInt(MaxConcurrentImportsPerUser, 3))
	assert.Equal(t, 80, p.GetInt(AutoApplyThreshold, 75))
	assert.False(t, p.GetBool(AutoCategorize, true))
	assert.Equal(t, "Europe/Lisbon", p.GetString(ImportTimezone, "UTC"))
	assert.Equal(t, 75, p.GetInt(ReconciliationThreshold, 75))
}

func TestViperProvider_EnvOverride(t *testing.T) {
	t.Setenv("IMPORTER_RECONCILIATION_AUTO_ATTACH_THRESHOLD", "90")
	t.Setenv("IMPORTER_MAX_CONCURRENT_IMPORTS_PER_USER", "nope")

	p, err := NewViperProvider("")
	require.NoError(t, err)

	assert.Equal(t, 90, p.GetInt(ReconciliationThreshold, 75))
	assert.Equal(t, 3, p.GetInt(MaxConcurrentImportsPerUser, 3))
	assert.True(t, p.GetBool(AutoCategorize, true))
}

func TestViperProvider_MissingFile(t *testing.T) {
	_, err := NewViperProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]any{
		MaxConcurrentImportsPerUser: 1,
		AutoApplyThreshold:          "60",
		ImportTimezone:              42,
	})

	assert.Equal(t, 1, s.GetInt(MaxConcurrentImportsPerUser, 3))
	assert.Equal(t, 60, s.GetInt(AutoApplyThreshold, 75))
	assert.Equal(t, "UTC", s.GetString(ImportTimezone, "UTC"))

	s.Set(AutoCategorize, false)
	assert.False(t, s.GetBool(AutoCategorize, true))

	var zero Static
	assert.Equal(t, 5, zero.GetInt("anything", 5))
	zero.Set("anything", 6)
	assert.Equal(t, 6, zero.GetInt("anything", 5))
}
