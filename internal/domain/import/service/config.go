package service

import (
	"time"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/categorization"
	"github.com/FACorreiaa/statement-import-engine/pkg/settings"
)

const (
	DefaultMaxConcurrentImports    = 3
	DefaultReconciliationThreshold = 75
	DefaultCheckpointEvery         = 10
)

// Config is the per-job view of the engine settings. It is read once when a
// job is submitted or picked up and then held for the whole run.
type Config struct {
	MaxConcurrentImports int
	AutoCategorize       bool
	AutoApplyThreshold   int
	// ReconciliationThreshold is the minimum confidence for attaching OFX rows.
	// Tabular rows only attach exact matches against themselves.
	ReconciliationThreshold int
	CheckpointEvery         int
	Location                *time.Location
}

// ConfigFrom reads Config from p, falling back to defaults for missing or
// invalid values.
func ConfigFrom(p settings.Provider) Config {
	cfg := Config{
		MaxConcurrentImports:    DefaultMaxConcurrentImports,
		AutoCategorize:          true,
		AutoApplyThreshold:      categorization.DefaultAutoApplyThreshold,
		ReconciliationThreshold: DefaultReconciliationThreshold,
		CheckpointEvery:         DefaultCheckpointEvery,
		Location:                time.UTC,
	}
	if p == nil {
		return cfg
	}

	if n := p.GetInt(settings.MaxConcurrentImportsPerUser, cfg.MaxConcurrentImports); n > 0 {
		cfg.MaxConcurrentImports = n
	}
	cfg.AutoCategorize = p.GetBool(settings.AutoCategorize, cfg.AutoCategorize)
	if n := p.GetInt(settings.AutoApplyThreshold, cfg.AutoApplyThreshold); n >= 0 && n <= 100 {
		cfg.AutoApplyThreshold = n
	}
	if n := p.GetInt(settings.ReconciliationThreshold, cfg.ReconciliationThreshold); n >= 0 && n <= 100 {
		cfg.ReconciliationThreshold = n
	}
	if tz := p.GetString(settings.ImportTimezone, ""); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			cfg.Location = loc
		}
	}
	return cfg
}
