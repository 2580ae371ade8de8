// Package settings is the key-value configuration the import engine reads
// per job: admission limits and confidence thresholds.
package settings

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Keys understood by the engine.
const (
	MaxConcurrentImportsPerUser = "max_concurrent_imports_per_user"
	AutoApplyThreshold          = "categorization.auto_apply_threshold"
	AutoCategorize              = "categorization.enabled"
	ReconciliationThreshold     = "reconciliation.auto_attach_threshold"
	ImportTimezone              = "import.timezone"
)

// Provider returns the value stored under key, or def when it is unset or of
// the wrong type.
type Provider interface {
	GetInt(key string, def int) int
	GetString(key, def string) string
	GetBool(key string, def bool) bool
}

// ViperProvider reads an optional TOML/YAML file with IMPORTER_ environment
// overrides, e.g. IMPORTER_CATEGORIZATION_AUTO_APPLY_THRESHOLD.
type ViperProvider struct {
	v *viper.Viper
}

func NewViperProvider(path string) (*ViperProvider, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}
	return &ViperProvider{v: v}, nil
}

func (p *ViperProvider) GetInt(key string, def int) int {
	if !p.v.IsSet(key) {
		return def
	}
	n, err := toInt(p.v.Get(key))
	if err != nil {
		return def
	}
	return n
}

func (p *ViperProvider) GetString(key, def string) string {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetString(key)
}

func (p *ViperProvider) GetBool(key string, def bool) bool {
	if !p.v.IsSet(key) {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(p.v.GetString(key))) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return def
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		var i int
		if _, err := fmt.Sscan(strings.TrimSpace(n), &i); err != nil {
			return 0, err
		}
		return i, nil
	}
	return 0, fmt.Errorf("unsupported value %T", v)
}

// Static is an in-memory Provider. The zero value returns defaults.
type Static struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewStatic(values map[string]any) *Static {
	s := &Static{values: make(map[string]any, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func (s *Static) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
}

func (s *Static) get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Static) GetInt(key string, def int) int {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	n, err := toInt(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Static) GetString(key, def string) string {
	if v, ok := s.get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

func (s *Static) GetBool(key string, def bool) bool {
	if v, ok := s.get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
