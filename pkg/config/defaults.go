package config

import (
	"strings"

	"github.com/marmos91/imapfs/pkg/filestore"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Backend-specific defaults are handled by the backends themselves.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Identifier) == "" {
		cfg.Identifier = filestore.DefaultOwner
	}

	applyLoggingDefaults(&cfg.Logging)

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "WARN"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{Replace: true}
	ApplyDefaults(cfg)
	return cfg
}
