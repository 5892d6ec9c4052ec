package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by imapfs.
const EnvPrefix = "IMAPFS"

// Config represents the complete imapfs configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (IMAPFS_*), including the credentials env file
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend options follow the store configuration pattern: the locator scheme
// selects the backend and only the matching section (badger, s3) is decoded.
type Config struct {
	// Locator is the mailbox connection string (imap://, imaps://, memory://,
	// badger://, s3://)
	Locator string `mapstructure:"locator" yaml:"locator"`

	// Identifier is the owner marker stamped on every message this
	// installation writes. Only messages carrying it are visible as files.
	Identifier string `mapstructure:"identifier" yaml:"identifier" validate:"required,excludesall=\r\n"`

	// Username and Password fill in missing user info of an IMAP locator
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// Replace makes put retire the current version by default
	Replace bool `mapstructure:"replace" yaml:"replace"`

	// Editor is the command used by edit when $VISUAL and $EDITOR are unset
	Editor string `mapstructure:"editor" yaml:"editor,omitempty"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// IMAP holds transport options for imap:// and imaps:// locators
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`

	// Metrics controls the Prometheus textfile export
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// RateLimit throttles mailbox commands
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Badger contains BadgerDB-specific options (sync_writes, block_cache_size_mb)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// S3 contains S3-specific options (region, endpoint, access_key_id,
	// secret_access_key, max_retries)
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stderr, stdout or a file path.
	// Stdout also carries file payloads, so stderr is the default.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// IMAPConfig holds IMAP transport options.
type IMAPConfig struct {
	// StartTLS upgrades plaintext imap:// connections before LOGIN
	StartTLS bool `mapstructure:"starttls" yaml:"starttls"`

	// InsecureSkipVerify disables server certificate verification
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	// Textfile is written in Prometheus text format when the command exits.
	// Empty disables metrics.
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// RateLimitConfig throttles the commands sent to the mailbox.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained command rate. 0 disables throttling.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of commands allowed at once. 0 means
	// RequestsPerSecond.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// Overrides carries CLI flag values keyed by configuration key
// (e.g. "identifier", "logging.level"). They take precedence over every
// other source.
type Overrides map[string]any

// envKeys lists the keys that can be set from the environment. viper only
// consults the environment for keys it knows about, so nested backend
// options are bound explicitly.
var envKeys = []string{
	"locator",
	"identifier",
	"username",
	"password",
	"replace",
	"editor",
	"logging.level",
	"logging.format",
	"logging.output",
	"imap.starttls",
	"imap.insecure_skip_verify",
	"metrics.textfile",
	"rate_limit.requests_per_second",
	"rate_limit.burst",
	"badger.sync_writes",
	"badger.block_cache_size_mb",
	"s3.region",
	"s3.endpoint",
	"s3.access_key_id",
	"s3.secret_access_key",
	"s3.max_retries",
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - overrides: Values set by CLI flags, may be nil
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, overrides Overrides) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: IMAPFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Booleans cannot be defaulted after unmarshalling
	v.SetDefault("replace", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/imapfs/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	// An explicit path that does not exist is an error, a missing default
	// file is not
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configPath == "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	logger.Debug("Loaded config file %s", v.ConfigFileUsed())
	return nil
}

// loadEnvFile loads credentials from a dotenv file into the environment.
// Variables already set in the environment win. A missing default file is
// ignored; a missing file named by IMAPFS_ENV_FILE is an error.
func loadEnvFile() error {
	path, explicit := os.LookupEnv(EnvPrefix + "_ENV_FILE")
	if !explicit || path == "" {
		path = GetDefaultEnvFilePath()
		explicit = false
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	logger.Debug("Loaded credentials from %s", path)
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "imapfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "imapfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetDefaultEnvFilePath returns the default credentials env file path.
func GetDefaultEnvFilePath() string {
	return filepath.Join(getConfigDir(), "credentials.env")
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Password != "" {
		out.Password = "xxxxx"
	}
	if len(c.S3) > 0 {
		out.S3 = make(map[string]any, len(c.S3))
		for k, v := range c.S3 {
			if k == "secret_access_key" {
				v = "xxxxx"
			}
			out.S3[k] = v
		}
	}
	return &out
}
