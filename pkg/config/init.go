package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments documents each top-level key of a generated config file.
var sectionComments = map[string]string{
	"locator":    "Mailbox locator: imap://, imaps://, memory://, badger:///dir or s3://bucket/prefix",
	"identifier": "Owner marker stamped on every stored message. Only messages carrying it are visible.",
	"username":   "Credentials used when the locator carries no user info",
	"replace":    "Whether put retires the current version by default",
	"editor":     "Editor command for edit when $VISUAL and $EDITOR are unset",
	"logging":    "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stderr, stdout, path)",
	"imap":       "IMAP transport options",
	"metrics":    "Prometheus textfile written when a command exits (empty disables metrics)",
	"rate_limit": "Mailbox commands per second and burst size (0 disables throttling)",
}

const configHeader = "# imapfs configuration file\n#\n# Every key can be overridden with an IMAPFS_ environment variable,\n# e.g. IMAPFS_LOGGING_LEVEL=DEBUG.\n\n"

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// May end up holding a password
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above each
// documented section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping nodes alternate key and value
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return configHeader + string(out), nil
}
