package config

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/imapfs/internal/logger"
)

// ConfigureLogging applies the logging section to the global logger.
// stderr receives logs when Output is "stderr". The returned function
// closes a log file opened for Output and points the logger back at the
// process stderr.
func ConfigureLogging(cfg *LoggingConfig, stderr io.Writer) (func() error, error) {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)

	switch cfg.Output {
	case "", "stderr":
		logger.SetOutput(stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		return func() error {
			logger.SetOutput(os.Stderr)
			return f.Close()
		}, nil
	}

	return func() error {
		logger.SetOutput(os.Stderr)
		return nil
	}, nil
}
