// Package metrics provides Prometheus metrics collection for imapfs.
//
// All metrics are optional. If the registry is not initialized, Instrument
// returns the dialer unchanged and nothing is recorded.
//
// Usage:
//
//	// Initialize global registry (typically in main)
//	metrics.InitRegistry()
//
//	// Decorate a mailbox dialer
//	dialer = metrics.Instrument(dialer, "imap")
//
//	// Export before exiting
//	metrics.WriteTextfile("/var/lib/node_exporter/imapfs.prom")
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all imapfs metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It's safe to call multiple times - subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node exporter textfile collector. The file is replaced atomically.
func WriteTextfile(path string) error {
	if !IsEnabled() {
		return fmt.Errorf("metrics registry is not initialized")
	}
	if err := prometheus.WriteToTextfile(path, GetRegistry()); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
