package config

import (
	"fmt"
	"log/slog"
)

// Reload returns a function that, when called, re-reads the process
// environment and embedded defaults, validates the result, and atomically
// swaps it into provider. Prepared once at startup and invoked from the
// server's SIGHUP handler.
func Reload(provider *Provider, logger *slog.Logger) func() error {
	return func() error {
		logger.Debug("reload: loading configuration from environment")
		newCfg, err := Load(nil)
		if err != nil {
			logger.Error("reload: failed to load configuration", "error", err)
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		provider.Update(newCfg)
		logger.Info("reload: configuration reloaded")
		return nil
	}
}
