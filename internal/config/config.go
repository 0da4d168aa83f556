package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerConfig holds configuration for the introspection server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite trace store path (default ~/.portsched/traces.db, ":memory:" for testing)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// SchedulerConfig holds port scheduler settings shared by the CLI commands.
type SchedulerConfig struct {
	InterSwitchDelay time.Duration // Minimum pause when control passes to another source
}

// DefaultSchedulerConfig returns a configuration without a switch delay.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{}
}

// Validate rejects settings the scheduler cannot honour.
func (c SchedulerConfig) Validate() error {
	if c.InterSwitchDelay < 0 {
		return fmt.Errorf("inter-switch delay must not be negative, got %v", c.InterSwitchDelay)
	}
	return nil
}

// ResolveDBPath returns path if set, then $PORTSCHED_DB, then
// ~/.portsched/traces.db, creating the parent directory for the default.
func ResolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if env := os.Getenv("PORTSCHED_DB"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".portsched")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "traces.db"), nil
}
