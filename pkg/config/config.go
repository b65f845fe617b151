// Package config loads runtime configuration from the environment and
// policy/agent definition files from disk (JSON or YAML).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the CLI and engine runtime configuration.
type Config struct {
	// DBPath is the SQLite database path. GOVERNANCE_DB_PATH overrides
	// the default.
	DBPath string
	// PostgresDSN, when set, selects the Postgres backend instead.
	PostgresDSN string
	// TenantID scopes every operation when the backend supports it.
	TenantID string
	LogLevel string
	// ApprovalTimeout is the deadline applied to new approval requests.
	ApprovalTimeout time.Duration
}

// Load reads configuration from environment variables, applying
// defaults for anything unset.
func Load() *Config {
	cfg := &Config{
		DBPath:          "warden.db",
		LogLevel:        "INFO",
		ApprovalTimeout: time.Hour,
	}
	if path := os.Getenv("GOVERNANCE_DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	cfg.PostgresDSN = os.Getenv("GOVERNANCE_POSTGRES_DSN")
	cfg.TenantID = os.Getenv("GOVERNANCE_TENANT_ID")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if raw := os.Getenv("GOVERNANCE_APPROVAL_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.ApprovalTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}
