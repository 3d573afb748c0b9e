// Package config loads the guard configuration: which selectors count as
// value-moving, which extend the administrative surface, the upgrade
// timelock, and where state and the audit log live.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configurable guard parameters.
type Config struct {
	// SpendSelectors tags the operations whose amounts count against
	// spending policies. Classification is configuration, not code.
	SpendSelectors []string `yaml:"spend_selectors"`

	// AdminSelectors extends the built-in administrative denylist.
	AdminSelectors []string `yaml:"admin_selectors"`

	// UpgradeDelaySeconds is the timelock between scheduling and
	// executing a logic upgrade.
	UpgradeDelaySeconds int64 `yaml:"upgrade_delay_seconds"`

	// Database is the SQLite state file. AuditLog is the JSONL chain.
	Database string `yaml:"database"`
	AuditLog string `yaml:"audit_log"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		SpendSelectors: []string{
			"transfer",
			"transfer_from",
			"approve",
			"increase_allowance",
		},
		AdminSelectors:      []string{},
		UpgradeDelaySeconds: 86400,
		Database:            filepath.Join(defaultDir(), "state.db"),
		AuditLog:            filepath.Join(defaultDir(), "audit.jsonl"),
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sessionguard")
	}
	return filepath.Join(home, ".sessionguard")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to the
// default location. Missing file returns defaults. Invalid YAML errors.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw
// bytes on disk, recorded in audit entries so every decision names the
// config it was made under. Defaults hash as SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("read config: %w", err)
	}

	// Start with defaults; YAML overwrites only specified fields.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

func (c *Config) validate() error {
	if c.UpgradeDelaySeconds < 0 {
		return fmt.Errorf("config: upgrade_delay_seconds must not be negative")
	}
	return nil
}

// IsSpendSelector reports whether amounts under this selector count
// against spending policies. Case-insensitive.
func (c *Config) IsSpendSelector(sel string) bool {
	sel = strings.ToLower(sel)
	for _, s := range c.SpendSelectors {
		if strings.ToLower(s) == sel {
			return true
		}
	}
	return false
}

// Write marshals the config to a YAML file, creating parent directories.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
