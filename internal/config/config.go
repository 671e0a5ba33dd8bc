// Package config loads the optional .confgrd.config file of a scan root.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the scan root
const FileName = ".confgrd.config"

// EnvPrefix prefixes environment overrides, e.g. CONFGRD_LOG_LEVEL
const EnvPrefix = "CONFGRD"

// Config represents the confgrd configuration
type Config struct {
	Scan   ScanConfig   `mapstructure:"scan"`
	Log    LogConfig    `mapstructure:"log"`
	Export ExportConfig `mapstructure:"export"`
}

// ScanConfig tunes the scan pipeline
type ScanConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=256"` // Files processed in parallel
}

// LogConfig controls diagnostics written to stderr
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// ExportConfig holds defaults for the export command
type ExportConfig struct {
	Format        string `mapstructure:"format" validate:"oneof=env json yaml"`
	RedactSecrets bool   `mapstructure:"redact_secrets"` // Blank values of secret-looking keys
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Scan:   ScanConfig{Concurrency: 16},
		Log:    LogConfig{Level: "info"},
		Export: ExportConfig{Format: "env", RedactSecrets: true},
	}
}

var validate = validator.New()

// Load reads rootPath/.confgrd.config when it exists, applies CONFGRD_*
// environment overrides and validates the result. A missing file yields
// the defaults.
func Load(rootPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("scan.concurrency", defaults.Scan.Concurrency)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("export.format", defaults.Export.Format)
	v.SetDefault("export.redact_secrets", defaults.Export.RedactSecrets)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := filepath.Join(rootPath, FileName)
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to access %s: %w", FileName, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Export.Format = strings.ToLower(cfg.Export.Format)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// defaultFileContent is written by WriteDefault
const defaultFileContent = `# .confgrd.config
# Configuration file for confgrd. Every key can also be set through the
# environment, e.g. CONFGRD_SCAN_CONCURRENCY=4.

scan:
  # Number of files read and parsed in parallel (1-256)
  concurrency: 16

log:
  # debug, info, warn or error
  level: info

export:
  # Default format for "confgrd export": env, json or yaml
  format: env
  # Write values of keys that look like secrets as empty
  redact_secrets: true
`

// WriteDefault creates a commented default config file in dir. It refuses
// to overwrite an existing file.
func WriteDefault(dir string) (string, error) {
	configPath := filepath.Join(dir, FileName)

	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("%s already exists in %s", FileName, dir)
	}

	if err := os.WriteFile(configPath, []byte(defaultFileContent), 0o644); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", FileName, err)
	}
	return configPath, nil
}
