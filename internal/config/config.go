// ABOUTME: Configuration loading and parsing for errorlog binaries
// ABOUTME: Supports YAML, JSON and TOML files with env var expansion, defaults and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/errorlog/internal/alert"
	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/report"
)

const (
	DefaultMaxErrorsStored   = 100
	DefaultCriticalThreshold = alert.DefaultThreshold
	DefaultCooldown          = alert.DefaultCooldown
	DefaultHandlerTimeout    = alert.DefaultTimeout
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultDigestFormat      = report.FormatMarkdown
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete errorlog configuration
type Config struct {
	ErrorLog ErrorLogConfig `yaml:"errorlog" toml:"errorlog"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Digest   DigestConfig   `yaml:"digest" toml:"digest"`
}

// ErrorLogConfig holds the error log's capacity and alerting settings
type ErrorLogConfig struct {
	MaxErrorsStored   int           `yaml:"max_errors_stored" toml:"max_errors_stored"`
	CriticalThreshold int           `yaml:"critical_threshold" toml:"critical_threshold"`
	Cooldown          time.Duration `yaml:"-" toml:"-"`
	HandlerTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	CooldownRaw       string `yaml:"cooldown" toml:"cooldown"`
	HandlerTimeoutRaw string `yaml:"handler_timeout" toml:"handler_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DigestConfig controls how alert digests are written
type DigestConfig struct {
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes raw configuration bytes. ext selects the decoder (".toml" for
// TOML, anything else for YAML/JSON).
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty strings leave the field zero so defaults can apply.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.ErrorLog.CooldownRaw != "" {
		cfg.ErrorLog.Cooldown, err = time.ParseDuration(cfg.ErrorLog.CooldownRaw)
		if err != nil {
			return fmt.Errorf("parsing cooldown %q: %w", cfg.ErrorLog.CooldownRaw, err)
		}
	}

	if cfg.ErrorLog.HandlerTimeoutRaw != "" {
		cfg.ErrorLog.HandlerTimeout, err = time.ParseDuration(cfg.ErrorLog.HandlerTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing handler_timeout %q: %w", cfg.ErrorLog.HandlerTimeoutRaw, err)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	e := &c.ErrorLog
	if e.MaxErrorsStored == 0 {
		e.MaxErrorsStored = DefaultMaxErrorsStored
	}
	if e.CriticalThreshold == 0 {
		e.CriticalThreshold = DefaultCriticalThreshold
	}
	// An explicit "0s" cooldown is kept: it disables rate limiting.
	if e.CooldownRaw == "" && e.Cooldown == 0 {
		e.Cooldown = DefaultCooldown
	}
	if e.HandlerTimeout == 0 {
		e.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Digest.Format == "" {
		c.Digest.Format = DefaultDigestFormat
	}
}

// Validate checks that all configuration fields are in range.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := dedupe.ValidateCapacity(c.ErrorLog.MaxErrorsStored); err != nil {
		return fmt.Errorf("%w: errorlog.max_errors_stored: %w", ErrInvalidConfig, err)
	}
	if c.ErrorLog.CriticalThreshold < 1 {
		return fmt.Errorf("%w: errorlog.critical_threshold must be at least 1, got %d", ErrInvalidConfig, c.ErrorLog.CriticalThreshold)
	}
	if c.ErrorLog.Cooldown < 0 {
		return fmt.Errorf("%w: errorlog.cooldown must not be negative", ErrInvalidConfig)
	}
	if c.ErrorLog.HandlerTimeout <= 0 {
		return fmt.Errorf("%w: errorlog.handler_timeout must be positive", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format %q is not one of text, json", ErrInvalidConfig, c.Logging.Format)
	}

	if !report.ValidFormat(c.Digest.Format) {
		return fmt.Errorf("%w: digest.format %q is not one of markdown, html", ErrInvalidConfig, c.Digest.Format)
	}
	return nil
}

// YAML renders cfg in the file format Load accepts.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	out.ErrorLog.CooldownRaw = c.ErrorLog.Cooldown.String()
	out.ErrorLog.HandlerTimeoutRaw = c.ErrorLog.HandlerTimeout.String()
	return yaml.Marshal(&out)
}
