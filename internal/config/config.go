// Package config loads application configuration from an optional YAML file
// and ROTAVAULT_ environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Key sources for the vault master key.
const (
	KeySourceFile    = "file"
	KeySourceKeyring = "keyring"
)

// Log output formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr string
	DBPath     string

	KeySource string
	KeyPath   string

	ProviderURL     string
	ProviderToken   string
	ProviderTimeout time.Duration

	DefaultIntervalHours int
	PasswordLength       int

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// HasProvider reports whether a provider bridge is configured. Without one
// the daemon still serves codes and account management.
func (c *Config) HasProvider() bool {
	return c.ProviderURL != ""
}

// fileConfig mirrors the YAML file. Durations are Go duration strings.
type fileConfig struct {
	ListenAddr           *string `yaml:"listen_addr"`
	DBPath               *string `yaml:"db_path"`
	KeySource            *string `yaml:"key_source"`
	KeyPath              *string `yaml:"key_path"`
	ProviderURL          *string `yaml:"provider_url"`
	ProviderToken        *string `yaml:"provider_token"`
	ProviderTimeout      *string `yaml:"provider_timeout"`
	DefaultIntervalHours *string `yaml:"default_interval_hours"`
	PasswordLength       *string `yaml:"password_length"`
	RetryMaxAttempts     *string `yaml:"retry_max_attempts"`
	RetryInitialInterval *string `yaml:"retry_initial_interval"`
	RetryMaxInterval     *string `yaml:"retry_max_interval"`
	LogLevel             *string `yaml:"log_level"`
	LogFormat            *string `yaml:"log_format"`
}

// setting binds one key to its YAML field.
type setting struct {
	key  string
	file func(*fileConfig) *string
}

// settings lists every key in load order. The env var for key K is
// ROTAVAULT_K.
var settings = []setting{
	{"LISTEN_ADDR", func(f *fileConfig) *string { return f.ListenAddr }},
	{"DB_PATH", func(f *fileConfig) *string { return f.DBPath }},
	{"KEY_SOURCE", func(f *fileConfig) *string { return f.KeySource }},
	{"KEY_PATH", func(f *fileConfig) *string { return f.KeyPath }},
	{"PROVIDER_URL", func(f *fileConfig) *string { return f.ProviderURL }},
	{"PROVIDER_TOKEN", func(f *fileConfig) *string { return f.ProviderToken }},
	{"PROVIDER_TIMEOUT", func(f *fileConfig) *string { return f.ProviderTimeout }},
	{"DEFAULT_INTERVAL_HOURS", func(f *fileConfig) *string { return f.DefaultIntervalHours }},
	{"PASSWORD_LENGTH", func(f *fileConfig) *string { return f.PasswordLength }},
	{"RETRY_MAX_ATTEMPTS", func(f *fileConfig) *string { return f.RetryMaxAttempts }},
	{"RETRY_INITIAL_INTERVAL", func(f *fileConfig) *string { return f.RetryInitialInterval }},
	{"RETRY_MAX_INTERVAL", func(f *fileConfig) *string { return f.RetryMaxInterval }},
	{"LOG_LEVEL", func(f *fileConfig) *string { return f.LogLevel }},
	{"LOG_FORMAT", func(f *fileConfig) *string { return f.LogFormat }},
}

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "ROTAVAULT_"

// defaults holds the value of every key when neither file nor env sets it.
var defaults = map[string]string{
	"LISTEN_ADDR":            "127.0.0.1:5001",
	"DB_PATH":                "rotavault.db",
	"KEY_SOURCE":             KeySourceFile,
	"KEY_PATH":               "encryption.key",
	"PROVIDER_TIMEOUT":       "30s",
	"DEFAULT_INTERVAL_HOURS": "24",
	"PASSWORD_LENGTH":        "16",
	"RETRY_MAX_ATTEMPTS":     "3",
	"RETRY_INITIAL_INTERVAL": "5m",
	"RETRY_MAX_INTERVAL":     "1h",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             LogFormatText,
}

// Load builds a Config from defaults, then the YAML file at path (or at
// ROTAVAULT_CONFIG when path is empty), then ROTAVAULT_ environment
// variables. A missing explicit file is an error; invalid values are errors.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	values := make(map[string]string, len(settings))
	for k, v := range defaults {
		values[k] = v
	}

	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, s := range settings {
			if v := s.file(fc); v != nil {
				values[s.key] = *v
			}
		}
	}

	for _, s := range settings {
		if v, ok := os.LookupEnv(EnvPrefix + s.key); ok {
			values[s.key] = v
		}
	}

	return build(values)
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func build(values map[string]string) (*Config, error) {
	p := parser{values: values}

	cfg := &Config{
		ListenAddr:           p.str("LISTEN_ADDR"),
		DBPath:               p.str("DB_PATH"),
		KeySource:            strings.ToLower(p.str("KEY_SOURCE")),
		KeyPath:              p.str("KEY_PATH"),
		ProviderURL:          p.str("PROVIDER_URL"),
		ProviderToken:        p.str("PROVIDER_TOKEN"),
		ProviderTimeout:      p.duration("PROVIDER_TIMEOUT"),
		DefaultIntervalHours: p.integer("DEFAULT_INTERVAL_HOURS", 1),
		PasswordLength:       p.integer("PASSWORD_LENGTH", 8),
		RetryMaxAttempts:     p.integer("RETRY_MAX_ATTEMPTS", 0),
		RetryInitialInterval: p.duration("RETRY_INITIAL_INTERVAL"),
		RetryMaxInterval:     p.duration("RETRY_MAX_INTERVAL"),
		LogFormat:            strings.ToLower(p.str("LOG_FORMAT")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(p.str("LOG_LEVEL"))); err != nil {
		p.fail("LOG_LEVEL", err)
	}

	switch cfg.KeySource {
	case KeySourceFile, KeySourceKeyring:
	default:
		p.fail("KEY_SOURCE", fmt.Errorf("must be %q or %q", KeySourceFile, KeySourceKeyring))
	}
	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		p.fail("LOG_FORMAT", fmt.Errorf("must be %q or %q", LogFormatText, LogFormatJSON))
	}
	if cfg.ListenAddr == "" {
		p.fail("LISTEN_ADDR", errors.New("must not be empty"))
	}
	if cfg.DBPath == "" {
		p.fail("DB_PATH", errors.New("must not be empty"))
	}
	if cfg.KeySource == KeySourceFile && cfg.KeyPath == "" {
		p.fail("KEY_PATH", errors.New("must not be empty"))
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		p.fail("RETRY_MAX_INTERVAL", errors.New("must not be shorter than RETRY_INITIAL_INTERVAL"))
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// parser converts raw values and collects every failure.
type parser struct {
	values map[string]string
	errs   []error
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.values[key])
}

func (p *parser) duration(key string) time.Duration {
	raw := p.str(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid duration %q", raw))
		return 0
	}
	if d <= 0 {
		p.fail(key, fmt.Errorf("duration %q must be positive", raw))
	}
	return d
}

func (p *parser) integer(key string, minValue int) int {
	raw := p.str(key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, fmt.Errorf("invalid integer %q", raw))
		return 0
	}
	if n < minValue {
		p.fail(key, fmt.Errorf("%d is below the minimum of %d", n, minValue))
	}
	return n
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
}
