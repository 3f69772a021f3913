// Package config handles crmchat configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure for crmchat.
type Config struct {
	// API settings for the CRM backend
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Sync settings for pagination and live refresh
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Timestamps controls how offset-less backend dates are read
	Timestamps TimestampConfig `yaml:"timestamps" mapstructure:"timestamps"`

	// Credentials settings
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// APIConfig contains CRM REST backend settings.
type APIConfig struct {
	// BaseURL is the backend root, e.g. https://crm.example.com/api.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout bounds every HTTP round-trip.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// Burst is the pacing burst size.
	Burst int `yaml:"burst" mapstructure:"burst"`

	// Channel is the message channel requested from the backend.
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// SyncConfig contains message synchronization settings.
type SyncConfig struct {
	// PageSize is the number of messages per initial/backfill page.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// PollLimit is the number of latest messages fetched per poll.
	PollLimit int `yaml:"poll_limit" mapstructure:"poll_limit"`

	// PollInterval is the live refresh cadence.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// SkipOverlappingPolls skips a tick while the previous poll is in flight.
	SkipOverlappingPolls bool `yaml:"skip_overlapping_polls" mapstructure:"skip_overlapping_polls"`

	// ConversationPageSize is the number of conversations per page.
	ConversationPageSize int `yaml:"conversation_page_size" mapstructure:"conversation_page_size"`
}

// TimestampConfig contains timestamp interpretation settings.
type TimestampConfig struct {
	// AssumeUTC treats offset-less backend timestamps as UTC.
	AssumeUTC bool `yaml:"assume_utc" mapstructure:"assume_utc"`

	// AssumeOffset is appended to offset-less timestamps (e.g. "-03:00").
	AssumeOffset string `yaml:"assume_offset" mapstructure:"assume_offset"`
}

// CredentialsConfig contains bearer token sources, consulted in order:
// Token, the EnvVar environment variable, then File.
type CredentialsConfig struct {
	// Token is an inline bearer token (prefer EnvVar or File).
	Token string `yaml:"token" mapstructure:"token"`

	// EnvVar names the environment variable holding the token.
	EnvVar string `yaml:"env_var" mapstructure:"env_var"`

	// File is the persisted token file written by `crmchat login`.
	File string `yaml:"file" mapstructure:"file"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled registers sync metrics.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the listen address for /metrics while watching (empty = off).
	Addr string `yaml:"addr" mapstructure:"addr"`
}

var offsetPattern = regexp.MustCompile(`^[+-]\d{2}:?\d{2}$`)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 0,
			Burst:             5,
			Channel:           "whatsapp",
		},
		Sync: SyncConfig{
			PageSize:             50,
			PollLimit:            20,
			PollInterval:         5 * time.Second,
			SkipOverlappingPolls: true,
			ConversationPageSize: 30,
		},
		Timestamps: TimestampConfig{
			AssumeUTC:    false,
			AssumeOffset: "",
		},
		Credentials: CredentialsConfig{
			EnvVar: "CRMCHAT_TOKEN",
			File:   filepath.Join(homeDir, ".config", "crmchat", "credentials.json"),
		},
		Logging: LoggingConfig{
			Level:        "warn",
			Format:       "console",
			EnableCaller: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.API.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme must be http or https")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative")
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst < 1 {
		return fmt.Errorf("api.burst must be at least 1 when pacing is enabled")
	}
	if strings.TrimSpace(c.API.Channel) == "" {
		return fmt.Errorf("api.channel is required")
	}

	if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
		return fmt.Errorf("sync.page_size must be between 1 and 500")
	}
	if c.Sync.PollLimit < 1 || c.Sync.PollLimit > 500 {
		return fmt.Errorf("sync.poll_limit must be between 1 and 500")
	}
	if c.Sync.PollInterval < 500*time.Millisecond {
		return fmt.Errorf("sync.poll_interval must be at least 500ms")
	}
	if c.Sync.ConversationPageSize < 1 || c.Sync.ConversationPageSize > 500 {
		return fmt.Errorf("sync.conversation_page_size must be between 1 and 500")
	}

	if offset := strings.TrimSpace(c.Timestamps.AssumeOffset); offset != "" && !offsetPattern.MatchString(offset) {
		return fmt.Errorf("timestamps.assume_offset must look like +HH:MM or -HHMM")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}

	return nil
}

// ConfigDir returns the directory holding crmchat's local files.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crmchat")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "crmchat")
}
