package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for every config key.
const envPrefix = "CRMCHAT"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFiles sets the dotenv files read before environment binding.
// Defaults to ".env" in the current directory.
func (l *Loader) SetEnvFiles(paths ...string) {
	l.envFiles = paths
}

// Load loads configuration with proper precedence:
// defaults < config file < .env < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles reads dotenv files into the process environment. Variables
// already set in the environment win over file values.
func (l *Loader) loadEnvFiles() error {
	files := l.envFiles
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Credentials.File = expandTilde(cfg.Credentials.File)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicit binding so nested keys unmarshal from env vars.
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// API
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.requests_per_second", cfg.API.RequestsPerSecond)
	v.SetDefault("api.burst", cfg.API.Burst)
	v.SetDefault("api.channel", cfg.API.Channel)

	// Sync
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("sync.poll_limit", cfg.Sync.PollLimit)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.skip_overlapping_polls", cfg.Sync.SkipOverlappingPolls)
	v.SetDefault("sync.conversation_page_size", cfg.Sync.ConversationPageSize)

	// Timestamps
	v.SetDefault("timestamps.assume_utc", cfg.Timestamps.AssumeUTC)
	v.SetDefault("timestamps.assume_offset", cfg.Timestamps.AssumeOffset)

	// Credentials
	v.SetDefault("credentials.token", cfg.Credentials.Token)
	v.SetDefault("credentials.env_var", cfg.Credentials.EnvVar)
	v.SetDefault("credentials.file", cfg.Credentials.File)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Metrics
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. Used by CLI flags, which take precedence
// over every other source.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// configKeys lists every key that can be overridden from CRMCHAT_* variables.
var configKeys = []string{
	"api.base_url",
	"api.timeout",
	"api.requests_per_second",
	"api.burst",
	"api.channel",
	"sync.page_size",
	"sync.poll_limit",
	"sync.poll_interval",
	"sync.skip_overlapping_polls",
	"sync.conversation_page_size",
	"timestamps.assume_utc",
	"timestamps.assume_offset",
	"credentials.token",
	"credentials.env_var",
	"credentials.file",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"metrics.enabled",
	"metrics.addr",
}

// bindEnvVars binds environment variables for config keys:
// api.base_url -> CRMCHAT_API_BASE_URL.
func bindEnvVars(v *viper.Viper) {
	for _, key := range configKeys {
		envVar := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}
