// Package config loads the SDK's environment configuration. Values are read
// once at startup; components receive them as inputs and never consult the
// environment afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete SDK configuration
type Config struct {
	API         APIConfig
	Provider    ProviderConfig
	Store       StoreConfig
	Log         LogConfig
	Environment string
}

// APIConfig holds backend API settings
type APIConfig struct {
	// BaseURL is where the Huddle backend lives
	BaseURL string
	// Timeout applies to every outbound call; expiry counts as a network
	// failure
	Timeout time.Duration
}

// ProviderConfig holds identity provider settings. Empty values disable the
// provider flow; password login still works without one.
type ProviderConfig struct {
	Domain      string
	ClientID    string
	RedirectURI string
}

// StoreConfig holds local persistence settings
type StoreConfig struct {
	// Path is the sqlite file holding the session; empty means the default
	// under the user config dir
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // json or console
}

// New creates a Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env if present; real env vars win.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		API: APIConfig{
			BaseURL: getEnv("HUDDLE_API_URL", "http://localhost:8080"),
			Timeout: getEnvAsDuration("HUDDLE_API_TIMEOUT", 30*time.Second),
		},
		Provider: ProviderConfig{
			Domain:      getEnv("HUDDLE_PROVIDER_DOMAIN", ""),
			ClientID:    getEnv("HUDDLE_PROVIDER_CLIENT_ID", ""),
			RedirectURI: getEnv("HUDDLE_PROVIDER_REDIRECT_URI", ""),
		},
		Store: StoreConfig{
			Path: getEnv("HUDDLE_STORE_PATH", defaultStorePath()),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("HUDDLE_API_URL is required")
	}
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("HUDDLE_API_URL must be an absolute URL")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("HUDDLE_API_TIMEOUT must be positive")
	}

	// Provider settings are all-or-nothing.
	p := c.Provider
	if (p.Domain != "" || p.ClientID != "") && (p.Domain == "" || p.ClientID == "") {
		return fmt.Errorf("provider configuration requires both HUDDLE_PROVIDER_DOMAIN and HUDDLE_PROVIDER_CLIENT_ID")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// HasProvider reports whether an identity provider is configured
func (c *Config) HasProvider() bool {
	return c.Provider.Domain != "" && c.Provider.ClientID != ""
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// defaultStorePath places the session file under the user config dir
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "huddle-session.db"
	}
	return filepath.Join(dir, "huddle", "session.db")
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
