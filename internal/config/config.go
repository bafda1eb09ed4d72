package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const appName = "mailtally"

// Providers and their listing page size ceiling.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"

	MaxPageSize = 500
)

// Config is the on-disk configuration merged with environment overrides.
type Config struct {
	Provider string `yaml:"provider"`
	LogLevel string `yaml:"log_level"`

	// Paths; empty means the XDG default.
	DBPath            string `yaml:"db_path"`
	DBDriver          string `yaml:"db_driver"`
	TokenPath         string `yaml:"token_path"`
	ClientSecretsPath string `yaml:"client_secrets_path"`

	Google  GoogleConfig  `yaml:"google"`
	Outlook OutlookConfig `yaml:"outlook"`
	Sync    SyncConfig    `yaml:"sync"`
	Auth    AuthConfig    `yaml:"auth"`
	Serve   ServeConfig   `yaml:"serve"`
	NATS    NATSConfig    `yaml:"nats"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type OutlookConfig struct {
	ClientID string `yaml:"client_id"`
	Tenant   string `yaml:"tenant"`
}

// SyncConfig tunes the listing loop and its retry policy.
type SyncConfig struct {
	PageSize         int64         `yaml:"page_size"`
	Query            string        `yaml:"query"`
	Labels           []string      `yaml:"labels"`
	IncludeSpamTrash bool          `yaml:"include_spam_trash"`
	MaxRetries       int           `yaml:"max_retries"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	RequestsPerSec   int           `yaml:"requests_per_second"`
	Workers          int           `yaml:"workers"`
}

type AuthConfig struct {
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
	RefreshSkew     time.Duration `yaml:"refresh_skew"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables publishing run summaries. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Provider: ProviderGmail,
		LogLevel: "info",
		DBDriver: "sqlite",
		Outlook:  OutlookConfig{Tenant: "common"},
		Sync: SyncConfig{
			PageSize:       MaxPageSize,
			MaxRetries:     3,
			BaseBackoff:    500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			RequestsPerSec: 10,
			Workers:        1,
		},
		Auth: AuthConfig{
			CallbackTimeout: 2 * time.Minute,
			RefreshSkew:     2 * time.Minute,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:8088"},
		NATS:  NATSConfig{Subject: "mailtally.runs", Stream: "MAILTALLY"},
	}
}

// Dir returns the config directory, honoring MAILTALLY_CONFIG_DIR.
func Dir() string {
	if override := os.Getenv("MAILTALLY_CONFIG_DIR"); override != "" {
		return override
	}
	return filepath.Join(xdg.ConfigHome, appName)
}

// DataDir returns the data directory, honoring MAILTALLY_DATA_DIR.
func DataDir() string {
	if override := os.Getenv("MAILTALLY_DATA_DIR"); override != "" {
		return override
	}
	return filepath.Join(xdg.DataHome, appName)
}

// Path is the config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config file (missing is fine), loads .env files from the
// working and config directories, applies environment overrides and fills
// derived paths.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	for _, envFile := range []string{".env", filepath.Join(Dir(), ".env")} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillPaths()
	return cfg, nil
}

// Save writes the config file, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Provider, "MAILTALLY_PROVIDER")
	setString(&c.LogLevel, "MAILTALLY_LOG_LEVEL")
	setString(&c.DBPath, "MAILTALLY_DB_PATH")
	setString(&c.DBDriver, "MAILTALLY_DB_DRIVER")
	setString(&c.TokenPath, "MAILTALLY_TOKEN_PATH")
	setString(&c.Sync.Query, "MAILTALLY_QUERY")
	setString(&c.Serve.Addr, "MAILTALLY_SERVE_ADDR")
	setString(&c.NATS.URL, "MAILTALLY_NATS_URL")
	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Outlook.ClientID, "MS_CLIENT_ID")
	setString(&c.Outlook.Tenant, "MS_TENANT")

	if v := os.Getenv("MAILTALLY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAILTALLY_WORKERS: %w", err)
		}
		c.Sync.Workers = n
	}
	if v := os.Getenv("MAILTALLY_PAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAILTALLY_PAGE_SIZE: %w", err)
		}
		c.Sync.PageSize = n
	}
	return nil
}

func (c *Config) fillPaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(DataDir(), appName+".db")
	}
	if c.TokenPath == "" {
		c.TokenPath = filepath.Join(Dir(), c.Provider+"-token.json")
	}
	if c.ClientSecretsPath == "" {
		c.ClientSecretsPath = filepath.Join(Dir(), "client_secret.json")
	}
}

// Validate rejects values the sync core cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGmail, ProviderOutlook:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.DBDriver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d, got %d", MaxPageSize, c.Sync.PageSize)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BaseBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		return fmt.Errorf("invalid backoff: base %s, max %s", c.Sync.BaseBackoff, c.Sync.MaxBackoff)
	}
	if c.Sync.RequestsPerSec < 1 {
		return fmt.Errorf("requests per second must be at least 1, got %d", c.Sync.RequestsPerSec)
	}
	if c.Auth.CallbackTimeout <= 0 {
		return fmt.Errorf("callback timeout must be positive")
	}
	return nil
}
