package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvAPIURL   = "AIRMAP_API_URL"
	EnvLogLevel = "AIRMAP_LOG_LEVEL"
)

// Config holds the application configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Request RequestConfig `yaml:"request"`
	Refresh RefreshConfig `yaml:"refresh"`
	Limits  LimitsConfig  `yaml:"limits"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
}

// APIConfig points at the map backend.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// RefreshConfig holds background refresh intervals. Zero disables a task.
type RefreshConfig struct {
	Aircraft Duration `yaml:"aircraft"`
}

// LimitsConfig caps how many records each fetch requests.
type LimitsConfig struct {
	Aircraft int `yaml:"aircraft"`
	Airspace int `yaml:"airspace"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Size        int      `yaml:"size"`
	AirspaceTTL Duration `yaml:"airspace_ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path      string   `yaml:"path"`
	Snapshots bool     `yaml:"snapshots"`
	Retention Duration `yaml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api/v1",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Refresh: RefreshConfig{
			Aircraft: Duration(30 * time.Second),
		},
		Limits: LimitsConfig{
			Aircraft: 1000,
			Airspace: 100,
		},
		Cache: CacheConfig{
			Size:        64,
			AirspaceTTL: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:       "./logs/server.log",
				Level:      "INFO",
				MaxSizeMB:  10,
				MaxBackups: 3,
			},
			Requests: LogSettings{
				Path:       "./logs/requests.log",
				Level:      "INFO",
				MaxSizeMB:  10,
				MaxBackups: 3,
			},
		},
		DB: DBConfig{
			Path:      "./data/airmap.db",
			Snapshots: true,
			Retention: Duration(7 * Day),
		},
		Server: ServerConfig{
			Address: "localhost:1980",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, defaults are merged with it but nothing is written back.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := LoadEnv(".env"); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads variables from an env file without overriding ones already set.
// A missing file is not an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// applyEnv fills values from the environment. Env wins for the API URL so a
// deployment can repoint the service without editing the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Server.Level = strings.ToUpper(v)
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q: must be an absolute URL", c.API.BaseURL)
	}
	if c.Limits.Aircraft < 1 || c.Limits.Aircraft > 1000 {
		return fmt.Errorf("invalid limits.aircraft %d: must be between 1 and 1000", c.Limits.Aircraft)
	}
	if c.Limits.Airspace < 1 {
		return fmt.Errorf("invalid limits.airspace %d: must be positive", c.Limits.Airspace)
	}
	if c.Refresh.Aircraft < 0 {
		return fmt.Errorf("invalid refresh.aircraft %s: must not be negative", time.Duration(c.Refresh.Aircraft))
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# airmap configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Environment overrides: AIRMAP_API_URL, AIRMAP_LOG_LEVEL (also read from .env)

`)
	data = append(header, data...)

	reLevel := regexp.MustCompile(`(?m)^(\s+)level:`)
	data = reLevel.ReplaceAll(data, []byte("${1}# Options: DEBUG, INFO, WARN, ERROR\n${1}level:"))

	reRefresh := regexp.MustCompile(`(?m)^refresh:`)
	data = reRefresh.ReplaceAll(data, []byte("# Background refresh intervals (0 disables)\nrefresh:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
