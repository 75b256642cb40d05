package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// ConfigPathEnv points at an optional YAML file.
	ConfigPathEnv     = "FORECAST_CONFIG"
	defaultConfigPath = "forecast.yaml"
)

// envKeys maps the environment variables the service understands onto
// config keys. Anything not listed here is ignored.
var envKeys = map[string]string{
	"DATABASE_URL":                     "database.url",
	"DATABASE_SEED":                    "database.seed",
	"PORT":                             "server.port",
	"CORS_ALLOWED_ORIGINS":             "server.allowed_origins",
	"PREDICTION_MODEL_URL":             "model.url",
	"PREDICTION_MODEL_API_KEY":         "model.api_key",
	"PREDICTION_MODEL_TIMEOUT":         "model.timeout",
	"PREDICTION_MODEL_DEFAULT_VERSION": "model.default_version",
	"PREDICTION_MODEL_CACHE_TTL":       "model.cache_ttl",
	"PREDICTION_MODEL_CACHE_SIZE":      "model.cache_size",
	"FORECAST_THRESHOLD":               "forecast.threshold",
	"FORECAST_BASELINE":                "forecast.baseline",
	"FORECAST_CONCURRENCY":             "forecast.concurrency",
	"FORECAST_TIMEZONE":                "forecast.timezone",
	"FORECAST_REFRESH_INTERVAL":        "forecast.refresh_interval",
	"FORECAST_PASS_TIMEOUT":            "forecast.pass_timeout",
	"FORECAST_BIN_STATUS":              "forecast.bin_status",
	"LOG_LEVEL":                        "log.level",
}

// Config holds every setting the forecast service and CLI need.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Model    ModelConfig    `koanf:"model"`
	Forecast ForecastConfig `koanf:"forecast"`
	Log      LogConfig      `koanf:"log"`
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
	// Seed loads demo bins and collection events into an empty database.
	Seed bool `koanf:"seed"`
}

type ServerConfig struct {
	Port           string   `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ModelConfig describes how to reach the growth-prediction model.
type ModelConfig struct {
	URL            string        `koanf:"url"`
	APIKey         string        `koanf:"api_key"`
	Timeout        time.Duration `koanf:"timeout"`
	DefaultVersion string        `koanf:"default_version"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	CacheSize      int           `koanf:"cache_size"`
}

// ForecastConfig tunes refresh passes and priority scoring.
type ForecastConfig struct {
	// Threshold is the fill percentage that makes a bin due.
	Threshold float64 `koanf:"threshold"`
	// Baseline is "last_observed" or "zero".
	Baseline    string `koanf:"baseline"`
	Concurrency int    `koanf:"concurrency"`
	// Timezone is used to derive the calendar month of a cycle.
	Timezone string `koanf:"timezone"`
	// RefreshInterval enables the in-process scheduler when positive.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	PassTimeout     time.Duration `koanf:"pass_timeout"`
	// BinStatus limits refresh passes to bins with this status ("all" disables the filter).
	BinStatus string `koanf:"bin_status"`

	location *time.Location
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Load reads the optional YAML file at path (FORECAST_CONFIG or forecast.yaml
// when empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path == "" {
		path = defaultConfigPath
	}

	k := koanf.New(".")
	if _, err := os.Stat(path); err == nil {
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every unset value.
func (c *Config) SetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Model.Timeout <= 0 {
		c.Model.Timeout = 10 * time.Second
	}
	if c.Model.DefaultVersion == "" {
		c.Model.DefaultVersion = "growth-v1"
	}
	if c.Model.CacheTTL <= 0 {
		c.Model.CacheTTL = 24 * time.Hour
	}
	if c.Model.CacheSize <= 0 {
		c.Model.CacheSize = 5000
	}
	if c.Forecast.Threshold == 0 {
		c.Forecast.Threshold = 80
	}
	if c.Forecast.Baseline == "" {
		c.Forecast.Baseline = "last_observed"
	}
	if c.Forecast.Concurrency <= 0 {
		c.Forecast.Concurrency = 8
	}
	if c.Forecast.Timezone == "" {
		c.Forecast.Timezone = "UTC"
	}
	if c.Forecast.PassTimeout <= 0 {
		c.Forecast.PassTimeout = 5 * time.Minute
	}
	if c.Forecast.BinStatus == "" {
		c.Forecast.BinStatus = "active"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks mandatory fields and ranges.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required (DATABASE_URL)")
	}
	if c.Forecast.Threshold <= 0 || c.Forecast.Threshold > 100 {
		return fmt.Errorf("forecast.threshold must be in (0, 100], got %v", c.Forecast.Threshold)
	}
	if c.Forecast.Baseline != "last_observed" && c.Forecast.Baseline != "zero" {
		return fmt.Errorf("forecast.baseline must be last_observed or zero, got %q", c.Forecast.Baseline)
	}
	if c.Forecast.RefreshInterval < 0 {
		return errors.New("forecast.refresh_interval must not be negative")
	}
	loc, err := time.LoadLocation(c.Forecast.Timezone)
	if err != nil {
		return fmt.Errorf("forecast.timezone: %w", err)
	}
	c.Forecast.location = loc
	return nil
}

// Location resolves the configured time zone, UTC when unresolved.
func (f ForecastConfig) Location() *time.Location {
	if f.location != nil {
		return f.location
	}
	return time.UTC
}
