package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultCacheDir       = "cache"
	defaultURLsPath       = "urls.txt"
	manifestFileName      = "manifest.json"
)

// Settings mirrors the "config" object of a .settings file. Paths are
// relative to Root joined with AppRoot.
type Settings struct {
	AppRoot     string `json:"app-root" yaml:"app-root"`
	Root        string `json:"root" yaml:"root"`
	URLsPath    string `json:"urls-path" yaml:"urls-path"`
	APIKey      string `json:"api-key" yaml:"api-key"`
	CachePrefix string `json:"cache-prefix" yaml:"cache-prefix"`
}

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > settings file > Environment variables > Defaults
type Config struct {
	Settings

	Port                 string
	CacheDir             string
	Seed                 int64
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	UpstreamTimeout      time.Duration
	EnableRequestLogging bool
	Debug                bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// settingsFile represents the on-disk settings document. The same shape is
// accepted as JSON (the historical .settings format) or YAML, decided by the
// file extension.
type settingsFile struct {
	Config Settings `json:"config" yaml:"config"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	SettingsFile   string
	Port           *string
	APIKey         *string
	Seed           *int64
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > settings file > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if overrides != nil && overrides.SettingsFile != "" {
		settings, err := loadSettingsFile(overrides.SettingsFile)
		if err != nil {
			return Config{}, fmt.Errorf("load settings: %w", err)
		}
		applySettings(&cfg, settings)
	}

	applyEnvConfig(&cfg)

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	normalize(&cfg)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// URLsFile returns the resolved path of the newline-delimited URL list.
func (c Config) URLsFile() string {
	return filepath.Join(c.Root, c.AppRoot, c.URLsPath)
}

// ManifestFile returns the resolved path of the image manifest.
func (c Config) ManifestFile() string {
	return filepath.Join(c.Root, c.AppRoot, manifestFileName)
}

// CachePath returns the resolved path of the local compressed-image cache.
func (c Config) CachePath() string {
	return filepath.Join(c.Root, c.AppRoot, c.CacheDir)
}

// CompressionEnabled reports whether an API key for the compression service
// has been configured.
func (c Config) CompressionEnabled() bool {
	return c.APIKey != ""
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Settings: Settings{
			AppRoot:  ".",
			Root:     ".",
			URLsPath: defaultURLsPath,
		},
		Port:                 defaultPort,
		CacheDir:             defaultCacheDir,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		UpstreamTimeout:      30 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadSettingsFile reads and decodes a settings document. Files named
// *.yaml or *.yml are decoded as YAML; anything else (including the
// historical .settings name) as JSON.
func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var doc settingsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	return &doc.Config, nil
}

// applySettings applies a settings document to the Config struct.
func applySettings(cfg *Config, settings *Settings) {
	if settings.AppRoot != "" {
		cfg.AppRoot = settings.AppRoot
	}
	if settings.Root != "" {
		cfg.Root = settings.Root
	}
	if settings.URLsPath != "" {
		cfg.URLsPath = settings.URLsPath
	}
	if settings.APIKey != "" {
		cfg.APIKey = settings.APIKey
	}
	if settings.CachePrefix != "" {
		cfg.CachePrefix = settings.CachePrefix
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if key := strings.TrimSpace(os.Getenv("TINIFY_API_KEY")); key != "" {
		cfg.APIKey = key
	}

	if prefix := strings.TrimSpace(os.Getenv("CACHE_PREFIX")); prefix != "" {
		cfg.CachePrefix = prefix
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.APIKey != nil && *overrides.APIKey != "" {
		cfg.APIKey = *overrides.APIKey
	}

	if overrides.Seed != nil {
		cfg.Seed = *overrides.Seed
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// normalize fixes up values that have a canonical form. The cache prefix is
// concatenated in front of cache-relative paths, so it must end in a slash.
func normalize(cfg *Config) {
	if cfg.CachePrefix != "" && !strings.HasSuffix(cfg.CachePrefix, "/") {
		cfg.CachePrefix += "/"
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if strings.TrimSpace(cfg.URLsPath) == "" {
		return fmt.Errorf("urls-path cannot be empty")
	}
	return nil
}
