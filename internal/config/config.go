// Package config loads and validates inquest configuration.
// Configuration is read from .inquest/config.yaml and may be overridden
// by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inquest configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Research session settings
	Session SessionConfig `yaml:"session"`

	// Search dispatch settings
	Search SearchConfig `yaml:"search"`

	// Page retrieval settings
	Fetch FetchConfig `yaml:"fetch"`

	// Persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-completion collaborator.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// SessionConfig configures the research state machine.
type SessionConfig struct {
	// Depth is the number of research stages per session.
	Depth int `yaml:"depth"`

	// MaxSources caps successfully retrieved pages per stage.
	MaxSources int `yaml:"max_sources"`
}

// SearchConfig configures search backends.
type SearchConfig struct {
	// MaxResultsPerCategory caps results requested from each backend.
	MaxResultsPerCategory int `yaml:"max_results_per_category"`

	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	// UseBrowser selects the rod-backed fetcher for JS-rendered pages.
	UseBrowser bool `yaml:"use_browser"`

	// MinDelayMs/MaxDelayMs bound the random courtesy delay before each download.
	MinDelayMs int `yaml:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms"`

	// SizeBudget is the maximum characters kept per document before sampling.
	SizeBudget int `yaml:"size_budget"`

	// IncludeLinks keeps hyperlinks in converted markdown.
	IncludeLinks bool `yaml:"include_links"`

	Timeout        string   `yaml:"timeout"`
	BlockedDomains []string `yaml:"blocked_domains"`

	// CacheTTL bounds how long fetched pages are reused across stage retries.
	CacheTTL string `yaml:"cache_ttl"`
}

// StorageConfig configures the session store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "inquest",
		Version: "0.3.0",

		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "120s",
		},

		Session: SessionConfig{
			Depth:      2,
			MaxSources: 5,
		},

		Search: SearchConfig{
			MaxResultsPerCategory: 10,
			Timeout:               "30s",
			UserAgent:             "inquest/0.3 (research session engine)",
		},

		Fetch: FetchConfig{
			UseBrowser:   false,
			MinDelayMs:   1000,
			MaxDelayMs:   3000,
			SizeBudget:   20000,
			IncludeLinks: true,
			Timeout:      "60s",
			BlockedDomains: []string{
				"facebook.com", "twitter.com", "instagram.com",
				"linkedin.com", "tiktok.com",
			},
			CacheTTL: "30m",
		},

		Storage: StorageConfig{
			DatabasePath: filepath.Join(".inquest", "inquest.db"),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("INQUEST_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("INQUEST_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("INQUEST_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if depth := os.Getenv("INQUEST_DEPTH"); depth != "" {
		if d, err := strconv.Atoi(depth); err == nil && d > 0 {
			c.Session.Depth = d
		}
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSearchTimeout returns the per-search timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetFetchTimeout returns the per-page fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCacheTTL returns the page cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Fetch.CacheTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or INQUEST_API_KEY)")
	}
	if c.Session.Depth < 1 {
		return fmt.Errorf("session depth must be at least 1 (got %d)", c.Session.Depth)
	}
	if c.Session.MaxSources < 1 {
		return fmt.Errorf("max_sources must be at least 1 (got %d)", c.Session.MaxSources)
	}
	if c.Fetch.MinDelayMs > c.Fetch.MaxDelayMs {
		return fmt.Errorf("min_delay_ms (%d) exceeds max_delay_ms (%d)", c.Fetch.MinDelayMs, c.Fetch.MaxDelayMs)
	}
	return nil
}
