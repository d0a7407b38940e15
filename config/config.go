package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds export configuration.
type Config struct {
	DatabasePath string `yaml:"database"`
	OutputFile   string `yaml:"output"`
	CacheFile    string `yaml:"cache_file"`
	SessionsFile string `yaml:"sessions_parquet"`
	Console      bool   `yaml:"console"`
	Debug        bool   `yaml:"debug"`
	MetricsAddr  string `yaml:"metrics_addr"`

	// Source schema codes.
	ContentTypes          []int  `yaml:"content_types"`
	FilteredContentType   int    `yaml:"filtered_content_type"`
	FilteredContentPrefix string `yaml:"filtered_content_prefix"`
	ChapterContentType    int    `yaml:"chapter_content_type"`
	MinSessionSeconds     int64  `yaml:"min_session_seconds"`

	// Enrichment.
	EnrichISBN        bool          `yaml:"enrich_isbn"`
	OpenLibraryURL    string        `yaml:"openlibrary_url"`
	Workers           int           `yaml:"workers"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	MaxEditionLookups int           `yaml:"max_edition_lookups"`
	EditionCacheSize  int           `yaml:"edition_cache_size"`
	UserAgent         string        `yaml:"user_agent"`
}

// DefaultDatabasePaths are probed in order when no database is given.
var DefaultDatabasePaths = []string{
	"/Volumes/KOBOeReader/.kobo/KoboReader.sqlite",
	"./KoboReader.sqlite",
}

// DefaultConfig returns defaults matching a stock Kobo export.
func DefaultConfig() *Config {
	return &Config{
		OutputFile:            "data.js",
		CacheFile:             "isbn_cache.json",
		ContentTypes:          []int{6, 10, 16, 901},
		FilteredContentType:   16,
		FilteredContentPrefix: "file://",
		ChapterContentType:    9,
		MinSessionSeconds:     0,
		EnrichISBN:            true,
		OpenLibraryURL:        "https://openlibrary.org",
		Workers:               1,
		RequestsPerSecond:     2,
		Timeout:               10 * time.Second,
		MaxRetries:            0,
		RetryBackoff:          500 * time.Millisecond,
		RetryBackoffMax:       4 * time.Second,
		MaxEditionLookups:     5,
		EditionCacheSize:      1024,
		UserAgent:             "kobo-stats/1.0 (+https://github.com/aluiziolira/kobo-stats)",
	}
}

// LoadFile overlays a YAML file on top of cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ResolveDatabasePath fills DatabasePath from the default locations when it
// is empty. It returns false when nothing was found.
func (c *Config) ResolveDatabasePath() bool {
	if strings.TrimSpace(c.DatabasePath) != "" {
		return true
	}
	for _, candidate := range DefaultDatabasePaths {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			c.DatabasePath = candidate
			return true
		}
	}
	return false
}

// IsJSONOutput reports whether the output is written as plain JSON.
func (c *Config) IsJSONOutput() bool {
	return strings.EqualFold(filepath.Ext(c.OutputFile), ".json")
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if !c.Console && c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if len(c.ContentTypes) == 0 {
		return fmt.Errorf("content types cannot be empty")
	}
	if c.MinSessionSeconds < 0 {
		return fmt.Errorf("min session seconds cannot be negative")
	}

	if !c.EnrichISBN {
		return nil
	}
	if c.CacheFile == "" {
		return fmt.Errorf("cache file cannot be empty")
	}
	parsedURL, err := url.Parse(c.OpenLibraryURL)
	if err != nil {
		return fmt.Errorf("invalid open library URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("open library URL must include a host")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MaxEditionLookups < 0 {
		return fmt.Errorf("max edition lookups cannot be negative")
	}
	if c.EditionCacheSize <= 0 {
		return fmt.Errorf("edition cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
