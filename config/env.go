package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "KOBOSTATS_"

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays KOBOSTATS_* variables on cfg.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString(envPrefix + "DATABASE"); ok {
		c.DatabasePath = v
	}
	if v, ok := EnvString(envPrefix + "OUTPUT"); ok {
		c.OutputFile = v
	}
	if v, ok := EnvString(envPrefix + "CACHE_FILE"); ok {
		c.CacheFile = v
	}
	if v, ok := EnvString(envPrefix + "OPENLIBRARY_URL"); ok {
		c.OpenLibraryURL = v
	}
	if v, ok := EnvString(envPrefix + "METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok, err := EnvInt(envPrefix + "WORKERS"); err != nil {
		return err
	} else if ok {
		c.Workers = v
	}
	if v, ok, err := EnvBool(envPrefix + "ENRICH_ISBN"); err != nil {
		return err
	} else if ok {
		c.EnrichISBN = v
	}
	return nil
}
