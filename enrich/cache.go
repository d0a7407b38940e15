package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aluiziolira/kobo-stats/fileutil"
)

// CacheKey builds the "title|author" key, lowercased.
func CacheKey(title, author string) string {
	lower := cases.Lower(language.Und)
	return lower.String(strings.TrimSpace(title)) + "|" + lower.String(strings.TrimSpace(author))
}

// Cache is the persistent title|author -> ISBN map. A nil value is a
// negative entry: the lookup ran and found nothing.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]*string
	dirty   bool
}

// LoadCache reads the cache file at path. A missing file yields an empty
// cache; an unreadable one is logged and also starts empty.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]*string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read isbn cache: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		slog.Warn("isbn cache unreadable, starting empty", slog.String("path", path), slog.Any("error", err))
		c.entries = make(map[string]*string)
	}
	return c, nil
}

// NewMemoryCache returns a cache that is never flushed to disk.
func NewMemoryCache() *Cache {
	return &Cache{entries: make(map[string]*string)}
}

// Get returns the cached ISBN and whether the key is present. A present key
// with "" is a negative entry.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if v == nil {
		return "", true
	}
	return *v, true
}

// Set stores isbn for key; "" records a negative entry.
func (c *Cache) Set(key, isbn string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *string
	if isbn != "" {
		next = &isbn
	}
	if prev, ok := c.entries[key]; ok {
		if (prev == nil && next == nil) || (prev != nil && next != nil && *prev == *next) {
			return
		}
	}
	c.entries[key] = next
	c.dirty = true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Dirty reports whether the cache changed since it was loaded or flushed.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Flush writes the cache if it changed. It reports whether a write happened.
func (c *Cache) Flush() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty || c.path == "" {
		return false, nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode isbn cache: %w", err)
	}
	if err := fileutil.WriteAtomic(c.path, append(data, '\n')); err != nil {
		return false, fmt.Errorf("write isbn cache: %w", err)
	}
	c.dirty = false
	return true, nil
}
