// Package cache provides a content-addressed disk cache for expensive
// upstream computations (document partitioning, per-chunk summaries).
// Entries are keyed by a hash of their input, so a changed source document
// gets a fresh entry instead of silently reusing a stale one, and concurrent
// multi-document runs never collide.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache memoizes byte values on disk under a directory, one file per key.
type Cache struct {
	dir string
}

// New creates a Cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives a cache key from the given input parts. Callers hash
// everything that determines the cached value: source bytes, prompts,
// model names, partitioner config.
func Key(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrCompute returns the cached value for key, or runs compute, persists
// its output, and returns it. If compute fails, nothing is written.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	path := c.path(key)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	data, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.put(path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Get returns the cached value for key, or ok=false on a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// put writes atomically: tmp file then rename, so readers never observe a
// partial entry and a crashed write leaves no entry at all.
func (c *Cache) put(path string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}
