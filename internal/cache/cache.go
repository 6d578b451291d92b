package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/harvester/internal/model"
)

// Cache defines the interface for caching API lookups
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey generates a cache key from an API endpoint and its encoded query
func CacheKey(endpoint, query string) string {
	hash := sha256.Sum256([]byte(endpoint + "?" + query))
	return "harvest:v1:" + hex.EncodeToString(hash[:])
}

// New builds the cache described by cfg: memory in front of disk, or a
// no-op cache when caching is disabled
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return NopCache{}
	}
	if cfg.Dir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayeredCache(cfg.MemoryTTL, ExpandHome(cfg.Dir), cfg.DiskTTL)
}

// ExpandHome replaces a leading "~/" with the user's home directory
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// NopCache stores nothing
type NopCache struct{}

func (NopCache) Get(string) ([]byte, bool)               { return nil, false }
func (NopCache) Set(string, []byte, time.Duration) error { return nil }
func (NopCache) Delete(string) error                     { return nil }
func (NopCache) Clear() error                            { return nil }
