package cache

import (
	"sync"

	"github.com/cuemby/buildgraph/pkg/types"
)

// ConfigCache maps a project's structural key to its resolved
// Configuration, assigning each new entry a process-unique, monotonically
// increasing id (§4.4 invariant).
type ConfigCache struct {
	mu            sync.Mutex
	byKey         map[string]*types.Configuration
	byID          map[int]*types.Configuration
	nextID        int
	sizeThreshold int
}

// NewConfigCache creates an empty config cache. sizeThreshold is the entry
// count IsSizeAboveThreshold compares against; a non-positive value
// disables the check (it always reports false).
func NewConfigCache(sizeThreshold int) *ConfigCache {
	return &ConfigCache{
		byKey:         make(map[string]*types.Configuration),
		byID:          make(map[int]*types.Configuration),
		nextID:        types.FirstAssignableConfigID,
		sizeThreshold: sizeThreshold,
	}
}

// GetMatching returns the Configuration already cached under key, if any.
func (c *ConfigCache) GetMatching(key string) (*types.Configuration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.byKey[key]
	return cfg, ok
}

// Add inserts cfg, assigning it the next id (overwriting any id it already
// carries) when none is cached under its key. If a matching Configuration is already
// cached, Add returns the existing entry unchanged — callers must not
// assume the Configuration they passed in is the one stored.
func (c *ConfigCache) Add(cfg *types.Configuration) *types.Configuration {
	key := cfg.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byKey[key]; ok {
		return existing
	}

	cfg.ID = c.nextID
	c.nextID++
	c.byKey[key] = cfg
	c.byID[cfg.ID] = cfg
	return cfg
}

// Get returns the Configuration with the given id, if cached.
func (c *ConfigCache) Get(id int) (*types.Configuration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.byID[id]
	return cfg, ok
}

// ClearNonExplicit removes every cached Configuration that was not
// explicitly loaded (§3: ExplicitlyLoaded), returning the ids cleared so
// the caller can also drop their results-cache entries.
func (c *ConfigCache) ClearNonExplicit() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cleared []int
	for key, cfg := range c.byKey {
		if cfg.ExplicitlyLoaded {
			continue
		}
		delete(c.byKey, key)
		delete(c.byID, cfg.ID)
		cleared = append(cleared, cfg.ID)
	}
	return cleared
}

// IsSizeAboveThreshold reports whether the cache holds more entries than
// the configured threshold. Used by the build manager at the start of a
// build to decide whether to replace both caches with empty ones rather
// than only shedding non-explicit configurations.
func (c *ConfigCache) IsSizeAboveThreshold() bool {
	if c.sizeThreshold <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID) > c.sizeThreshold
}

// Len returns the number of cached configurations.
func (c *ConfigCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
