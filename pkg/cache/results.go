package cache

import (
	"sync"

	"github.com/cuemby/buildgraph/pkg/types"
)

// ResultsCache maps a config id to the most recent BuildResult produced
// for it (§4.4). A new result for the same config id replaces the old one
// — results are not versioned or kept as history.
type ResultsCache struct {
	mu      sync.Mutex
	byCfgID map[int]*types.BuildResult
}

// NewResultsCache creates an empty results cache.
func NewResultsCache() *ResultsCache {
	return &ResultsCache{byCfgID: make(map[int]*types.BuildResult)}
}

// Add records result, replacing whatever was previously cached for its
// config id.
func (c *ResultsCache) Add(result *types.BuildResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCfgID[result.ConfigID] = result
}

// Get returns the cached result for configID, if any.
func (c *ResultsCache) Get(configID int) (*types.BuildResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byCfgID[configID]
	return r, ok
}

// Clear empties the cache entirely.
func (c *ResultsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCfgID = make(map[int]*types.BuildResult)
}

// ClearFor removes the cached result for a single config id, if present.
func (c *ResultsCache) ClearFor(configID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byCfgID, configID)
}

// Len returns the number of cached results.
func (c *ResultsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byCfgID)
}
