package template

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/traceid"
)

// DefaultMapperCacheSize bounds a template's mapper-output cache when
// the caller doesn't specify one. It is independent of tracecache's
// capacity default (4096).
const DefaultMapperCacheSize = 1024

// CachedMapping freezes mapper decisions keyed by trace-local
// operation identity, per spec §4.D.1 record_mapper_output and §4.D.5
// get_mapper_output. Recording populates it; replay reads it instead
// of re-invoking the mapper.
type CachedMapping struct {
	mu    sync.Mutex
	cache *lru.Cache[traceid.TraceLocalID, forest.MapTaskOutput]
}

// NewCachedMapping constructs a mapper-output cache of the given
// capacity.
func NewCachedMapping(size int) (*CachedMapping, error) {
	if size <= 0 {
		size = DefaultMapperCacheSize
	}
	c, err := lru.New[traceid.TraceLocalID, forest.MapTaskOutput](size)
	if err != nil {
		return nil, fmt.Errorf("template: mapper cache: %w", err)
	}
	return &CachedMapping{cache: c}, nil
}

// Put freezes out under loc.
func (c *CachedMapping) Put(loc traceid.TraceLocalID, out forest.MapTaskOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(loc, out)
}

// Get returns the frozen mapper decision for loc, if any.
func (c *CachedMapping) Get(loc traceid.TraceLocalID) (forest.MapTaskOutput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(loc)
}

// Len reports the number of cached decisions, for tests.
func (c *CachedMapping) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
