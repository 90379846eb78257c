package transition

import (
	"time"

	"github.com/google/cel-go/cel"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 10 * time.Minute
)

// Cache holds compiled programs keyed by expression source. It is owned by
// whoever builds the evaluator; nothing in this package keeps one globally.
// Safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, cel.Program]
}

// NewCache returns a cache holding at most size programs, each for at most
// ttl. Non-positive arguments select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, cel.Program](size, nil, ttl)}
}

func (c *Cache) get(expr string) (cel.Program, bool) {
	return c.lru.Get(expr)
}

func (c *Cache) add(expr string, prg cel.Program) {
	c.lru.Add(expr, prg)
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached program.
func (c *Cache) Purge() {
	c.lru.Purge()
}
