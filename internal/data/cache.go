package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bess-dispatch/internal/market"
)

// CacheEntry is an aligned window with its expiry.
type CacheEntry struct {
	Aligned   *market.Aligned
	ExpiresAt time.Time
}

// AlignedCache memoises market.Align per (country, start, days) so that sweep
// workers evaluating configurations of the same country align once. Cached
// windows are shared and must be treated as read-only.
type AlignedCache struct {
	set   *market.Set
	mu    sync.RWMutex
	store map[string]*CacheEntry
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
}

// NewAlignedCache caches windows of set. ttl <= 0 keeps entries forever.
func NewAlignedCache(set *market.Set, ttl time.Duration) *AlignedCache {
	return &AlignedCache{
		set:   set,
		store: make(map[string]*CacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *AlignedCache) Set() *market.Set { return c.set }

// Get returns the aligned window, computing it at most once for concurrent callers.
func (c *AlignedCache) Get(country string, start time.Time, days int) (*market.Aligned, error) {
	key := GenerateCacheKey(country, start, days)
	if a, ok := c.lookup(key); ok {
		return a, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if a, ok := c.lookup(key); ok {
			return a, nil
		}
		a, err := market.Align(c.set, country, start, days)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		e := &CacheEntry{Aligned: a}
		if c.ttl > 0 {
			e.ExpiresAt = c.now().Add(c.ttl)
		}
		c.store[key] = e
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*market.Aligned), nil
}

func (c *AlignedCache) lookup(key string) (*market.Aligned, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && c.now().After(e.ExpiresAt) {
		return nil, false
	}
	return e.Aligned, true
}

func (c *AlignedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Clear removes all entries.
func (c *AlignedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*CacheEntry)
}

// Prune drops expired entries.
func (c *AlignedCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.store {
		if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
			delete(c.store, k)
			n++
		}
	}
	return n
}

// GenerateCacheKey creates a deterministic key for an alignment window.
func GenerateCacheKey(country string, start time.Time, days int) string {
	keyStr := fmt.Sprintf("%s:%s:%d", strings.ToUpper(country), start.UTC().Format(time.RFC3339), days)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])
}
