package auth

import (
	"crypto/sha256"
	"sync"
	"time"
)

const (
	// DefaultCacheEntries bounds the token cache size.
	DefaultCacheEntries = 1024
	// DefaultCacheTTL is how long a positive lookup is trusted.
	DefaultCacheTTL = 30 * time.Second
)

// CacheEntry is what the cache remembers about a valid token.
type CacheEntry struct {
	TokenID int64
	UserID  int64
}

// TokenCache caches successful token lookups keyed by a digest of the token,
// so hot paths skip the store round trip. Only positive results are cached.
// A nil *TokenCache is valid and caches nothing.
type TokenCache struct {
	mu         sync.Mutex
	entries    map[[32]byte]cachedToken
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type cachedToken struct {
	entry     CacheEntry
	expiresAt time.Time
}

// NewTokenCache returns a cache, or nil when either bound is not positive.
func NewTokenCache(maxEntries int, ttl time.Duration) *TokenCache {
	if maxEntries <= 0 || ttl <= 0 {
		return nil
	}
	return &TokenCache{
		entries:    make(map[[32]byte]cachedToken, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached entry for token.
func (c *TokenCache) Get(token string) (CacheEntry, bool) {
	if c == nil || token == "" {
		return CacheEntry{}, false
	}
	key := sha256.Sum256([]byte(token))
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().After(cached.expiresAt) {
		delete(c.entries, key)
		return CacheEntry{}, false
	}
	return cached.entry, true
}

// Set stores entry for token.
func (c *TokenCache) Set(token string, entry CacheEntry) {
	if c == nil || token == "" {
		return
	}
	key := sha256.Sum256([]byte(token))
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = cachedToken{entry: entry, expiresAt: now.Add(c.ttl)}
}

// evictLocked drops expired entries, then an arbitrary one if still full.
func (c *TokenCache) evictLocked(now time.Time) {
	for key, cached := range c.entries {
		if now.After(cached.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
