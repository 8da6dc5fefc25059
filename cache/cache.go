package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/tweetscope/models"
)

// entry holds a cached read with its creation timestamp.
type entry struct {
	response  *models.PostListResponse
	createdAt time.Time
}

// Cache is a small in-memory cache for ranked post reads. Entries expire
// after ttl and the whole cache is purged whenever a run commits posts.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	// gen is bumped by Purge.
	gen uint64
}

// New creates a Cache. A background goroutine evicts expired entries
// once per ttl; ttl <= 0 disables caching entirely.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}

	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Key derives a cache key from the read's endpoint and parameters.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached response younger than the ttl.
func (c *Cache) Get(key string) (*models.PostListResponse, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}
	return e.response, true
}

// Set stores a response. If the cache is at capacity, a random entry is
// evicted to make room.
func (c *Cache) Set(key string, resp *models.PostListResponse) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, resp)
}

// Generation identifies the current purge epoch. A read takes it before
// querying the store and hands it to SetIfCurrent.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetIfCurrent stores resp only if no Purge happened since gen was taken,
// so a read that straddles a commit is not cached. It reports whether the
// response was stored.
func (c *Cache) SetIfCurrent(gen uint64, key string, resp *models.PostListResponse) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.setLocked(key, resp)
	return true
}

func (c *Cache) setLocked(key string, resp *models.PostListResponse) {
	// Map iteration order is random.
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		response:  resp,
		createdAt: c.now(),
	}
}

// Purge drops every entry. Called after new posts are committed.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.store = make(map[string]*entry)
	c.gen++
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := c.now().Add(-c.ttl)
		c.mu.Lock()
		for k, e := range c.store {
			if e.createdAt.Before(cutoff) {
				delete(c.store, k)
			}
		}
		c.mu.Unlock()
	}
}
