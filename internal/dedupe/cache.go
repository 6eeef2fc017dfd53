// ABOUTME: Thread-safe TTL cache of write responses keyed by Idempotency-Key.
// ABOUTME: Lets clients retry a write after a dropped reply without applying it twice.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Response is a recorded reply to a write request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Lookup describes what the cache knows about a key.
type Lookup int

const (
	// Miss means the key is unknown or expired.
	Miss Lookup = iota
	// Hit means a response was recorded for the same request body.
	Hit
	// Mismatch means the key was reused with a different request body.
	Mismatch
)

type cacheEntry struct {
	timestamp   time.Time
	fingerprint string
	response    Response
	element     *list.Element
}

// Cache holds recorded responses with a TTL and a size cap.
// Oldest entries are evicted first when the cache is full.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Fingerprint hashes a request body so reuse of a key with different
// content can be detected.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Get returns the recorded response for key if it is still fresh.
func (c *Cache) Get(key, fingerprint string) (Response, Lookup) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		return Response{}, Miss
	}
	if entry.fingerprint != fingerprint {
		return Response{}, Mismatch
	}
	return entry.response, Hit
}

// Put records the response for key, replacing any previous entry.
func (c *Cache) Put(key, fingerprint string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := append([]byte(nil), resp.Body...)
	resp.Body = body

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = c.now()
		entry.fingerprint = fingerprint
		entry.response = resp
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp:   c.now(),
		fingerprint: fingerprint,
		response:    resp,
		element:     elem,
	}
}

// Len reports the number of entries, including expired ones not yet cleaned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
