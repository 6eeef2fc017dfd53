// ABOUTME: Tests for the idempotency response cache.
// ABOUTME: Validates TTL expiration, body mismatch detection, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	_, lookup := c.Get("never", Fingerprint(nil))
	assert.Equal(t, Miss, lookup)
}

func TestCache_Hit(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	fp := Fingerprint([]byte(`{"updates":[{"id":0,"value":true}]}`))

	c.Put("k1", fp, Response{Status: 200, ContentType: "application/json", Body: []byte(`{"success":true}`)})

	resp, lookup := c.Get("k1", fp)
	require.Equal(t, Hit, lookup)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"success":true}`, string(resp.Body))
}

func TestCache_Mismatch(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.Put("k1", Fingerprint([]byte("a")), Response{Status: 200})

	_, lookup := c.Get("k1", Fingerprint([]byte("b")))
	assert.Equal(t, Mismatch, lookup)
}

func TestCache_Expired(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)
	fp := Fingerprint(nil)

	c.Put("k1", fp, Response{Status: 200})
	clock.Advance(time.Minute)

	_, lookup := c.Get("k1", fp)
	assert.Equal(t, Miss, lookup)
}

func TestCache_BodyIsCopied(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	body := []byte("original")

	c.Put("k1", "fp", Response{Body: body})
	body[0] = 'X'

	resp, _ := c.Get("k1", "fp")
	assert.Equal(t, "original", string(resp.Body))
}

func TestCache_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 3)

	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("k%d", i), "fp", Response{Status: 200})
	}

	assert.Equal(t, 3, c.Len())
	_, lookup := c.Get("k0", "fp")
	assert.Equal(t, Miss, lookup)
	_, lookup = c.Get("k3", "fp")
	assert.Equal(t, Hit, lookup)
}

func TestCache_PutRefreshesPosition(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 2)

	c.Put("a", "fp", Response{})
	c.Put("b", "fp", Response{})
	c.Put("a", "fp", Response{})
	c.Put("c", "fp", Response{})

	_, lookup := c.Get("a", "fp")
	assert.Equal(t, Hit, lookup)
	_, lookup = c.Get("b", "fp")
	assert.Equal(t, Miss, lookup)
}

func TestCache_RunCleanup(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Put("old", "fp", Response{})
	clock.Advance(30 * time.Second)
	c.Put("new", "fp", Response{})
	clock.Advance(45 * time.Second)

	c.runCleanup()

	assert.Equal(t, 1, c.Len())
	_, lookup := c.Get("new", "fp")
	assert.Equal(t, Hit, lookup)
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d-%d", n, j)
				c.Put(key, "fp", Response{Status: 200})
				c.Get(key, "fp")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Len())
}
