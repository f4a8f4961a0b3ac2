// ABOUTME: TTL and size bounded store of responses keyed by idempotency key.
// ABOUTME: Claim reserves a key so concurrent retries cannot both run.

package dedupe

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// Response is a recorded HTTP answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type entry struct {
	key     string
	claimed time.Time
	resp    *Response // nil while the request is still running
	elem    *list.Element
}

// Cache maps idempotency keys to responses. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest claim at the front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Claim looks key up. A completed entry is returned as prior. Otherwise ok
// reports whether the caller now owns the key; false means another request
// claimed it and has not completed yet.
func (c *Cache) Claim(key string) (prior *Response, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, found := c.entries[key]; found {
		if now.Sub(e.claimed) < c.ttl {
			if e.resp != nil {
				return e.resp, false
			}
			return nil, false
		}
		c.removeLocked(e)
	}

	for len(c.entries) >= c.maxSize {
		c.removeLocked(c.order.Front().Value.(*entry))
	}
	e := &entry{key: key, claimed: now}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	return nil, true
}

// Complete stores resp for a key obtained from Claim. Keys evicted in the
// meantime are dropped silently.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.resp == nil {
		e.resp = &resp
	}
}

// Release forgets a claimed key that never completed.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.resp == nil {
		c.removeLocked(e)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

func (c *Cache) sweepLoop() {
	interval := c.ttl
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries. Claims are ordered by time, so it stops at
// the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
