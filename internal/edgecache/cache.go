package edgecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shieldedge/shield/internal/kv"
)

// Cache is the KV-backed edge response cache shared by the web and mirror
// engines and by the administrative purge channel.
type Cache struct {
	store kv.Store
	now   func() time.Time
}

// New creates an edge cache over a KV store.
func New(store kv.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// WithClock overrides the cache's clock. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Match looks up an entry by key. A miss returns (nil, nil).
func (c *Cache) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("edgecache match: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	entry, err := Decode(data)
	if err != nil {
		// A corrupt entry is a miss; it will be overwritten by the next store.
		return nil, nil
	}
	return entry, nil
}

// Store writes a response entry under key with the given TTL, injecting the
// freshness timestamp.
func (c *Cache) Store(ctx context.Context, key string, status int, header http.Header, body []byte, ttl time.Duration) error {
	entry := &Entry{
		Status:    status,
		Header:    sanitizeHeader(header),
		Body:      body,
		FetchedAt: c.now(),
	}

	data, err := entry.Encode()
	if err != nil {
		return fmt.Errorf("edgecache encode: %w", err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("edgecache store: %w", err)
	}
	return nil
}

// Delete removes an entry; deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Now returns the cache's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// hopByHopHeaders are dropped before an entry is stored.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade", "Set-Cookie",
}

func sanitizeHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}
