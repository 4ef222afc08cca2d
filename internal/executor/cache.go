package executor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/cortexgw/cortex/internal/pathway"
)

// resultCache coalesces duplicate requests. In-flight duplicates share
// one execution through singleflight; finished results answer repeats
// until their TTL expires.
type resultCache struct {
	ttl time.Duration

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp      *RunResponse
	expiresAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &resultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Do returns the cached result for key, or runs fn once for all
// concurrent callers and caches its success.
func (c *resultCache) Do(ctx context.Context, key string, fn func() (*RunResponse, error)) (*RunResponse, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.resp, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{resp: resp, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RunResponse), nil
	case <-ctx.Done():
		// The shared execution keeps running for the other waiters.
		return nil, ctx.Err()
	}
}

// Sweep drops expired entries.
func (c *resultCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports live entries, expired included until the next sweep.
func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// requestFingerprint identifies a request's semantics: the pathway
// fingerprint plus the canonical JSON of every input that affects the
// result. Map keys serialize sorted, so equal inputs hash equal.
func requestFingerprint(p *pathway.Pathway, req RunRequest) string {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	write(p.Fingerprint)
	if raw, err := jsonFast.MarshalToString(req.Args); err == nil {
		write(raw)
	}
	write(req.Text)
	if raw, err := jsonFast.MarshalToString(req.ChatHistory); err == nil {
		write(raw)
	}
	if len(req.Tools) > 0 {
		if raw, err := jsonFast.MarshalToString(req.Tools); err == nil {
			write(raw)
		}
	}
	write(req.ContextID)
	write(req.ChatID)
	return strconv.FormatUint(d.Sum64(), 16)
}
