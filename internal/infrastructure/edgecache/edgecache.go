// Package edgecache is the in-memory reference implementation of
// collaborator (d), the fast HTTP edge cache: a store of full 200
// responses, addressed by request URL, that natively synthesizes 206
// (Range) and 304 (conditional) responses on lookup. Modeled on the
// teacher's HTTPCacheMiddleware, stripped of its response-writer wrapping
// and 14KB first-packet machinery and rebuilt as a standalone collaborator
// behind the outbound.EdgeCache port.
package edgecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alchemorsel/gateway/internal/infrastructure/rangeparse"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
)

type entry struct {
	header        http.Header
	body          []byte
	etag          string
	storedAt      time.Time
	maxAgeSeconds int64
}

func (e *entry) expired() bool {
	if e.maxAgeSeconds < 0 {
		return false
	}
	return time.Since(e.storedAt) > time.Duration(e.maxAgeSeconds)*time.Second
}

// Cache is an in-process, per-instance edge cache keyed by request URL.
// It holds full 200 response bytes and answers Range/conditional lookups
// without ever re-fetching from the entry it stores.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	capCap  int64
}

// New constructs a Cache. perEntryCap bounds the largest body this tier
// will accept via Put; Put refuses (returns an error) above it, mirroring
// the fast tier's real-world opaque size limit (§9 Design Notes).
func New(perEntryCap int64) *Cache {
	return &Cache{entries: make(map[string]*entry), capCap: perEntryCap}
}

var _ outbound.EdgeCache = (*Cache)(nil)

func cacheKey(r *http.Request) string {
	u := *r.URL
	u.Fragment = ""
	return u.String()
}

// Match looks up the canonical 200 entry for req's URL and, if present,
// synthesizes the correct response for req's method, conditional, and
// Range headers. opts.IgnoreMethod means the lookup applies regardless of
// GET vs HEAD, matching the real tier's behavior.
func (c *Cache) Match(ctx context.Context, r *http.Request, opts outbound.EdgeCacheMatchOptions) (*http.Response, bool, error) {
	key := cacheKey(r)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && e.etag != "" && inm == e.etag {
		h := cloneHeader(e.header)
		h.Set("ETag", e.etag)
		h.Del("Content-Length")
		return &http.Response{
			StatusCode:    http.StatusNotModified,
			Header:        h,
			Body:          http.NoBody,
			ContentLength: 0,
		}, true, nil
	}

	if rng := r.Header.Get("Range"); rng != "" {
		iv, err := rangeparse.Parse(rng, int64(len(e.body)))
		if err == nil {
			slice := e.body[iv.Start : iv.End+1]
			h := cloneHeader(e.header)
			h.Set("Content-Length", strconv.Itoa(len(slice)))
			h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", iv.Start, iv.End, len(e.body)))
			return &http.Response{
				StatusCode:    http.StatusPartialContent,
				Header:        h,
				Body:          io.NopCloser(bytes.NewReader(slice)),
				ContentLength: int64(len(slice)),
			}, true, nil
		}
		// Unparseable/unsatisfiable: fall through to a full 200, per the
		// gateway-wide "ignore bad Range" policy.
	}

	h := cloneHeader(e.header)
	h.Set("Content-Length", strconv.Itoa(len(e.body)))
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
	}, true, nil
}

// Put stores resp, which must be a full 200 response with a known
// Content-Length; a 206 or a response with unknown length is refused.
func (c *Cache) Put(ctx context.Context, r *http.Request, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("edgecache: refusing to store non-200 status %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return fmt.Errorf("edgecache: refusing to store response with unknown Content-Length")
	}
	if c.capCap > 0 && resp.ContentLength > c.capCap {
		return fmt.Errorf("edgecache: entry of %d bytes exceeds fast-tier cap %d", resp.ContentLength, c.capCap)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("edgecache: reading response body: %w", err)
	}
	if int64(len(body)) != resp.ContentLength {
		return fmt.Errorf("edgecache: body length %d does not match advertised Content-Length %d", len(body), resp.ContentLength)
	}

	maxAge := extractMaxAge(resp.Header.Get("Cache-Control"))

	e := &entry{
		header:        cloneHeader(resp.Header),
		body:          body,
		etag:          resp.Header.Get("ETag"),
		storedAt:      time.Now(),
		maxAgeSeconds: maxAge,
	}

	c.mu.Lock()
	c.entries[cacheKey(r)] = e
	c.mu.Unlock()
	return nil
}

// Purge removes every entry whose Cache-Tag header contains tag, the
// fast tier's tag-based invalidation mechanism (§9: the slow tier has no
// equivalent). It returns the cache keys (request URLs) removed, so a
// caller can mirror the purge onto a CDN by path.
func (c *Cache) Purge(tag string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for k, e := range c.entries {
		if strings.Contains(e.header.Get("Cache-Tag"), tag) {
			delete(c.entries, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// extractMaxAge returns the parsed max-age directive, or -1 when absent
// (meaning "never expire from this tier's perspective" — entries without
// an explicit max-age fall back to whatever TTL policy the caller
// otherwise enforces).
func extractMaxAge(cacheControl string) int64 {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "max-age=") {
			if v, err := strconv.ParseInt(part[len("max-age="):], 10, 64); err == nil {
				return v
			}
		}
	}
	return -1
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}
