package kvcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alchemorsel/gateway/internal/infrastructure/rangeparse"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// ChunkManifest enumerates the size of every chunk composing a chunked
// slow-tier entry. ChunkSizes is the exclusive source of truth for chunk
// boundaries.
type ChunkManifest struct {
	TotalSize  int64   `json:"totalSize"`
	ChunkCount int     `json:"chunkCount"`
	ChunkSizes []int64 `json:"chunkSizes"`
}

const singleEntrySentinel = `{"singleEntry":true}`

// Limits holds the chunked-KV cache's tunable constants.
type Limits struct {
	SingleEntryMax int64
	ChunkSize      int64
	TotalMax       int64
	MinReadTTL     time.Duration
	MinWriteTTL    time.Duration
}

// Headers is the preserved-headers subset plus identity fields the cache
// format stores alongside a body.
type Headers struct {
	ContentType        string
	ETag               string
	PreservedHeaders   map[string]string // Cache-Control, Cache-Tag, Last-Modified, Content-Disposition, Content-Encoding, Content-Language
}

// MatchResult is a hit against the chunked-KV cache.
type MatchResult struct {
	Status        int // 200 or 206
	ContentType   string
	ContentLength int64
	ContentRange  string
	ETag          string
	Preserved     map[string]string
	Body          io.ReadCloser
}

// Cache is the chunked-KV cache storage format layered over a KVStore.
type Cache struct {
	store    outbound.KVStore
	uploader outbound.ChunkUploader
	limits   Limits
}

// New constructs a Cache. uploader may be the same value as store when the
// KVStore implementation also satisfies ChunkUploader (as RedisStore does).
func New(store outbound.KVStore, uploader outbound.ChunkUploader, limits Limits) *Cache {
	return &Cache{store: store, uploader: uploader, limits: limits}
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func ttlSeconds(minTTL time.Duration, maxAgeSeconds int64) int64 {
	min := int64(minTTL.Seconds())
	if maxAgeSeconds > min {
		return maxAgeSeconds
	}
	return min
}

// WriteBuffered implements §4.F.1: a full in-memory body write. Refuses
// (no-op) when the body exceeds TotalMax.
func (c *Cache) WriteBuffered(ctx context.Context, baseKey string, body []byte, h Headers, maxAgeSeconds int64) error {
	if int64(len(body)) > c.limits.TotalMax {
		return apperrors.NewSizeCapExceededError(int64(len(body)), c.limits.TotalMax)
	}

	meta := outbound.KVMetadata{
		ContentType:      h.ContentType,
		ContentLength:    int64(len(body)),
		ETag:             h.ETag,
		CreatedAtMS:      nowMS(),
		MaxAgeSeconds:    maxAgeSeconds,
		PreservedHeaders: h.PreservedHeaders,
	}

	if int64(len(body)) <= c.limits.SingleEntryMax {
		return c.writeSingleEntry(ctx, baseKey, body, meta, maxAgeSeconds)
	}

	return c.writeChunkedFromBuffer(ctx, baseKey, body, meta, maxAgeSeconds)
}

func (c *Cache) writeSingleEntry(ctx context.Context, baseKey string, body []byte, meta outbound.KVMetadata, maxAgeSeconds int64) error {
	ttl := ttlSeconds(c.limits.MinWriteTTL, maxAgeSeconds)
	meta.IsChunked = false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.store.Put(gctx, baseKey, []byte(singleEntrySentinel), meta, ttl)
	})
	g.Go(func() error {
		return c.uploader.PutChunk(gctx, baseKey+"_body", body, ttl)
	})
	if err := g.Wait(); err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}
	return nil
}

func (c *Cache) writeChunkedFromBuffer(ctx context.Context, baseKey string, body []byte, meta outbound.KVMetadata, maxAgeSeconds int64) error {
	ttl := ttlSeconds(c.limits.MinWriteTTL, maxAgeSeconds)
	chunkSize := c.limits.ChunkSize
	count := int((int64(len(body)) + chunkSize - 1) / chunkSize)

	sizes := make([]int64, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		sizes[i] = end - start
		slice := make([]byte, end-start)
		copy(slice, body[start:end])
		g.Go(func() error {
			return c.uploader.PutChunk(gctx, fmt.Sprintf("%s_chunk_%d", baseKey, i), slice, ttl)
		})
	}

	if err := g.Wait(); err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}

	manifest := ChunkManifest{TotalSize: int64(len(body)), ChunkCount: count, ChunkSizes: sizes}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}
	meta.IsChunked = true

	if err := c.store.Put(ctx, baseKey, manifestJSON, meta, ttl); err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}
	return nil
}

// WriteStream implements §4.F.2: the streaming writer. It refuses when
// totalSize exceeds TotalMax, drains small bodies into the buffered path,
// and for large bodies accumulates CHUNK_SIZE-wide buffers, detaching a
// fresh owning slice per full chunk so uploads never alias a reused buffer.
// Peak memory is bounded by ChunkSize plus pending-upload handles; the
// manifest is written only after every chunk upload has been acknowledged.
func (c *Cache) WriteStream(ctx context.Context, baseKey string, r io.Reader, totalSize int64, h Headers, maxAgeSeconds int64) error {
	if totalSize > c.limits.TotalMax {
		return apperrors.NewSizeCapExceededError(totalSize, c.limits.TotalMax)
	}

	if totalSize <= c.limits.SingleEntryMax {
		buf := make([]byte, 0, totalSize)
		w := bytes.NewBuffer(buf)
		if _, err := io.Copy(w, r); err != nil {
			return apperrors.NewCacheWriteError("slow", baseKey, err)
		}
		return c.WriteBuffered(ctx, baseKey, w.Bytes(), h, maxAgeSeconds)
	}

	return c.writeStreamChunked(ctx, baseKey, r, totalSize, h, maxAgeSeconds)
}

func (c *Cache) writeStreamChunked(ctx context.Context, baseKey string, r io.Reader, totalSize int64, h Headers, maxAgeSeconds int64) error {
	ttl := ttlSeconds(c.limits.MinWriteTTL, maxAgeSeconds)
	chunkSize := c.limits.ChunkSize

	g, gctx := errgroup.WithContext(ctx)

	accumulator := make([]byte, chunkSize)
	fill := int64(0)
	chunkIndex := 0
	var sizes []int64

	frame := make([]byte, 64*1024)

	flush := func(n int64) {
		detached := make([]byte, n)
		copy(detached, accumulator[:n])
		idx := chunkIndex
		sizes = append(sizes, n)
		g.Go(func() error {
			return c.uploader.PutChunk(gctx, fmt.Sprintf("%s_chunk_%d", baseKey, idx), detached, ttl)
		})
		chunkIndex++
		accumulator = make([]byte, chunkSize)
		fill = 0
	}

	for {
		n, readErr := r.Read(frame)
		if n > 0 {
			pos := 0
			for pos < n {
				space := chunkSize - fill
				toCopy := int64(n - pos)
				if toCopy > space {
					toCopy = space
				}
				copy(accumulator[fill:fill+toCopy], frame[pos:pos+int(toCopy)])
				fill += toCopy
				pos += int(toCopy)
				if fill == chunkSize {
					flush(fill)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return apperrors.NewCacheWriteError("slow", baseKey, readErr)
		}
	}

	if fill > 0 {
		flush(fill)
	}

	manifest := ChunkManifest{TotalSize: totalSize, ChunkCount: chunkIndex, ChunkSizes: sizes}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}

	meta := outbound.KVMetadata{
		ContentType:      h.ContentType,
		ContentLength:    totalSize,
		ETag:             h.ETag,
		IsChunked:        true,
		CreatedAtMS:      nowMS(),
		MaxAgeSeconds:    maxAgeSeconds,
		PreservedHeaders: h.PreservedHeaders,
	}

	// All chunk uploads must acknowledge before the manifest is written, so
	// a concurrent reader that observes the manifest observes every chunk.
	if err := g.Wait(); err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}

	if err := c.store.Put(ctx, baseKey, manifestJSON, meta, ttl); err != nil {
		return apperrors.NewCacheWriteError("slow", baseKey, err)
	}
	return nil
}

// Match implements §4.F.3: the chunked-KV read path. A failed or missing
// metadata record, manifest or single-entry body becomes a Miss, never
// fatal; callers receive ok=false. The chunks of a chunked entry are not
// checked here: they are fetched one by one while the returned Body is
// read, so a missing or unreadable chunk surfaces as an error from
// Body.Read after the hit has been returned.
func (c *Cache) Match(ctx context.Context, baseKey string, rangeHeader string) (*MatchResult, bool) {
	value, meta, ok, err := c.store.GetWithMetadata(ctx, baseKey)
	if err != nil || !ok {
		return nil, false
	}

	if nowMS()-meta.CreatedAtMS > meta.MaxAgeSeconds*1000 {
		return nil, false
	}

	if meta.IsChunked {
		return c.matchChunked(ctx, baseKey, value, meta, rangeHeader)
	}
	return c.matchSingleEntry(ctx, baseKey, meta, rangeHeader)
}

func (c *Cache) matchSingleEntry(ctx context.Context, baseKey string, meta outbound.KVMetadata, rangeHeader string) (*MatchResult, bool) {
	body, ok, err := c.store.GetBytes(ctx, baseKey+"_body")
	if err != nil || !ok {
		return nil, false
	}
	if int64(len(body)) != meta.ContentLength {
		return nil, false
	}

	if rangeHeader != "" {
		iv, err := rangeparse.Parse(rangeHeader, meta.ContentLength)
		if err == nil {
			slice := body[iv.Start : iv.End+1]
			return &MatchResult{
				Status:        206,
				ContentType:   meta.ContentType,
				ContentLength: int64(len(slice)),
				ContentRange:  fmt.Sprintf("bytes %d-%d/%d", iv.Start, iv.End, meta.ContentLength),
				ETag:          meta.ETag,
				Preserved:     meta.PreservedHeaders,
				Body:          io.NopCloser(bytes.NewReader(slice)),
			}, true
		}
	}

	return &MatchResult{
		Status:        200,
		ContentType:   meta.ContentType,
		ContentLength: meta.ContentLength,
		ETag:          meta.ETag,
		Preserved:     meta.PreservedHeaders,
		Body:          io.NopCloser(bytes.NewReader(body)),
	}, true
}

func (c *Cache) matchChunked(ctx context.Context, baseKey string, manifestJSON []byte, meta outbound.KVMetadata, rangeHeader string) (*MatchResult, bool) {
	var manifest ChunkManifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, false
	}
	if manifest.ChunkCount == 0 || len(manifest.ChunkSizes) != manifest.ChunkCount {
		return nil, false
	}

	if rangeHeader == "" {
		body := newChunkStreamReader(ctx, c.store, baseKey, 0, manifest.ChunkCount-1, 0, 0)
		return &MatchResult{
			Status:        200,
			ContentType:   meta.ContentType,
			ContentLength: manifest.TotalSize,
			ETag:          meta.ETag,
			Preserved:     meta.PreservedHeaders,
			Body:          body,
		}, true
	}

	iv, err := rangeparse.Parse(rangeHeader, manifest.TotalSize)
	if err != nil {
		// UnparseableRange / UnsatisfiableRange: fall back to a full 200,
		// per the gateway-wide "ignore bad Range" policy.
		body := newChunkStreamReader(ctx, c.store, baseKey, 0, manifest.ChunkCount-1, 0, 0)
		return &MatchResult{
			Status:        200,
			ContentType:   meta.ContentType,
			ContentLength: manifest.TotalSize,
			ETag:          meta.ETag,
			Preserved:     meta.PreservedHeaders,
			Body:          body,
		}, true
	}

	firstChunk, firstOffset, lastChunk, lastEnd := chunksForRange(manifest.ChunkSizes, iv.Start, iv.End)
	body := newChunkStreamReader(ctx, c.store, baseKey, firstChunk, lastChunk, firstOffset, lastEnd)

	return &MatchResult{
		Status:        206,
		ContentType:   meta.ContentType,
		ContentLength: iv.Len(),
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", iv.Start, iv.End, manifest.TotalSize),
		ETag:          meta.ETag,
		Preserved:     meta.PreservedHeaders,
		Body:          body,
	}, true
}

// chunksForRange sums prefix chunk sizes to determine which chunks overlap
// [start, end], and the byte offsets within the first and last chunk.
func chunksForRange(sizes []int64, start, end int64) (firstChunk int, firstOffset int64, lastChunk int, lastEnd int64) {
	var prefix int64
	for i, size := range sizes {
		chunkStart := prefix
		chunkEnd := prefix + size - 1
		if start >= chunkStart && start <= chunkEnd {
			firstChunk = i
			firstOffset = start - chunkStart
		}
		if end >= chunkStart && end <= chunkEnd {
			lastChunk = i
			lastEnd = end - chunkStart
		}
		prefix += size
	}
	return firstChunk, firstOffset, lastChunk, lastEnd
}
