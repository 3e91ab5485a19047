package kvcache_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/alchemorsel/gateway/internal/infrastructure/kvcache"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
)

// memStore is an in-memory outbound.KVStore + outbound.ChunkUploader fake.
type memStore struct {
	mu   sync.Mutex
	vals map[string][]byte
	meta map[string]outbound.KVMetadata
}

func newMemStore() *memStore {
	return &memStore{vals: map[string][]byte{}, meta: map[string]outbound.KVMetadata{}}
}

func (m *memStore) GetWithMetadata(ctx context.Context, key string) ([]byte, outbound.KVMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, outbound.KVMetadata{}, false, nil
	}
	return v, m.meta[key], true, nil
}

func (m *memStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, key string, value []byte, meta outbound.KVMetadata, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	m.meta[key] = meta
	return nil
}

func (m *memStore) PutChunk(ctx context.Context, key string, data []byte, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = data
	return nil
}

var _ outbound.KVStore = (*memStore)(nil)
var _ outbound.ChunkUploader = (*memStore)(nil)

type ChunkedCacheSuite struct {
	suite.Suite
	store *memStore
	cache *kvcache.Cache
}

func TestChunkedCacheSuite(t *testing.T) {
	suite.Run(t, new(ChunkedCacheSuite))
}

func (s *ChunkedCacheSuite) SetupTest() {
	s.store = newMemStore()
	s.cache = kvcache.New(s.store, s.store, kvcache.Limits{
		SingleEntryMax: 16,
		ChunkSize:      8,
		TotalMax:       1 << 20,
		MinReadTTL:     time.Second,
		MinWriteTTL:    time.Second,
	})
}

func (s *ChunkedCacheSuite) TestCase_ShouldRoundTripSingleEntryBody() {
	ctx := context.Background()
	body := []byte("hello world")
	err := s.cache.WriteBuffered(ctx, "obj1", body, kvcache.Headers{ContentType: "text/plain", ETag: `"e1"`}, 60)
	s.Require().NoError(err)

	res, ok := s.cache.Match(ctx, "obj1", "")
	s.Require().True(ok)
	s.Equal(200, res.Status)
	s.Equal(int64(len(body)), res.ContentLength)
	got, _ := io.ReadAll(res.Body)
	s.Equal(body, got)
}

func (s *ChunkedCacheSuite) TestCase_ShouldRoundTripChunkedBodyAcrossBoundaries() {
	ctx := context.Background()
	body := make([]byte, 37) // > SingleEntryMax(16), not a multiple of ChunkSize(8)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	err := s.cache.WriteBuffered(ctx, "obj2", body, kvcache.Headers{ContentType: "application/octet-stream", ETag: `"e2"`}, 60)
	s.Require().NoError(err)

	res, ok := s.cache.Match(ctx, "obj2", "")
	s.Require().True(ok)
	s.Equal(200, res.Status)
	s.Equal(int64(len(body)), res.ContentLength)
	got, _ := io.ReadAll(res.Body)
	s.Equal(body, got)
}

func (s *ChunkedCacheSuite) TestCase_ShouldServeRangeSpanningMultipleChunks() {
	ctx := context.Background()
	body := make([]byte, 37)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	s.Require().NoError(s.cache.WriteBuffered(ctx, "obj3", body, kvcache.Headers{ContentType: "x", ETag: `"e3"`}, 60))

	res, ok := s.cache.Match(ctx, "obj3", "bytes=5-20")
	s.Require().True(ok)
	s.Equal(206, res.Status)
	s.Equal(int64(16), res.ContentLength)
	s.Equal("bytes 5-20/37", res.ContentRange)
	got, _ := io.ReadAll(res.Body)
	s.Equal(body[5:21], got)
}

func (s *ChunkedCacheSuite) TestCase_ShouldFallBackToFullBodyOnUnsatisfiableRange() {
	ctx := context.Background()
	body := make([]byte, 20)
	s.Require().NoError(s.cache.WriteBuffered(ctx, "obj4", body, kvcache.Headers{ContentType: "x", ETag: `"e4"`}, 60))

	res, ok := s.cache.Match(ctx, "obj4", "bytes=9999-10000")
	s.Require().True(ok)
	s.Equal(200, res.Status)
	s.Equal(int64(20), res.ContentLength)
}

func (s *ChunkedCacheSuite) TestCase_ShouldMissWhenEntryExpired() {
	ctx := context.Background()
	body := []byte("short")
	s.Require().NoError(s.cache.WriteBuffered(ctx, "obj5", body, kvcache.Headers{ContentType: "x", ETag: `"e5"`}, 1))

	meta := s.store.meta["obj5"]
	meta.CreatedAtMS -= 10_000
	s.store.meta["obj5"] = meta

	_, ok := s.cache.Match(ctx, "obj5", "")
	s.False(ok)
}

func (s *ChunkedCacheSuite) TestCase_ShouldFailBodyReadWhenChunkCompanionMissing() {
	ctx := context.Background()
	body := make([]byte, 37)
	s.Require().NoError(s.cache.WriteBuffered(ctx, "obj6", body, kvcache.Headers{ContentType: "x", ETag: `"e6"`}, 60))

	delete(s.store.vals, "obj6_chunk_1")

	res, ok := s.cache.Match(ctx, "obj6", "")
	s.Require().True(ok)
	_, err := io.ReadAll(res.Body)
	s.Require().Error(err)
}

func (s *ChunkedCacheSuite) TestCase_ShouldRejectBodyExceedingTotalMax() {
	ctx := context.Background()
	s.cache = kvcache.New(s.store, s.store, kvcache.Limits{
		SingleEntryMax: 16,
		ChunkSize:      8,
		TotalMax:       10,
		MinReadTTL:     time.Second,
		MinWriteTTL:    time.Second,
	})
	err := s.cache.WriteBuffered(ctx, "obj7", make([]byte, 11), kvcache.Headers{}, 60)
	s.Require().Error(err)
}

func (s *ChunkedCacheSuite) TestCase_ShouldWriteManifestChunkSizesSummingToTotal() {
	ctx := context.Background()
	body := make([]byte, 37)
	s.Require().NoError(s.cache.WriteBuffered(ctx, "obj8", body, kvcache.Headers{ContentType: "x", ETag: `"e8"`}, 60))

	// 37 bytes at ChunkSize 8: chunks of 8, 8, 8, 8 and 5 bytes.
	for i := 0; i < 5; i++ {
		_, ok, _ := s.store.GetBytes(ctx, fmt.Sprintf("obj8_chunk_%d", i))
		s.True(ok, "expected chunk %d to exist", i)
	}

	var manifest kvcache.ChunkManifest
	s.Require().NoError(json.Unmarshal(s.store.vals["obj8"], &manifest))
	s.Equal(5, manifest.ChunkCount)
	var sum int64
	for _, n := range manifest.ChunkSizes {
		sum += n
	}
	s.Equal(int64(len(body)), sum)
}

func (s *ChunkedCacheSuite) TestCase_ShouldRoundTripViaWriteStream() {
	ctx := context.Background()
	body := make([]byte, 50)
	for i := range body {
		body[i] = byte(i)
	}
	r := bytes.NewReader(body)
	err := s.cache.WriteStream(ctx, "obj9", r, int64(len(body)), kvcache.Headers{ContentType: "x", ETag: `"e9"`}, 60)
	s.Require().NoError(err)

	res, ok := s.cache.Match(ctx, "obj9", "")
	s.Require().True(ok)
	got, _ := io.ReadAll(res.Body)
	s.Equal(body, got)
}
