// Package kvcache implements Component F: the chunked-KV cache storage
// format layered over a Redis-backed slow key-value store.
package kvcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/ports/outbound"
)

// circuitState mirrors the teacher's three-state Redis circuit breaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker guards the Redis round trip so a failing slow tier degrades
// to fast cache-miss / origin behavior instead of stalling every request.
type circuitBreaker struct {
	maxFailures     int
	timeout         time.Duration
	failures        int
	lastFailureTime time.Time
	state           circuitState
	mu              sync.Mutex
}

func newCircuitBreaker(maxFailures int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, timeout: timeout, state: circuitClosed}
}

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	default: // circuitHalfOpen
		return true
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailureTime = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = circuitOpen
	}
}

// RedisStore is the Redis-backed outbound.KVStore binding.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	cb     *circuitBreaker
}

// NewRedisStore constructs a RedisStore from a go-redis universal client.
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		cb:     newCircuitBreaker(5, 30*time.Second),
	}
}

var _ outbound.KVStore = (*RedisStore)(nil)

const metaHashTTLPaddingSeconds = 5

// metadataToHash and hashToMetadata map outbound.KVMetadata to/from a Redis
// hash. The JSON value (sentinel or manifest) lives at the key and the
// out-of-band metadata hash at key+"_meta"; Put gives both the same TTL.
func metadataToHash(meta outbound.KVMetadata) map[string]interface{} {
	headers, _ := json.Marshal(meta.PreservedHeaders)
	return map[string]interface{}{
		"contentType":   meta.ContentType,
		"contentLength": meta.ContentLength,
		"etag":          meta.ETag,
		"isChunked":     meta.IsChunked,
		"createdAt":     meta.CreatedAtMS,
		"maxAge":        meta.MaxAgeSeconds,
		"headers":       string(headers),
	}
}

func hashToMetadata(h map[string]string) (outbound.KVMetadata, bool) {
	if len(h) == 0 {
		return outbound.KVMetadata{}, false
	}
	var meta outbound.KVMetadata
	meta.ContentType = h["contentType"]
	meta.ETag = h["etag"]
	meta.IsChunked = h["isChunked"] == "1" || h["isChunked"] == "true"
	fmt.Sscanf(h["contentLength"], "%d", &meta.ContentLength)
	fmt.Sscanf(h["createdAt"], "%d", &meta.CreatedAtMS)
	fmt.Sscanf(h["maxAge"], "%d", &meta.MaxAgeSeconds)
	if raw, ok := h["headers"]; ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta.PreservedHeaders)
	}
	return meta, true
}

// GetWithMetadata reads the JSON value (sentinel/manifest) stored at key's
// string value plus the out-of-band metadata hash stored at key+"_meta".
func (s *RedisStore) GetWithMetadata(ctx context.Context, key string) ([]byte, outbound.KVMetadata, bool, error) {
	if !s.cb.allowRequest() {
		return nil, outbound.KVMetadata{}, false, fmt.Errorf("kvcache: redis circuit breaker open")
	}

	pipe := s.client.Pipeline()
	valueCmd := pipe.Get(ctx, key)
	metaCmd := pipe.HGetAll(ctx, key+"_meta")
	_, err := pipe.Exec(ctx)

	if err != nil && err != redis.Nil {
		s.cb.recordFailure()
		return nil, outbound.KVMetadata{}, false, err
	}

	value, verr := valueCmd.Bytes()
	if verr != nil {
		if verr == redis.Nil {
			s.cb.recordSuccess()
			return nil, outbound.KVMetadata{}, false, nil
		}
		s.cb.recordFailure()
		return nil, outbound.KVMetadata{}, false, verr
	}

	metaHash, merr := metaCmd.Result()
	if merr != nil && merr != redis.Nil {
		s.cb.recordFailure()
		return nil, outbound.KVMetadata{}, false, merr
	}

	meta, ok := hashToMetadata(metaHash)
	if !ok {
		s.cb.recordSuccess()
		return nil, outbound.KVMetadata{}, false, nil
	}

	s.cb.recordSuccess()
	return value, meta, true, nil
}

// GetBytes reads the raw bytes stored at key (a body or chunk companion key).
func (s *RedisStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.cb.allowRequest() {
		return nil, false, fmt.Errorf("kvcache: redis circuit breaker open")
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.cb.recordSuccess()
		return nil, false, nil
	}
	if err != nil {
		s.cb.recordFailure()
		return nil, false, err
	}
	s.cb.recordSuccess()
	return data, true, nil
}

// Put writes value at key plus the out-of-band metadata hash at
// key+"_meta", both under the same TTL so they expire together.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, meta outbound.KVMetadata, ttlSeconds int64) error {
	if !s.cb.allowRequest() {
		return fmt.Errorf("kvcache: redis circuit breaker open")
	}

	ttl := time.Duration(ttlSeconds) * time.Second

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.HSet(ctx, key+"_meta", metadataToHash(meta))
	pipe.Expire(ctx, key+"_meta", ttl)
	_, err := pipe.Exec(ctx)

	if err != nil {
		s.cb.recordFailure()
		return err
	}
	s.cb.recordSuccess()
	return nil
}

// PutChunk writes a single chunk's bytes, sharing the entry's TTL. Chunks
// carry no separate metadata hash: the manifest at the base key is the sole
// source of truth for chunk boundaries.
func (s *RedisStore) PutChunk(ctx context.Context, key string, data []byte, ttlSeconds int64) error {
	if !s.cb.allowRequest() {
		return fmt.Errorf("kvcache: redis circuit breaker open")
	}

	err := s.client.Set(ctx, key, data, time.Duration(ttlSeconds)*time.Second).Err()
	if err != nil {
		s.cb.recordFailure()
		return err
	}
	s.cb.recordSuccess()
	return nil
}

var _ outbound.ChunkUploader = (*RedisStore)(nil)
