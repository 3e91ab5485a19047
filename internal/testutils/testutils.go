// Package testutils holds fakes shared across package test suites,
// mirroring the teacher's test/testutils package: one place for the
// collaborator doubles instead of every _test.go reinventing them.
package testutils

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
)

// FakeBlobStore is a scriptable outbound.BlobStore. Fetch hands out a fresh
// body reader every call so a key can be fetched more than once, which the
// gateway's background repopulate path depends on.
type FakeBlobStore struct {
	mu      sync.Mutex
	results map[string]outbound.FetchResult
	bodies  map[string]string
}

// NewFakeBlobStore constructs an empty FakeBlobStore.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{results: map[string]outbound.FetchResult{}, bodies: map[string]string{}}
}

// SetObject scripts a FetchBody outcome for key.
func (f *FakeBlobStore) SetObject(key string, obj object.Object, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[key] = body
	f.results[key] = outbound.FetchResult{Outcome: outbound.FetchBody, Object: &obj}
}

// SetOutcome scripts an arbitrary outcome for key, e.g. FetchNotFound or
// FetchError.
func (f *FakeBlobStore) SetOutcome(key string, result outbound.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = result
}

// Fetch implements outbound.BlobStore.
func (f *FakeBlobStore) Fetch(ctx context.Context, key string, opts outbound.FetchOptions) outbound.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[key]
	if !ok {
		return outbound.FetchResult{Outcome: outbound.FetchNotFound}
	}
	if result.Outcome != outbound.FetchBody {
		return result
	}
	obj := *result.Object
	obj.Body = io.NopCloser(strings.NewReader(f.bodies[key]))
	return outbound.FetchResult{Outcome: outbound.FetchBody, Object: &obj}
}

// Ping implements outbound.BlobStore / healthcheck.OriginPinger.
func (f *FakeBlobStore) Ping(ctx context.Context) error { return nil }

var _ outbound.BlobStore = (*FakeBlobStore)(nil)

// FakeKVStore is an in-memory outbound.KVStore + outbound.ChunkUploader
// double, backed by a single map so manifest and chunk writes land in the
// same store.
type FakeKVStore struct {
	mu   sync.Mutex
	vals map[string][]byte
	meta map[string]outbound.KVMetadata
}

// NewFakeKVStore constructs an empty FakeKVStore.
func NewFakeKVStore() *FakeKVStore {
	return &FakeKVStore{vals: map[string][]byte{}, meta: map[string]outbound.KVMetadata{}}
}

func (m *FakeKVStore) GetWithMetadata(ctx context.Context, key string) ([]byte, outbound.KVMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, outbound.KVMetadata{}, false, nil
	}
	return v, m.meta[key], true, nil
}

func (m *FakeKVStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *FakeKVStore) Put(ctx context.Context, key string, value []byte, meta outbound.KVMetadata, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	m.meta[key] = meta
	return nil
}

func (m *FakeKVStore) PutChunk(ctx context.Context, key string, data []byte, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = data
	return nil
}

var (
	_ outbound.KVStore      = (*FakeKVStore)(nil)
	_ outbound.ChunkUploader = (*FakeKVStore)(nil)
)
