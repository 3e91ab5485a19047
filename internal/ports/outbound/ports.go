// Package outbound declares the collaborator interfaces the core consumes:
// the blob store, the slow-tier key-value store, the fast-tier HTTP edge
// cache, and the background-task handle. None of these are specified here
// beyond their contract — concrete bindings live under
// internal/infrastructure.
package outbound

import (
	"context"
	"io"
	"net/http"

	"github.com/alchemorsel/gateway/internal/domain/object"
)

// FetchOptions carries the Range and conditional predicates forwarded
// verbatim to the origin.
type FetchOptions struct {
	Range      string
	OnlyIfNoneMatch string
}

// FetchOutcome is the origin's answer to a fetch, one of four shapes.
type FetchOutcome int

const (
	FetchBody FetchOutcome = iota
	FetchNotModified
	FetchNotFound
	FetchError
)

// FetchResult bundles the outcome with the object payload (when present).
type FetchResult struct {
	Outcome FetchOutcome
	Object  *object.Object
	Err     error
}

// BlobStore is collaborator (b): the origin blob-storage handle.
type BlobStore interface {
	// Fetch retrieves an object, honoring Range/conditional options, with
	// bounded retries applied by the implementation.
	Fetch(ctx context.Context, key string, opts FetchOptions) FetchResult
	// Ping performs a cheap reachability probe for health checks.
	Ping(ctx context.Context) error
}

// KVMetadata is the out-of-band metadata blob stored alongside a chunked-KV
// entry's JSON value.
type KVMetadata struct {
	ContentType      string
	ContentLength    int64
	ETag             string
	IsChunked        bool
	CreatedAtMS      int64
	MaxAgeSeconds    int64
	PreservedHeaders map[string]string
}

// KVStore is collaborator (c): the slow key-value store handle.
type KVStore interface {
	// GetWithMetadata returns the JSON value and out-of-band metadata blob
	// stored at key, or ok=false on miss.
	GetWithMetadata(ctx context.Context, key string) (value []byte, meta KVMetadata, ok bool, err error)
	// GetBytes returns the raw bytes stored at key, or ok=false on miss.
	GetBytes(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Put writes value at key with the out-of-band metadata and a TTL.
	Put(ctx context.Context, key string, value []byte, meta KVMetadata, ttlSeconds int64) error
}

// EdgeCacheMatchOptions controls lookup semantics.
type EdgeCacheMatchOptions struct {
	IgnoreMethod bool
}

// EdgeCache is collaborator (d): the fast HTTP edge cache handle. It
// natively synthesizes 206/304 responses on lookup against a stored 200.
type EdgeCache interface {
	// Match looks up a cached response for req. A nil response with ok=false
	// means miss.
	Match(ctx context.Context, req *http.Request, opts EdgeCacheMatchOptions) (resp *http.Response, ok bool, err error)
	// Put stores resp, addressed by the request URL. resp must be a full 200
	// response with a known Content-Length; the implementation must refuse a
	// 206.
	Put(ctx context.Context, req *http.Request, resp *http.Response) error
}

// BackgroundTasks is collaborator (e): a handle allowing a request to
// register work that must outlive the response.
type BackgroundTasks interface {
	// Go schedules fn to run independently of the request's lifetime. fn
	// receives a context detached from request cancellation.
	Go(fn func(ctx context.Context))
}

// ChunkUploader is the minimal sink the chunked-KV streaming writer needs:
// an async, acknowledged put of one chunk's bytes. Modeled separately from
// KVStore.Put so write_stream can track in-flight chunk uploads distinctly
// from the final manifest write.
type ChunkUploader interface {
	PutChunk(ctx context.Context, key string, data []byte, ttlSeconds int64) error
}

// Reader is the minimal streaming source write_stream consumes.
type Reader = io.Reader
