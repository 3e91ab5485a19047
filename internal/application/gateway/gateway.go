// Package gateway implements Component G: the Object Service read state
// machine (INIT → CACHE_PROBE → SLOW_PROBE → ORIGIN_FETCH →
// ORIGIN_DISPATCH → POPULATE → DONE). It is the core's single inbound
// entry point; every collaborator it depends on (blob store, slow-tier
// cache, fast edge cache, background tasks) arrives through the
// internal/ports/outbound interfaces so the state machine itself stays
// free of any concrete transport or storage binding.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/classify"
	"github.com/alchemorsel/gateway/internal/infrastructure/config"
	"github.com/alchemorsel/gateway/internal/infrastructure/headers"
	"github.com/alchemorsel/gateway/internal/infrastructure/kvcache"
	"github.com/alchemorsel/gateway/internal/infrastructure/metrics"
	"github.com/alchemorsel/gateway/internal/infrastructure/routing"
	"github.com/alchemorsel/gateway/internal/ports/inbound"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// Service implements inbound.ObjectGatewayService.
type Service struct {
	router     *routing.Router
	blobStores map[string]outbound.BlobStore
	slowTier   *kvcache.Cache // nil disables the slow tier
	edge       outbound.EdgeCache
	tasks      outbound.BackgroundTasks
	policy     config.GatewayConfig
	logger     *zap.Logger
	metrics    *metrics.CacheMetrics

	// repopulate collapses concurrent background full-object refetches
	// for the same cache key: two Range misses against the same URL
	// arriving close together share one origin fetch and one populate.
	repopulate singleflight.Group
}

var _ inbound.ObjectGatewayService = (*Service)(nil)

// New constructs a Service. blobStores maps a resolved bucket identifier
// to its BlobStore binding; slowTier may be nil to run fast-tier-only.
// cacheMetrics may be nil to run without cache-tier instrumentation.
func New(
	router *routing.Router,
	blobStores map[string]outbound.BlobStore,
	slowTier *kvcache.Cache,
	edge outbound.EdgeCache,
	tasks outbound.BackgroundTasks,
	policy config.GatewayConfig,
	logger *zap.Logger,
	cacheMetrics *metrics.CacheMetrics,
) *Service {
	return &Service{
		router:     router,
		blobStores: blobStores,
		slowTier:   slowTier,
		edge:       edge,
		tasks:      tasks,
		policy:     policy,
		logger:     logger,
		metrics:    cacheMetrics,
	}
}

// ServeObject runs the read state machine described in §4.G.
func (s *Service) ServeObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	route, err := s.router.Resolve(r.Host, r.URL.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	store, ok := s.blobStores[route.Bucket]
	if !ok {
		s.writeError(w, apperrors.NewConfigurationError(fmt.Sprintf("no blob store bound for bucket %q", route.Bucket)))
		return
	}

	mimeType, category := classify.Classify(route.Key)
	bypass := s.computeBypass(r)
	customTags := headers.ParseCustomTags(r.URL.Query().Get("tags"))
	cacheReq := canonicalCacheRequest(r)
	baseKey := cacheReq.URL.String()

	// CACHE_PROBE.
	if !bypass {
		if resp, ok, err := s.edge.Match(ctx, cacheReq, outbound.EdgeCacheMatchOptions{IgnoreMethod: true}); err != nil {
			s.logger.Debug("fast cache probe error, advancing", zap.Error(err))
		} else if ok {
			s.metrics.RecordHit("fast")
			writeUpstreamResponse(w, resp)
			return
		} else {
			s.metrics.RecordMiss("fast")
		}
	}

	// SLOW_PROBE.
	if !bypass && s.slowTier != nil {
		if match, ok := s.slowTier.Match(ctx, baseKey, r.Header.Get("Range")); ok {
			s.metrics.RecordHit("slow")
			writeSlowTierMatch(w, match)
			return
		}
		s.metrics.RecordMiss("slow")
	}

	// ORIGIN_FETCH.
	fetchOpts := outbound.FetchOptions{
		Range:           r.Header.Get("Range"),
		OnlyIfNoneMatch: r.Header.Get("If-None-Match"),
	}
	result := store.Fetch(ctx, route.Key, fetchOpts)

	switch result.Outcome {
	case outbound.FetchNotFound:
		writePlainText(w, http.StatusNotFound, "Not Found")
		return
	case outbound.FetchError:
		s.logger.Warn("origin fetch error", zap.String("key", route.Key), zap.Error(result.Err))
		writePlainText(w, http.StatusBadGateway, "Bad Gateway")
		return
	case outbound.FetchNotModified:
		w.Header().Set("ETag", result.Object.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	// ORIGIN_DISPATCH.
	obj := result.Object
	obj.ContentType = firstNonEmpty(obj.ContentType, mimeType)

	headerIn := headers.BuildInput{
		Object:     obj,
		Host:       r.Host,
		Key:        route.Key,
		Category:   category,
		Policy:     s.policy,
		Bypass:     bypass,
		CustomTags: customTags,
	}
	respHeader := headers.Build(headerIn)
	respHeader.Set("X-Fetch-Via", "origin-binding")

	switch {
	case obj.IsPartial:
		s.serveRangePartial(w, r, store, route, baseKey, obj, respHeader)
		return
	case bypass || r.Method == http.MethodHead:
		s.serveWithoutCaching(w, r, obj, respHeader)
		return
	default:
		s.servePopulating(w, cacheReq, baseKey, obj, respHeader)
		return
	}
}

func (s *Service) computeBypass(r *http.Request) bool {
	if !s.policy.CacheEnabled {
		return true
	}
	if s.policy.BypassParamEnabled {
		name := s.policy.BypassParamName
		if name == "" {
			name = "no-cache"
		}
		if _, present := r.URL.Query()[name]; present {
			return true
		}
	}
	return false
}

// serveRangePartial emits the origin's partial body as a 206 and never
// caches it; it schedules a background full-object repopulate so later
// Range requests hit a warm tier (§4.G "Range-after-populate").
func (s *Service) serveRangePartial(w http.ResponseWriter, r *http.Request, store outbound.BlobStore, route object.ResolvedRoute, baseKey string, obj *object.Object, respHeader http.Header) {
	respHeader.Set("Content-Range", obj.ContentRange)

	copyHeader(w.Header(), respHeader)
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.Copy(w, obj.Body)
	}
	obj.Body.Close()

	cacheReq := canonicalCacheRequest(r)
	s.tasks.Go(func(bgCtx context.Context) {
		_, _, _ = s.repopulate.Do(baseKey, func() (interface{}, error) {
			full := store.Fetch(bgCtx, route.Key, outbound.FetchOptions{})
			if full.Outcome != outbound.FetchBody {
				return nil, nil
			}
			s.populateFromBackground(bgCtx, cacheReq, baseKey, route.Key, full.Object)
			return nil, nil
		})
	})
}

// populateFromBackground repeats the POPULATE decision for a
// background-fetched full object (no client to stream to).
func (s *Service) populateFromBackground(ctx context.Context, cacheReq *http.Request, baseKey, key string, obj *object.Object) {
	defer obj.Body.Close()

	mimeType, category := classify.Classify(key)
	obj.ContentType = firstNonEmpty(obj.ContentType, mimeType)
	headerIn := headers.BuildInput{
		Object:   obj,
		Key:      key,
		Category: category,
		Policy:   s.policy,
	}
	respHeader := headers.Build(headerIn)

	if obj.Size > s.policy.FastCacheCapBytes && s.slowTier != nil {
		kvHeaders := toKVHeaders(obj, respHeader)
		s.metrics.PopulateStarted("slow")
		defer s.metrics.PopulateFinished("slow")
		if err := s.slowTier.WriteStream(ctx, baseKey, obj.Body, obj.Size, kvHeaders, int64(s.policy.DefaultMaxAge.Seconds())); err != nil {
			s.logger.Warn("background slow-tier populate failed", zap.String("key", baseKey), zap.Error(err))
		}
		return
	}

	if s.policy.FastCacheCapBytes > 0 && obj.Size > s.policy.FastCacheCapBytes {
		return
	}

	resp := &http.Response{
		StatusCode:    http.StatusOK,
		ContentLength: obj.Size,
		Header:        respHeader,
		Body:          obj.Body,
	}
	s.metrics.PopulateStarted("fast")
	defer s.metrics.PopulateFinished("fast")
	if err := s.edge.Put(ctx, cacheReq, resp); err != nil {
		s.logger.Warn("background fast-tier populate failed", zap.String("key", key), zap.Error(err))
	}
}

// serveWithoutCaching streams the body to the client (unless HEAD, which
// withholds it) without writing to any cache tier.
func (s *Service) serveWithoutCaching(w http.ResponseWriter, r *http.Request, obj *object.Object, respHeader http.Header) {
	copyHeader(w.Header(), respHeader)
	w.WriteHeader(http.StatusOK)
	defer obj.Body.Close()
	if r.Method == http.MethodHead {
		return
	}
	io.Copy(w, obj.Body)
}

// servePopulating implements the POPULATE step: a split-stream dual-sink
// write that serves the client while concurrently persisting to whichever
// tier fits the object's size.
func (s *Service) servePopulating(w http.ResponseWriter, cacheReq *http.Request, baseKey string, obj *object.Object, respHeader http.Header) {
	copyHeader(w.Header(), respHeader)
	w.WriteHeader(http.StatusOK)

	if obj.Size > s.policy.FastCacheCapBytes && s.slowTier != nil {
		s.populateSlowTier(w, baseKey, obj, respHeader)
		return
	}

	if s.policy.FastCacheCapBytes > 0 && obj.Size > s.policy.FastCacheCapBytes {
		// No slow tier available and too large for the fast tier: stream
		// to the client only.
		defer obj.Body.Close()
		io.Copy(w, obj.Body)
		return
	}

	s.populateFastTier(w, cacheReq, obj, respHeader)
}

// populateSlowTier tees the origin stream to the client and to the
// slow-tier writer, which runs as a genuine background task: the client
// response completes independently of whether the cache write finishes.
func (s *Service) populateSlowTier(w http.ResponseWriter, baseKey string, obj *object.Object, respHeader http.Header) {
	defer obj.Body.Close()

	pr, pw := io.Pipe()
	kvHeaders := toKVHeaders(obj, respHeader)
	maxAge := int64(s.policy.DefaultMaxAge.Seconds())

	s.metrics.PopulateStarted("slow")
	s.tasks.Go(func(bgCtx context.Context) {
		defer pr.Close()
		defer s.metrics.PopulateFinished("slow")
		if err := s.slowTier.WriteStream(bgCtx, baseKey, pr, obj.Size, kvHeaders, maxAge); err != nil {
			s.logger.Warn("slow-tier populate failed", zap.String("key", baseKey), zap.Error(err))
		}
		// Drain whatever the writer left unread so a refused or failed
		// cache write never stalls or cuts short the client copy.
		_, _ = io.Copy(io.Discard, pr)
	})

	mw := io.MultiWriter(w, pw)
	_, err := io.Copy(mw, obj.Body)
	pw.CloseWithError(err)
}

// populateFastTier pumps the origin stream into the client and the fast
// cache's Put concurrently, so the put participates in write backpressure
// (§9 "the fast-cache put must not be deferred to a pure background
// handle"). A 206 must never reach here: the caller only takes this path
// for full 200 dispatches.
func (s *Service) populateFastTier(w http.ResponseWriter, cacheReq *http.Request, obj *object.Object, respHeader http.Header) {
	defer obj.Body.Close()

	if obj.Size <= 0 {
		io.Copy(w, obj.Body)
		return
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})

	s.metrics.PopulateStarted("fast")
	s.tasks.Go(func(bgCtx context.Context) {
		defer close(done)
		defer s.metrics.PopulateFinished("fast")
		resp := &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: obj.Size,
			Header:        respHeader.Clone(),
			Body:          pr,
		}
		if err := s.edge.Put(bgCtx, cacheReq, resp); err != nil {
			s.logger.Debug("fast-tier populate failed", zap.Error(err))
		}
	})

	mw := io.MultiWriter(w, pw)
	_, err := io.Copy(mw, obj.Body)
	pw.CloseWithError(err)
	<-done
}

func toKVHeaders(obj *object.Object, respHeader http.Header) kvcache.Headers {
	preserved := map[string]string{}
	for _, name := range []string{"Cache-Control", "Cache-Tag", "Last-Modified", "Content-Disposition", "Content-Encoding", "Content-Language"} {
		if v := respHeader.Get(name); v != "" {
			preserved[name] = v
		}
	}
	return kvcache.Headers{
		ContentType:      obj.ContentType,
		ETag:             obj.ETag,
		PreservedHeaders: preserved,
	}
}

func writeSlowTierMatch(w http.ResponseWriter, m *kvcache.MatchResult) {
	defer m.Body.Close()
	h := w.Header()
	h.Set("Content-Type", m.ContentType)
	h.Set("Content-Length", fmt.Sprintf("%d", m.ContentLength))
	h.Set("ETag", m.ETag)
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-KV-Cache-Status", "HIT")
	if m.ContentRange != "" {
		h.Set("Content-Range", m.ContentRange)
	}
	for name, value := range m.Preserved {
		h.Set(name, value)
	}
	w.WriteHeader(m.Status)
	io.Copy(w, m.Body)
}

func writeUpstreamResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil && resp.Body != http.NoBody {
		io.Copy(w, resp.Body)
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := err.(interface{ StatusCode() int }); ok {
		status = appErr.StatusCode()
	}
	body := "Internal Server Error"
	switch status {
	case http.StatusNotFound:
		body = "Not Found"
	case http.StatusBadGateway:
		body = "Bad Gateway"
	}
	writePlainText(w, status, body)
}

func writePlainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// canonicalCacheRequest builds the request used to key fast-tier and
// slow-tier lookups/puts: the original request's method, host, path, and
// query, with Range and conditional headers preserved verbatim.
func canonicalCacheRequest(r *http.Request) *http.Request {
	scheme := "https"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "http"
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host

	cr, _ := http.NewRequest(r.Method, u.String(), nil)
	if rng := r.Header.Get("Range"); rng != "" {
		cr.Header.Set("Range", rng)
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		cr.Header.Set("If-None-Match", inm)
	}
	return cr
}
