package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/application/gateway"
	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/background"
	"github.com/alchemorsel/gateway/internal/infrastructure/config"
	"github.com/alchemorsel/gateway/internal/infrastructure/edgecache"
	"github.com/alchemorsel/gateway/internal/infrastructure/kvcache"
	"github.com/alchemorsel/gateway/internal/infrastructure/routing"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	"github.com/alchemorsel/gateway/internal/testutils"
)

type GatewaySuite struct {
	suite.Suite

	store  *testutils.FakeBlobStore
	edge   *edgecache.Cache
	slow   *kvcache.Cache
	pool   *background.Pool
	policy config.GatewayConfig
	svc    *gateway.Service
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.store = testutils.NewFakeBlobStore()
	s.edge = edgecache.New(1 << 20)
	kv := testutils.NewFakeKVStore()
	s.slow = kvcache.New(kv, kv, kvcache.Limits{
		SingleEntryMax: 1 << 16,
		ChunkSize:      1 << 16,
		TotalMax:       1 << 30,
		MinReadTTL:     time.Second,
		MinWriteTTL:    time.Second,
	})
	s.pool = background.New(4, zap.NewNop())
	s.policy = config.GatewayConfig{
		DefaultMaxAge:      time.Hour,
		DefaultSWR:         time.Minute,
		CacheEnabled:       true,
		BypassParamEnabled: true,
		BypassParamName:    "no-cache",
		FastCacheCapBytes:  1 << 20,
	}

	s.svc = s.newService(s.policy)
}

func (s *GatewaySuite) newService(policy config.GatewayConfig) *gateway.Service {
	router := routing.New([]object.BucketRoute{
		{HostPattern: "*", PathPrefix: "/", BucketIdentifier: "bucket-a", BucketDisplayName: "bucket-a"},
	}, "bucket-a")
	return gateway.New(router, map[string]outbound.BlobStore{"bucket-a": s.store}, s.slow, s.edge, s.pool, policy, zap.NewNop(), nil)
}

func (s *GatewaySuite) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.svc.ServeObject(rec, req)
	return rec
}

func (s *GatewaySuite) TestCase_ShouldReturn404OnMissingObject() {
	rec := s.do(http.MethodGet, "/missing.png", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *GatewaySuite) TestCase_ShouldReturn502OnOriginError() {
	s.store.SetOutcome("broken.png", outbound.FetchResult{Outcome: outbound.FetchError})
	rec := s.do(http.MethodGet, "/broken.png", nil)
	s.Equal(http.StatusBadGateway, rec.Code)
}

func (s *GatewaySuite) TestCase_ShouldReturn500ForUnresolvableRoute() {
	router := routing.New(nil, "")
	svc := gateway.New(router, map[string]outbound.BlobStore{}, s.slow, s.edge, s.pool, s.policy, zap.NewNop(), nil)
	req := httptest.NewRequest(http.MethodGet, "/x.png", nil)
	rec := httptest.NewRecorder()
	svc.ServeObject(rec, req)
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *GatewaySuite) TestCase_ShouldServeFullObjectAndPopulateFastTier() {
	body := "hello world"
	s.store.SetObject("small.txt", object.Object{Key: "small.txt", Size: int64(len(body)), ETag: `"abc"`}, body)

	rec := s.do(http.MethodGet, "/small.txt", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(body, rec.Body.String())
	s.pool.Wait()

	rec2 := s.do(http.MethodGet, "/small.txt", nil)
	s.Equal(http.StatusOK, rec2.Code)
	s.Equal(body, rec2.Body.String())
}

func (s *GatewaySuite) TestCase_ShouldPopulateSlowTierForLargeObject() {
	policy := s.policy
	policy.FastCacheCapBytes = 4
	s.svc = s.newService(policy)

	body := "this body is definitely larger than four bytes"
	s.store.SetObject("big.bin", object.Object{Key: "big.bin", Size: int64(len(body)), ETag: `"big"`}, body)

	rec := s.do(http.MethodGet, "/big.bin", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(body, rec.Body.String())
	s.pool.Wait()

	rec2 := s.do(http.MethodGet, "/big.bin", nil)
	s.Equal(http.StatusOK, rec2.Code)
	s.Equal(body, rec2.Body.String())
	s.Equal("HIT", rec2.Header().Get("X-KV-Cache-Status"))
}

func (s *GatewaySuite) TestCase_ShouldServePartialRangeFromOriginAndBackfillFullObject() {
	body := "0123456789"
	s.store.SetObject("ranged.bin", object.Object{
		Key: "ranged.bin", Size: 4, ETag: `"r1"`,
		IsPartial: true, ContentRange: "bytes 2-5/10",
	}, body[2:6])

	rec := s.do(http.MethodGet, "/ranged.bin", http.Header{"Range": []string{"bytes=2-5"}})
	s.Equal(http.StatusPartialContent, rec.Code)
	s.Equal(body[2:6], rec.Body.String())
	s.Equal("bytes 2-5/10", rec.Header().Get("Content-Range"))

	// The background repopulate re-fetches the full object with no Range;
	// script that outcome too so the background task observes a hit.
	s.store.SetObject("ranged.bin", object.Object{Key: "ranged.bin", Size: int64(len(body)), ETag: `"r1"`}, body)
	s.pool.Wait()
}

func (s *GatewaySuite) TestCase_ShouldReturn304OnMatchingConditional() {
	s.store.SetOutcome("cond.png", outbound.FetchResult{
		Outcome: outbound.FetchNotModified,
		Object:  &object.Object{Key: "cond.png", ETag: `"cond-etag"`},
	})
	rec := s.do(http.MethodGet, "/cond.png", http.Header{"If-None-Match": []string{`"cond-etag"`}})
	s.Equal(http.StatusNotModified, rec.Code)
	s.Equal(`"cond-etag"`, rec.Header().Get("ETag"))
}

func (s *GatewaySuite) TestCase_ShouldBypassCachingWhenNoCacheParamPresent() {
	body := "bypassed content"
	s.store.SetObject("bypass.txt", object.Object{Key: "bypass.txt", Size: int64(len(body)), ETag: `"byp"`}, body)

	rec := s.do(http.MethodGet, "/bypass.txt?no-cache=1", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(body, rec.Body.String())
	s.Equal("no-store, max-age=0", rec.Header().Get("Cache-Control"))
	s.pool.Wait()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/bypass.txt?no-cache=1", nil)
	_, ok, err := s.edge.Match(context.Background(), req, outbound.EdgeCacheMatchOptions{})
	s.NoError(err)
	s.False(ok, "bypassed responses must never populate the fast tier")
}

func (s *GatewaySuite) TestCase_ShouldWithholdBodyOnHeadRequest() {
	body := "head me not"
	s.store.SetObject("head.txt", object.Object{Key: "head.txt", Size: int64(len(body)), ETag: `"h1"`}, body)

	rec := s.do(http.MethodHead, "/head.txt", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Body.String())
}
