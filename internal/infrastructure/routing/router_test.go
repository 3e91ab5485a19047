package routing_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/routing"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

type RouterSuite struct {
	suite.Suite
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) TestCase_ShouldMatchExactHostAndStripPrefix() {
	r := routing.New([]object.BucketRoute{
		{HostPattern: "assets.example.com", PathPrefix: "/static/", BucketIdentifier: "static-bucket", StripPrefix: true},
	}, "")

	resolved, err := r.Resolve("assets.example.com", "/static/images/a.png")
	s.Require().NoError(err)
	s.Equal("static-bucket", resolved.Bucket)
	s.Equal("images/a.png", resolved.Key)
}

func (s *RouterSuite) TestCase_ShouldMatchWildcardSuffix() {
	r := routing.New([]object.BucketRoute{
		{HostPattern: "*.example.com", PathPrefix: "/", BucketIdentifier: "wildcard-bucket"},
	}, "")

	resolved, err := r.Resolve("cdn.example.com", "/a/b.jpg")
	s.Require().NoError(err)
	s.Equal("wildcard-bucket", resolved.Bucket)
	s.Equal("a/b.jpg", resolved.Key)
}

func (s *RouterSuite) TestCase_ShouldRejectWildcardSuffixEqualToHost() {
	r := routing.New([]object.BucketRoute{
		{HostPattern: "*.example.com", PathPrefix: "/", BucketIdentifier: "wildcard-bucket"},
	}, "default-bucket")

	resolved, err := r.Resolve("example.com", "/a.jpg")
	s.Require().NoError(err)
	s.Equal("default-bucket", resolved.Bucket)
}

func (s *RouterSuite) TestCase_ShouldFallBackToDefaultBucket() {
	r := routing.New(nil, "default-bucket")
	resolved, err := r.Resolve("anything.test", "/key.txt")
	s.Require().NoError(err)
	s.Equal("default-bucket", resolved.Bucket)
	s.Equal("key.txt", resolved.Key)
}

func (s *RouterSuite) TestCase_ShouldReturnConfigurationErrorWhenNoMatchAndNoDefault() {
	r := routing.New(nil, "")
	_, err := r.Resolve("anything.test", "/key.txt")
	s.Require().Error(err)
	s.Equal(apperrors.CodeConfigurationError, apperrors.GetCode(err))
}

func (s *RouterSuite) TestCase_ShouldReturnConfigurationErrorWhenRouteMissingBucket() {
	r := routing.New([]object.BucketRoute{
		{HostPattern: "*", PathPrefix: "/", BucketIdentifier: ""},
	}, "")
	_, err := r.Resolve("anything.test", "/key.txt")
	s.Require().Error(err)
	s.Equal(apperrors.CodeConfigurationError, apperrors.GetCode(err))
}

func (s *RouterSuite) TestCase_ShouldNotStripPrefixWhenFlagUnset() {
	r := routing.New([]object.BucketRoute{
		{HostPattern: "*", PathPrefix: "/static/", BucketIdentifier: "b", StripPrefix: false},
	}, "")
	resolved, err := r.Resolve("anything.test", "/static/images/a.png")
	s.Require().NoError(err)
	s.Equal("static/images/a.png", resolved.Key)
}
