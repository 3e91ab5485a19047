// Package routing implements Component D: matching a request's host and
// path against an ordered bucket route table.
package routing

import (
	"strings"

	"github.com/alchemorsel/gateway/internal/domain/object"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// Router holds the ordered route table and default bucket fallback.
type Router struct {
	routes        []object.BucketRoute
	defaultBucket string
}

// New constructs a Router from an ordered route table and default bucket.
func New(routes []object.BucketRoute, defaultBucket string) *Router {
	return &Router{routes: routes, defaultBucket: defaultBucket}
}

// Resolve matches host+path against the route table, scanned linearly; the
// first route whose host pattern and path prefix both match wins. The
// object key is the path with its leading slash stripped, and the route's
// prefix further stripped when StripPrefix is set. A missing bucket
// binding is a ConfigurationError.
func (r *Router) Resolve(host, path string) (object.ResolvedRoute, error) {
	key := strings.TrimPrefix(path, "/")

	for _, route := range r.routes {
		if !hostMatches(route.HostPattern, host) {
			continue
		}
		if !strings.HasPrefix(path, route.PathPrefix) {
			continue
		}

		resolvedKey := key
		if route.StripPrefix && route.PathPrefix != "/" {
			prefixKey := strings.TrimPrefix(route.PathPrefix, "/")
			resolvedKey = strings.TrimPrefix(resolvedKey, prefixKey)
			resolvedKey = strings.TrimPrefix(resolvedKey, "/")
		}

		if route.BucketIdentifier == "" {
			return object.ResolvedRoute{}, apperrors.NewConfigurationError("route matched but has no bucket binding")
		}

		return object.ResolvedRoute{
			Bucket:            route.BucketIdentifier,
			BucketDisplayName: route.BucketDisplayName,
			Key:               resolvedKey,
		}, nil
	}

	if r.defaultBucket == "" {
		return object.ResolvedRoute{}, apperrors.NewConfigurationError("no route matched and no default bucket configured")
	}

	return object.ResolvedRoute{Bucket: r.defaultBucket, Key: key}, nil
}

// hostMatches implements the three host-pattern forms: "*" matches any
// host; "*.suffix" matches any host ending in ".suffix" that is strictly
// longer than the suffix; otherwise exact match.
func hostMatches(pattern, host string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".suffix"
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return pattern == host
}
