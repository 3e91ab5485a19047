// Package purge implements the operator-invoked purge-on-write hook: an
// external tag-based purge of the fast tier, mirrored onto CloudFront so
// the CDN's own edge caches drop the same entries. This sits outside the
// core's HTTP surface (§6 names no purge endpoint — invalidation is
// "external" per spec) and is meant to be wired into an ops/admin path.
package purge

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/infrastructure/edgecache"
)

// TagPurger is the fast tier's tag-based purge capability.
type TagPurger interface {
	Purge(tag string) []string
}

var _ TagPurger = (*edgecache.Cache)(nil)

// Invalidator fires a CDN invalidation for a batch of paths.
type Invalidator struct {
	distributionID string
	cf             cloudfrontiface.CloudFrontAPI
	logger         *zap.Logger
}

// NewInvalidator constructs an Invalidator bound to a CloudFront
// distribution. distributionID may be empty, in which case Fire is a no-op
// (CDN invalidation is optional; local-only purge still runs).
func NewInvalidator(cf cloudfrontiface.CloudFrontAPI, distributionID string, logger *zap.Logger) *Invalidator {
	return &Invalidator{cf: cf, distributionID: distributionID, logger: logger}
}

// Fire requests invalidation of paths. A no-op when no distribution is
// configured.
func (i *Invalidator) Fire(ctx context.Context, paths []string) error {
	if i.distributionID == "" || len(paths) == 0 {
		return nil
	}

	cfPaths := make([]*string, len(paths))
	for idx, p := range paths {
		cfPaths[idx] = aws.String(p)
	}

	input := &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.distributionID),
		InvalidationBatch: &cloudfront.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("gateway-purge-%d", time.Now().UnixNano())),
			Paths: &cloudfront.Paths{
				Quantity: aws.Int64(int64(len(cfPaths))),
				Items:    cfPaths,
			},
		},
	}

	result, err := i.cf.CreateInvalidationWithContext(ctx, input)
	if err != nil {
		i.logger.Error("cloudfront invalidation failed", zap.Strings("paths", paths), zap.Error(err))
		return err
	}

	i.logger.Info("cloudfront invalidation created",
		zap.String("invalidation_id", aws.StringValue(result.Invalidation.Id)),
		zap.Strings("paths", paths))
	return nil
}

// Purger purges the fast tier by cache tag and mirrors the purge onto the
// CDN, keyed by the path (and query) of the same entries' URLs.
type Purger struct {
	edge   TagPurger
	cdn    *Invalidator
	logger *zap.Logger
}

// New constructs a Purger. cdn may be nil to run fast-tier-only (no CDN
// mirroring).
func New(edge TagPurger, cdn *Invalidator, logger *zap.Logger) *Purger {
	return &Purger{edge: edge, cdn: cdn, logger: logger}
}

// PurgeTag removes every fast-tier entry carrying tag and, if a CDN
// invalidator is configured, requests invalidation of the same URLs.
func (p *Purger) PurgeTag(ctx context.Context, tag string) (int, error) {
	urls := p.edge.Purge(tag)
	if len(urls) == 0 {
		return 0, nil
	}
	if p.cdn == nil {
		return len(urls), nil
	}
	paths := make([]string, 0, len(urls))
	for _, raw := range urls {
		if u, err := url.Parse(raw); err == nil {
			paths = append(paths, u.RequestURI())
		}
	}
	if err := p.cdn.Fire(ctx, paths); err != nil {
		// CDN mirroring is best-effort: the fast tier is already purged,
		// so this never fails the overall purge.
		p.logger.Warn("cdn purge mirror failed", zap.String("tag", tag), zap.Error(err))
	}
	return len(urls), nil
}
