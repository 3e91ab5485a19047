// Package origin implements Component E: the blob-store-backed origin
// client. It fetches from S3 with bounded retries and exponential backoff,
// forwards Range and conditional headers verbatim, and surfaces 304 via
// body-absence rather than synthesizing it locally.
package origin

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/domain/object"
	"github.com/alchemorsel/gateway/internal/infrastructure/metrics"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// Config configures a Client's retry policy and S3 binding.
type Config struct {
	Bucket             string
	MaxRetries         int
	RetryDelay         time.Duration
	ExponentialBackoff bool
}

// Client is the S3-backed BlobStore binding. It depends on s3iface.S3API
// rather than the concrete *s3.S3 so tests can substitute a fake.
type Client struct {
	s3      s3iface.S3API
	bucket  string
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.OriginMetrics
}

// New constructs a Client from an AWS session and config. originMetrics may
// be nil to run without origin-retry instrumentation.
func New(sess *session.Session, cfg Config, logger *zap.Logger, originMetrics *metrics.OriginMetrics) *Client {
	return NewWithAPI(s3.New(sess), cfg, logger, originMetrics)
}

// NewWithAPI constructs a Client from an explicit s3iface.S3API, for tests.
func NewWithAPI(api s3iface.S3API, cfg Config, logger *zap.Logger, originMetrics *metrics.OriginMetrics) *Client {
	return &Client{
		s3:      api,
		bucket:  cfg.Bucket,
		cfg:     cfg,
		logger:  logger,
		metrics: originMetrics,
	}
}

var _ outbound.BlobStore = (*Client)(nil)

// Fetch retrieves key from the bucket, forwarding Range and
// If-None-Match predicates verbatim. Retry applies only to transport
// errors; a negative lookup (NoSuchKey) is returned without retry.
func (c *Client) Fetch(ctx context.Context, key string, opts outbound.FetchOptions) outbound.FetchResult {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if opts.Range != "" {
		input.Range = aws.String(opts.Range)
	}
	if opts.OnlyIfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.OnlyIfNoneMatch)
	}

	var out *s3.GetObjectOutput
	attempt := 0

	op := func() error {
		if attempt > 0 {
			c.metrics.RecordRetry(c.bucket)
		}
		attempt++
		var err error
		out, err = c.s3.GetObjectWithContext(ctx, input)
		if err == nil {
			return nil
		}
		if isNegativeLookup(err) || isNotModified(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := c.retryPolicy(ctx)
	err := backoff.Retry(op, policy)

	switch {
	case err == nil:
		return outbound.FetchResult{Outcome: outbound.FetchBody, Object: toObject(key, out)}
	case isNotModified(err):
		return outbound.FetchResult{Outcome: outbound.FetchNotModified, Object: toObjectWithoutBody(key, opts.OnlyIfNoneMatch)}
	case isNegativeLookup(err):
		return outbound.FetchResult{Outcome: outbound.FetchNotFound}
	default:
		c.logger.Warn("origin fetch failed after retries",
			zap.String("key", key), zap.Int("attempts", attempt), zap.Error(err))
		return outbound.FetchResult{
			Outcome: outbound.FetchError,
			Err:     apperrors.NewOriginTransportError(key, err),
		}
	}
}

// Ping performs a cheap HeadBucket reachability probe for health checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

// retryPolicy builds the backoff policy per §4.E: delay before attempt i
// (1-indexed after the first) is retry_delay · 2^(i-1) under exponential
// backoff, else a constant retry_delay. Bounded to max_retries retries
// after the first attempt, so at most max_retries+1 attempts in all.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var b backoff.BackOff
	if c.cfg.ExponentialBackoff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.cfg.RetryDelay
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(c.cfg.RetryDelay)
	}

	b = backoff.WithMaxRetries(b, uint64(maxRetries))
	return backoff.WithContext(b, ctx)
}

func isNegativeLookup(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
}

func isNotModified(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	return aerr.Code() == "NotModified"
}

func toObject(key string, out *s3.GetObjectOutput) *object.Object {
	obj := &object.Object{
		Key:  key,
		Size: aws.Int64Value(out.ContentLength),
		ETag: aws.StringValue(out.ETag),
		Body: out.Body,
	}
	if out.ContentType != nil {
		obj.ContentType = aws.StringValue(out.ContentType)
	}
	obj.HTTPMetadata = object.HTTPMetadata{
		ContentDisposition: aws.StringValue(out.ContentDisposition),
		ContentEncoding:    aws.StringValue(out.ContentEncoding),
		ContentLanguage:    aws.StringValue(out.ContentLanguage),
		CacheControl:       aws.StringValue(out.CacheControl),
	}
	if out.LastModified != nil {
		obj.HTTPMetadata.LastModified = out.LastModified.UTC().Format(time.RFC1123)
	}
	if out.ContentRange != nil {
		obj.IsPartial = true
		obj.ContentRange = aws.StringValue(out.ContentRange)
	}
	return obj
}

// toObjectWithoutBody builds the body-absent 304 signal. S3's NotModified
// error does not carry a structured ETag field in this SDK version, so the
// If-None-Match value the origin just matched is returned as the ETag.
func toObjectWithoutBody(key, matchedETag string) *object.Object {
	return &object.Object{Key: key, ETag: matchedETag, Body: nil}
}
