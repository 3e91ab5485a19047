package origin_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/infrastructure/origin"
	"github.com/alchemorsel/gateway/internal/ports/outbound"
	apperrors "github.com/alchemorsel/gateway/pkg/errors"
)

// fakeS3API implements the slice of s3iface.S3API this package exercises.
type fakeS3API struct {
	s3iface.S3API
	getObjectFunc  func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	headErr        error
	getObjectCalls int
}

func (f *fakeS3API) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.getObjectCalls++
	return f.getObjectFunc(input)
}

func (f *fakeS3API) HeadBucketWithContext(ctx aws.Context, input *s3.HeadBucketInput, opts ...request.Option) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

type OriginSuite struct {
	suite.Suite
	logger *zap.Logger
}

func TestOriginSuite(t *testing.T) {
	suite.Run(t, new(OriginSuite))
}

func (s *OriginSuite) SetupSuite() {
	s.logger = zap.NewNop()
}

func (s *OriginSuite) TestCase_ShouldReturnBodyOnSuccess() {
	fake := &fakeS3API{getObjectFunc: func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return &s3.GetObjectOutput{
			Body:          io.NopCloser(strings.NewReader("hello")),
			ContentLength: aws.Int64(5),
			ETag:          aws.String(`"etag1"`),
			ContentType:   aws.String("text/plain"),
		}, nil
	}}
	c := origin.NewWithAPI(fake, origin.Config{Bucket: "b", MaxRetries: 2, RetryDelay: time.Millisecond}, s.logger, nil)

	result := c.Fetch(context.Background(), "k", outbound.FetchOptions{})
	s.Equal(outbound.FetchBody, result.Outcome)
	s.Equal(int64(5), result.Object.Size)
	s.Equal(`"etag1"`, result.Object.ETag)
	s.Equal(1, fake.getObjectCalls)
}

func (s *OriginSuite) TestCase_ShouldReturnNotFoundWithoutRetry() {
	fake := &fakeS3API{getObjectFunc: func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}}
	c := origin.NewWithAPI(fake, origin.Config{Bucket: "b", MaxRetries: 3, RetryDelay: time.Millisecond}, s.logger, nil)

	result := c.Fetch(context.Background(), "k", outbound.FetchOptions{})
	s.Equal(outbound.FetchNotFound, result.Outcome)
	s.Equal(1, fake.getObjectCalls)
}

func (s *OriginSuite) TestCase_ShouldRetryTransportErrorsThenSucceed() {
	attempts := 0
	fake := &fakeS3API{getObjectFunc: func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		attempts++
		if attempts < 3 {
			return nil, awserr.New("RequestError", "transient", nil)
		}
		return &s3.GetObjectOutput{
			Body:          io.NopCloser(strings.NewReader("ok")),
			ContentLength: aws.Int64(2),
			ETag:          aws.String(`"e"`),
		}, nil
	}}
	c := origin.NewWithAPI(fake, origin.Config{Bucket: "b", MaxRetries: 5, RetryDelay: time.Millisecond}, s.logger, nil)

	result := c.Fetch(context.Background(), "k", outbound.FetchOptions{})
	s.Equal(outbound.FetchBody, result.Outcome)
	s.Equal(3, attempts)
}

func (s *OriginSuite) TestCase_ShouldReturnErrorAfterExhaustingRetries() {
	fake := &fakeS3API{getObjectFunc: func(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return nil, awserr.New("RequestError", "always fails", nil)
	}}
	c := origin.NewWithAPI(fake, origin.Config{Bucket: "b", MaxRetries: 2, RetryDelay: time.Millisecond}, s.logger, nil)

	result := c.Fetch(context.Background(), "k", outbound.FetchOptions{})
	s.Equal(outbound.FetchError, result.Outcome)
	s.Equal(apperrors.CodeOriginTransportError, apperrors.GetCode(result.Err))
	s.Equal(3, fake.getObjectCalls) // initial + 2 retries
}

func (s *OriginSuite) TestCase_PingShouldSurfaceHeadBucketError() {
	fake := &fakeS3API{headErr: awserr.New("Forbidden", "nope", nil)}
	c := origin.NewWithAPI(fake, origin.Config{Bucket: "b"}, s.logger, nil)

	err := c.Ping(context.Background())
	s.Require().Error(err)
}
