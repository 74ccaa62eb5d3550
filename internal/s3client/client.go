package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
)

// API is the subset of *s3.Client used by Client.
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Client wraps the S3 client with retry logic
type Client struct {
	api        API
	uploader   *manager.Uploader
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a new S3 client wrapper
func NewClient(cfg aws.Config, optFns ...func(*s3.Options)) *Client {
	return New(s3.NewFromConfig(cfg, optFns...))
}

// New wraps any implementation of API.
func New(api API) *Client {
	return &Client{
		api:        api,
		uploader:   manager.NewUploader(api),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// WithRetryPolicy overrides the retry count and backoff bounds.
func (c *Client) WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *Client {
	c.maxRetries = maxRetries
	c.baseDelay = baseDelay
	c.maxDelay = maxDelay
	return c
}

// ListObjectsV2Pages lists objects with pagination support. A non-empty
// delimiter groups keys into common prefixes.
func (c *Client) ListObjectsV2Pages(ctx context.Context, bucket, prefix, delimiter string, fn func(*s3.ListObjectsV2Output) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	for paginator.HasMorePages() {
		page, err := withRetry(ctx, c, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		if err := fn(page); err != nil {
			return err
		}
	}

	return nil
}

// GetObject opens an object. rangeHeader is an HTTP Range value or "".
// Only the request is retried; reading the body is up to the caller.
func (c *Client) GetObject(ctx context.Context, bucket, key, rangeHeader string) (*s3.GetObjectOutput, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}
	return withRetry(ctx, c, func() (*s3.GetObjectOutput, error) {
		return c.api.GetObject(ctx, input)
	})
}

// HeadObject retrieves object metadata
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.HeadObjectOutput, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
}

// Upload stores data through the transfer manager, which switches to a
// multipart upload for large payloads.
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte) error {
	_, err := withRetry(ctx, c, func() (*manager.UploadOutput, error) {
		return c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
	})
	return err
}

// PutObjectIfAbsent uploads a single object only if key does not exist yet.
func (c *Client) PutObjectIfAbsent(ctx context.Context, bucket, key string, data []byte) (*s3.PutObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.PutObjectOutput, error) {
		return c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			IfNoneMatch:   aws.String("*"),
		})
	})
}

// CopyObject copies srcKey to dstKey within bucket on the server side.
func (c *Client) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) (*s3.CopyObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.CopyObjectOutput, error) {
		return c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(CopySource(bucket, srcKey)),
		})
	})
}

// DeleteObject deletes an object
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) (*s3.DeleteObjectOutput, error) {
	return withRetry(ctx, c, func() (*s3.DeleteObjectOutput, error) {
		return c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
}

// withRetry runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func withRetry[T any](ctx context.Context, c *Client, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		output, err := fn()
		if err == nil {
			return output, nil
		}

		if !c.isRetryableError(err) {
			return zero, err
		}

		lastErr = err
		if attempt < c.maxRetries {
			delay := c.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryableError checks if an error is retryable
func (c *Client) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException", "ConditionalRequestConflict":
			return true
		}
		// Retry on 5xx errors
		if httpErr, ok := apiErr.(interface{ HTTPStatusCode() int }); ok {
			code := httpErr.HTTPStatusCode()
			return code >= 500 && code < 600
		}
	}
	// Also retry on network errors
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// calculateDelay calculates the retry delay with exponential backoff and jitter
func (c *Client) calculateDelay(attempt int) time.Duration {
	base := float64(c.baseDelay)
	delay := base * math.Pow(2.0, float64(attempt))

	// Add jitter (±25%)
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter

	// Cap at maxDelay
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	return time.Duration(delay)
}
