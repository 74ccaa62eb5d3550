// Package s3 stores objects in an S3 bucket, optionally below a key prefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/strict-object-store/internal/s3client"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

const delimiter = "/"

// Driver is an S3-backed objectstore.Driver.
type Driver struct {
	client      *s3client.Client
	bucket      string
	prefix      string
	conditional bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithoutConditionalWrites disables If-None-Match uploads for S3 compatible
// servers that do not implement them. No-clobber copies are then emulated
// by the store.
func WithoutConditionalWrites() Option {
	return func(d *Driver) {
		d.conditional = false
	}
}

// New returns a driver for bucket. A non-empty prefix is treated as a
// directory: keys are stored as prefix + "/" + key.
func New(client *s3client.Client, bucket, prefix string, opts ...Option) *Driver {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	d := &Driver{client: client, bucket: bucket, prefix: prefix, conditional: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{ConditionalCopy: d.conditional}
}

func (d *Driver) objectKey(key string) string {
	return d.prefix + key
}

// trimPrefix maps an S3 key back to a driver key.
func (d *Driver) trimPrefix(s3Key string) (string, bool) {
	if !strings.HasPrefix(s3Key, d.prefix) {
		return "", false
	}
	return s3Key[len(d.prefix):], true
}

// translate maps S3 errors onto the objectstore sentinels.
func translate(key string, err error) error {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		case "PreconditionFailed":
			return fmt.Errorf("%s: %w", key, objectstore.ErrAlreadyExists)
		case "InvalidRange":
			return fmt.Errorf("%s: %w", key, objectstore.ErrOutOfRange)
		}
	}

	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		switch httpErr.HTTPStatusCode() {
		case 404:
			return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		case 412:
			return fmt.Errorf("%s: %w", key, objectstore.ErrAlreadyExists)
		case 416:
			return fmt.Errorf("%s: %w", key, objectstore.ErrOutOfRange)
		}
	}
	return fmt.Errorf("%s: %w", key, err)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	var rangeHeader string
	if rng != nil {
		if rng.End() < rng.Start {
			return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
		}
		rangeHeader = fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End()-1)
	}

	out, err := d.client.GetObject(ctx, d.bucket, d.objectKey(key), rangeHeader)
	if err != nil {
		return nil, translate(key, err)
	}

	size := aws.ToInt64(out.ContentLength)
	if rng != nil {
		total, ok := s3client.ContentRangeTotal(aws.ToString(out.ContentRange))
		if !ok {
			out.Body.Close()
			return nil, fmt.Errorf("%s: missing Content-Range in ranged response", key)
		}
		// S3 clamps ranges that run past the end instead of failing
		if rng.End() > uint64(total) {
			out.Body.Close()
			return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
		}
		size = total
	}

	return &objectstore.GetResult{
		Entry: objectstore.Entry{
			Key:          key,
			Size:         uint64(size),
			LastModified: aws.ToTime(out.LastModified),
			ETag:         trimETag(out.ETag),
			Version:      aws.ToString(out.VersionId),
		},
		Body: out.Body,
	}, nil
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	out, err := d.client.HeadObject(ctx, d.bucket, d.objectKey(key))
	if err != nil {
		return objectstore.Entry{}, translate(key, err)
	}
	return objectstore.Entry{
		Key:          key,
		Size:         uint64(aws.ToInt64(out.ContentLength)),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimETag(out.ETag),
		Version:      aws.ToString(out.VersionId),
	}, nil
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	if err := d.client.Upload(ctx, d.bucket, d.objectKey(key), data); err != nil {
		return translate(key, err)
	}
	return nil
}

// Delete removes key. S3 reports success for missing keys, which the store
// treats the same as ErrNotFound.
func (d *Driver) Delete(ctx context.Context, key string) error {
	if _, err := d.client.DeleteObject(ctx, d.bucket, d.objectKey(key)); err != nil {
		return translate(key, err)
	}
	return nil
}

func (d *Driver) entry(obj types.Object) (objectstore.Entry, bool) {
	if obj.Key == nil {
		return objectstore.Entry{}, false
	}
	key, ok := d.trimPrefix(*obj.Key)
	if !ok {
		return objectstore.Entry{}, false
	}
	return objectstore.Entry{
		Key:          key,
		Size:         uint64(aws.ToInt64(obj.Size)),
		LastModified: aws.ToTime(obj.LastModified),
		ETag:         trimETag(obj.ETag),
	}, true
}

func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	var entries []objectstore.Entry
	err := d.client.ListObjectsV2Pages(ctx, d.bucket, d.objectKey(prefix), "", func(page *s3.ListObjectsV2Output) error {
		for _, obj := range page.Contents {
			if e, ok := d.entry(obj); ok {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(prefix, err)
	}
	return entries, nil
}

// ListWithDelimiter uses the server-side "/" delimiter so that only one
// level below prefix is transferred.
func (d *Driver) ListWithDelimiter(ctx context.Context, prefix string) ([]objectstore.Entry, []string, error) {
	s3Prefix := d.objectKey(prefix)
	if prefix != "" {
		s3Prefix += delimiter
	}

	var (
		entries  []objectstore.Entry
		prefixes []string
	)
	err := d.client.ListObjectsV2Pages(ctx, d.bucket, s3Prefix, delimiter, func(page *s3.ListObjectsV2Output) error {
		for _, obj := range page.Contents {
			if e, ok := d.entry(obj); ok {
				entries = append(entries, e)
			}
		}
		for _, cp := range page.CommonPrefixes {
			if key, ok := d.trimPrefix(aws.ToString(cp.Prefix)); ok {
				prefixes = append(prefixes, strings.TrimSuffix(key, delimiter))
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, translate(prefix, err)
	}
	return entries, prefixes, nil
}

// Copy uses CopyObject. A conditional copy downloads src and uploads it with
// If-None-Match, which S3 evaluates atomically against dst.
func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	if !conditional {
		if _, err := d.client.CopyObject(ctx, d.bucket, d.objectKey(src), d.objectKey(dst)); err != nil {
			return translate(src, err)
		}
		return nil
	}

	res, err := d.Get(ctx, src, nil)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	if _, err := d.client.PutObjectIfAbsent(ctx, d.bucket, d.objectKey(dst), data); err != nil {
		return translate(dst, err)
	}
	return nil
}
