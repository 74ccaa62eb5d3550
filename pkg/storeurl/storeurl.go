// Package storeurl opens an objectstore.Store from a URL.
//
// Supported forms:
//
//	/some/dir, ./dir, file:///some/dir   local filesystem
//	memory://                            process memory
//	s3://bucket/prefix                   Amazon S3 or a compatible endpoint
//	redis://[user:pass@]host:port/db     Redis (namespace query parameter)
//	sqlite:///path/to/file.db            SQLite via gorm (sqlite://:memory: works)
//	datastore://memory                   in-memory IPFS datastore
package storeurl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yuya-takeyama/strict-object-store/internal/s3client"
	"github.com/yuya-takeyama/strict-object-store/pkg/driver/datastore"
	"github.com/yuya-takeyama/strict-object-store/pkg/driver/local"
	"github.com/yuya-takeyama/strict-object-store/pkg/driver/memory"
	"github.com/yuya-takeyama/strict-object-store/pkg/driver/redis"
	s3driver "github.com/yuya-takeyama/strict-object-store/pkg/driver/s3"
	"github.com/yuya-takeyama/strict-object-store/pkg/driver/sqldb"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

// Options are backend settings that do not fit in the URL.
type Options struct {
	// S3
	Region                  string
	Profile                 string
	Endpoint                string
	PathStyle               bool
	DisableConditionalWrite bool

	// Excludes hides matching keys of a local store from listings.
	Excludes []string

	// StoreOptions are passed to objectstore.New.
	StoreOptions []objectstore.Option
}

// Open builds the driver selected by raw and wraps it in a Store.
func Open(ctx context.Context, raw string, opts Options) (*objectstore.Store, error) {
	d, err := OpenDriver(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	return objectstore.New(d, opts.StoreOptions...), nil
}

// OpenDriver builds the driver selected by raw.
func OpenDriver(ctx context.Context, raw string, opts Options) (objectstore.Driver, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("store URL is empty")
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return local.New(raw, local.WithExcludes(opts.Excludes...))
	}

	switch strings.ToLower(scheme) {
	case "file":
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse store URL: %w", err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return nil, fmt.Errorf("file URL must not name a host: %q", raw)
		}
		return local.New(u.Path, local.WithExcludes(opts.Excludes...))
	case "memory", "mem":
		return memory.New(), nil
	case "s3":
		return openS3(ctx, raw, opts)
	case "redis", "rediss":
		return openRedis(ctx, raw)
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("sqlite URL needs a database path: %q", raw)
		}
		return sqldb.Open(rest)
	case "datastore":
		if rest != "" && rest != "memory" {
			return nil, fmt.Errorf("unsupported datastore %q (only datastore://memory)", rest)
		}
		return datastore.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

func openS3(ctx context.Context, raw string, opts Options) (objectstore.Driver, error) {
	bucket, prefix, err := s3client.ParseS3URI(raw)
	if err != nil {
		return nil, err
	}

	// Build config options
	var configOpts []func(*config.LoadOptions) error
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3client.NewClient(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	var driverOpts []s3driver.Option
	if opts.DisableConditionalWrite {
		driverOpts = append(driverOpts, s3driver.WithoutConditionalWrites())
	}
	return s3driver.New(client, bucket, prefix, driverOpts...), nil
}

// openRedis dials Redis. The namespace query parameter is consumed here
// because go-redis rejects parameters it does not know.
func openRedis(ctx context.Context, raw string) (objectstore.Driver, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	q := u.Query()
	var redisOpts []redis.Option
	if ns := q.Get("namespace"); ns != "" {
		redisOpts = append(redisOpts, redis.WithNamespace(ns))
	}
	q.Del("namespace")
	u.RawQuery = q.Encode()

	return redis.Dial(ctx, u.String(), redisOpts...)
}
