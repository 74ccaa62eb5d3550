// Package redis stores objects in Redis.
//
// Every object uses two keys below a namespace: a string holding the payload
// (so ranged reads map onto GETRANGE) and a hash holding its metadata. A
// sorted set with all members at score 0 indexes the object keys
// lexicographically for listing. Copies and renames run as one Lua script.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

// DefaultNamespace prefixes all keys written by the driver. The hash tag
// keeps every key in one cluster slot so the copy script can touch them.
const DefaultNamespace = "{objstore}:"

// copyScript copies src to dst and optionally removes src.
//
// KEYS: src data, src meta, dst data, dst meta, index
// ARGV: conditional, mtime, dst key, remove source, src key
var copyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then return -1 end
if ARGV[1] == '1' and redis.call('EXISTS', KEYS[4]) == 1 then return -2 end
local data = redis.call('GET', KEYS[1]) or ''
local meta = redis.call('HMGET', KEYS[2], 'size', 'etag')
redis.call('SET', KEYS[3], data)
redis.call('DEL', KEYS[4])
redis.call('HSET', KEYS[4], 'size', meta[1], 'etag', meta[2], 'mtime', ARGV[2])
redis.call('ZADD', KEYS[5], 0, ARGV[3])
if ARGV[4] == '1' then
  redis.call('DEL', KEYS[1], KEYS[2])
  redis.call('ZREM', KEYS[5], ARGV[5])
end
return 1
`)

// Driver is a Redis-backed objectstore.Driver.
type Driver struct {
	client    redis.UniversalClient
	namespace string
	ownClient bool
	now       func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(d *Driver) {
		d.namespace = ns
	}
}

// New wraps an existing client. The caller keeps ownership of it.
func New(client redis.UniversalClient, opts ...Option) *Driver {
	d := &Driver{client: client, namespace: DefaultNamespace, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects to the server described by a redis:// URL and pings it.
// The returned driver closes the client on Close.
func Dial(ctx context.Context, url string, opts ...Option) (*Driver, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ropts.Addr, err)
	}
	d := New(client, opts...)
	d.ownClient = true
	return d, nil
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{ConditionalCopy: true}
}

// Close closes the client when the driver created it.
func (d *Driver) Close() error {
	if !d.ownClient {
		return nil
	}
	return d.client.Close()
}

func (d *Driver) dataKey(key string) string { return d.namespace + "d:" + key }
func (d *Driver) metaKey(key string) string { return d.namespace + "m:" + key }
func (d *Driver) indexKey() string          { return d.namespace + "index" }

func entryFromMeta(key string, meta map[string]string) (objectstore.Entry, error) {
	if len(meta) == 0 {
		return objectstore.Entry{}, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	size, err := strconv.ParseUint(meta["size"], 10, 64)
	if err != nil {
		return objectstore.Entry{}, fmt.Errorf("%s: bad size %q: %w", key, meta["size"], err)
	}
	mtime, err := strconv.ParseInt(meta["mtime"], 10, 64)
	if err != nil {
		return objectstore.Entry{}, fmt.Errorf("%s: bad mtime %q: %w", key, meta["mtime"], err)
	}
	return objectstore.Entry{
		Key:          key,
		Size:         size,
		LastModified: time.Unix(0, mtime),
		ETag:         meta["etag"],
		Version:      meta["mtime"],
	}, nil
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	var (
		metaCmd *redis.MapStringStringCmd
		dataCmd *redis.StringCmd
	)
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, d.metaKey(key))
		if rng == nil {
			dataCmd = pipe.Get(ctx, d.dataKey(key))
		} else {
			dataCmd = pipe.GetRange(ctx, d.dataKey(key), int64(rng.Start), int64(rng.End())-1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	entry, err := entryFromMeta(key, metaCmd.Val())
	if err != nil {
		return nil, err
	}
	if rng != nil && (rng.End() > entry.Size || rng.End() < rng.Start) {
		return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
	}
	data, err := dataCmd.Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &objectstore.GetResult{Entry: entry, Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	meta, err := d.client.HGetAll(ctx, d.metaKey(key)).Result()
	if err != nil {
		return objectstore.Entry{}, fmt.Errorf("head %s: %w", key, err)
	}
	return entryFromMeta(key, meta)
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	meta := d.metaKey(key)
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.dataKey(key), data, 0)
		pipe.Del(ctx, meta)
		pipe.HSet(ctx, meta,
			"size", strconv.Itoa(len(data)),
			"etag", checksum.Sum(data),
			"mtime", strconv.FormatInt(d.now().UnixNano(), 10),
		)
		pipe.ZAdd(ctx, d.indexKey(), redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	var removed *redis.IntCmd
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, d.metaKey(key))
		pipe.Del(ctx, d.dataKey(key))
		pipe.ZRem(ctx, d.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return nil
}

// lexRange returns ZRANGEBYLEX bounds covering every member starting with prefix.
func lexRange(prefix string) (string, string) {
	if prefix == "" {
		return "-", "+"
	}
	// object keys are valid UTF-8 and never contain 0xff
	return "[" + prefix, "(" + prefix + "\xff"
}

func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	lo, hi := lexRange(prefix)
	keys, err := d.client.ZRangeByLex(ctx, d.indexKey(), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, d.metaKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	entries := make([]objectstore.Entry, 0, len(keys))
	for i, key := range keys {
		entry, err := entryFromMeta(key, cmds[i].Val())
		if errors.Is(err, objectstore.ErrNotFound) {
			// deleted between the index scan and the metadata fetch
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	return d.runCopy(ctx, src, dst, conditional, false)
}

// Rename moves src to dst atomically.
func (d *Driver) Rename(ctx context.Context, src, dst string, conditional bool) error {
	return d.runCopy(ctx, src, dst, conditional, true)
}

func (d *Driver) runCopy(ctx context.Context, src, dst string, conditional, removeSource bool) error {
	keys := []string{d.dataKey(src), d.metaKey(src), d.dataKey(dst), d.metaKey(dst), d.indexKey()}
	res, err := copyScript.Run(ctx, d.client, keys,
		flag(conditional),
		strconv.FormatInt(d.now().UnixNano(), 10),
		dst,
		flag(removeSource),
		src,
	).Int()
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%s: %w", src, objectstore.ErrNotFound)
	case -2:
		return fmt.Errorf("%s: %w", dst, objectstore.ErrAlreadyExists)
	}
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
