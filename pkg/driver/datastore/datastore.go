// Package datastore adapts an IPFS go-datastore to the objectstore driver
// interface.
//
// Each object is a single record holding an 8 byte big-endian modification
// time followed by the payload. The datastore offers no compare-and-set, so
// the driver leaves conditional copies to the store's emulation.
package datastore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

const headerSize = 8

// Driver stores objects in a go-datastore.
type Driver struct {
	store ds.Datastore
	now   func() time.Time
}

// New wraps an existing datastore. The caller keeps ownership of it unless
// Close is called on the driver.
func New(store ds.Datastore) *Driver {
	return &Driver{store: store, now: time.Now}
}

// NewInMemory returns a driver over a thread-safe map datastore.
func NewInMemory() *Driver {
	return New(dssync.MutexWrap(ds.NewMapDatastore()))
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{}
}

// Close closes the underlying datastore.
func (d *Driver) Close() error {
	return d.store.Close()
}

func dsKey(key string) ds.Key {
	return ds.RawKey("/" + key)
}

func encode(data []byte, modified time.Time) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint64(buf, uint64(modified.UnixNano()))
	copy(buf[headerSize:], data)
	return buf
}

func decode(key string, raw []byte) (objectstore.Entry, []byte, error) {
	if len(raw) < headerSize {
		return objectstore.Entry{}, nil, fmt.Errorf("%s: corrupt record of %d bytes", key, len(raw))
	}
	data := raw[headerSize:]
	modified := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:headerSize])))
	return objectstore.Entry{
		Key:          key,
		Size:         uint64(len(data)),
		LastModified: modified,
		ETag:         checksum.Sum(data),
	}, data, nil
}

func (d *Driver) load(ctx context.Context, key string) (objectstore.Entry, []byte, error) {
	if err := ctx.Err(); err != nil {
		return objectstore.Entry{}, nil, err
	}
	raw, err := d.store.Get(ctx, dsKey(key))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return objectstore.Entry{}, nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return objectstore.Entry{}, nil, fmt.Errorf("get %s: %w", key, err)
	}
	return decode(key, raw)
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	entry, data, err := d.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		if rng.End() > entry.Size || rng.End() < rng.Start {
			return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
		}
		data = data[rng.Start:rng.End()]
	}
	return &objectstore.GetResult{Entry: entry, Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	entry, _, err := d.load(ctx, key)
	return entry, err
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.store.Put(ctx, dsKey(key), encode(data, d.now())); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	k := dsKey(key)
	exists, err := d.store.Has(ctx, k)
	if err != nil {
		return fmt.Errorf("has %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	if err := d.store.Delete(ctx, k); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// keyPrefixFilter keeps entries whose key starts with a raw string prefix.
// Datastore prefixes match whole key segments, which is coarser than what
// the driver contract asks for.
type keyPrefixFilter struct {
	prefix string
}

var _ query.Filter = (*keyPrefixFilter)(nil)

func (f *keyPrefixFilter) Filter(e query.Entry) bool {
	return strings.HasPrefix(e.Key, f.prefix)
}

func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// narrow the scan to the parent namespace of the prefix
	ns := "/"
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		ns = "/" + prefix[:i]
	}

	res, err := d.store.Query(ctx, query.Query{
		Prefix:  ns,
		Filters: []query.Filter{&keyPrefixFilter{prefix: "/" + prefix}},
		Orders:  []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("query datastore: %w", err)
	}
	defer res.Close()

	var entries []objectstore.Entry
	for r := range res.Next() {
		if r.Error != nil {
			return nil, fmt.Errorf("query datastore: %w", r.Error)
		}
		key := strings.TrimPrefix(r.Key, "/")
		entry, _, err := decode(key, r.Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Copy reads src and writes it to dst. The existence check made when
// conditional is set is not atomic with the write.
func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	_, data, err := d.load(ctx, src)
	if err != nil {
		return err
	}
	if conditional {
		exists, err := d.store.Has(ctx, dsKey(dst))
		if err != nil {
			return fmt.Errorf("has %s: %w", dst, err)
		}
		if exists {
			return fmt.Errorf("%s: %w", dst, objectstore.ErrAlreadyExists)
		}
	}
	return d.Put(ctx, dst, data)
}
