// Package memory is an in-process object store driver backed by a map.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

type object struct {
	data     []byte
	modified time.Time
	etag     string
	version  uint64
}

func (o object) entry(key string) objectstore.Entry {
	return objectstore.Entry{
		Key:          key,
		Size:         uint64(len(o.data)),
		LastModified: o.modified,
		ETag:         o.etag,
		Version:      strconv.FormatUint(o.version, 10),
	}
}

// Driver keeps objects in memory. Stored payloads are never mutated, so
// readers share them without copying.
type Driver struct {
	mu      sync.RWMutex
	objects map[string]object
	seq     uint64
	now     func() time.Time
}

// New returns an empty driver.
func New() *Driver {
	return &Driver{
		objects: make(map[string]object),
		now:     time.Now,
	}
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{ConditionalCopy: true}
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	obj, ok := d.objects[key]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}

	body := obj.data
	if rng != nil {
		if rng.End() > uint64(len(obj.data)) || rng.End() < rng.Start {
			return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
		}
		body = obj.data[rng.Start:rng.End()]
	}
	return &objectstore.GetResult{
		Entry: obj.entry(key),
		Body:  io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return objectstore.Entry{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[key]
	if !ok {
		return objectstore.Entry{}, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return obj.entry(key), nil
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := bytes.Clone(data)
	if stored == nil {
		stored = []byte{}
	}
	etag := checksum.Sum(stored)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.objects[key] = object{data: stored, modified: d.now(), etag: etag, version: d.seq}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	delete(d.objects, key)
	return nil
}

func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var entries []objectstore.Entry
	for key, obj := range d.objects {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, obj.entry(key))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copyLocked(src, dst, conditional)
}

// Rename moves src to dst under a single lock acquisition.
func (d *Driver) Rename(ctx context.Context, src, dst string, conditional bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.copyLocked(src, dst, conditional); err != nil {
		return err
	}
	delete(d.objects, src)
	return nil
}

func (d *Driver) copyLocked(src, dst string, conditional bool) error {
	obj, ok := d.objects[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, objectstore.ErrNotFound)
	}
	if _, exists := d.objects[dst]; exists && conditional {
		return fmt.Errorf("%s: %w", dst, objectstore.ErrAlreadyExists)
	}
	d.seq++
	obj.modified = d.now()
	obj.version = d.seq
	d.objects[dst] = obj
	return nil
}

// Len returns the number of stored objects.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}
