package objectstore

import (
	"context"
	"io"
	"time"
)

// Entry is a raw object record reported by a driver.
type Entry struct {
	Key          string
	Size         uint64
	LastModified time.Time
	ETag         string
	Version      string
}

// ByteRange selects Length bytes starting at offset Start. End is exclusive.
type ByteRange struct {
	Start  uint64
	Length uint64
}

// End returns the exclusive end offset.
func (r ByteRange) End() uint64 {
	return r.Start + r.Length
}

// GetResult is an open read from a driver. Entry describes the whole object
// (Size is the full object size even for ranged reads). Body yields either
// the whole object or the requested range; callers must close it.
type GetResult struct {
	Entry Entry
	Body  io.ReadCloser
}

// Capabilities advertises what a driver guarantees natively.
type Capabilities struct {
	// ConditionalCopy means Copy(ctx, src, dst, true) checks for dst and writes
	// it as one atomic unit, so concurrent callers get at most one winner.
	ConditionalCopy bool
}

// Driver is the narrow per-backend contract the Store dispatches to. Keys are
// canonical path strings without leading or trailing delimiters; "" is the
// root prefix for List.
//
// Drivers report missing objects with ErrNotFound, occupied destinations of
// conditional copies with ErrAlreadyExists and unsatisfiable ranges with
// ErrOutOfRange, wrapped as they see fit. Anything else is a backend failure.
// Implementations must be safe for concurrent use.
type Driver interface {
	Get(ctx context.Context, key string, rng *ByteRange) (*GetResult, error)
	Head(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// List may return keys outside the segment prefix (for example "a/bc" for
	// prefix "a/b"); the Store filters them.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Copy(ctx context.Context, src, dst string, conditional bool) error
	Capabilities() Capabilities
}

// Renamer is implemented by drivers that can move objects natively. When
// conditional is true the driver must fail with ErrAlreadyExists if dst exists
// and leave src untouched.
type Renamer interface {
	Rename(ctx context.Context, src, dst string, conditional bool) error
}

// DelimiterLister is implemented by drivers with native delimiter listing.
// prefix is "" or a key; the returned prefixes are keys without a trailing delimiter.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, prefix string) (objects []Entry, prefixes []string, err error)
}
