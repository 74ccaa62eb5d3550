package planner

import (
	"context"
	"time"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

type Planner interface {
	Plan(ctx context.Context, source Source, dest Destination, opts Options) ([]Item, error)
}

type ItemMetadata struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Checksum string
}

// Source is a local directory.
type Source struct {
	Path string
}

// Destination is a prefix inside the planner's store.
type Destination struct {
	Prefix objpath.Path
}

type Options struct {
	DeleteEnabled bool
	Excludes      []string
}

type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
	ActionSkip   Action = "skip"
)

type Item struct {
	Action    Action
	LocalPath string
	Location  objpath.Path
	Size      int64
	Reason    string
	Checksum  string
}

// Ref names a file by its slash-separated path below the synced root.
type Ref struct {
	Rel  string
	Size int64
}

// Diff sorts every path seen on either side by what metadata alone says
// about it. Each slice is ordered by Rel.
type Diff struct {
	Missing   []Ref // only in the directory
	Orphaned  []Ref // only in the store; empty unless deletes are enabled
	Resized   []Ref
	Unsure    []Ref // same size, contents still to be hashed
	Identical []Ref
}

// Digest holds the SHA-256 of one file on both sides.
type Digest struct {
	Ref    Ref
	Local  string
	Stored string
}

func (d Digest) Differs() bool {
	return d.Local != d.Stored
}
