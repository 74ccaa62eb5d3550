package objectstore

import (
	"time"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// ObjectMeta is a snapshot of an object's identity and size facts. It may be
// stale by the time it is read.
type ObjectMeta struct {
	Location     objpath.Path `json:"location" yaml:"location"`
	Size         uint64       `json:"size" yaml:"size"`
	LastModified time.Time    `json:"last_modified" yaml:"last_modified"`
	ETag         string       `json:"etag,omitempty" yaml:"etag,omitempty"`
	Version      string       `json:"version,omitempty" yaml:"version,omitempty"`
}

// ListResult is the output of a delimiter listing.
type ListResult struct {
	// Objects directly under the prefix, ordered by location.
	Objects []ObjectMeta `json:"objects" yaml:"objects"`
	// CommonPrefixes are the immediate child "directories" under the prefix,
	// deduplicated and ordered.
	CommonPrefixes []objpath.Path `json:"common_prefixes" yaml:"common_prefixes"`
}

func metaFromEntry(loc objpath.Path, e Entry) ObjectMeta {
	return ObjectMeta{
		Location:     loc,
		Size:         e.Size,
		LastModified: e.LastModified,
		ETag:         e.ETag,
		Version:      e.Version,
	}
}
