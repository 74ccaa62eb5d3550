// Package objpath implements the hierarchical object location model.
//
// A Path is an ordered sequence of non-empty segments joined by Delimiter.
// Segments never contain the delimiter and are never "." or "..". Paths are
// plain values: they are built once and never mutated.
package objpath

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates path segments.
const Delimiter = "/"

// ErrInvalidPath is matched by every path validation failure.
var ErrInvalidPath = errors.New("invalid path")

// InvalidPathError describes why a raw path or segment was rejected.
type InvalidPathError struct {
	Raw     string
	Segment string
	Reason  string
}

func (e *InvalidPathError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("invalid path %q: segment %q %s", e.Raw, e.Segment, e.Reason)
	}
	return fmt.Sprintf("invalid path %q: %s", e.Raw, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// Path is a normalized object location. The zero value is the root path,
// which has no segments.
type Path struct {
	raw string
}

// Root returns the path with zero segments.
func Root() Path {
	return Path{}
}

// Parse splits raw on the delimiter, drops empty segments produced by
// leading, trailing or repeated delimiters and validates what remains.
func Parse(raw string) (Path, error) {
	parts := strings.Split(raw, Delimiter)
	segs := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		if err := validateSegment(part); err != nil {
			return Path{}, &InvalidPathError{Raw: raw, Segment: part, Reason: err.Error()}
		}
		segs = append(segs, part)
	}
	return Path{raw: strings.Join(segs, Delimiter)}, nil
}

// MustParse is like Parse but panics on invalid input. Intended for tests and constants.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// FromSegments builds a path from individual segments. Empty segments are
// dropped the same way Parse drops them; a segment holding the delimiter is rejected.
func FromSegments(segments ...string) (Path, error) {
	segs := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if strings.Contains(seg, Delimiter) {
			return Path{}, &InvalidPathError{Raw: strings.Join(segments, Delimiter), Segment: seg, Reason: "contains the delimiter"}
		}
		if err := validateSegment(seg); err != nil {
			return Path{}, &InvalidPathError{Raw: strings.Join(segments, Delimiter), Segment: seg, Reason: err.Error()}
		}
		segs = append(segs, seg)
	}
	return Path{raw: strings.Join(segs, Delimiter)}, nil
}

func validateSegment(seg string) error {
	switch seg {
	case ".", "..":
		return errors.New("is a relative reference")
	}
	return nil
}

// Join concatenates the segments of a and b.
func Join(a, b Path) Path {
	switch {
	case a.raw == "":
		return b
	case b.raw == "":
		return a
	}
	return Path{raw: a.raw + Delimiter + b.raw}
}

// Join appends other's segments to p.
func (p Path) Join(other Path) Path {
	return Join(p, other)
}

// Child appends a single validated segment to p.
func (p Path) Child(segment string) (Path, error) {
	c, err := FromSegments(segment)
	if err != nil {
		return Path{}, err
	}
	if c.IsRoot() {
		return Path{}, &InvalidPathError{Raw: segment, Reason: "empty segment"}
	}
	return Join(p, c), nil
}

// String returns the canonical form: segments joined by the delimiter,
// without leading or trailing delimiters.
func (p Path) String() string {
	return p.raw
}

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool {
	return p.raw == ""
}

// Segments returns a copy of the segment sequence.
func (p Path) Segments() []string {
	if p.raw == "" {
		return nil
	}
	return strings.Split(p.raw, Delimiter)
}

// Len returns the number of segments.
func (p Path) Len() int {
	if p.raw == "" {
		return 0
	}
	return strings.Count(p.raw, Delimiter) + 1
}

// Filename returns the last segment, or "" for the root.
func (p Path) Filename() string {
	i := strings.LastIndex(p.raw, Delimiter)
	return p.raw[i+1:]
}

// Parent returns p without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	i := strings.LastIndex(p.raw, Delimiter)
	if i < 0 {
		return Path{}
	}
	return Path{raw: p.raw[:i]}
}

// HasPrefix reports whether prefix's segments are a leading subsequence of
// p's segments. Matching is per segment: "a/b" is a prefix of "a/b/c" but
// not of "a/bc". Every path has the root as a prefix, and every path is a
// prefix of itself.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.raw == "" {
		return true
	}
	if !strings.HasPrefix(p.raw, prefix.raw) {
		return false
	}
	return len(p.raw) == len(prefix.raw) || p.raw[len(prefix.raw)] == Delimiter[0]
}

// StripPrefix returns the segments of p that follow prefix. ok is false when
// prefix is not a segment prefix of p.
func (p Path) StripPrefix(prefix Path) (rest []string, ok bool) {
	if !p.HasPrefix(prefix) {
		return nil, false
	}
	if prefix.raw == "" {
		return p.Segments(), true
	}
	remainder := strings.TrimPrefix(p.raw[len(prefix.raw):], Delimiter)
	if remainder == "" {
		return nil, true
	}
	return strings.Split(remainder, Delimiter), true
}

// Compare orders paths lexicographically by their joined string form.
func Compare(a, b Path) int {
	return strings.Compare(a.raw, b.raw)
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
