package objpath

// Like is the closed set of inputs accepted wherever a location is expected:
// an already built Path, a Raw string or a list of Segments. The unexported
// method keeps other packages from adding shapes.
type Like interface {
	toPath() (Path, error)
}

// Raw is an unparsed, delimiter-joined path string.
type Raw string

// Segments is an unjoined list of path segments.
type Segments []string

func (p Path) toPath() (Path, error) { return p, nil }

func (r Raw) toPath() (Path, error) { return Parse(string(r)) }

func (s Segments) toPath() (Path, error) { return FromSegments(s...) }

// From coerces any accepted input shape into exactly one canonical Path.
func From(v Like) (Path, error) {
	if v == nil {
		return Path{}, &InvalidPathError{Reason: "no path given"}
	}
	return v.toPath()
}
