// Package local stores objects as files below a root directory.
//
// Writes go to a file in the StagingDir directory at the root and are
// published with a rename, so readers never observe partial objects. On the
// OS filesystem no-clobber copies and renames use hard links, which fail
// atomically when the destination exists.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

// StagingDir is the top-level directory holding in-flight writes. Keys below
// it are rejected with objectstore.ErrInvalidPath and it is never listed.
const StagingDir = ".objstore-staging"

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Driver is a filesystem-backed objectstore.Driver.
type Driver struct {
	fs       afero.Fs
	root     string
	excludes []string
}

// Option configures a Driver.
type Option func(*Driver)

// WithExcludes hides keys matching any of the doublestar patterns from
// listings. Patterns ending in "/" exclude whole directories.
func WithExcludes(patterns ...string) Option {
	return func(d *Driver) {
		d.excludes = append(d.excludes, patterns...)
	}
}

// New returns a driver rooted at dir on the OS filesystem, creating dir if needed.
func New(dir string, opts ...Option) (*Driver, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", dir, err)
	}
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	d := newDriver(afero.NewBasePathFs(afero.NewOsFs(), absRoot), opts)
	d.root = absRoot
	return d, nil
}

// NewWithFs returns a driver over an arbitrary afero filesystem. Such a
// driver cannot link files, so it does not report conditional copy support.
func NewWithFs(fsys afero.Fs, opts ...Option) *Driver {
	return newDriver(fsys, opts)
}

func newDriver(fsys afero.Fs, opts []Option) *Driver {
	d := &Driver{fs: fsys}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the absolute root directory, or "" for a non-OS filesystem.
func (d *Driver) Root() string {
	return d.root
}

func (d *Driver) Capabilities() objectstore.Capabilities {
	return objectstore.Capabilities{ConditionalCopy: d.root != ""}
}

// name maps a key to its slash-rooted path on d.fs.
func (d *Driver) name(key string) (string, error) {
	segs := strings.Split(key, "/")
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("key %q escapes storage root: %w", key, objectstore.ErrInvalidPath)
		}
	}
	if segs[0] == StagingDir {
		return "", fmt.Errorf("key %q is inside the reserved %s directory: %w", key, StagingDir, objectstore.ErrInvalidPath)
	}
	return "/" + key, nil
}

// notExist reports whether err means a path is absent. A parent segment that
// is a regular file yields ENOTDIR rather than ENOENT.
func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// osPath maps a slash-rooted name to the real path below root.
func (d *Driver) osPath(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

func (d *Driver) stat(key string) (string, fs.FileInfo, error) {
	name, err := d.name(key)
	if err != nil {
		return "", nil, err
	}
	info, err := d.fs.Stat(name)
	if err != nil {
		if notExist(err) {
			return "", nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory: %w", key, objectstore.ErrNotFound)
	}
	return name, info, nil
}

func entryFor(key string, info fs.FileInfo) objectstore.Entry {
	return objectstore.Entry{
		Key:          key,
		Size:         uint64(info.Size()),
		LastModified: info.ModTime(),
		ETag:         fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size()),
	}
}

func (d *Driver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := d.name(key)
	if err != nil {
		return nil, err
	}
	f, err := d.fs.Open(name)
	if err != nil {
		if notExist(err) {
			return nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory: %w", key, objectstore.ErrNotFound)
	}

	res := &objectstore.GetResult{Entry: entryFor(key, info), Body: f}
	if rng == nil {
		return res, nil
	}
	if rng.End() > uint64(info.Size()) || rng.End() < rng.Start {
		f.Close()
		return nil, fmt.Errorf("%s: range %d+%d: %w", key, rng.Start, rng.Length, objectstore.ErrOutOfRange)
	}
	if _, err := f.Seek(int64(rng.Start), io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", key, err)
	}
	res.Body = limitedFile{Reader: io.LimitReader(f, int64(rng.Length)), Closer: f}
	return res, nil
}

type limitedFile struct {
	io.Reader
	io.Closer
}

func (d *Driver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	if err := ctx.Err(); err != nil {
		return objectstore.Entry{}, err
	}
	_, info, err := d.stat(key)
	if err != nil {
		return objectstore.Entry{}, err
	}
	return entryFor(key, info), nil
}

// Put writes data to a staging file and renames it over the destination.
func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := d.name(key)
	if err != nil {
		return err
	}
	tmp, err := d.stage(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		d.fs.Remove(tmp) //nolint:errcheck
		return err
	}
	return d.publish(tmp, name)
}

// stage writes a temp file in StagingDir and returns its name.
func (d *Driver) stage(name string, write func(io.Writer) error) (string, error) {
	dir := "/" + StagingDir
	tmp := path.Join(dir, uuid.NewString()+"-"+path.Base(name))

	var f afero.File
	err := d.inDir(dir, func() error {
		var err error
		f, err = d.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("open tmp %q: %w", tmp, err)
	}

	werr := write(f)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()

	if werr != nil {
		d.fs.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("stream write: %w", werr)
	}
	if cerr != nil {
		d.fs.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("flush: %w", cerr)
	}
	return tmp, nil
}

// inDir creates dir and runs fn. A concurrent Delete may prune dir before fn
// runs, so fn is retried a few times while it reports fs.ErrNotExist.
func (d *Driver) inDir(dir string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := d.fs.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("mkdir %q: %w", dir, err)
		}
		err := fn()
		if err == nil || !errors.Is(err, fs.ErrNotExist) || attempt == 3 {
			return err
		}
	}
}

// publish renames tmp over name, replacing any existing object.
func (d *Driver) publish(tmp, name string) error {
	err := d.inDir(path.Dir(name), func() error {
		return d.fs.Rename(tmp, name)
	})
	if err != nil {
		d.fs.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename to %q: %w", name, err)
	}
	d.syncDir(path.Dir(name))
	return nil
}

// publishNew links tmp to name and fails with ErrAlreadyExists if name exists.
func (d *Driver) publishNew(tmp, name string) error {
	defer d.fs.Remove(tmp) //nolint:errcheck
	err := d.inDir(path.Dir(name), func() error {
		return d.link(tmp, name)
	})
	if err != nil {
		return err
	}
	d.syncDir(path.Dir(name))
	return nil
}

// link creates newName as a hard link to oldName. Without an OS root it
// falls back to an existence check followed by a rename, which is not atomic.
func (d *Driver) link(oldName, newName string) error {
	if d.root == "" {
		if _, err := d.fs.Stat(newName); err == nil {
			return fmt.Errorf("%s: %w", strings.TrimPrefix(newName, "/"), objectstore.ErrAlreadyExists)
		}
		return d.fs.Rename(oldName, newName)
	}
	if err := os.Link(d.osPath(oldName), d.osPath(newName)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", strings.TrimPrefix(newName, "/"), objectstore.ErrAlreadyExists)
		}
		return fmt.Errorf("link %q: %w", newName, err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, _, err := d.stat(key)
	if err != nil {
		return err
	}
	if err := d.fs.Remove(name); err != nil {
		if notExist(err) {
			return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	d.removeEmptyParents(path.Dir(name))
	return nil
}

// List walks the deepest directory that can contain keys starting with prefix.
func (d *Driver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	start := "/"
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = "/" + prefix[:i]
	}

	var entries []objectstore.Entry
	err := afero.Walk(d.fs, start, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			if notExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		key := strings.TrimPrefix(filepath.ToSlash(name), "/")
		if info.IsDir() {
			if key == StagingDir || (name != start && d.isExcluded(key+"/")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasPrefix(key, prefix) || d.isExcluded(key) {
			return nil
		}
		entries = append(entries, entryFor(key, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return entries, nil
}

// isExcluded checks if a key matches any exclude pattern
func (d *Driver) isExcluded(key string) bool {
	for _, pattern := range d.excludes {
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
			for i := 1; i <= len(parts); i++ {
				if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
					return true
				}
			}
			continue
		}
		if strings.HasSuffix(key, "/") {
			continue
		}
		if matched, _ := doublestar.Match(pattern, key); matched {
			return true
		}
	}
	return false
}

func (d *Driver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcName, _, err := d.stat(src)
	if err != nil {
		return err
	}
	dstName, err := d.name(dst)
	if err != nil {
		return err
	}

	in, err := d.fs.Open(srcName)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := d.stage(dstName, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		d.fs.Remove(tmp) //nolint:errcheck
		return err
	}
	if conditional {
		return d.publishNew(tmp, dstName)
	}
	return d.publish(tmp, dstName)
}

// Rename moves src to dst with a filesystem rename. With conditional set the
// move is a hard link followed by removal of src.
func (d *Driver) Rename(ctx context.Context, src, dst string, conditional bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcName, _, err := d.stat(src)
	if err != nil {
		return err
	}
	dstName, err := d.name(dst)
	if err != nil {
		return err
	}
	move := func() error {
		if conditional {
			return d.link(srcName, dstName)
		}
		return d.fs.Rename(srcName, dstName)
	}
	if err := d.inDir(path.Dir(dstName), move); err != nil {
		if conditional {
			return err
		}
		return fmt.Errorf("rename %s: %w", src, err)
	}

	if conditional && d.root != "" {
		if err := d.fs.Remove(srcName); err != nil && !notExist(err) {
			return fmt.Errorf("%s was written but %s could not be removed: %w", dst, src, err)
		}
	}

	d.syncDir(path.Dir(dstName))
	d.removeEmptyParents(path.Dir(srcName))
	return nil
}

// removeEmptyParents prunes directories left empty by a delete, stopping at the root.
func (d *Driver) removeEmptyParents(dir string) {
	for dir != "/" && dir != "." && dir != "" {
		entries, err := afero.ReadDir(d.fs, dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := d.fs.Remove(dir); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}

// syncDir best-effort fsyncs a directory so that recently renamed files
// become durable. Only meaningful on the OS filesystem.
func (d *Driver) syncDir(dir string) {
	if d.root == "" {
		return
	}
	df, err := os.Open(d.osPath(dir))
	if err != nil {
		return
	}
	defer df.Close()
	_ = df.Sync()
}
