package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

const (
	defaultWorkers = 8
	maxWorkers     = 32
)

// FileInfo represents a local file
type FileInfo struct {
	Path    string // Path on the walked filesystem
	RelPath string // Slash-separated path relative to root
	Size    int64
	ModTime time.Time
}

// Walker walks local files with exclude pattern support
type Walker struct {
	fs       afero.Fs
	root     string
	excludes []string
	workers  int
}

// NewWalker creates a new file walker. workers <= 0 selects the default.
func NewWalker(fsys afero.Fs, root string, excludes []string, workers int) (*Walker, error) {
	// Validate root exists and is a directory
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	return &Walker{
		fs:       fsys,
		root:     filepath.Clean(root),
		excludes: excludes,
		workers:  workers,
	}, nil
}

// Walk reads directories concurrently and returns the non-excluded files
// sorted by RelPath. Unreadable directories caused by permissions are skipped.
func (w *Walker) Walk() ([]FileInfo, error) {
	var (
		files    []FileInfo
		filesMu  sync.Mutex
		firstErr error
		errOnce  sync.Once
		pending  sync.WaitGroup
		workers  sync.WaitGroup
	)

	queue := make(chan string, 1000)
	enqueue := func(dir string) {
		pending.Add(1)
		select {
		case queue <- dir:
		default:
			// queue is full; a worker is blocked on it only if every worker is enqueuing
			go func() { queue <- dir }()
		}
	}

	workers.Add(w.workers)
	for i := 0; i < w.workers; i++ {
		go func() {
			defer workers.Done()
			for dir := range queue {
				found, err := w.readDir(dir, enqueue)
				if err != nil && !errors.Is(err, fs.ErrPermission) {
					errOnce.Do(func() { firstErr = err })
				}
				if len(found) > 0 {
					filesMu.Lock()
					files = append(files, found...)
					filesMu.Unlock()
				}
				pending.Done()
			}
		}()
	}

	enqueue(w.root)
	go func() {
		pending.Wait()
		close(queue)
	}()
	workers.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("walk directory: %w", firstErr)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})
	return files, nil
}

func (w *Walker) readDir(dir string, enqueue func(string)) ([]FileInfo, error) {
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, info := range entries {
		full := filepath.Join(dir, info.Name())
		rel, err := filepath.Rel(w.root, full)
		if err != nil {
			return nil, fmt.Errorf("get relative path: %w", err)
		}
		// Convert to forward slashes for pattern matching
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if w.isExcluded(rel + "/") {
				continue
			}
			enqueue(full)
			continue
		}
		if !info.Mode().IsRegular() || w.isExcluded(rel) {
			continue
		}

		files = append(files, FileInfo{
			Path:    full,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

func (w *Walker) isExcluded(path string) bool {
	return Excluded(path, w.excludes)
}

// Excluded checks if a path matches any exclude pattern. Patterns ending in
// "/" match a directory and everything below it.
func Excluded(path string, patterns []string) bool {
	for _, pattern := range patterns {
		// Handle directory patterns (ending with /)
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			// Check if the path or any parent directory matches
			parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
			for i := 1; i <= len(parts); i++ {
				if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
					return true
				}
			}
			continue
		}
		// Regular file pattern
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}
