package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/internal/walker"
	"github.com/yuya-takeyama/strict-object-store/pkg/logger"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

const defaultWorkers = 8

// DirToStorePlanner plans the uploads and deletes that make a store prefix
// mirror a local directory.
type DirToStorePlanner struct {
	fs      afero.Fs
	store   *objectstore.Store
	logger  logger.Logger
	workers int
}

func NewDirToStorePlanner(fs afero.Fs, store *objectstore.Store, log logger.Logger) *DirToStorePlanner {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &DirToStorePlanner{
		fs:      fs,
		store:   store,
		logger:  log,
		workers: defaultWorkers,
	}
}

// WithWorkers bounds directory traversal and checksum concurrency.
func (p *DirToStorePlanner) WithWorkers(n int) *DirToStorePlanner {
	if n > 0 {
		p.workers = n
	}
	return p
}

func (p *DirToStorePlanner) Plan(ctx context.Context, source Source, dest Destination, opts Options) ([]Item, error) {
	if err := ValidatePatterns(opts.Excludes); err != nil {
		return nil, err
	}

	localFiles, err := p.gatherLocalFiles(source.Path, opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to gather local files: %w", err)
	}

	destObjects, err := p.gatherDestObjects(ctx, dest.Prefix, opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to list store objects: %w", err)
	}

	diff := Compare(localFiles, destObjects, opts.DeleteEnabled)

	digests, err := p.CollectDigests(ctx, diff.Unsure, source.Path, dest.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to collect checksums: %w", err)
	}

	items := BuildPlan(diff, digests, source.Path, dest.Prefix)

	known := make(map[objpath.Path]string, len(digests))
	for _, d := range digests {
		known[destination(dest.Prefix, d.Ref.Rel)] = d.Local
	}

	// Calculate checksums for upload items
	for i, item := range items {
		if item.Action != ActionUpload {
			continue
		}
		if sum, ok := known[item.Location]; ok {
			items[i].Checksum = sum
			continue
		}
		sum, err := checksum.CalculateFileSHA256(p.fs, item.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", item.LocalPath, err)
		}
		items[i].Checksum = sum
	}

	return items, nil
}

func (p *DirToStorePlanner) gatherLocalFiles(basePath string, excludes []string) ([]ItemMetadata, error) {
	w, err := walker.NewWalker(p.fs, basePath, excludes, p.workers)
	if err != nil {
		return nil, err
	}
	files, err := w.Walk()
	if err != nil {
		return nil, err
	}

	items := make([]ItemMetadata, 0, len(files))
	for _, f := range files {
		items = append(items, ItemMetadata{
			Path:    f.RelPath,
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}
	return items, nil
}

func (p *DirToStorePlanner) gatherDestObjects(ctx context.Context, prefix objpath.Path, excludes []string) ([]ItemMetadata, error) {
	metas, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	items := make([]ItemMetadata, 0, len(metas))
	for _, meta := range metas {
		rest, ok := meta.Location.StripPrefix(prefix)
		if !ok {
			continue
		}
		rel := strings.Join(rest, objpath.Delimiter)

		// Apply exclude patterns to store objects
		if walker.Excluded(rel, excludes) {
			continue
		}

		items = append(items, ItemMetadata{
			Path:    rel,
			Size:    int64(meta.Size),
			ModTime: meta.LastModified,
		})
	}
	return items, nil
}

// CollectDigests hashes the local file and the stored object for every ref
// whose size alone cannot decide equality. Results keep the input order.
func (p *DirToStorePlanner) CollectDigests(ctx context.Context, refs []Ref, localBase string, prefix objpath.Path) ([]Digest, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	digests := make([]Digest, len(refs))
	sem := make(chan struct{}, p.workers)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, ref Ref) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			d, err := p.digest(ctx, ref, localBase, prefix)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			digests[idx] = d
		}(i, ref)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return digests, nil
}

func (p *DirToStorePlanner) digest(ctx context.Context, ref Ref, localBase string, prefix objpath.Path) (Digest, error) {
	localPath := filepath.Join(localBase, filepath.FromSlash(ref.Rel))
	local, err := checksum.CalculateFileSHA256(p.fs, localPath)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to calculate checksum for %s: %w", localPath, err)
	}

	loc := destination(prefix, ref.Rel)
	stream, err := p.store.Stream(ctx, loc)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open %s: %w", loc, err)
	}
	stored, err := checksum.CalculateWriterToSHA256(stream)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to read %s: %w", loc, err)
	}

	p.logger.Debug(fmt.Sprintf("compared checksum of %s", ref.Rel))
	return Digest{Ref: ref, Local: local, Stored: stored}, nil
}
