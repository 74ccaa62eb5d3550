// Package batch runs many store operations with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/yuya-takeyama/strict-object-store/internal/checksum"
	"github.com/yuya-takeyama/strict-object-store/pkg/logger"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
	"github.com/yuya-takeyama/strict-object-store/pkg/planner"
)

const DefaultConcurrency = 32

// Limits bound how fast a batch runs. A nil Limiter means no rate limit.
type Limits struct {
	Concurrency int
	Limiter     *rate.Limiter
}

// NewLimits builds Limits from a concurrency and an operations-per-second
// budget. opsPerSecond <= 0 disables rate limiting.
func NewLimits(concurrency int, opsPerSecond float64) Limits {
	l := Limits{Concurrency: concurrency}
	if opsPerSecond > 0 {
		burst := max(1, int(opsPerSecond))
		l.Limiter = rate.NewLimiter(rate.Limit(opsPerSecond), burst)
	}
	return l
}

// Each calls fn for every item and returns one error slot per item.
func Each[T any](ctx context.Context, limits Limits, items []T, fn func(context.Context, T) error) []error {
	concurrency := limits.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	errs := make([]error, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, itm T) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if limits.Limiter != nil {
				if err := limits.Limiter.Wait(ctx); err != nil {
					errs[idx] = err
					return
				}
			}
			errs[idx] = fn(ctx, itm)
		}(i, item)
	}

	wg.Wait()
	return errs
}

// Executor applies sync plan items to a store.
type Executor struct {
	store  *objectstore.Store
	fs     afero.Fs
	logger logger.Logger
	limits Limits
	target func(objpath.Path) string
}

func NewExecutor(store *objectstore.Store, fs afero.Fs, log logger.Logger, limits Limits) *Executor {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &Executor{
		store:  store,
		fs:     fs,
		logger: log,
		limits: limits,
		target: objpath.Path.String,
	}
}

// WithTargetFormat changes how store locations are printed in progress lines.
func (e *Executor) WithTargetFormat(fn func(objpath.Path) string) *Executor {
	e.target = fn
	return e
}

type Result struct {
	Item  planner.Item
	Error error
}

func (e *Executor) Execute(ctx context.Context, items []planner.Item) []Result {
	errs := Each(ctx, e.limits, items, func(ctx context.Context, itm planner.Item) error {
		// Log the start of the operation
		switch itm.Action {
		case planner.ActionUpload:
			e.logger.Upload(itm.LocalPath, e.target(itm.Location))
		case planner.ActionDelete:
			e.logger.Delete(e.target(itm.Location))
		}

		err := e.executeItem(ctx, itm)
		if err != nil {
			e.logger.Error(string(itm.Action), e.target(itm.Location), err)
		}
		return err
	})

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Item: item, Error: errs[i]}
	}
	return results
}

func (e *Executor) executeItem(ctx context.Context, item planner.Item) error {
	switch item.Action {
	case planner.ActionUpload:
		return e.uploadFile(ctx, item)
	case planner.ActionDelete:
		return e.deleteObject(ctx, item)
	default:
		return nil
	}
}

func (e *Executor) uploadFile(ctx context.Context, item planner.Item) error {
	data, err := afero.ReadFile(e.fs, item.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if item.Checksum != "" && checksum.Sum(data) != item.Checksum {
		return fmt.Errorf("%s changed after planning", item.LocalPath)
	}

	if err := e.store.Put(ctx, item.Location, data); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	return nil
}

func (e *Executor) deleteObject(ctx context.Context, item planner.Item) error {
	if err := e.store.Delete(ctx, item.Location); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}
