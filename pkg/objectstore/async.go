package objectstore

import (
	"context"
	"io"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Future is the pending result of an Async operation. The operation runs on
// its own goroutine and produces the same value and error as the blocking call.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// spawn runs fn on a new goroutine with a cancellable child of ctx. fn owns
// cancel and must call it once its resources are released.
func spawn[T any](ctx context.Context, fn func(context.Context, context.CancelFunc) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		f.val, f.err = fn(ctx, cancel)
	}()
	return f
}

func async[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	return spawn(ctx, func(ctx context.Context, cancel context.CancelFunc) (T, error) {
		defer cancel()
		return fn(ctx)
	})
}

func asyncErr(ctx context.Context, fn func(context.Context) error) *Future[struct{}] {
	return async(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. Giving up on ctx
// does not cancel the operation; use Cancel for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the operation completes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Cancel aborts the operation. A completed operation is unaffected, except
// that a stream returned by StreamAsync is released and fails on its next read.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// HeadAsync is the non-blocking form of Head.
func (s *Store) HeadAsync(ctx context.Context, loc objpath.Like) *Future[ObjectMeta] {
	return async(ctx, func(ctx context.Context) (ObjectMeta, error) {
		return s.Head(ctx, loc)
	})
}

// GetAsync is the non-blocking form of Get.
func (s *Store) GetAsync(ctx context.Context, loc objpath.Like) *Future[[]byte] {
	return async(ctx, func(ctx context.Context) ([]byte, error) {
		return s.Get(ctx, loc)
	})
}

// GetRangeAsync is the non-blocking form of GetRange.
func (s *Store) GetRangeAsync(ctx context.Context, loc objpath.Like, start, length uint64) *Future[[]byte] {
	return async(ctx, func(ctx context.Context) ([]byte, error) {
		return s.GetRange(ctx, loc, start, length)
	})
}

// StreamAsync is the non-blocking form of Stream. The returned stream keeps
// the future's context alive until it is exhausted or closed. Once that
// context ends, through Cancel or the parent, the stream's body is released
// even if the caller never touches the stream again.
func (s *Store) StreamAsync(ctx context.Context, loc objpath.Like, opts ...StreamOption) *Future[*ByteStream] {
	return spawn(ctx, func(ctx context.Context, cancel context.CancelFunc) (*ByteStream, error) {
		p, err := location(OpStream, loc)
		if err != nil {
			cancel()
			return nil, err
		}
		st, err := s.stream(ctx, p, opts, cancel)
		if err != nil {
			cancel()
			return nil, err
		}
		context.AfterFunc(ctx, st.releaseResources)
		return st, nil
	})
}

// PutAsync is the non-blocking form of Put.
func (s *Store) PutAsync(ctx context.Context, loc objpath.Like, data []byte) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.Put(ctx, loc, data)
	})
}

// PutReaderAsync is the non-blocking form of PutReader.
func (s *Store) PutReaderAsync(ctx context.Context, loc objpath.Like, r io.Reader) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.PutReader(ctx, loc, r)
	})
}

// DeleteAsync is the non-blocking form of Delete.
func (s *Store) DeleteAsync(ctx context.Context, loc objpath.Like) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.Delete(ctx, loc)
	})
}

// ListAsync is the non-blocking form of List.
func (s *Store) ListAsync(ctx context.Context, prefix objpath.Like) *Future[[]ObjectMeta] {
	return async(ctx, func(ctx context.Context) ([]ObjectMeta, error) {
		return s.List(ctx, prefix)
	})
}

// ListWithDelimiterAsync is the non-blocking form of ListWithDelimiter.
func (s *Store) ListWithDelimiterAsync(ctx context.Context, prefix objpath.Like) *Future[ListResult] {
	return async(ctx, func(ctx context.Context) (ListResult, error) {
		return s.ListWithDelimiter(ctx, prefix)
	})
}

// CopyAsync is the non-blocking form of Copy.
func (s *Store) CopyAsync(ctx context.Context, src, dst objpath.Like) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.Copy(ctx, src, dst)
	})
}

// CopyIfNotExistsAsync is the non-blocking form of CopyIfNotExists.
func (s *Store) CopyIfNotExistsAsync(ctx context.Context, src, dst objpath.Like) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.CopyIfNotExists(ctx, src, dst)
	})
}

// RenameAsync is the non-blocking form of Rename.
func (s *Store) RenameAsync(ctx context.Context, src, dst objpath.Like) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.Rename(ctx, src, dst)
	})
}

// RenameIfNotExistsAsync is the non-blocking form of RenameIfNotExists.
func (s *Store) RenameIfNotExistsAsync(ctx context.Context, src, dst objpath.Like) *Future[struct{}] {
	return asyncErr(ctx, func(ctx context.Context) error {
		return s.RenameIfNotExists(ctx, src, dst)
	})
}
