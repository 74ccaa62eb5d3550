package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

type streamConfig struct {
	offset    uint64
	chunkSize int
}

// StreamOption configures Stream.
type StreamOption func(*streamConfig)

// WithOffset starts the stream at byte n. n equal to the object size yields
// an empty stream; anything larger fails with ErrOutOfRange.
func WithOffset(n uint64) StreamOption {
	return func(c *streamConfig) {
		c.offset = n
	}
}

// WithChunkSize caps the size of each chunk.
func WithChunkSize(n int) StreamOption {
	return func(c *streamConfig) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// ByteStream is a single-use, forward-only read of one object.
//
//	for st.Next() {
//		use(st.Chunk())
//	}
//	if err := st.Err(); err != nil { ... }
//
// The concatenated chunks equal the object's bytes from the starting offset
// at open time. Premature end of data and context cancellation are terminal
// errors reported by Err. The underlying reader is released once the stream
// is exhausted, fails or is closed; Close is always safe to call.
type ByteStream struct {
	ctx       context.Context
	meta      ObjectMeta
	body      io.ReadCloser
	release   context.CancelFunc
	chunkSize int

	pos       uint64
	remaining uint64
	chunk     []byte
	err       error
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// Stream opens loc for chunked reading. A missing object fails here with
// ErrNotFound rather than on the first chunk.
func (s *Store) Stream(ctx context.Context, loc objpath.Like, opts ...StreamOption) (*ByteStream, error) {
	p, err := location(OpStream, loc)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, p, opts, nil)
}

func (s *Store) stream(ctx context.Context, p objpath.Path, opts []StreamOption, release context.CancelFunc) (*ByteStream, error) {
	cfg := streamConfig{chunkSize: s.chunkSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	key := p.String()

	return run(ctx, s, OpStream, key, func(spanCtx context.Context) (*ByteStream, int64, error) {
		st := &ByteStream{ctx: ctx, release: release, chunkSize: cfg.chunkSize, pos: cfg.offset}

		if cfg.offset == 0 {
			res, err := s.driver.Get(spanCtx, key, nil)
			if err != nil {
				return nil, 0, err
			}
			st.meta = metaFromEntry(p, res.Entry)
			st.body = res.Body
			st.remaining = res.Entry.Size
			return st, 0, nil
		}

		e, err := s.driver.Head(spanCtx, key)
		if err != nil {
			return nil, 0, err
		}
		if cfg.offset > e.Size {
			return nil, 0, newErr(OpStream, key, KindOutOfRange, "offset %d exceeds object size %d", cfg.offset, e.Size)
		}
		st.meta = metaFromEntry(p, e)
		if cfg.offset == e.Size {
			return st, 0, nil
		}

		res, err := s.driver.Get(spanCtx, key, &ByteRange{Start: cfg.offset, Length: e.Size - cfg.offset})
		if err != nil {
			return nil, 0, err
		}
		st.body = res.Body
		st.remaining = e.Size - cfg.offset
		return st, 0, nil
	})
}

// Meta describes the object as it was when the stream was opened.
func (st *ByteStream) Meta() ObjectMeta {
	return st.meta
}

// Position is the object offset of the next byte Next will deliver.
func (st *ByteStream) Position() uint64 {
	return st.pos
}

// Next advances to the next chunk. It returns false once the stream is
// exhausted, has failed or has been closed.
func (st *ByteStream) Next() bool {
	st.chunk = nil
	if st.done {
		return false
	}
	if st.remaining == 0 {
		st.finish(nil)
		return false
	}
	if err := st.ctx.Err(); err != nil {
		st.finish(wrapErr(OpStream, st.meta.Location.String(), err))
		return false
	}

	want := uint64(st.chunkSize)
	if st.remaining < want {
		want = st.remaining
	}
	buf := make([]byte, want)
	n, err := io.ReadFull(st.body, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		st.finish(newErr(OpStream, st.meta.Location.String(), KindBackend,
			"stream truncated at offset %d with %d bytes missing: %w", st.pos+uint64(n), st.remaining-uint64(n), io.ErrUnexpectedEOF))
		return false
	case err != nil:
		if cerr := st.ctx.Err(); cerr != nil {
			err = fmt.Errorf("%w: %w", cerr, err)
		}
		st.finish(wrapErr(OpStream, st.meta.Location.String(), err))
		return false
	}

	st.chunk = buf
	st.pos += want
	st.remaining -= want
	if st.remaining == 0 {
		st.releaseResources()
	}
	return true
}

// Chunk returns the chunk produced by the last successful Next. The slice is
// owned by the caller.
func (st *ByteStream) Chunk() []byte {
	return st.chunk
}

// Err returns the terminal error, if any. Exhaustion and Close are not errors.
func (st *ByteStream) Err() error {
	return st.err
}

// Close releases the stream's resources. Subsequent calls to Next return false.
func (st *ByteStream) Close() error {
	st.done = true
	st.chunk = nil
	st.releaseResources()
	return st.closeErr
}

// Chunks returns an iterator over the remaining chunks. A terminal error is
// yielded once as the final element. Breaking out of the loop closes the stream.
func (st *ByteStream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer st.Close()
		for st.Next() {
			if !yield(st.Chunk(), nil) {
				return
			}
		}
		if err := st.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// WriteTo drains the stream into w and closes it.
func (st *ByteStream) WriteTo(w io.Writer) (int64, error) {
	defer st.Close()
	var total int64
	for st.Next() {
		n, err := w.Write(st.Chunk())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, st.Err()
}

// ReadAll drains the remaining stream into memory and closes it.
func (st *ByteStream) ReadAll() ([]byte, error) {
	defer st.Close()
	var out []byte
	for st.Next() {
		out = append(out, st.Chunk()...)
	}
	return out, st.Err()
}

func (st *ByteStream) finish(err error) {
	st.err = err
	st.done = true
	st.releaseResources()
}

func (st *ByteStream) releaseResources() {
	st.closeOnce.Do(func() {
		if st.body != nil {
			if err := st.body.Close(); err != nil {
				st.closeErr = wrapErr(OpStream, st.meta.Location.String(), fmt.Errorf("close body: %w", err))
			}
		}
		if st.release != nil {
			st.release()
		}
	})
}
