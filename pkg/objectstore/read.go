package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Head returns the object's metadata, or an error matching ErrNotFound.
func (s *Store) Head(ctx context.Context, loc objpath.Like) (ObjectMeta, error) {
	p, err := location(OpHead, loc)
	if err != nil {
		return ObjectMeta{}, err
	}
	return s.head(ctx, p)
}

func (s *Store) head(ctx context.Context, p objpath.Path) (ObjectMeta, error) {
	return run(ctx, s, OpHead, p.String(), func(ctx context.Context) (ObjectMeta, int64, error) {
		e, err := s.driver.Head(ctx, p.String())
		if err != nil {
			return ObjectMeta{}, 0, err
		}
		return metaFromEntry(p, e), 0, nil
	})
}

// Get returns the whole object.
func (s *Store) Get(ctx context.Context, loc objpath.Like) ([]byte, error) {
	p, err := location(OpGet, loc)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, p)
}

func (s *Store) get(ctx context.Context, p objpath.Path) ([]byte, error) {
	return run(ctx, s, OpGet, p.String(), func(ctx context.Context) ([]byte, int64, error) {
		res, err := s.driver.Get(ctx, p.String(), nil)
		if err != nil {
			return nil, 0, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("read body: %w", err)
		}
		if uint64(len(data)) < res.Entry.Size {
			return nil, 0, fmt.Errorf("read %d of %d bytes: %w", len(data), res.Entry.Size, io.ErrUnexpectedEOF)
		}
		return data, int64(len(data)), nil
	})
}

// GetRange returns exactly length bytes starting at start. A zero length, a
// range extending past the end of the object, or a backend that delivers
// fewer bytes than requested all fail with ErrOutOfRange.
func (s *Store) GetRange(ctx context.Context, loc objpath.Like, start, length uint64) ([]byte, error) {
	p, err := location(OpGetRange, loc)
	if err != nil {
		return nil, err
	}
	return s.getRange(ctx, p, start, length)
}

func (s *Store) getRange(ctx context.Context, p objpath.Path, start, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, newErr(OpGetRange, p.String(), KindOutOfRange, "empty range at offset %d", start)
	}
	return run(ctx, s, OpGetRange, p.String(), func(ctx context.Context) ([]byte, int64, error) {
		e, err := s.driver.Head(ctx, p.String())
		if err != nil {
			return nil, 0, err
		}
		if start > e.Size || length > e.Size-start {
			return nil, 0, newErr(OpGetRange, p.String(), KindOutOfRange, "range %d+%d exceeds object size %d", start, length, e.Size)
		}

		res, err := s.driver.Get(ctx, p.String(), &ByteRange{Start: start, Length: length})
		if err != nil {
			return nil, 0, err
		}
		defer res.Body.Close()

		buf := make([]byte, length)
		n, err := io.ReadFull(res.Body, buf)
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			return nil, 0, newErr(OpGetRange, p.String(), KindOutOfRange, "%w: got %d of %d bytes", errShortRead, n, length)
		case err != nil:
			return nil, 0, fmt.Errorf("read range: %w", err)
		}
		return buf, int64(n), nil
	})
}
