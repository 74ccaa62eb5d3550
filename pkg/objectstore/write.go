package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Put writes data to loc, replacing any existing object.
func (s *Store) Put(ctx context.Context, loc objpath.Like, data []byte) error {
	p, err := location(OpPut, loc)
	if err != nil {
		return err
	}
	return s.put(ctx, p, data)
}

func (s *Store) put(ctx context.Context, p objpath.Path, data []byte) error {
	_, err := run(ctx, s, OpPut, p.String(), func(ctx context.Context) (struct{}, int64, error) {
		if data == nil {
			data = []byte{}
		}
		return struct{}{}, int64(len(data)), s.driver.Put(ctx, p.String(), data)
	})
	return err
}

// PutReader reads r to the end and writes the result to loc. Nothing is
// written if reading fails.
func (s *Store) PutReader(ctx context.Context, loc objpath.Like, r io.Reader) error {
	p, err := location(OpPut, loc)
	if err != nil {
		return err
	}
	return s.putReader(ctx, p, r)
}

func (s *Store) putReader(ctx context.Context, p objpath.Path, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return wrapErr(OpPut, p.String(), fmt.Errorf("read payload: %w", err))
	}
	return s.put(ctx, p, data)
}

// Delete removes loc. Deleting a missing object succeeds.
func (s *Store) Delete(ctx context.Context, loc objpath.Like) error {
	p, err := location(OpDelete, loc)
	if err != nil {
		return err
	}
	return s.delete(ctx, p)
}

func (s *Store) delete(ctx context.Context, p objpath.Path) error {
	_, err := run(ctx, s, OpDelete, p.String(), func(ctx context.Context) (struct{}, int64, error) {
		err := s.driver.Delete(ctx, p.String())
		if isNotFound(err) {
			err = nil
		}
		return struct{}{}, 0, err
	})
	return err
}
