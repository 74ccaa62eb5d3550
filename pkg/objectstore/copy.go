package objectstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Copy copies src to dst, replacing dst if it exists. Copying an object onto
// itself only verifies that it exists.
func (s *Store) Copy(ctx context.Context, src, dst objpath.Like) error {
	from, to, err := endpoints(OpCopy, src, dst)
	if err != nil {
		return err
	}
	return s.copy(ctx, from, to)
}

func (s *Store) copy(ctx context.Context, src, dst objpath.Path) error {
	_, err := run(ctx, s, OpCopy, pair(src, dst), func(ctx context.Context) (struct{}, int64, error) {
		if src == dst {
			_, err := s.driver.Head(ctx, src.String())
			return struct{}{}, 0, err
		}
		return struct{}{}, 0, s.driver.Copy(ctx, src.String(), dst.String(), false)
	})
	return err
}

// CopyIfNotExists copies src to dst only when dst does not exist, failing
// with ErrAlreadyExists otherwise. The check and the write are atomic only
// when Capabilities().ConditionalCopy is true; elsewhere a concurrent writer
// may slip in between them.
func (s *Store) CopyIfNotExists(ctx context.Context, src, dst objpath.Like) error {
	from, to, err := endpoints(OpCopyIfNotExists, src, dst)
	if err != nil {
		return err
	}
	return s.copyIfNotExists(ctx, from, to)
}

func (s *Store) copyIfNotExists(ctx context.Context, src, dst objpath.Path) error {
	_, err := run(ctx, s, OpCopyIfNotExists, pair(src, dst), func(ctx context.Context) (struct{}, int64, error) {
		return struct{}{}, 0, s.conditionalCopy(ctx, src, dst)
	})
	return err
}

func (s *Store) conditionalCopy(ctx context.Context, src, dst objpath.Path) error {
	if src == dst {
		if _, err := s.driver.Head(ctx, src.String()); err != nil {
			return err
		}
		return ErrAlreadyExists
	}
	if s.driver.Capabilities().ConditionalCopy {
		return s.driver.Copy(ctx, src.String(), dst.String(), true)
	}

	_, err := s.driver.Head(ctx, dst.String())
	switch {
	case err == nil:
		return ErrAlreadyExists
	case !isNotFound(err):
		return fmt.Errorf("check destination: %w", err)
	}
	s.logger.DebugContext(ctx, "emulating conditional copy with head and copy; not atomic",
		slog.String("src", src.String()),
		slog.String("dst", dst.String()),
	)
	return s.driver.Copy(ctx, src.String(), dst.String(), false)
}

// Rename moves src to dst, replacing dst if it exists. Unless the driver
// renames natively this is a copy followed by a delete of src.
func (s *Store) Rename(ctx context.Context, src, dst objpath.Like) error {
	from, to, err := endpoints(OpRename, src, dst)
	if err != nil {
		return err
	}
	return s.rename(ctx, from, to)
}

func (s *Store) rename(ctx context.Context, src, dst objpath.Path) error {
	_, err := run(ctx, s, OpRename, pair(src, dst), func(ctx context.Context) (struct{}, int64, error) {
		if src == dst {
			_, err := s.driver.Head(ctx, src.String())
			return struct{}{}, 0, err
		}
		if r, ok := s.driver.(Renamer); ok {
			return struct{}{}, 0, r.Rename(ctx, src.String(), dst.String(), false)
		}
		if err := s.driver.Copy(ctx, src.String(), dst.String(), false); err != nil {
			return struct{}{}, 0, err
		}
		return struct{}{}, 0, s.removeSource(ctx, OpRename, src, dst)
	})
	return err
}

// RenameIfNotExists moves src to dst only when dst does not exist. On
// ErrAlreadyExists src is left untouched.
func (s *Store) RenameIfNotExists(ctx context.Context, src, dst objpath.Like) error {
	from, to, err := endpoints(OpRenameIfNotExists, src, dst)
	if err != nil {
		return err
	}
	return s.renameIfNotExists(ctx, from, to)
}

func (s *Store) renameIfNotExists(ctx context.Context, src, dst objpath.Path) error {
	_, err := run(ctx, s, OpRenameIfNotExists, pair(src, dst), func(ctx context.Context) (struct{}, int64, error) {
		if r, ok := s.driver.(Renamer); ok && src != dst && s.driver.Capabilities().ConditionalCopy {
			return struct{}{}, 0, r.Rename(ctx, src.String(), dst.String(), true)
		}
		if err := s.conditionalCopy(ctx, src, dst); err != nil {
			return struct{}{}, 0, err
		}
		return struct{}{}, 0, s.removeSource(ctx, OpRenameIfNotExists, src, dst)
	})
	return err
}

// removeSource deletes src after dst has been written. A source that is
// already gone counts as removed.
func (s *Store) removeSource(ctx context.Context, op string, src, dst objpath.Path) error {
	err := s.driver.Delete(ctx, src.String())
	if err == nil || isNotFound(err) {
		return nil
	}
	s.logger.WarnContext(ctx, "destination written but source not removed",
		slog.String("op", op),
		slog.String("src", src.String()),
		slog.String("dst", dst.String()),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s was written but %s could not be removed: %w", dst, src, err)
}

func endpoints(op string, src, dst objpath.Like) (objpath.Path, objpath.Path, error) {
	from, err := location(op, src)
	if err != nil {
		return objpath.Path{}, objpath.Path{}, err
	}
	to, err := location(op, dst)
	if err != nil {
		return objpath.Path{}, objpath.Path{}, err
	}
	return from, to, nil
}

func pair(src, dst objpath.Path) string {
	return src.String() + " -> " + dst.String()
}
