package objectstore

import (
	"context"
	"log/slog"
	"slices"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// List returns every object strictly below prefix, ordered by location.
// Matching is per segment: prefix "a/b" matches "a/b/c" but neither "a/bc"
// nor an object stored exactly at "a/b". A nil prefix lists the whole store.
func (s *Store) List(ctx context.Context, prefix objpath.Like) ([]ObjectMeta, error) {
	p, err := prefixPath(OpList, prefix)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, p)
}

func (s *Store) list(ctx context.Context, prefix objpath.Path) ([]ObjectMeta, error) {
	return run(ctx, s, OpList, prefix.String(), func(ctx context.Context) ([]ObjectMeta, int64, error) {
		entries, err := s.driver.List(ctx, prefix.String())
		if err != nil {
			return nil, 0, err
		}

		var out []ObjectMeta
		seen := make(map[objpath.Path]struct{}, len(entries))
		for _, e := range entries {
			loc, ok := s.parseKey(ctx, OpList, e.Key)
			if !ok || loc == prefix || !loc.HasPrefix(prefix) {
				continue
			}
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			out = append(out, metaFromEntry(loc, e))
		}
		sortMetas(out)
		return out, 0, nil
	})
}

// ListWithDelimiter partitions the objects below prefix into direct children
// and common prefixes one segment deeper. An unmatched prefix yields an empty
// result.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix objpath.Like) (ListResult, error) {
	p, err := prefixPath(OpListWithDelimiter, prefix)
	if err != nil {
		return ListResult{}, err
	}
	return s.listWithDelimiter(ctx, p)
}

func (s *Store) listWithDelimiter(ctx context.Context, prefix objpath.Path) (ListResult, error) {
	return run(ctx, s, OpListWithDelimiter, prefix.String(), func(ctx context.Context) (ListResult, int64, error) {
		var (
			entries  []Entry
			prefixes []string
			err      error
		)
		if dl, ok := s.driver.(DelimiterLister); ok {
			entries, prefixes, err = dl.ListWithDelimiter(ctx, prefix.String())
		} else {
			entries, err = s.driver.List(ctx, prefix.String())
		}
		if err != nil {
			return ListResult{}, 0, err
		}

		p := partition{prefix: prefix, objects: map[objpath.Path]ObjectMeta{}, common: map[objpath.Path]struct{}{}}
		for _, e := range entries {
			if loc, ok := s.parseKey(ctx, OpListWithDelimiter, e.Key); ok {
				p.addObject(loc, e)
			}
		}
		for _, key := range prefixes {
			if loc, ok := s.parseKey(ctx, OpListWithDelimiter, key); ok {
				p.addPrefix(loc)
			}
		}
		return p.result(), 0, nil
	})
}

// parseKey turns a driver key into a location. Keys that are not valid
// canonical paths are skipped with a warning.
func (s *Store) parseKey(ctx context.Context, op, key string) (objpath.Path, bool) {
	loc, err := objpath.Parse(key)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping unparseable key",
			slog.String("op", op),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return objpath.Path{}, false
	}
	if loc.String() != key {
		s.logger.WarnContext(ctx, "skipping non-canonical key",
			slog.String("op", op),
			slog.String("key", key),
		)
		return objpath.Path{}, false
	}
	return loc, true
}

type partition struct {
	prefix  objpath.Path
	objects map[objpath.Path]ObjectMeta
	common  map[objpath.Path]struct{}
}

func (p *partition) addObject(loc objpath.Path, e Entry) {
	rest, ok := loc.StripPrefix(p.prefix)
	switch {
	case !ok || len(rest) == 0:
	case len(rest) == 1:
		p.objects[loc] = metaFromEntry(loc, e)
	default:
		p.addCommon(rest[0])
	}
}

func (p *partition) addPrefix(loc objpath.Path) {
	rest, ok := loc.StripPrefix(p.prefix)
	if !ok || len(rest) == 0 {
		return
	}
	p.addCommon(rest[0])
}

func (p *partition) addCommon(segment string) {
	child, err := p.prefix.Child(segment)
	if err != nil {
		return
	}
	p.common[child] = struct{}{}
}

func (p *partition) result() ListResult {
	res := ListResult{
		Objects:        make([]ObjectMeta, 0, len(p.objects)),
		CommonPrefixes: make([]objpath.Path, 0, len(p.common)),
	}
	for _, m := range p.objects {
		res.Objects = append(res.Objects, m)
	}
	for cp := range p.common {
		res.CommonPrefixes = append(res.CommonPrefixes, cp)
	}
	sortMetas(res.Objects)
	slices.SortFunc(res.CommonPrefixes, objpath.Compare)
	return res
}

func sortMetas(metas []ObjectMeta) {
	slices.SortFunc(metas, func(a, b ObjectMeta) int {
		return objpath.Compare(a.Location, b.Location)
	})
}
