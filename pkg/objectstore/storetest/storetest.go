// Package storetest is a conformance suite that every Driver is expected to
// pass when wrapped in an objectstore.Store.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) *objectstore.Store

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s *objectstore.Store)
	}{
		{"RoundTrip", testRoundTrip},
		{"Overwrite", testOverwrite},
		{"EmptyObject", testEmptyObject},
		{"HeadMissing", testHeadMissing},
		{"MissingBelowObject", testMissingBelowObject},
		{"GetRange", testGetRange},
		{"GetRangeOutOfBounds", testGetRangeOutOfBounds},
		{"Delete", testDelete},
		{"ListPrefixSegments", testListPrefixSegments},
		{"ListRoot", testListRoot},
		{"ListWithDelimiter", testListWithDelimiter},
		{"ListDotfiles", testListDotfiles},
		{"Copy", testCopy},
		{"CopyIfNotExists", testCopyIfNotExists},
		{"Rename", testRename},
		{"RenameIfNotExists", testRenameIfNotExists},
		{"SameLocation", testSameLocation},
		{"Stream", testStream},
		{"StreamOffset", testStreamOffset},
		{"AsyncMatchesBlocking", testAsyncMatchesBlocking},
		{"Scenario", testScenario},
		{"ConcurrentCopyIfNotExists", testConcurrentCopyIfNotExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			tc.fn(t, s)
		})
	}
}

func put(t *testing.T, s *objectstore.Store, loc, data string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), objpath.Raw(loc), []byte(data)))
}

func locations(metas []objectstore.ObjectMeta) []string {
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		out = append(out, m.Location.String())
	}
	return out
}

func testRoundTrip(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	loc := objpath.MustParse("dir/sub/object.bin")
	data := bytes.Repeat([]byte("abcdefgh"), 1000)

	require.NoError(t, s.Put(ctx, loc, data))

	got, err := s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	meta, err := s.Head(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, loc, meta.Location)
	assert.Equal(t, uint64(len(data)), meta.Size)
	assert.False(t, meta.LastModified.IsZero())
}

func testOverwrite(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "f", "first")
	put(t, s, "f", "second")

	got, err := s.Get(ctx, objpath.Raw("f"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func testEmptyObject(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "empty", "")

	got, err := s.Get(ctx, objpath.Raw("empty"))
	require.NoError(t, err)
	assert.Empty(t, got)

	meta, err := s.Head(ctx, objpath.Raw("empty"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), meta.Size)

	_, err = s.GetRange(ctx, objpath.Raw("empty"), 0, 1)
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
}

func testHeadMissing(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	_, err := s.Head(ctx, objpath.Raw("missing"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.Equal(t, objectstore.KindNotFound, objectstore.KindOf(err))

	_, err = s.Get(ctx, objpath.Raw("missing"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = s.Head(ctx, objpath.Raw("a/../b"))
	assert.ErrorIs(t, err, objectstore.ErrInvalidPath)
}

// A location whose parent is itself an object does not exist.
func testMissingBelowObject(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "a", "file")
	below := objpath.Raw("a/b")

	_, err := s.Head(ctx, below)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.Equal(t, objectstore.KindNotFound, objectstore.KindOf(err))

	_, err = s.Get(ctx, below)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = s.GetRange(ctx, below, 0, 1)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = s.Stream(ctx, below)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, below))

	err = s.Copy(ctx, below, objpath.Raw("c"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	err = s.Rename(ctx, below, objpath.Raw("c"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	got, err := s.Get(ctx, objpath.Raw("a"))
	require.NoError(t, err)
	assert.Equal(t, "file", string(got))
}

func testGetRange(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "digits", "0123456789")

	tests := []struct {
		start, length uint64
		want          string
	}{
		{0, 10, "0123456789"},
		{2, 3, "234"},
		{9, 1, "9"},
		{0, 1, "0"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d", tt.start, tt.length), func(t *testing.T) {
			got, err := s.GetRange(ctx, objpath.Raw("digits"), tt.start, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func testGetRangeOutOfBounds(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "digits", "0123456789")

	tests := []struct {
		name          string
		start, length uint64
	}{
		{"past end", 8, 5},
		{"start at size", 10, 1},
		{"start beyond size", 50, 1},
		{"zero length", 3, 0},
		{"overflowing length", 1, ^uint64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetRange(ctx, objpath.Raw("digits"), tt.start, tt.length)
			assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
		})
	}

	_, err := s.GetRange(ctx, objpath.Raw("missing"), 0, 1)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testDelete(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "a/b/c", "x")

	require.NoError(t, s.Delete(ctx, objpath.Raw("a/b/c")))
	_, err := s.Get(ctx, objpath.Raw("a/b/c"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	require.NoError(t, s.Delete(ctx, objpath.Raw("a/b/c")), "deleting a missing object succeeds")

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testListPrefixSegments(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "a/b/c", "1")
	put(t, s, "a/bc", "2")
	put(t, s, "a/b/d/e", "3")

	got, err := s.List(ctx, objpath.Raw("a/b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c", "a/b/d/e"}, locations(got))

	got, err = s.List(ctx, objpath.Raw("nothing"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testListRoot(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "z", "1")
	put(t, s, "m/n", "2")
	put(t, s, "a", "3")

	want := []string{"a", "m/n", "z"}
	for name, prefix := range map[string]objpath.Like{
		"nil":   nil,
		"empty": objpath.Raw(""),
		"slash": objpath.Raw("/"),
		"root":  objpath.Root(),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := s.List(ctx, prefix)
			require.NoError(t, err)
			assert.Equal(t, want, locations(got))
		})
	}
}

func testListDotfiles(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "d/.cache.tmp", "1")
	put(t, s, ".hidden", "2")

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", "d/.cache.tmp"}, locations(all))

	res, err := s.ListWithDelimiter(ctx, objpath.Raw("d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"d/.cache.tmp"}, locations(res.Objects))

	res, err = s.ListWithDelimiter(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden"}, locations(res.Objects))
	require.Len(t, res.CommonPrefixes, 1)
	assert.Equal(t, "d", res.CommonPrefixes[0].String())
}

func testListWithDelimiter(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "test_dir/test_file.json", "{}")
	put(t, s, "test_dir/nested/deep/x", "1")
	put(t, s, "test_dir/nested/y", "2")
	put(t, s, "test_dir_other/z", "3")
	put(t, s, "top", "4")

	res, err := s.ListWithDelimiter(ctx, objpath.Raw("test_dir"))
	require.NoError(t, err)
	assert.Equal(t, []string{"test_dir/test_file.json"}, locations(res.Objects))
	assert.Equal(t, []objpath.Path{objpath.MustParse("test_dir/nested")}, res.CommonPrefixes)

	res, err = s.ListWithDelimiter(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, locations(res.Objects))
	assert.Equal(t, []objpath.Path{objpath.MustParse("test_dir"), objpath.MustParse("test_dir_other")}, res.CommonPrefixes)

	res, err = s.ListWithDelimiter(ctx, objpath.Raw("no/such/prefix"))
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Empty(t, res.CommonPrefixes)
}

func testCopy(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "src", "payload")
	put(t, s, "dst", "old")

	require.NoError(t, s.Copy(ctx, objpath.Raw("src"), objpath.Raw("dst")))
	got, err := s.Get(ctx, objpath.Raw("dst"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	got, err = s.Get(ctx, objpath.Raw("src"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	err = s.Copy(ctx, objpath.Raw("missing"), objpath.Raw("other"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testCopyIfNotExists(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "src", "payload")
	put(t, s, "taken", "keep me")

	err := s.CopyIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("taken"))
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
	got, err := s.Get(ctx, objpath.Raw("taken"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))

	require.NoError(t, s.CopyIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("fresh/dst")))
	got, err = s.Get(ctx, objpath.Raw("fresh/dst"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	err = s.CopyIfNotExists(ctx, objpath.Raw("missing"), objpath.Raw("another"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, err = s.Head(ctx, objpath.Raw("another"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testRename(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "from/a", "payload")
	put(t, s, "to/b", "old")

	require.NoError(t, s.Rename(ctx, objpath.Raw("from/a"), objpath.Raw("to/b")))

	got, err := s.Get(ctx, objpath.Raw("to/b"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	_, err = s.Head(ctx, objpath.Raw("from/a"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	err = s.Rename(ctx, objpath.Raw("from/a"), objpath.Raw("to/c"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testRenameIfNotExists(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "src", "payload")
	put(t, s, "taken", "keep me")

	err := s.RenameIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("taken"))
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)

	got, err := s.Get(ctx, objpath.Raw("src"))
	require.NoError(t, err, "source must survive a refused rename")
	assert.Equal(t, "payload", string(got))
	got, err = s.Get(ctx, objpath.Raw("taken"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))

	require.NoError(t, s.RenameIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("moved")))
	got, err = s.Get(ctx, objpath.Raw("moved"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	_, err = s.Head(ctx, objpath.Raw("src"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testSameLocation(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "p", "payload")
	p := objpath.Raw("p")

	require.NoError(t, s.Copy(ctx, p, p))
	require.NoError(t, s.Rename(ctx, p, p))
	assert.ErrorIs(t, s.CopyIfNotExists(ctx, p, p), objectstore.ErrAlreadyExists)
	assert.ErrorIs(t, s.RenameIfNotExists(ctx, p, p), objectstore.ErrAlreadyExists)

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	assert.ErrorIs(t, s.Copy(ctx, objpath.Raw("q"), objpath.Raw("q")), objectstore.ErrNotFound)
	assert.ErrorIs(t, s.Rename(ctx, objpath.Raw("q"), objpath.Raw("q")), objectstore.ErrNotFound)
}

func testStream(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	data := strings.Repeat("0123456789", 10)
	put(t, s, "streamed", data)

	st, err := s.Stream(ctx, objpath.Raw("streamed"), objectstore.WithChunkSize(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), st.Meta().Size)

	var (
		buf    bytes.Buffer
		chunks int
	)
	for chunk, err := range st.Chunks() {
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 7)
		buf.Write(chunk)
		chunks++
	}
	assert.Equal(t, data, buf.String())
	assert.Equal(t, 15, chunks)
	assert.False(t, st.Next(), "a drained stream cannot restart")
	require.NoError(t, st.Close())

	_, err = s.Stream(ctx, objpath.Raw("missing"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testStreamOffset(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	put(t, s, "digits", "0123456789")

	st, err := s.Stream(ctx, objpath.Raw("digits"), objectstore.WithOffset(4), objectstore.WithChunkSize(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Position())
	got, err := st.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "456789", string(got))

	st, err = s.Stream(ctx, objpath.Raw("digits"), objectstore.WithOffset(10))
	require.NoError(t, err)
	assert.False(t, st.Next())
	assert.NoError(t, st.Err())
	require.NoError(t, st.Close())

	_, err = s.Stream(ctx, objpath.Raw("digits"), objectstore.WithOffset(11))
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
}

func testAsyncMatchesBlocking(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()
	loc := objpath.Raw("async/obj")

	_, err := s.PutAsync(ctx, loc, []byte("hello")).Result()
	require.NoError(t, err)

	got, err := s.GetAsync(ctx, loc).Wait(ctx)
	require.NoError(t, err)
	blocking, err := s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, blocking, got)

	meta, err := s.HeadAsync(ctx, loc).Result()
	require.NoError(t, err)
	blockingMeta, err := s.Head(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, blockingMeta.Location, meta.Location)
	assert.Equal(t, blockingMeta.Size, meta.Size)

	rng, err := s.GetRangeAsync(ctx, loc, 1, 3).Result()
	require.NoError(t, err)
	assert.Equal(t, "ell", string(rng))

	_, asyncErr := s.GetRangeAsync(ctx, loc, 3, 9).Result()
	_, blockingErr := s.GetRange(ctx, loc, 3, 9)
	assert.Equal(t, objectstore.KindOf(blockingErr), objectstore.KindOf(asyncErr))
	assert.ErrorIs(t, asyncErr, objectstore.ErrOutOfRange)

	_, asyncErr = s.GetAsync(ctx, objpath.Raw("nope")).Result()
	assert.ErrorIs(t, asyncErr, objectstore.ErrNotFound)

	listed, err := s.ListAsync(ctx, objpath.Raw("async")).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"async/obj"}, locations(listed))

	res, err := s.ListWithDelimiterAsync(ctx, nil).Result()
	require.NoError(t, err)
	assert.Equal(t, []objpath.Path{objpath.MustParse("async")}, res.CommonPrefixes)

	_, err = s.CopyAsync(ctx, loc, objpath.Raw("async/copy")).Result()
	require.NoError(t, err)
	_, err = s.CopyIfNotExistsAsync(ctx, loc, objpath.Raw("async/copy")).Result()
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
	_, err = s.RenameAsync(ctx, objpath.Raw("async/copy"), objpath.Raw("async/renamed")).Result()
	require.NoError(t, err)
	_, err = s.RenameIfNotExistsAsync(ctx, objpath.Raw("async/renamed"), loc).Result()
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
	_, err = s.PutReaderAsync(ctx, objpath.Raw("async/reader"), strings.NewReader("rd")).Result()
	require.NoError(t, err)

	st, err := s.StreamAsync(ctx, loc, objectstore.WithChunkSize(2)).Result()
	require.NoError(t, err)
	streamed, err := st.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(streamed))

	_, err = s.DeleteAsync(ctx, loc).Result()
	require.NoError(t, err)
	_, err = s.HeadAsync(ctx, loc).Result()
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testScenario(t *testing.T, s *objectstore.Store) {
	ctx := context.Background()

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)

	loc := objpath.MustParse("d/f.json")
	require.NoError(t, s.Put(ctx, loc, []byte("x")))

	all, err = s.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, loc, all[0].Location)

	res, err := s.ListWithDelimiter(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Equal(t, []objpath.Path{objpath.MustParse("d")}, res.CommonPrefixes)

	got, err := s.GetRange(ctx, loc, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	_, err = s.GetRange(ctx, loc, 5, 1)
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)

	require.NoError(t, s.Delete(ctx, loc))
	_, err = s.Get(ctx, loc)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func testConcurrentCopyIfNotExists(t *testing.T, s *objectstore.Store) {
	if !s.Capabilities().ConditionalCopy {
		t.Skip("driver has no atomic conditional copy")
	}
	ctx := context.Background()
	const writers = 8
	for i := range writers {
		put(t, s, fmt.Sprintf("src/%d", i), fmt.Sprintf("writer-%d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CopyIfNotExists(ctx, objpath.Raw(fmt.Sprintf("src/%d", i)), objpath.Raw("dst"))
			if err == nil {
				mu.Lock()
				winners = append(winners, i)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	got, err := s.Get(ctx, objpath.Raw("dst"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("writer-%d", winners[0]), string(got))
}
