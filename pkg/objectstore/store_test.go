package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/driver/memory"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore/storetest"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// hookDriver delegates to a memory driver and lets tests intercept calls.
type hookDriver struct {
	inner       *memory.Driver
	caps        objectstore.Capabilities
	calls       atomic.Int64
	wrapBody    func(key string, body io.ReadCloser) io.ReadCloser
	beforeGet   func(ctx context.Context) error
	deleteErr   map[string]error
	extraListed []objectstore.Entry
}

func newHookDriver(conditional bool) *hookDriver {
	return &hookDriver{
		inner:     memory.New(),
		caps:      objectstore.Capabilities{ConditionalCopy: conditional},
		deleteErr: map[string]error{},
	}
}

func (d *hookDriver) Get(ctx context.Context, key string, rng *objectstore.ByteRange) (*objectstore.GetResult, error) {
	d.calls.Add(1)
	if d.beforeGet != nil {
		if err := d.beforeGet(ctx); err != nil {
			return nil, err
		}
	}
	res, err := d.inner.Get(ctx, key, rng)
	if err != nil {
		return nil, err
	}
	if d.wrapBody != nil {
		res.Body = d.wrapBody(key, res.Body)
	}
	return res, nil
}

func (d *hookDriver) Head(ctx context.Context, key string) (objectstore.Entry, error) {
	d.calls.Add(1)
	return d.inner.Head(ctx, key)
}

func (d *hookDriver) Put(ctx context.Context, key string, data []byte) error {
	d.calls.Add(1)
	return d.inner.Put(ctx, key, data)
}

func (d *hookDriver) Delete(ctx context.Context, key string) error {
	d.calls.Add(1)
	if err, ok := d.deleteErr[key]; ok {
		return err
	}
	return d.inner.Delete(ctx, key)
}

func (d *hookDriver) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	d.calls.Add(1)
	entries, err := d.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return append(entries, d.extraListed...), nil
}

func (d *hookDriver) Copy(ctx context.Context, src, dst string, conditional bool) error {
	d.calls.Add(1)
	return d.inner.Copy(ctx, src, dst, conditional)
}

func (d *hookDriver) Capabilities() objectstore.Capabilities {
	return d.caps
}

// delimiterDriver adds a native delimiter listing with canned output.
type delimiterDriver struct {
	*hookDriver
	objects  []objectstore.Entry
	prefixes []string
}

func (d *delimiterDriver) ListWithDelimiter(ctx context.Context, prefix string) ([]objectstore.Entry, []string, error) {
	return d.objects, d.prefixes, nil
}

type trackedBody struct {
	io.Reader
	closed *atomic.Bool
}

func (b trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) Observe(op string, bytes int64, err error, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "ok"
	if err != nil {
		result = objectstore.KindOf(err).String()
	}
	o.ops = append(o.ops, op+":"+result)
}

func debugLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestEmulatedConditionalCopyConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		return objectstore.New(newHookDriver(false))
	})
}

func TestEmulatedCopyIfNotExistsLogsRace(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	s := objectstore.New(newHookDriver(false), objectstore.WithLogger(debugLogger(&logs)))
	assert.False(t, s.Capabilities().ConditionalCopy)

	require.NoError(t, s.Put(ctx, objpath.Raw("src"), []byte("x")))
	require.NoError(t, s.CopyIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("dst")))
	assert.Contains(t, logs.String(), "not atomic")

	err := s.CopyIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("dst"))
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
}

func TestInvalidLocations(t *testing.T) {
	ctx := context.Background()
	d := newHookDriver(true)
	s := objectstore.New(d)

	tests := []struct {
		name string
		loc  objpath.Like
	}{
		{name: "nil", loc: nil},
		{name: "root", loc: objpath.Raw("/")},
		{name: "dot dot", loc: objpath.Raw("a/../b")},
		{name: "segment with delimiter", loc: objpath.Segments{"a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Get(ctx, tt.loc)
			assert.ErrorIs(t, err, objectstore.ErrInvalidPath)
			assert.Equal(t, objectstore.KindInvalidPath, objectstore.KindOf(err))

			err = s.Copy(ctx, objpath.Raw("ok"), tt.loc)
			assert.ErrorIs(t, err, objectstore.ErrInvalidPath)
		})
	}
	assert.Zero(t, d.calls.Load(), "invalid paths never reach the driver")
}

func TestGetRangeZeroLengthSkipsBackend(t *testing.T) {
	d := newHookDriver(true)
	s := objectstore.New(d)

	_, err := s.GetRange(context.Background(), objpath.Raw("whatever"), 0, 0)
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
	assert.Zero(t, d.calls.Load())
}

func TestGetRangeShortReadIsOutOfRange(t *testing.T) {
	ctx := context.Background()
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		data, _ := io.ReadAll(body)
		return io.NopCloser(bytes.NewReader(data[:len(data)/2]))
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	_, err := s.GetRange(ctx, objpath.Raw("f"), 2, 6)
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)

	_, err = s.Get(ctx, objpath.Raw("f"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(err))
}

func TestStreamTruncationIsTerminal(t *testing.T) {
	ctx := context.Background()
	var closed atomic.Bool
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		data, _ := io.ReadAll(body)
		return trackedBody{Reader: bytes.NewReader(data[:5]), closed: &closed}
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	st, err := s.Stream(ctx, objpath.Raw("f"), objectstore.WithChunkSize(4))
	require.NoError(t, err)

	var got []byte
	for st.Next() {
		got = append(got, st.Chunk()...)
	}
	assert.Equal(t, "0123", string(got))
	require.Error(t, st.Err())
	assert.ErrorIs(t, st.Err(), io.ErrUnexpectedEOF)
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(st.Err()))
	assert.True(t, closed.Load(), "body released after a terminal error")
	assert.False(t, st.Next())
}

func TestStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var closed atomic.Bool
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		return trackedBody{Reader: body, closed: &closed}
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	st, err := s.Stream(ctx, objpath.Raw("f"), objectstore.WithChunkSize(2))
	require.NoError(t, err)
	require.True(t, st.Next())
	cancel()

	assert.False(t, st.Next())
	assert.ErrorIs(t, st.Err(), context.Canceled)
	assert.True(t, closed.Load())
}

func TestStreamEarlyBreakReleases(t *testing.T) {
	ctx := context.Background()
	var closed atomic.Bool
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		return trackedBody{Reader: body, closed: &closed}
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), bytes.Repeat([]byte("x"), 100)))

	st, err := s.Stream(ctx, objpath.Raw("f"), objectstore.WithChunkSize(10))
	require.NoError(t, err)
	for chunk, err := range st.Chunks() {
		require.NoError(t, err)
		assert.Len(t, chunk, 10)
		break
	}
	assert.True(t, closed.Load())
	assert.Equal(t, uint64(10), st.Position())
}

func TestStreamWriteTo(t *testing.T) {
	ctx := context.Background()
	s := objectstore.New(memory.New())
	data := strings.Repeat("abc", 1000)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte(data)))

	st, err := s.Stream(ctx, objpath.Raw("f"), objectstore.WithChunkSize(128))
	require.NoError(t, err)
	var buf bytes.Buffer
	n, err := st.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, buf.String())
}

func TestRenameReportsLeftoverSource(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	d := newHookDriver(true)
	d.deleteErr["src"] = errors.New("permission denied")
	s := objectstore.New(d, objectstore.WithLogger(debugLogger(&logs)))
	require.NoError(t, s.Put(ctx, objpath.Raw("src"), []byte("x")))

	err := s.Rename(ctx, objpath.Raw("src"), objpath.Raw("dst"))
	require.Error(t, err)
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(err))
	assert.Contains(t, err.Error(), "dst was written but src could not be removed")
	assert.Contains(t, logs.String(), "source not removed")

	_, err = s.Head(ctx, objpath.Raw("dst"))
	assert.NoError(t, err)
	_, err = s.Head(ctx, objpath.Raw("src"))
	assert.NoError(t, err)
}

func TestRenameSourceAlreadyGone(t *testing.T) {
	ctx := context.Background()
	d := newHookDriver(true)
	d.deleteErr["src"] = objectstore.ErrNotFound
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("src"), []byte("x")))

	require.NoError(t, s.RenameIfNotExists(ctx, objpath.Raw("src"), objpath.Raw("dst")))
}

func TestDeleteIsIdempotent(t *testing.T) {
	d := newHookDriver(true)
	s := objectstore.New(d)
	assert.NoError(t, s.Delete(context.Background(), objpath.Raw("never/written")))
}

func TestListSkipsUnusableKeys(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	d := newHookDriver(true)
	d.extraListed = []objectstore.Entry{
		{Key: "a/../escape", Size: 1},
		{Key: "a//double", Size: 1},
		{Key: "/a/leading", Size: 1},
	}
	s := objectstore.New(d, objectstore.WithLogger(debugLogger(&logs)))
	require.NoError(t, s.Put(ctx, objpath.Raw("a/ok"), []byte("x")))

	got, err := s.List(ctx, objpath.Raw("a"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a/ok", got[0].Location.String())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "a/../escape")
}

func TestListExcludesObjectAtPrefix(t *testing.T) {
	ctx := context.Background()
	s := objectstore.New(memory.New())
	require.NoError(t, s.Put(ctx, objpath.Raw("a/b"), []byte("at prefix")))
	require.NoError(t, s.Put(ctx, objpath.Raw("a/b/c"), []byte("below")))

	got, err := s.List(ctx, objpath.Raw("a/b"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a/b/c", got[0].Location.String())

	res, err := s.ListWithDelimiter(ctx, objpath.Raw("a"))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "a/b", res.Objects[0].Location.String())
	assert.Equal(t, []objpath.Path{objpath.MustParse("a/b")}, res.CommonPrefixes)
}

func TestNativeDelimiterListingIsRepartitioned(t *testing.T) {
	d := &delimiterDriver{
		hookDriver: newHookDriver(true),
		objects: []objectstore.Entry{
			{Key: "p/z", Size: 1},
			{Key: "p/a", Size: 2},
			{Key: "p/deep/x", Size: 3},
			{Key: "pq", Size: 4},
		},
		prefixes: []string{"p/dir", "p/dir/sub", "p/deep", "other/thing"},
	}
	s := objectstore.New(d)

	res, err := s.ListWithDelimiter(context.Background(), objpath.Raw("p"))
	require.NoError(t, err)

	var objects []string
	for _, m := range res.Objects {
		objects = append(objects, m.Location.String())
	}
	assert.Equal(t, []string{"p/a", "p/z"}, objects)
	assert.Equal(t, []objpath.Path{objpath.MustParse("p/deep"), objpath.MustParse("p/dir")}, res.CommonPrefixes)
}

func TestObserverSeesEveryOperation(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	s := objectstore.New(memory.New(), objectstore.WithObserver(obs))

	require.NoError(t, s.Put(ctx, objpath.Raw("a"), []byte("x")))
	_, _ = s.Get(ctx, objpath.Raw("missing"))
	_, _ = s.List(ctx, nil)

	assert.Equal(t, []string{"put:ok", "get:not_found", "list:ok"}, obs.ops)
}

func TestErrorFormatting(t *testing.T) {
	s := objectstore.New(memory.New())
	_, err := s.Head(context.Background(), objpath.Raw("x/y"))
	require.Error(t, err)

	var se *objectstore.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, objectstore.OpHead, se.Op)
	assert.Equal(t, "x/y", se.Path)
	assert.True(t, strings.HasPrefix(err.Error(), "head x/y: object not found"))
}

func TestPutReader(t *testing.T) {
	ctx := context.Background()
	s := objectstore.New(memory.New())
	require.NoError(t, s.PutReader(ctx, objpath.Segments{"r", "file"}, strings.NewReader("from reader")))

	got, err := s.Get(ctx, objpath.Raw("r/file"))
	require.NoError(t, err)
	assert.Equal(t, "from reader", string(got))

	err = s.PutReader(ctx, objpath.Raw("broken"), io.MultiReader(strings.NewReader("x"), errReader{}))
	assert.Error(t, err)
	_, err = s.Head(ctx, objpath.Raw("broken"))
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestFutureCancelAndWait(t *testing.T) {
	d := newHookDriver(true)
	d.beforeGet = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := objectstore.New(d)
	f := s.GetAsync(context.Background(), objpath.Raw("slow"))

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-f.Done():
		t.Fatal("operation finished before it was cancelled")
	default:
	}

	f.Cancel()
	_, err = f.Result()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(err))
}

func TestStreamAsyncKeepsContextUntilClose(t *testing.T) {
	ctx := context.Background()
	s := objectstore.New(memory.New())
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	f := s.StreamAsync(ctx, objpath.Raw("f"), objectstore.WithChunkSize(3))
	st, err := f.Result()
	require.NoError(t, err)

	got, err := st.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))

	f2 := s.StreamAsync(ctx, objpath.Raw("f"), objectstore.WithChunkSize(3))
	st2, err := f2.Result()
	require.NoError(t, err)
	require.True(t, st2.Next())
	f2.Cancel()
	assert.False(t, st2.Next())
	assert.ErrorIs(t, st2.Err(), context.Canceled)
}

func TestStreamAsyncCancelReleasesAbandonedStream(t *testing.T) {
	ctx := context.Background()
	var closed atomic.Bool
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		return trackedBody{Reader: body, closed: &closed}
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	f := s.StreamAsync(ctx, objpath.Raw("f"), objectstore.WithChunkSize(3))
	st, err := f.Result()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, closed.Load())

	f.Cancel()
	assert.Eventually(t, closed.Load, time.Second, 5*time.Millisecond)
}

func TestStreamAsyncParentCancelReleasesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var closed atomic.Bool
	d := newHookDriver(true)
	d.wrapBody = func(key string, body io.ReadCloser) io.ReadCloser {
		return trackedBody{Reader: body, closed: &closed}
	}
	s := objectstore.New(d)
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	st, err := s.StreamAsync(ctx, objpath.Raw("f")).Result()
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, closed.Load, time.Second, 5*time.Millisecond)
	assert.False(t, st.Next())
	assert.ErrorIs(t, st.Err(), context.Canceled)
}
