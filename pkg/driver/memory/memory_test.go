package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore/storetest"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		return objectstore.New(New())
	})
}

func TestPutCopiesPayload(t *testing.T) {
	ctx := context.Background()
	d := New()
	data := []byte("abc")
	require.NoError(t, d.Put(ctx, "k", data))
	data[0] = 'X'

	res, err := d.Get(ctx, "k", nil)
	require.NoError(t, err)
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestVersionAndETag(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Put(ctx, "k", []byte("one")))
	first, err := d.Head(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "k", []byte("two")))
	second, err := d.Head(ctx, "k")
	require.NoError(t, err)

	assert.NotEqual(t, first.Version, second.Version)
	assert.NotEqual(t, first.ETag, second.ETag)
	assert.NotEmpty(t, first.ETag)
}

func TestRangeBeyondEnd(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Put(ctx, "k", []byte("abc")))

	_, err := d.Get(ctx, "k", &objectstore.ByteRange{Start: 2, Length: 2})
	assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := objectstore.New(New()).Put(ctx, objpath.Raw("k"), []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(err))
}
