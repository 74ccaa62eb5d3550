package s3

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/internal/s3client"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore/storetest"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

func newTestDriver(fake *fakeS3, prefix string, opts ...Option) *Driver {
	client := s3client.New(fake).WithRetryPolicy(3, time.Millisecond, time.Millisecond)
	return New(client, "bucket", prefix, opts...)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		return objectstore.New(newTestDriver(newFakeS3(), "base"))
	})
}

func TestConformanceWithoutConditionalWrites(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		return objectstore.New(newTestDriver(newFakeS3(), "", WithoutConditionalWrites()))
	})
}

func TestKeysLiveBelowPrefix(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "/base/dir/")
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "a/b", []byte("x")))
	_, ok := fake.objects["base/dir/a/b"]
	assert.True(t, ok, "object should be stored under the driver prefix")

	fake.store("elsewhere/c", []byte("y"))
	entries, err := d.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b", entries[0].Key)
}

func TestRangedGetReportsFullSize(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "")
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "k", []byte("hello world")))

	res, err := d.Get(ctx, "k", &objectstore.ByteRange{Start: 6, Length: 5})
	require.NoError(t, err)
	defer res.Body.Close()
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
	assert.EqualValues(t, 11, res.Entry.Size)
	assert.NotContains(t, res.Entry.ETag, `"`)
}

func TestRangedGetPastEnd(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "")
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "k", []byte("abc")))

	tests := []struct {
		name string
		rng  objectstore.ByteRange
	}{
		{"clamped by server", objectstore.ByteRange{Start: 1, Length: 5}},
		{"unsatisfiable", objectstore.ByteRange{Start: 3, Length: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Get(ctx, "k", &tt.rng)
			assert.ErrorIs(t, err, objectstore.ErrOutOfRange)
		})
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"precondition failed", &smithy.GenericAPIError{Code: "PreconditionFailed"}, objectstore.ErrAlreadyExists},
		{"no such key code", &smithy.GenericAPIError{Code: "NoSuchKey"}, objectstore.ErrNotFound},
		{"invalid range", &smithy.GenericAPIError{Code: "InvalidRange"}, objectstore.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate("k", tt.err), tt.want)
		})
	}

	err := translate("k", &smithy.GenericAPIError{Code: "AccessDenied"})
	assert.Equal(t, objectstore.KindBackend, objectstore.KindOf(err))
}

func TestNativeDelimiterListing(t *testing.T) {
	fake := newFakeS3()
	s := objectstore.New(newTestDriver(fake, "root"))
	ctx := context.Background()
	for _, k := range []string{"a/x", "a/y", "a/sub/1", "a/sub/2", "a/other/deep/3", "ab"} {
		require.NoError(t, s.Put(ctx, objpath.Raw(k), []byte(k)))
	}

	res, err := s.ListWithDelimiter(ctx, objpath.Raw("a"))
	require.NoError(t, err)

	require.NotNil(t, fake.lastList)
	assert.Equal(t, "root/a/", aws.ToString(fake.lastList.Prefix))
	assert.Equal(t, "/", aws.ToString(fake.lastList.Delimiter))

	var objects, prefixes []string
	for _, m := range res.Objects {
		objects = append(objects, m.Location.String())
	}
	for _, p := range res.CommonPrefixes {
		prefixes = append(prefixes, p.String())
	}
	assert.Equal(t, []string{"a/x", "a/y"}, objects)
	assert.Equal(t, []string{"a/other", "a/sub"}, prefixes)
}

func TestCopyUsesServerSideCopy(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "p")
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "dir/file name.txt", []byte("x")))

	require.NoError(t, d.Copy(ctx, "dir/file name.txt", "copy.txt", false))
	require.NotNil(t, fake.lastCopy)
	assert.Equal(t, "bucket/p/dir/file%20name.txt", aws.ToString(fake.lastCopy.CopySource))
	assert.Equal(t, "p/copy.txt", aws.ToString(fake.lastCopy.Key))
}

func TestConditionalCopyUsesIfNoneMatch(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "")
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "src", []byte("new")))
	require.NoError(t, d.Put(ctx, "dst", []byte("old")))

	err := d.Copy(ctx, "src", "dst", true)
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
	assert.Equal(t, "old", string(fake.objects["dst"].data))
	assert.Zero(t, fake.calls["CopyObject"])
}

func TestHeadRetriesThrottling(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "")
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "k", []byte("abc")))

	fake.failHead = []error{
		&smithy.GenericAPIError{Code: "SlowDown"},
		&smithy.GenericAPIError{Code: "ServiceUnavailable"},
	}
	e, err := d.Head(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 3, e.Size)
	assert.Equal(t, 3, fake.calls["HeadObject"])
}

func TestHeadDoesNotRetryNotFound(t *testing.T) {
	fake := newFakeS3()
	d := newTestDriver(fake, "")

	_, err := d.Head(context.Background(), "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.Equal(t, 1, fake.calls["HeadObject"])
}
