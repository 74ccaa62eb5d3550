package datastore

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		s := objectstore.New(NewInMemory())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestListUsesStringPrefix(t *testing.T) {
	ctx := context.Background()
	d := NewInMemory()
	for _, k := range []string{"a/b", "a/bc", "a/b/c", "ab", "z"} {
		require.NoError(t, d.Put(ctx, k, []byte(k)))
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"a/b", "a/b/c", "a/bc", "ab", "z"}},
		{"a", []string{"a/b", "a/b/c", "a/bc", "ab"}},
		{"a/b", []string{"a/b", "a/b/c", "a/bc"}},
		{"a/b/", []string{"a/b/c"}},
		{"q", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			entries, err := d.List(ctx, tt.prefix)
			require.NoError(t, err)
			var keys []string
			for _, e := range entries {
				keys = append(keys, e.Key)
			}
			assert.ElementsMatch(t, tt.want, keys)
		})
	}
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := ds.NewMapDatastore()
	require.NoError(t, store.Put(ctx, ds.NewKey("/broken"), []byte{1, 2}))

	_, err := New(store).Head(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt record")
}

func TestConditionalCopyRefusesExisting(t *testing.T) {
	ctx := context.Background()
	d := NewInMemory()
	require.NoError(t, d.Put(ctx, "src", []byte("a")))
	require.NoError(t, d.Put(ctx, "dst", []byte("b")))

	err := d.Copy(ctx, "src", "dst", true)
	assert.ErrorIs(t, err, objectstore.ErrAlreadyExists)
	assert.False(t, d.Capabilities().ConditionalCopy)
}
