package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore/storetest"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

func TestConformanceOS(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		d, err := New(t.TempDir())
		require.NoError(t, err)
		return objectstore.New(d)
	})
}

func TestConformanceMemMapFs(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *objectstore.Store {
		return objectstore.New(NewWithFs(afero.NewMemMapFs()))
	})
}

func TestCapabilities(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	assert.True(t, d.Capabilities().ConditionalCopy)
	assert.NotEmpty(t, d.Root())

	assert.False(t, NewWithFs(afero.NewMemMapFs()).Capabilities().ConditionalCopy)
}

func TestPutLeavesNoStagingFiles(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "a/b.txt", []byte("one")))
	require.NoError(t, d.Put(ctx, "a/b.txt", []byte("two")))

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name())

	got, err := os.ReadFile(filepath.Join(dir, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	staged, err := os.ReadDir(filepath.Join(dir, StagingDir))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestReservedStagingKeys(t *testing.T) {
	s := objectstore.New(NewWithFs(afero.NewMemMapFs()))
	ctx := context.Background()

	for _, key := range []string{StagingDir, StagingDir + "/x"} {
		err := s.Put(ctx, objpath.Raw(key), []byte("x"))
		assert.ErrorIs(t, err, objectstore.ErrInvalidPath, key)
	}

	require.NoError(t, s.Put(ctx, objpath.Raw("d/"+StagingDir), []byte("nested is fine")))
	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d/"+StagingDir, all[0].Location.String())
}

func TestMissingBelowFileOnDisk(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "a", []byte("file")))

	_, err = d.Head(ctx, "a/b")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, err = d.Get(ctx, "a/b", nil)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	assert.ErrorIs(t, d.Delete(ctx, "a/b"), objectstore.ErrNotFound)
	assert.ErrorIs(t, d.Copy(ctx, "a/b", "c", false), objectstore.ErrNotFound)
	assert.ErrorIs(t, d.Rename(ctx, "a/b", "c", true), objectstore.ErrNotFound)

	entries, err := d.List(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListHidesStagingAndExcluded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/"+StagingDir+"/1234-readme.md", []byte("partial"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/docs/.readme.md.tmp", []byte("x"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.md", []byte("x"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/docs/cache/blob", []byte("x"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/docs/notes.log", []byte("x"), 0o640))

	d := NewWithFs(fs, WithExcludes("**/cache/", "*.log", "**/*.log"))
	entries, err := d.List(context.Background(), "")
	require.NoError(t, err)

	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"docs/.readme.md.tmp", "docs/readme.md"}, keys)
}

func TestIsExcluded(t *testing.T) {
	d := NewWithFs(afero.NewMemMapFs(), WithExcludes("tmp/", "*.bak"))
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"dotfile", "a/b/.c.tmp", false},
		{"excluded directory", "tmp/", true},
		{"file in excluded directory", "tmp/a/b", true},
		{"pattern without slash matches top level only", "x.bak", true},
		{"nested backup", "dir/x.bak", false},
		{"regular file", "a/b.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.isExcluded(tt.key); got != tt.want {
				t.Errorf("isExcluded(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestDeletePrunesEmptyParents(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "a/b/c/leaf", []byte("x")))
	require.NoError(t, d.Put(ctx, "a/keep", []byte("x")))
	require.NoError(t, d.Delete(ctx, "a/b/c/leaf"))

	_, err = os.Stat(filepath.Join(dir, "a", "b"))
	assert.True(t, os.IsNotExist(err), "empty parents should be removed")
	_, err = os.Stat(filepath.Join(dir, "a", "keep"))
	assert.NoError(t, err)
	_, err = os.Stat(dir)
	assert.NoError(t, err, "root must survive")
}

func TestRejectsEscapingKeys(t *testing.T) {
	d := NewWithFs(afero.NewMemMapFs())
	ctx := context.Background()
	for _, key := range []string{"../etc/passwd", "a/../../b", "a//b", "./a"} {
		err := d.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, objectstore.ErrInvalidPath, key)
	}
}

func TestDirectoryIsNotAnObject(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a/b", []byte("x"), 0o640))
	d := NewWithFs(fs)

	_, err := d.Head(context.Background(), "a")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, err = d.Get(context.Background(), "a", nil)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestRangedRead(t *testing.T) {
	s := objectstore.New(NewWithFs(afero.NewMemMapFs()))
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, objpath.Raw("f"), []byte("0123456789")))

	got, err := s.GetRange(ctx, objpath.Raw("f"), 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got))
}

func TestConditionalRenameKeepsDestination(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.Put(ctx, "src", []byte("new")))
	require.NoError(t, d.Put(ctx, "dst", []byte("old")))

	err = d.Rename(ctx, "src", "dst", true)
	require.ErrorIs(t, err, objectstore.ErrAlreadyExists)

	_, err = d.Head(ctx, "src")
	assert.NoError(t, err, "source must survive a refused rename")
	res, err := d.Get(ctx, "dst", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	got, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}
