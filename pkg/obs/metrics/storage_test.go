package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-object-store/pkg/driver/memory"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

func TestObserveLabelsByKind(t *testing.T) {
	m := NewStorageMetrics(nil)
	m.Observe(objectstore.OpPut, 5, nil, time.Millisecond)
	m.Observe(objectstore.OpGet, 0, objectstore.ErrNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues(objectstore.OpPut, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues(objectstore.OpGet, "not_found")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytes.WithLabelValues(objectstore.OpPut)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency))
}

func TestStoreReportsToMetrics(t *testing.T) {
	m := NewStorageMetrics(nil)
	s := objectstore.New(memory.New(), objectstore.WithObserver(m))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, objpath.Raw("a/b"), []byte("hello")))
	_, err := s.Get(ctx, objpath.Raw("a/b"))
	require.NoError(t, err)
	_, err = s.Head(ctx, objpath.Raw("missing"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues(objectstore.OpPut, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues(objectstore.OpHead, "not_found")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.bytes.WithLabelValues(objectstore.OpGet)))
}

func TestWriteFile(t *testing.T) {
	m := NewStorageMetrics(nil)
	m.Observe(objectstore.OpDelete, 0, nil, time.Millisecond)

	path := filepath.Join(t.TempDir(), "objstore.prom")
	require.NoError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `objstore_storage_ops_total{op="delete",result="ok"} 1`))
}
