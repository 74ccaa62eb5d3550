// Package metrics exposes Prometheus collectors for object store operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
)

const namespace = "objstore"

// StorageMetrics holds Prometheus collectors for storage-layer instrumentation.
// It implements objectstore.Observer.
type StorageMetrics struct {
	reg     *prometheus.Registry
	bytes   *prometheus.CounterVec
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var _ objectstore.Observer = (*StorageMetrics)(nil)

// NewStorageMetrics registers storage metrics on the provided registry.
// A nil registry gets a fresh one.
func NewStorageMetrics(reg *prometheus.Registry) *StorageMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "bytes_total",
		Help:      "Total bytes read or written by store operations.",
	}, []string{"op"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "ops_total",
		Help:      "Total number of store operations by result.",
	}, []string{"op", "result"}) // result = "ok" | error kind
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "op_duration_seconds",
		Help:      "Histogram of store operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	_ = reg.Register(bytes)
	_ = reg.Register(ops)
	_ = reg.Register(latency)

	return &StorageMetrics{
		reg:     reg,
		bytes:   bytes,
		ops:     ops,
		latency: latency,
	}
}

// Registry returns the registry the collectors live in.
func (m *StorageMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// Observe records a store operation with optional bytes and error.
// dur must be the total time spent in the operation.
func (m *StorageMetrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = objectstore.KindOf(err).String()
	}
	if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

// WriteFile writes all metrics in the text exposition format to path,
// for pickup by the node exporter textfile collector.
func (m *StorageMetrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
