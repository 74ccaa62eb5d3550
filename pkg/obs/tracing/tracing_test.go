package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yuya-takeyama/strict-object-store/pkg/driver/memory"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: true, SampleRatio: 1})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEndpointHelpers(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4318", "collector:4318", false},
		{"localhost:4318", "localhost:4318", true},
		{"collector.example.com:4318", "collector.example.com:4318", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.host, stripScheme(tt.endpoint))
			assert.Equal(t, tt.insecure, isInsecure(tt.endpoint))
		})
	}
}

func TestStoreSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	s := objectstore.New(memory.New(), objectstore.WithTracer(tp.Tracer("test")))
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, objpath.Raw("a"), []byte("x")))
	_, err := s.Head(ctx, objpath.Raw("missing"))
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "objectstore.put", spans[0].Name())
	assert.Equal(t, "objectstore.head", spans[1].Name())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}
