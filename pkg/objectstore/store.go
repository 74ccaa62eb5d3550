// Package objectstore provides a backend-agnostic object storage API.
//
// A Store validates locations, dispatches to a Driver and normalizes every
// failure into an *Error. Each operation exists in a blocking form and an
// Async form returning a Future; both run the same code.
package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

const tracerName = "github.com/yuya-takeyama/strict-object-store/pkg/objectstore"

// DefaultChunkSize is the stream chunk size used when none is configured.
const DefaultChunkSize = 64 << 10

// Operation names used for errors, spans, logs and observers.
const (
	OpHead              = "head"
	OpGet               = "get"
	OpGetRange          = "get_range"
	OpStream            = "stream"
	OpPut               = "put"
	OpDelete            = "delete"
	OpList              = "list"
	OpListWithDelimiter = "list_with_delimiter"
	OpCopy              = "copy"
	OpCopyIfNotExists   = "copy_if_not_exists"
	OpRename            = "rename"
	OpRenameIfNotExists = "rename_if_not_exists"
)

// Observer receives one call per completed operation.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

// Store is the public object storage façade. It is safe for concurrent use
// and holds no locks around driver calls.
type Store struct {
	driver    Driver
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer
	chunkSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver reports every operation to o.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithDefaultChunkSize sets the chunk size for streams opened without WithChunkSize.
func WithDefaultChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// New wraps driver in a Store.
func New(driver Driver, opts ...Option) *Store {
	s := &Store{
		driver:    driver,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver returns the underlying driver.
func (s *Store) Driver() Driver {
	return s.driver
}

// Capabilities reports what the driver guarantees natively. ConditionalCopy
// false means CopyIfNotExists and RenameIfNotExists are emulated and not atomic.
func (s *Store) Capabilities() Capabilities {
	return s.driver.Capabilities()
}

// Close releases the driver if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// run executes fn inside a span, reports it to the observer and normalizes its error.
func run[T any](ctx context.Context, s *Store, op, path string, fn func(context.Context) (T, int64, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "objectstore."+op,
		trace.WithAttributes(
			attribute.String("objectstore.op", op),
			attribute.String("objectstore.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	v, n, err := fn(ctx)
	err = wrapErr(op, path, err)
	dur := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		s.logger.DebugContext(ctx, "object store operation failed",
			slog.String("op", op),
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.Duration("duration", dur),
		)
	} else {
		s.logger.DebugContext(ctx, "object store operation",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int64("bytes", n),
			slog.Duration("duration", dur),
		)
	}
	if n > 0 {
		span.SetAttributes(attribute.Int64("objectstore.bytes", n))
	}
	if s.observer != nil {
		s.observer.Observe(op, n, err, dur)
	}
	return v, err
}

// location converts v into a path that can address an object.
func location(op string, v objpath.Like) (objpath.Path, error) {
	p, err := objpath.From(v)
	if err != nil {
		return objpath.Path{}, wrapErr(op, "", err)
	}
	if p.IsRoot() {
		return objpath.Path{}, wrapErr(op, "", &objpath.InvalidPathError{Reason: "root is not an object location"})
	}
	return p, nil
}

// prefixPath converts a listing prefix. A nil prefix is the root.
func prefixPath(op string, v objpath.Like) (objpath.Path, error) {
	if v == nil {
		return objpath.Root(), nil
	}
	p, err := objpath.From(v)
	if err != nil {
		return objpath.Path{}, wrapErr(op, "", err)
	}
	return p, nil
}

func isNotFound(err error) bool {
	return err != nil && classify(err) == KindNotFound
}

var errShortRead = errors.New("backend returned fewer bytes than requested")
