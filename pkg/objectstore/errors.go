package objectstore

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Sentinel errors. Drivers return (or wrap) ErrNotFound, ErrAlreadyExists and
// ErrOutOfRange to report those conditions; the Store turns every failure into
// an *Error whose kind matches one of these through errors.Is.
var (
	ErrInvalidPath   = objpath.ErrInvalidPath
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrOutOfRange    = errors.New("byte range out of bounds")
	ErrBackend       = errors.New("backend failure")
)

// Kind classifies a Store failure.
type Kind uint8

const (
	KindBackend Kind = iota
	KindInvalidPath
	KindNotFound
	KindAlreadyExists
	KindOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPath:
		return "invalid_path"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindOutOfRange:
		return "out_of_range"
	default:
		return "backend"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidPath:
		return ErrInvalidPath
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindOutOfRange:
		return ErrOutOfRange
	default:
		return ErrBackend
	}
}

// Error is returned by every Store operation that fails.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Err != nil && e.Err != e.Kind.sentinel() {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, ErrNotFound) and errors.Is(err, context.Canceled) both work.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf classifies err. Errors that carry no recognizable signal are backend failures.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return KindInvalidPath
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, ErrOutOfRange):
		return KindOutOfRange
	default:
		return KindBackend
	}
}

// wrapErr normalizes a driver or validation error into an *Error. Errors that
// already are *Error keep their classification.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Path: path, Kind: classify(err), Err: err}
}

func newErr(op, path string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Path: path, Kind: kind, Err: fmt.Errorf(format, args...)}
}
