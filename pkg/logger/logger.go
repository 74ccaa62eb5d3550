package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger reports user-facing progress of bulk store operations.
type Logger interface {
	Upload(localPath, target string)
	Delete(target string)
	Copy(source, target string)
	Move(source, target string)
	Error(operation, path string, err error)
	Debug(message string)
}

// SyncLogger prints one line per operation in the style of `aws s3 sync`.
type SyncLogger struct {
	IsDryRun  bool
	IsQuiet   bool
	IsVerbose bool
	// Out and ErrOut default to os.Stdout and os.Stderr.
	Out    io.Writer
	ErrOut io.Writer

	mu sync.Mutex
}

func (l *SyncLogger) printf(w io.Writer, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

func (l *SyncLogger) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stdout
}

func (l *SyncLogger) errOut() io.Writer {
	if l.ErrOut != nil {
		return l.ErrOut
	}
	return os.Stderr
}

func (l *SyncLogger) prefix() string {
	if l.IsDryRun {
		return "(dryrun) "
	}
	return ""
}

func (l *SyncLogger) Upload(localPath, target string) {
	if l.IsQuiet {
		return
	}
	l.printf(l.out(), "%supload: %s to %s\n", l.prefix(), localPath, target)
}

func (l *SyncLogger) Delete(target string) {
	if l.IsQuiet {
		return
	}
	l.printf(l.out(), "%sdelete: %s\n", l.prefix(), target)
}

func (l *SyncLogger) Copy(source, target string) {
	if l.IsQuiet {
		return
	}
	l.printf(l.out(), "%scopy: %s to %s\n", l.prefix(), source, target)
}

func (l *SyncLogger) Move(source, target string) {
	if l.IsQuiet {
		return
	}
	l.printf(l.out(), "%smove: %s to %s\n", l.prefix(), source, target)
}

// Error is printed even in quiet mode.
func (l *SyncLogger) Error(operation, path string, err error) {
	l.printf(l.errOut(), "%s failed: %s: %v\n", operation, path, err)
}

func (l *SyncLogger) Debug(message string) {
	if !l.IsVerbose || l.IsQuiet {
		return
	}
	l.printf(l.errOut(), "debug: %s\n", message)
}

type NullLogger struct{}

func (NullLogger) Upload(localPath, target string)         {}
func (NullLogger) Delete(target string)                    {}
func (NullLogger) Copy(source, target string)              {}
func (NullLogger) Move(source, target string)              {}
func (NullLogger) Error(operation, path string, err error) {}
func (NullLogger) Debug(message string)                    {}
