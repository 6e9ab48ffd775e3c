package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
)

// Level represents the severity of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	base         atomic.Pointer[log.Logger]

	// outputMu guards the currently open log file, if any
	outputMu sync.Mutex
	output   io.Closer
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	base.Store(&log.Logger{Handler: NewTextHandler(os.Stdout), Level: log.DebugLevel})
}

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) apex() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(level string) {
	l, err := ParseLevel(level)
	if err != nil {
		return
	}
	currentLevel.Store(int32(l))
}

// GetLevel returns the current minimum log level
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Configure sets level, record format ("text" or "json") and destination.
//
// Output is "stdout", "stderr" or a file path opened in append mode. A
// previously opened log file is closed once the new handler is installed.
func Configure(level, format, out string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var (
		w      io.Writer
		closer io.Closer
	)
	switch strings.ToLower(out) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", out, err)
		}
		w, closer = f, f
	}

	var handler log.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = NewTextHandler(w)
	case "json":
		handler = json.New(w)
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return fmt.Errorf("unknown log format %q", format)
	}

	SetOutput(handler, closer)
	currentLevel.Store(int32(l))
	return nil
}

// SetOutput installs a handler directly. closer, if non-nil, is closed when
// the handler is replaced again.
func SetOutput(handler log.Handler, closer io.Closer) {
	base.Store(&log.Logger{Handler: handler, Level: log.DebugLevel})

	outputMu.Lock()
	prev := output
	output = closer
	outputMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
}

func logf(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}
	emit(base.Load().WithFields(log.Fields{}), level, fmt.Sprintf(format, v...))
}

func emit(e *log.Entry, level Level, msg string) {
	switch level {
	case LevelDebug:
		e.Debug(msg)
	case LevelInfo:
		e.Info(msg)
	case LevelWarn:
		e.Warn(msg)
	default:
		e.Error(msg)
	}
}

// Debug logs a debug message
func Debug(format string, v ...any) {
	logf(LevelDebug, format, v...)
}

// Info logs an info message
func Info(format string, v ...any) {
	logf(LevelInfo, format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...any) {
	logf(LevelWarn, format, v...)
}

// Error logs an error message
func Error(format string, v ...any) {
	logf(LevelError, format, v...)
}

// Entry is a logger bound to a fixed set of fields, typically one connection.
type Entry struct {
	fields log.Fields
}

// With returns an Entry that attaches fields to every record it emits.
func With(fields map[string]any) *Entry {
	f := make(log.Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &Entry{fields: f}
}

// With returns a copy of the entry extended with another field.
func (e *Entry) With(key string, value any) *Entry {
	f := make(log.Fields, len(e.fields)+1)
	for k, v := range e.fields {
		f[k] = v
	}
	f[key] = value
	return &Entry{fields: f}
}

func (e *Entry) logf(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}
	emit(base.Load().WithFields(e.fields), level, fmt.Sprintf(format, v...))
}

func (e *Entry) Debug(format string, v ...any) { e.logf(LevelDebug, format, v...) }
func (e *Entry) Info(format string, v ...any)  { e.logf(LevelInfo, format, v...) }
func (e *Entry) Warn(format string, v ...any)  { e.logf(LevelWarn, format, v...) }
func (e *Entry) Error(format string, v ...any) { e.logf(LevelError, format, v...) }
