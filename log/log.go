// Package log implements support for structured logging.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// log.DefaultCaller + 1 for this module's leveling wrapper.
const defaultCallerUnwind = 4

// Logger is a structured logger.
type Logger struct {
	base   log.Logger // without the caller prefix, so the unwind depth can be changed
	logger log.Logger
	level  Level
	module string
	unwind int
}

// NewDefaultLogger initializes a new logger instance with default settings.
// For usage outside tests, prefer RootLogger() from package `cmd/common`.
func NewDefaultLogger(module string) *Logger {
	logger, err := NewLogger(module, os.Stdout, FmtJSON, LevelInfo)
	if err != nil {
		// Shouldn't happen as NewLogger can only fail if an invalid format is provided.
		panic(err)
	}
	return logger
}

// NewNopLogger returns a logger that discards everything. Useful in tests.
func NewNopLogger() *Logger {
	return &Logger{
		base:   log.NewNopLogger(),
		logger: log.NewNopLogger(),
		level:  LevelError,
		module: "nop",
		unwind: defaultCallerUnwind,
	}
}

// NewLogger initializes a new logger instance.
func NewLogger(module string, w io.Writer, format Format, lvl Level) (*Logger, error) {
	var base log.Logger
	switch format {
	case FmtLogfmt:
		base = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FmtJSON:
		base = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("log: unsupported log format: %v", format)
	}

	return &Logger{
		base:   base,
		logger: withPrefixes(base, defaultCallerUnwind),
		level:  lvl,
		module: module,
		unwind: defaultCallerUnwind,
	}, nil
}

func withPrefixes(base log.Logger, unwind int) log.Logger {
	return log.WithPrefix(base,
		"ts", log.DefaultTimestampUTC,
		"caller", log.Caller(unwind),
	)
}

// Debug logs the message and key value pairs at the Debug log level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Debug(l.logger).Log(keyvals...)
}

// Info logs the message and key value pairs at the Info log level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Info(l.logger).Log(keyvals...)
}

// Warn logs the message and key value pairs at the Warn log level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Warn(l.logger).Log(keyvals...)
}

// Error logs the message and key value pairs at the Error log level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l.level > LevelError {
		return
	}
	keyvals = append([]interface{}{"module", l.module, "msg", msg}, keyvals...)
	_ = level.Error(l.logger).Log(keyvals...)
}

// With returns a clone of the logger with the provided key/value pairs
// added as context for all subsequent logs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		base:   log.With(l.base, keyvals...),
		logger: log.With(l.logger, keyvals...),
		level:  l.level,
		module: l.module,
		unwind: l.unwind,
	}
}

// WithModule returns a clone of the logger with the provided module
// added as context for all subsequent logs.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		base:   l.base,
		logger: l.logger,
		level:  l.level,
		module: module,
		unwind: l.unwind,
	}
}

// WithCallerUnwind returns a clone of the logger that reports the caller
// `unwind` frames up the stack. Needed when the logger is called through
// adapters such as WriterIntoLogger.
func (l *Logger) WithCallerUnwind(unwind int) *Logger {
	return &Logger{
		base:   l.base,
		logger: withPrefixes(l.base, unwind),
		level:  l.level,
		module: l.module,
		unwind: unwind,
	}
}

// Level is the logging level.
func (l *Logger) Level() Level {
	return l.level
}

// writerIntoLogger forwards each written line to the logger at Info level.
type writerIntoLogger struct {
	logger Logger
}

func (w writerIntoLogger) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// WriterIntoLogger returns an io.Writer that logs every write as a single
// Info message. Intended for libraries that only accept a std logger.
func WriterIntoLogger(logger Logger) io.Writer {
	return writerIntoLogger{logger: logger}
}
