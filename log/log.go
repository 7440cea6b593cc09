// Package log is a thin scoped-logger layer over zerolog.
package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Attr adds a field to a logger context.
type Attr func(zerolog.Context) zerolog.Context

// Logger is a scoped logger. The zero value discards everything.
type Logger struct {
	zl zerolog.Logger
}

//nolint:gochecknoglobals
var root = zerolog.Nop()

// ParseLevel calls [zerolog.ParseLevel].
func ParseLevel(s string) (zerolog.Level, error) {
	return zerolog.ParseLevel(s) //nolint:wrapcheck
}

// InitGlobals configures the process-wide logger and returns it.
func InitGlobals(level zerolog.Level, json, noColor bool) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.SetGlobalLevel(level)

	var l zerolog.Logger
	if json {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "2006-01-02 15:04:05.000",
		})
	}

	root = l.Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &root

	return Logger{zl: root}
}

// New returns a logger for the scope, e.g. "repl:engine".
func New(scope string) Logger {
	return Logger{zl: root.With().Str("s", scope).Logger()}
}

// Ctx returns the logger stored in ctx or the global logger.
func Ctx(ctx context.Context) Logger {
	return Logger{zl: *zerolog.Ctx(ctx)}
}

// With returns a child logger with the attributes.
func (l Logger) With(attrs ...Attr) Logger {
	c := l.zl.With()
	for _, a := range attrs {
		c = a(c)
	}

	return Logger{zl: c.Logger()}
}

// WithContext stores the logger in ctx.
func (l Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// Unwrap exposes the underlying zerolog logger.
func (l Logger) Unwrap() *zerolog.Logger {
	return &l.zl
}

func (l Logger) Trace(msg string) {
	l.zl.Trace().Msg(msg)
}

func (l Logger) Tracef(format string, args ...any) {
	l.zl.Trace().Msgf(format, args...)
}

func (l Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

func (l Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

func (l Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs err with msg. A nil err logs msg alone.
func (l Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(msg)
}

func (l Logger) Errorf(err error, format string, args ...any) {
	l.zl.Error().Err(err).Msgf(format, args...)
}
