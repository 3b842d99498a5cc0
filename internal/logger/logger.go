// Package logger provides a small structured-logging facade so the rest of
// chzzkrecd depends on an interface, not directly on zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the logging contract used throughout the daemon.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})

	// With returns a derived logger tagged with a component name, the way
	// each subsystem (poller, supervisor, downloader, ...) identifies its
	// own log lines.
	With(component string) Logger
}

// ZeroLogger wraps zerolog.Logger behind the Logger interface.
type ZeroLogger struct {
	zerolog.Logger
}

// New creates a root logger writing JSON lines to w at the given level.
// level is one of "debug", "info", "warn", "error"; unrecognized values
// default to "info".
func New(level string, w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &ZeroLogger{zl}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZeroLogger) Debugf(format string, v ...interface{}) {
	l.Logger.Debug().Msg(fmt.Sprintf(format, v...))
}

func (l *ZeroLogger) Infof(format string, v ...interface{}) {
	l.Logger.Info().Msg(fmt.Sprintf(format, v...))
}

func (l *ZeroLogger) Warnf(format string, v ...interface{}) {
	l.Logger.Warn().Msg(fmt.Sprintf(format, v...))
}

func (l *ZeroLogger) Errorf(format string, v ...interface{}) {
	l.Logger.Error().Msg(fmt.Sprintf(format, v...))
}

func (l *ZeroLogger) With(component string) Logger {
	return &ZeroLogger{l.Logger.With().Str("component", component).Logger()}
}

// NopLogger discards everything; useful as a test double.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (n NopLogger) With(string) Logger          { return n }
