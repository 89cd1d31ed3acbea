package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Logger struct {
	l log.Logger
}

// New builds a logfmt logger writing to w. Messages below lvl are dropped.
func New(w io.Writer, lvl string) *Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(w))
	l = level.NewFilter(l, levelOption(lvl))
	l = log.With(l, "ts", log.DefaultTimestampUTC)

	return &Logger{l: l}
}

// Nop discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{l: log.NewNopLogger()}
}

func levelOption(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// With returns a child logger that adds keyvals to every line.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{l: log.With(l.l, keyvals...)}
}

// Kit exposes the underlying go-kit logger for libraries that want one.
func (l *Logger) Kit() log.Logger {
	return l.l
}

func (l *Logger) LogErrorf(format string, v ...any) {
	_ = level.Error(l.l).Log("msg", fmt.Sprintf(format, v...))
}

func (l *Logger) LogWarnf(format string, v ...any) {
	_ = level.Warn(l.l).Log("msg", fmt.Sprintf(format, v...))
}

func (l *Logger) LogInfo(format string, v ...any) {
	_ = level.Info(l.l).Log("msg", fmt.Sprintf(format, v...))
}

func (l *Logger) LogDebugf(format string, v ...any) {
	_ = level.Debug(l.l).Log("msg", fmt.Sprintf(format, v...))
}

// Log writes a structured line at info level.
func (l *Logger) Log(keyvals ...any) {
	_ = level.Info(l.l).Log(keyvals...)
}
