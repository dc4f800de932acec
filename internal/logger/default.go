package logger

import (
	"io"
	"sync/atomic"
)

var defLogger atomic.Pointer[SlogLogger]

func init() {
	defLogger.Store(NewSlog(nil, InfoLevel, FormatJSON, false))
}

// Setup replaces the package default logger.
func Setup(w io.Writer, level Level, format Format) Logger {
	l := NewSlog(w, level, format, level == DebugLevel)
	defLogger.Store(l)
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() Logger {
	return NewSlog(io.Discard, ErrorLevel, FormatJSON, false)
}

func Debug(msg string, keysAndValues ...any) {
	defLogger.Load().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Load().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Load().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Load().Error(msg, keysAndValues...)
}

func SetLevel(level Level) {
	defLogger.Load().SetLevel(level)
}

func GetLogger() Logger {
	return defLogger.Load()
}

func With(keyValues ...any) Logger {
	return defLogger.Load().With(keyValues...)
}
