package telemetry

import "log"

// Logger is the printf-style seam injected into server components. Both the
// stdlib logger and test recorders satisfy it through the adapters below.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a stdlib logger. A nil logger yields a silent Logger.
func WrapLogger(logger *log.Logger) Logger {
	return &stdLogger{inner: logger}
}

type stdLogger struct {
	inner *log.Logger
}

func (l *stdLogger) Printf(format string, args ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Printf(format, args...)
}

// Metrics exposes the keyed counters server components record into. Add
// accumulates, Store overwrites.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// NopMetrics discards every measurement.
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}
