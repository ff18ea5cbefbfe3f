package scopes

import "log/slog"

// Logger is the logging surface the scope and lifecycle layer reports
// through. Args are alternating key/value pairs, slog style.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// WithComponent returns a new logger with the component field added
	WithComponent(component string) Logger
}

// SlogAdapter implements the Logger interface using slog.
type SlogAdapter struct {
	slog *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter.
func NewSlogAdapter(slogLogger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{slog: slogLogger}
}

func (s *SlogAdapter) Debug(msg string, args ...interface{}) {
	s.slog.Debug(msg, args...)
}

func (s *SlogAdapter) Info(msg string, args ...interface{}) {
	s.slog.Info(msg, args...)
}

func (s *SlogAdapter) Warn(msg string, args ...interface{}) {
	s.slog.Warn(msg, args...)
}

func (s *SlogAdapter) Error(msg string, args ...interface{}) {
	s.slog.Error(msg, args...)
}

// WithComponent returns a new logger with the component field added.
func (s *SlogAdapter) WithComponent(component string) Logger {
	return &SlogAdapter{slog: s.slog.With("component", component)}
}

func defaultLogger() Logger {
	return NewSlogAdapter(slog.Default())
}
