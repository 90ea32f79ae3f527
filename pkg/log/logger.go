package log

import (
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Format selects the output encoding.
type Format int

// Output formats
const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat converts "text" or "json" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("log: unknown format %q", s)
}

// Logger is the leveled, structured logging interface inboxq components use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger with the fields attached to every entry.
	With(fields ...Field) Logger

	// WithComponent tags entries with a component name.
	WithComponent(component string) Logger

	// SetLevel adjusts the minimum level; shared with child loggers.
	SetLevel(level Level)
}

// Option configures a logger under construction.
type Option func(*settings)

type settings struct {
	level  Level
	format Format
	out    io.Writer
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) Option {
	return func(s *settings) { s.level = level }
}

// WithFormat sets the output encoding.
func WithFormat(format Format) Option {
	return func(s *settings) { s.format = format }
}

// WithWriter directs output somewhere other than stderr.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.out = w }
}

type baseLogger struct {
	sl      *slog.Logger
	leveler *slog.LevelVar
}

// NewLogger creates a logger with the given options. Defaults: info level,
// text format, stderr.
func NewLogger(options ...Option) Logger {
	s := settings{level: InfoLevel, format: FormatText, out: os.Stderr}
	for _, opt := range options {
		opt(&s)
	}

	leveler := new(slog.LevelVar)
	leveler.Set(toSlogLevel(s.level))

	var h slog.Handler
	switch s.format {
	case FormatJSON:
		h = slog.NewJSONHandler(s.out, &slog.HandlerOptions{Level: leveler})
	default:
		h = tint.NewHandler(s.out, &tint.Options{Level: leveler, TimeFormat: time.TimeOnly})
	}
	return &baseLogger{sl: slog.New(h), leveler: leveler}
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.sl.Debug(msg, attrs(fields)...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.sl.Info(msg, attrs(fields)...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, attrs(fields)...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.sl.Error(msg, attrs(fields)...) }

func (l *baseLogger) With(fields ...Field) Logger {
	return &baseLogger{sl: l.sl.With(attrs(fields)...), leveler: l.leveler}
}

func (l *baseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *baseLogger) SetLevel(level Level) {
	l.leveler.Set(toSlogLevel(level))
}

// Config is the declarative logging configuration as it arrives from config
// files, env, or flags.
type Config struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// ApplyConfig builds a Logger from a Config, rejecting unknown values.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return NewLogger(WithLevel(level), WithFormat(format)), nil
}

// ToStdLogger adapts the facade for libraries expecting a *log.Logger.
// Entries are emitted at info level.
func ToStdLogger(l Logger) *stdlog.Logger {
	if b, ok := l.(*baseLogger); ok {
		return slog.NewLogLogger(b.sl.Handler(), slog.LevelInfo)
	}
	return stdlog.Default()
}
