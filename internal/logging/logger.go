package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Logger wraps slog.Logger so callers depend on a small, stable API and
// Sentry forwarding lives in one place.
type Logger struct {
	slog *slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  string    // "debug", "info", "warn", "error"
	Format string    // "json", "text"
	Output io.Writer // default: os.Stderr
}

var defaultLogger *Logger
var sentryEnabled bool

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
}

// InitSentry initializes Sentry for error reporting. An empty DSN disables it.
// Returns a cleanup function that should be deferred.
func InitSentry(cfg SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		EnableLogs:  true,
	})
	if err != nil {
		return nil, err
	}

	sentryEnabled = true

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// Init builds the default logger. Stdout is reserved for REPL output, so
// logs go to stderr unless cfg.Output says otherwise.
func Init(cfg Config) *Logger {
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	defaultLogger = New(cfg)
	return defaultLogger
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slog: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Output: io.Discard})
}

// Default returns the default logger, initializing it if necessary
func Default() *Logger {
	if defaultLogger == nil {
		return Init(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	}
	return defaultLogger
}

// With returns a new Logger with the given key-value pairs added to every log entry
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
	if sentryEnabled {
		logToSentry(sentry.NewLogger(context.Background()).Info(), msg, args)
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
	if sentryEnabled {
		logToSentry(sentry.NewLogger(context.Background()).Warn(), msg, args)
	}
}

func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
	if sentryEnabled {
		logToSentry(sentry.NewLogger(context.Background()).Error(), msg, args)
	}
}

// logToSentry sends a log entry to Sentry Logs with key-value attributes
func logToSentry(entry sentry.LogEntry, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			entry = entry.String(key, formatValue(args[i+1]))
		}
	}
	entry.Emit(msg)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
