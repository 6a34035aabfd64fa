package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// SetupLogger configures the default slog logger with JSON output and
// stacktrace extraction for cockroachdb errors.
func SetupLogger(loglevel string) {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToLogLevel(loglevel),
	}
	handler := slog.NewJSONHandler(os.Stdout, &ops)
	errFmtHandler := WrapByErrFmtHandler(handler)
	slog.SetDefault(slog.New(errFmtHandler))
}

// ToLogLevel converts a level name to a slog.Level.
func ToLogLevel(level string) slog.Level {
	switch level {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		panic(fmt.Sprintf("invalid log level :%s", level))
	}
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// slogAdapter adapts the default slog logger to the Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

// GetLogger returns a Logger backed by the default slog logger.
func GetLogger() Logger {
	return &slogAdapter{logger: slog.Default()}
}

func (s *slogAdapter) Debug(msg string, fields ...any) { s.logger.Debug(msg, fields...) }
func (s *slogAdapter) Info(msg string, fields ...any)  { s.logger.Info(msg, fields...) }
func (s *slogAdapter) Warn(msg string, fields ...any)  { s.logger.Warn(msg, fields...) }
func (s *slogAdapter) Error(msg string, fields ...any) { s.logger.Error(msg, fields...) }

func (s *slogAdapter) With(fields ...any) Logger {
	return &slogAdapter{logger: s.logger.With(fields...)}
}

func (s *slogAdapter) Enabled(ctx context.Context, level Level) bool {
	return s.logger.Enabled(ctx, slog.Level(level))
}
