package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts a slog.Logger to the Logger interface.
// Calls with a printf style format are rendered with fmt, everything
// else is treated as a message followed by key/value pairs.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}

func (l *slogLogger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *slogLogger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *slogLogger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

func (l *slogLogger) log(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	if strings.Contains(format, "%") {
		l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
		return
	}

	l.logger.Log(ctx, level, format, richErrorAttrs(args)...)
}

// richErrorAttrs expands go-errors values into category and text code
// attributes so handlers can filter on them.
func richErrorAttrs(args []any) []any {
	out := make([]any, 0, len(args))
	var extra []any
	for _, val := range args {
		var richErr *goerrors.Error
		if err, ok := val.(error); ok && goerrors.As(err, &richErr) {
			out = append(out, richErr.Message)
			extra = append(extra,
				"category", fmt.Sprint(richErr.Category),
				"text_code", richErr.TextCode,
			)
			continue
		}
		out = append(out, val)
	}
	return append(out, extra...)
}
