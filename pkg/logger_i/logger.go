package logger_i

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

type Logger struct {
	inner *slog.Logger
}

// Init installs the process-wide handler: JSON in production, text otherwise.
func Init(settings *config.Settings) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, settings)))
}

func newHandler(w io.Writer, settings *config.Settings) slog.Handler {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if settings.LogDebug {
		options.Level = slog.LevelDebug
	}
	if settings.IsProd {
		options.Level = config.LOG_LEVEL_PROD
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}

func NewLogger(section string) *Logger {
	return &Logger{
		inner: slog.Default().With("component", section),
	}
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	l.inner.Log(context.Background(), level, msg, args...)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		inner: l.inner.With(args...),
	}
}

// WithTrace attaches the trace id and the caller's user id carried by ctx.
// Emails stay out of the logs.
func (l *Logger) WithTrace(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var args []any
	if trace, ok := ctx.Value(config.TRACE_ID_KEY).(string); ok && trace != "" {
		args = append(args, "traceId", trace)
	}
	if caller, ok := ctx.Value(config.CALLER_KEY).(commonModels.Caller); ok && !caller.IsAnonymous() {
		args = append(args, "userId", caller.UserId)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}
