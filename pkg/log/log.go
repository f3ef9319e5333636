package log

import (
	"context"
	"log/slog"
	"os"
)

// level is shared by every logger handed out by this package so the
// daemon can raise or lower verbosity after flags are parsed.
var level slog.LevelVar

var root = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	AddSource: true,
	Level:     &level,
}))

type ctxKey struct{}

// Ctx returns the logger carried by ctx, or the root JSON logger when
// the context has none.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return root
}

// With returns a child context carrying logger. Callers typically attach
// attributes first, e.g. With(ctx, Ctx(ctx).With("component", "engine")).
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// SetDefaultLogLevel adjusts the minimum level of the root logger.
func SetDefaultLogLevel(l slog.Level) {
	level.Set(l)
}
