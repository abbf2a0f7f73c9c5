package logger

import (
	"context"
	"log/slog"
	"os"
)

// New builds the process-wide logger. Local runs get human-readable text at
// debug level; everything else emits JSON for the log pipeline. Every line
// carries the service name so call, presence and notify entries stay
// attributable once they land in shared aggregation.
func New(appEnv string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var h slog.Handler
	switch appEnv {
	case "local", "dev":
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "voicebridge")
}

type ctxKey struct{}

// With stores a logger in context, typically one already carrying
// attempt_id or party_id attributes.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
