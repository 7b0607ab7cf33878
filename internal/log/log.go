// Package log wires log/slog with context carried attributes, so every
// record emitted while a job runs identifies that job without threading
// a logger value through each call.
package log

import (
	"context"
	"io"
	"log/slog"
)

type attrKeyT struct{}

var attrKey attrKeyT

// ContextHandler decorates each record with the attributes stored in
// the context by ContextAttrs.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(attrKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context whose records carry attrs in addition
// to whatever the parent already carried. The parent's attribute slice
// is never shared, sibling contexts stay independent.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	parent, _ := ctx.Value(attrKey).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(parent)+len(attrs))
	merged = append(merged, parent...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrKey, merged)
}

// New builds the logger the command line uses: text records on w,
// debug level when verbose. Job output never goes through here, the
// supervisor's sink owns that stream.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}
