package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type attrsKeyT struct{}

var attrsKey attrsKeyT

// ContextHandler is a slog.Handler which appends attributes stored in the
// context to every record. Probing runs stash the host/port pair once and
// every log line of that run carries it.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}
	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context carrying attrs in addition to whatever the
// parent context already carries. The parent slice is clipped before the
// append, so sibling derivations from one parent never share a backing
// array: without the clip a later sibling would overwrite the earlier one's
// attr in place, and concurrently with Handle reading it.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, _ := ctx.Value(attrsKey).([]slog.Attr)
	a = append(a[:len(a):len(a)], attrs...)
	return context.WithValue(ctx, attrsKey, a)
}

// New builds the process logger, JSON on stderr, debug level when verbose.
func New(verbose bool) *slog.Logger {
	return NewWriter(os.Stderr, verbose)
}

// NewWriter is New with an explicit destination, used by tests.
func NewWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(ContextHandler{Handler: base})
}
