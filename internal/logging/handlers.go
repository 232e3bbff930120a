package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// ContextProvider returns attributes added to every record at the moment it
// is logged, such as the live room and member counts of the relay.
type ContextProvider func() []slog.Attr

// teeHandler hands each record to all of its handlers, so the text log and
// the OTel bridge see the same stream. A failing handler does not keep the
// record from the others.
type teeHandler []slog.Handler

func tee(handlers ...slog.Handler) slog.Handler {
	hs := slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
	if len(hs) == 1 {
		return hs[0]
	}
	return teeHandler(hs)
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(t, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return t
	}
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

// liveHandler appends the attributes of its provider to every record.
type liveHandler struct {
	slog.Handler
	provider ContextProvider
}

func (h liveHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.provider()...)
	return h.Handler.Handle(ctx, r)
}

func (h liveHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return liveHandler{Handler: h.Handler.WithAttrs(attrs), provider: h.provider}
}

func (h liveHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return liveHandler{Handler: h.Handler.WithGroup(name), provider: h.provider}
}
