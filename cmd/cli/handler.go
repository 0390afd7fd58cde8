package main

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// switchingHandler forwards records to a handler chosen after flag parsing.
// Loggers derived before the switch follow it.
type switchingHandler struct {
	root   *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
}

func (h *switchingHandler) set(next slog.Handler) {
	if h.root == nil {
		h.root = new(atomic.Pointer[slog.Handler])
	}
	h.root.Store(&next)
}

func (h *switchingHandler) current() slog.Handler {
	next := *h.root.Load()
	for _, derive := range h.derive {
		next = derive(next)
	}
	return next
}

func (h *switchingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*h.root.Load()).Enabled(ctx, level)
}

func (h *switchingHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.current().Handle(ctx, record)
}

func (h *switchingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *switchingHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *switchingHandler) with(derive func(slog.Handler) slog.Handler) *switchingHandler {
	chain := make([]func(slog.Handler) slog.Handler, len(h.derive), len(h.derive)+1)
	copy(chain, h.derive)
	return &switchingHandler{root: h.root, derive: append(chain, derive)}
}
