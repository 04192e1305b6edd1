package logging

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
)

// swapHandler forwards to a handler that Initialize can replace, so module
// loggers handed out early keep working and pick up the journal and the
// configured format. Loggers derived with With or WithGroup share the same
// root and replay their attrs on top of it.
type swapHandler struct {
	root *atomic.Pointer[slog.Handler]
	ops  []func(slog.Handler) slog.Handler

	// derived caches ops applied to the root it was built from
	derived atomic.Pointer[derivedHandler]
}

type derivedHandler struct {
	base *slog.Handler
	h    slog.Handler
}

func newSwapHandler(h slog.Handler) *swapHandler {
	root := &atomic.Pointer[slog.Handler]{}
	root.Store(&h)
	return &swapHandler{root: root}
}

// swap replaces the handler for s and everything derived from it.
func (s *swapHandler) swap(h slog.Handler) {
	s.root.Store(&h)
}

func (s *swapHandler) current() slog.Handler {
	base := s.root.Load()
	if len(s.ops) == 0 {
		return *base
	}
	if d := s.derived.Load(); d != nil && d.base == base {
		return d.h
	}
	h := *base
	for _, op := range s.ops {
		h = op(h)
	}
	s.derived.Store(&derivedHandler{base: base, h: h})
	return h
}

func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.current().Enabled(ctx, level)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.current().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *swapHandler) with(op func(slog.Handler) slog.Handler) *swapHandler {
	ops := slices.Clone(s.ops)
	return &swapHandler{root: s.root, ops: append(ops, op)}
}
