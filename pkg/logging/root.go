package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LoggerKey is the attribute carrying the name of the logger that emitted a
// record.
const LoggerKey = "logger"

var (
	rootMu      sync.RWMutex
	rootHandler slog.Handler = NewHandler(Config{Level: LevelInfo, Format: FormatText, Output: os.Stderr})
	rootLevel                = new(slog.LevelVar)
)

// Root returns the process-wide handler every named logger writes to.
func Root() slog.Handler {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return rootHandler
}

// SetRoot replaces the process-wide handler and returns the previous one.
func SetRoot(h slog.Handler) slog.Handler {
	rootMu.Lock()
	defer rootMu.Unlock()
	prev := rootHandler
	rootHandler = h
	return prev
}

// RootLevel returns the root logger level. Records below it are dropped
// before they reach the root handler.
func RootLevel() slog.Level {
	return rootLevel.Level()
}

// SetRootLevel sets the root logger level and returns the previous one.
func SetRootLevel(l slog.Level) slog.Level {
	prev := rootLevel.Level()
	rootLevel.Set(l)
	return prev
}

// Configure installs a root handler built from cfg and sets the root level.
func Configure(cfg Config) {
	SetRoot(NewHandler(cfg))
	SetRootLevel(cfg.Level)
}

// Named returns a logger that tags its records with name and resolves the
// root handler each time it logs, so replacing the root affects loggers that
// were created earlier.
func Named(name string) *slog.Logger {
	return slog.New(&namedHandler{name: name})
}

type namedHandler struct {
	name string
	ops  []func(slog.Handler) slog.Handler
}

func (h *namedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < RootLevel() {
		return false
	}
	return Root().Enabled(ctx, level)
}

func (h *namedHandler) Handle(ctx context.Context, r slog.Record) error {
	target := Root().WithAttrs([]slog.Attr{slog.String(LoggerKey, h.name)})
	for _, op := range h.ops {
		target = op(target)
	}
	return target.Handle(ctx, r)
}

func (h *namedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *namedHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *namedHandler) with(op func(slog.Handler) slog.Handler) *namedHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &namedHandler{name: h.name, ops: append(ops, op)}
}
