// Package log is a small module-scoped layer over log/slog.
//
// Every record carries a "module" attribute. Debug and trace records of a
// disabled module are dropped before they reach the handler; info and above
// always pass.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Modules.
const (
	Builder  = "region"
	Pipeline = "pipeline"
	Lower    = "lower"
	CLI      = "cli"
)

// LevelTrace is below slog's debug level.
const LevelTrace slog.Level = -8

var (
	root atomic.Pointer[slog.Logger]

	mu       sync.RWMutex
	disabled = map[string]bool{}
)

func init() {
	root.Store(Discard())
}

// ParseLevel converts a level name to a slog level.
func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

// New returns a text logger writing records at level and above to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// SetDefault replaces the root logger.
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Discard()
	}
	root.Store(l)
}

// Root returns the root logger.
func Root() *slog.Logger {
	return root.Load()
}

// EnableModule turns debug and trace output of module back on.
func EnableModule(module string) {
	mu.Lock()
	defer mu.Unlock()
	delete(disabled, module)
}

// DisableModule silences debug and trace output of module.
func DisableModule(module string) {
	mu.Lock()
	defer mu.Unlock()
	disabled[module] = true
}

func isModuleEnabled(module string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return !disabled[module]
}

// For returns l scoped to module; a disabled module only keeps info and
// above. A nil l means the root logger.
func For(l *slog.Logger, module string) *slog.Logger {
	if l == nil {
		l = Root()
	}
	if !isModuleEnabled(module) {
		l = slog.New(minLevel{Handler: l.Handler(), min: slog.LevelInfo})
	}
	return l.With("module", module)
}

// minLevel raises the floor of a handler.
type minLevel struct {
	slog.Handler
	min slog.Level
}

func (h minLevel) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.Handler.Enabled(ctx, level)
}

func (h minLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return minLevel{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h minLevel) WithGroup(name string) slog.Handler {
	return minLevel{Handler: h.Handler.WithGroup(name), min: h.min}
}

// Trace logs at trace level for module on the root logger.
func Trace(module string, msg string, ctx ...any) {
	For(nil, module).Log(context.Background(), LevelTrace, msg, ctx...)
}

// Debug logs at debug level for module on the root logger.
func Debug(module string, msg string, ctx ...any) {
	For(nil, module).Debug(msg, ctx...)
}

// Info logs at info level for module on the root logger.
func Info(module string, msg string, ctx ...any) {
	For(nil, module).Info(msg, ctx...)
}

// Warn logs at warn level for module on the root logger.
func Warn(module string, msg string, ctx ...any) {
	For(nil, module).Warn(msg, ctx...)
}

// Error logs at error level for module on the root logger.
func Error(module string, msg string, ctx ...any) {
	For(nil, module).Error(msg, ctx...)
}
