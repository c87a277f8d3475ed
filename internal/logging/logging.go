// Package logging provides a small structured-logging convention shared by
// every component of the store.
//
// Design principles:
//   - Logging is dependency-injected, never global.
//   - Each component owns its own scoped logger, set up once at
//     construction time with slog.With().
//   - If no logger is provided, a discard logger is used.
//
// Logging is intentionally sparse: lifecycle boundaries (open, save,
// rollback, compact, evict, close) are the intended log points. Nothing
// logs inside the insert/get/query hot path.
package logging

import (
	"context"
	"log/slog"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard
// logger. Standard pattern for an optional *slog.Logger parameter:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With("component", "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
