package dataflow

import (
	"context"
	"io"
	"log/slog"
	"os"

	dsql "github.com/syssam/dataflow/dialect/sql"
)

// Logger groups the five per-category loggers (core, node_execution,
// sql_generation, list_operations, migration), each gated at the level
// Config.Log assigns it. Built on the standard library's log/slog, the same
// dependency-light approach dialect/sql/stats.go's StatsDriver/DebugDriver
// take rather than a heavyweight logging framework. Setting sql_generation
// to debug (or Config.SlowQueryThreshold) makes New install one of those
// driver decorators automatically, routed through Logger.SQLGeneration.
type Logger struct {
	Core           *slog.Logger
	NodeExecution  *slog.Logger
	SQLGeneration  *slog.Logger
	ListOperations *slog.Logger
	Migration      *slog.Logger
}

func levelToSlog(l LogLevel) slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogInfo:
		return slog.LevelInfo
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default: // LogQuiet
		return slog.Level(1 << 20)
	}
}

// maskingHandler wraps an slog.Handler, redacting attribute values whose key
// looks like a secret before a record reaches its sink. It reuses
// dsql.MaskSensitive rather than duplicating the sensitive-field name set.
type maskingHandler struct {
	slog.Handler
}

func (h maskingHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(slog.Any(a.Key, dsql.MaskSensitive(a.Key, a.Value.Any())))
		return true
	})
	return h.Handler.Handle(ctx, masked)
}

func (h maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return maskingHandler{h.Handler.WithAttrs(attrs)}
}

func (h maskingHandler) WithGroup(name string) slog.Handler {
	return maskingHandler{h.Handler.WithGroup(name)}
}

func newCategoryLogger(w io.Writer, category string, level LogLevel) *slog.Logger {
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelToSlog(level)})
	return slog.New(maskingHandler{base}).With("category", category)
}

// NewLogger builds the five category loggers named by cfg, writing to
// os.Stderr.
func NewLogger(cfg LogConfig) *Logger {
	return NewLoggerTo(cfg, os.Stderr)
}

// NewLoggerTo builds the five category loggers named by cfg, writing to w.
// Exposed mainly so callers (and this package's own tests) can capture
// output instead of os.Stderr.
func NewLoggerTo(cfg LogConfig, w io.Writer) *Logger {
	return &Logger{
		Core:           newCategoryLogger(w, "core", cfg.Core),
		NodeExecution:  newCategoryLogger(w, "node_execution", cfg.NodeExecution),
		SQLGeneration:  newCategoryLogger(w, "sql_generation", cfg.SQLGeneration),
		ListOperations: newCategoryLogger(w, "list_operations", cfg.ListOperations),
		Migration:      newCategoryLogger(w, "migration", cfg.Migration),
	}
}
