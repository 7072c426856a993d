package ahsp

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with reference-ingestion context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithAccession adds an accession field to the logger.
func (l *Logger) WithAccession(accession string) *Logger {
	return &Logger{
		Logger: l.Logger.With("accession", accession),
	}
}

// WithQuery adds a query field to the logger.
func (l *Logger) WithQuery(query string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", query),
	}
}

// LogSearch logs a provider search.
func (l *Logger) LogSearch(ctx context.Context, query string, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "search completed",
			"query", query,
			"results", found,
		)
	}
}

// LogFetch logs the download of one genome into the cache.
func (l *Logger) LogFetch(ctx context.Context, accession string, cached bool, bytes int64, err error) {
	if err != nil {
		l.WarnContext(ctx, "fetch failed",
			"accession", accession,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"accession", accession,
			"cached", cached,
			"bytes", bytes,
		)
	}
}

// LogBuild logs the construction of one signature.
func (l *Logger) LogBuild(ctx context.Context, accession string, err error) {
	if err != nil {
		l.WarnContext(ctx, "signature build failed",
			"accession", accession,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "signature built",
			"accession", accession,
		)
	}
}

// LogAdd logs the commit of one signature.
func (l *Logger) LogAdd(ctx context.Context, id string, status Status, err error) {
	if err != nil {
		l.WarnContext(ctx, "add failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"id", id,
			"status", status.String(),
		)
	}
}

// LogBatch logs the summary of a batch operation.
func (l *Logger) LogBatch(ctx context.Context, op string, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, op+" completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"count", count,
		)
	}
}
