package vecdb

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with vecdb-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// LogUpsert logs an upsert operation.
func (l *Logger) LogUpsert(ctx context.Context, collection, id string, seq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "upsert completed",
		"collection", collection,
		"id", id,
		"seq", seq,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, collection, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed",
		"collection", collection,
		"id", id,
	)
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, collection string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"collection", collection,
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"collection", collection,
		"k", k,
		"results", resultsFound,
	)
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, collection string, seq uint64, size int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"collection", collection,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot completed",
		"collection", collection,
		"seq", seq,
		"bytes", size,
	)
}

// LogRecovery logs the outcome of opening a collection.
func (l *Logger) LogRecovery(ctx context.Context, collection string, snapshotSeq uint64, replayed int, duration time.Duration) {
	l.InfoContext(ctx, "collection recovered",
		"collection", collection,
		"snapshot_seq", snapshotSeq,
		"replayed", replayed,
		"duration", duration,
	)
}

// LogCorruptLog logs a WAL tail that was cut off during recovery.
func (l *Logger) LogCorruptLog(ctx context.Context, collection string, lastSeq uint64, truncatedBytes int64, reason error) {
	l.WarnContext(ctx, "wal truncated at last valid entry",
		"collection", collection,
		"last_seq", lastSeq,
		"truncated_bytes", truncatedBytes,
		"error", translateError(reason),
	)
}
