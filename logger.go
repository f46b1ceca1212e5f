package waxgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with waxgo-specific context.
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
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithStore tags the logger with the store location.
func (l *Logger) WithStore(dir string) *Logger {
	return &Logger{Logger: l.Logger.With("store", dir)}
}

// LogCommit logs a session commit.
func (l *Logger) LogCommit(ctx context.Context, seq uint64, ops int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"seq", seq,
			"ops", ops,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit applied",
			"seq", seq,
			"ops", ops,
		)
	}
}

// LogCheckpoint logs a checkpoint operation.
func (l *Logger) LogCheckpoint(ctx context.Context, seq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"seq", seq,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"seq", seq,
		)
	}
}

// LogRecovery logs journal replay on open.
func (l *Logger) LogRecovery(ctx context.Context, commitsReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "journal recovery failed",
			"commits_replayed", commitsReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "journal recovery completed",
			"commits_replayed", commitsReplayed,
		)
	}
}

// LogArchive logs a snapshot archival upload.
func (l *Logger) LogArchive(ctx context.Context, seq uint64, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive failed",
			"seq", seq,
			"blob", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "archive uploaded",
			"seq", seq,
			"blob", name,
		)
	}
}
