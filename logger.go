package scanngo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with scanngo-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithMeasure adds a distance measure field to the logger.
func (l *Logger) WithMeasure(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("measure", name),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// WithNProbe adds an nprobe field to the logger.
func (l *Logger) WithNProbe(nProbe int) *Logger {
	return &Logger{
		Logger: l.Logger.With("nprobe", nProbe),
	}
}

// LogTrain logs a partitioner training run.
func (l *Logger) LogTrain(ctx context.Context, numPoints, numLeaves, numLevels int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "partitioner training failed",
			"points", numPoints,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "partitioner training completed",
			"points", numPoints,
			"leaves", numLeaves,
			"levels", numLevels,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogRetrieveChunks logs a chunk retrieval operation.
func (l *Logger) LogRetrieveChunks(ctx context.Context, numTokens, numChunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "chunk retrieval failed",
			"tokens", numTokens,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "chunk retrieval completed",
			"tokens", numTokens,
			"chunks", numChunks,
		)
	}
}

// LogSaveArtifacts logs an artifact save operation.
func (l *Logger) LogSaveArtifacts(ctx context.Context, dir string, numAssets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "artifact save failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "artifacts saved",
			"dir", dir,
			"assets", numAssets,
		)
	}
}

// LogUpload logs an artifact upload operation.
func (l *Logger) LogUpload(ctx context.Context, numAssets int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "artifact upload failed",
			"assets", numAssets,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "artifacts uploaded",
			"assets", numAssets,
		)
	}
}
