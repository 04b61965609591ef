package chunkidx

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

// Logger wraps slog.Logger with chunk-specific context.
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

// WithChunk adds a chunk field to the logger.
func (l *Logger) WithChunk(id model.ChunkID) *Logger {
	return &Logger{Logger: l.Logger.With("chunk", uint32(id))}
}

// WithProject adds a project field to the logger.
func (l *Logger) WithProject(p model.ProjectID) *Logger {
	return &Logger{Logger: l.Logger.With("project", string(p))}
}

// LogAttach logs an attach attempt.
func (l *Logger) LogAttach(ctx context.Context, id model.ChunkID, source string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "attach failed",
			"chunk", uint32(id),
			"source", source,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "chunk attached",
		"chunk", uint32(id),
		"source", source,
	)
}

// LogDetach logs a detach.
func (l *Logger) LogDetach(ctx context.Context, id model.ChunkID, found bool) {
	if !found {
		l.DebugContext(ctx, "detach of unknown chunk", "chunk", uint32(id))
		return
	}
	l.InfoContext(ctx, "chunk detached", "chunk", uint32(id))
}

// LogLocate logs the outcome of a discovery request.
func (l *Logger) LogLocate(ctx context.Context, project model.ProjectID, res *locator.Result, err error) {
	if err != nil {
		args := []any{"project", string(project), "error", err}
		if res != nil {
			args = append(args,
				"request_id", res.RequestID,
				"attached", len(res.Attached),
				"failed", len(res.Failures),
				"cancelled", len(res.Cancelled),
			)
		}
		l.ErrorContext(ctx, "locate failed", args...)
		return
	}
	if len(res.Failures) > 0 {
		l.WarnContext(ctx, "locate completed with failures",
			"project", string(project),
			"request_id", res.RequestID,
			"attached", len(res.Attached),
			"failed", len(res.Failures),
			"cancelled", len(res.Cancelled),
		)
		return
	}
	l.InfoContext(ctx, "locate completed",
		"project", string(project),
		"request_id", res.RequestID,
		"attached", len(res.Attached),
		"already_attached", len(res.AlreadyAttached),
		"cancelled", len(res.Cancelled),
	)
}

// LogEnumerate logs a content hash lookup.
func (l *Logger) LogEnumerate(ctx context.Context, id model.HashID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "enumerate failed", "error", err)
		return
	}
	l.DebugContext(ctx, "enumerate completed", "hash_id", id.String())
}
