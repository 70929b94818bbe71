// Package log provides structured logging utilities for the zminer mining client.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithWorker returns a logger with worker-thread fields
func (l *Logger) WithWorker(kind string, index int) *Logger {
	return l.WithFields("worker_kind", kind, "worker_index", index)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, height uint64) *Logger {
	return l.WithFields("job_id", jobID, "height", height)
}

// WithAlgorithm returns a logger with an algorithm field
func (l *Logger) WithAlgorithm(algo string) *Logger {
	return l.WithFields("algorithm", algo)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// Connection logging helpers

// LogConnection logs connection lifecycle events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogStratumMessage logs stratum protocol traffic (debug level)
func (l *Logger) LogStratumMessage(direction, message string) {
	l.Debug("stratum message",
		"direction", direction,
		"message", message,
	)
}

// Mining-specific logging helpers

// LogJobReceived logs a new job installation
func (l *Logger) LogJobReceived(jobID string, height, difficulty, version uint64) {
	l.Info("new job",
		"job_id", jobID,
		"height", height,
		"difficulty", difficulty,
		"job_version", version,
	)
}

// LogShareFound logs a share found by a worker
func (l *Logger) LogShareFound(jobID string, nonce uint64, backend string) {
	l.Info("share found",
		"job_id", jobID,
		"nonce", nonce,
		"backend", backend,
	)
}

// LogShareResult logs pool accept/reject accounting
func (l *Logger) LogShareResult(status string, accepted, rejected, sent uint64) {
	l.Info("share result",
		"status", status,
		"accepted", accepted,
		"rejected", rejected,
		"sent", sent,
	)
}

// LogHashrate logs a periodic hashrate window
func (l *Logger) LogHashrate(totalHps, cpuHps, gpuHps float64) {
	l.Info("hashrate",
		"total_hps", totalHps,
		"cpu_hps", cpuHps,
		"gpu_hps", gpuHps,
	)
}
