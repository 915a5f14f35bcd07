// Package observability provides the kernel's structured logging helpers,
// OpenTelemetry metrics and OpenTelemetry tracing.
//
// Every feature has a no-op implementation so the kernel can run with
// observability disabled at no cost.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds port context to a logger.
//
// Example:
//
//	portLog := EnrichLogger(logger, "orders", "output")
//	portLog.Info("connected") // includes port_id and direction
func EnrichLogger(logger *slog.Logger, portID, direction string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("port_id", portID),
		slog.String("direction", direction),
	)
}

// LogPortStarted logs a port that finished initialisation.
func LogPortStarted(logger *slog.Logger, portID, portType string, startup time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("port started",
		slog.String("port_id", portID),
		slog.String("port_type", portType),
		slog.Float64("startup_ms", durationMs(startup)),
	)
}

// LogPortStopped logs a port that was stopped. A non-nil err means the
// port did not stop within its grace period.
func LogPortStopped(logger *slog.Logger, portID string, pendingNacked int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("port stopped ungracefully",
			slog.String("port_id", portID),
			slog.Int("pending_nacked", pendingNacked),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("port stopped",
		slog.String("port_id", portID),
		slog.Int("pending_nacked", pendingNacked),
	)
}

// LogPortCrashed logs a port whose unit exited on its own.
func LogPortCrashed(logger *slog.Logger, portID string, err error, restarting bool) {
	if logger == nil {
		return
	}
	msg := "port crashed"
	if err == nil {
		msg = "port exited"
	}
	attrs := []any{
		slog.String("port_id", portID),
		slog.Bool("restarting", restarting),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Error(msg, attrs...)
}

// LogReconfigure logs an applied configuration change.
func LogReconfigure(logger *slog.Logger, from, to string, added, removed, changed int, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("configuration applied",
		slog.String("from_version", from),
		slog.String("to_version", to),
		slog.Int("added", added),
		slog.Int("removed", removed),
		slog.Int("changed", changed),
		slog.Float64("duration_ms", durationMs(duration)),
	)
}

// LogSnapshotRejected logs a configuration snapshot that was not applied.
// The previous configuration stays active.
func LogSnapshotRejected(logger *slog.Logger, version string, err error) {
	if logger == nil {
		return
	}
	logger.Error("configuration rejected",
		slog.String("version", version),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
