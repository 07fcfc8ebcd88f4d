package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single mount
// or unmount operation as it moves through the coordinator, the
// broker, and the mount executor.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	NodeID    string    // Server node handling the request
	Action    string    // "mount" or "unmount"
	JobID     int64     // Requesting job id
	TargetID  string    // Backup target id
	Host      string    // Host the mount/unmount applies to
	RequestID string    // Caller-supplied request id, if any
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a mount/unmount request.
func NewLogContext(nodeID, action string) *LogContext {
	return &LogContext{
		NodeID:    nodeID,
		Action:    action,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithTarget returns a copy with the target and host set
func (lc *LogContext) WithTarget(targetID, host string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TargetID = targetID
		clone.Host = host
	}
	return clone
}

// WithJob returns a copy with the job id set
func (lc *LogContext) WithJob(jobID int64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.JobID = jobID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
