package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the coordinator,
// broker, and mount executor. Use these consistently so log aggregation
// queries don't have to chase synonyms.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request identity
	KeyNodeID    = "node_id"
	KeyAction    = "action"
	KeyJobID     = "job_id"
	KeyTargetID  = "target_id"
	KeyHost      = "host"
	KeyRequestID = "request_id"

	// Mount lifecycle
	KeyMountPath   = "mount_path"
	KeyTargetType  = "target_type"
	KeyStatus      = "status"
	KeyStatusMsg   = "status_msg"
	KeyRemaining   = "remaining"
	KeyPhysicalUn  = "physically_unmounted"
	KeyMounted     = "mounted"
	KeyCorrelation = "correlation_id"

	// Lock gate
	KeyLockPath  = "lock_path"
	KeyLockWait  = "lock_wait_ms"
	KeyLockToken = "lock_token"

	// Process registry
	KeyPID    = "pid"
	KeySource = "source"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// NodeID returns a slog.Attr for the server node id
func NodeID(id string) slog.Attr { return slog.String(KeyNodeID, id) }

// Action returns a slog.Attr for mount/unmount
func Action(action string) slog.Attr { return slog.String(KeyAction, action) }

// JobID returns a slog.Attr for the requesting job id
func JobID(id int64) slog.Attr { return slog.Int64(KeyJobID, id) }

// TargetID returns a slog.Attr for the backup target id
func TargetID(id string) slog.Attr { return slog.String(KeyTargetID, id) }

// Host returns a slog.Attr for the host a mount applies to
func Host(host string) slog.Attr { return slog.String(KeyHost, host) }

// RequestID returns a slog.Attr for a caller-supplied request id
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// MountPath returns a slog.Attr for the kernel mount point
func MountPath(path string) slog.Attr { return slog.String(KeyMountPath, path) }

// TargetType returns a slog.Attr for s3/nfs
func TargetType(t string) slog.Attr { return slog.String(KeyTargetType, t) }

// Status returns a slog.Attr for success/error/pending
func Status(status string) slog.Attr { return slog.String(KeyStatus, status) }

// StatusMsg returns a slog.Attr for a human-readable status message
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// Remaining returns a slog.Attr for the remaining reference count
func Remaining(n int) slog.Attr { return slog.Int(KeyRemaining, n) }

// PhysicallyUnmounted returns a slog.Attr for whether the kernel unmount happened
func PhysicallyUnmounted(v bool) slog.Attr { return slog.Bool(KeyPhysicalUn, v) }

// Mounted returns a slog.Attr for the ledger mounted flag
func Mounted(v bool) slog.Attr { return slog.Bool(KeyMounted, v) }

// CorrelationID returns a slog.Attr for the RPC correlation id
func CorrelationID(id string) slog.Attr { return slog.String(KeyCorrelation, id) }

// LockPath returns a slog.Attr for the lock file path
func LockPath(path string) slog.Attr { return slog.String(KeyLockPath, path) }

// LockWaitMs returns a slog.Attr for time spent waiting on the lock
func LockWaitMs(ms float64) slog.Attr { return slog.Float64(KeyLockWait, ms) }

// PID returns a slog.Attr for a process id
func PID(pid int) slog.Attr { return slog.Int(KeyPID, pid) }

// Source returns a slog.Attr for where a record came from (spawned, loaded_from_disk)
func Source(src string) slog.Attr { return slog.String(KeySource, src) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// secretFieldNames lists argument keys whose values must never reach a log
// line verbatim. Kept as a set so Redact is O(1) per field.
var secretFieldNames = map[string]struct{}{
	"access_key":    {},
	"secret_key":    {},
	"session_token": {},
	"token":         {},
	"password":      {},
	"secret_ref":    {},
}

// Redact scrubs known secret-bearing keys from a flat key/value field map,
// returning a copy safe to pass to a structured log call. Unknown keys pass
// through unchanged.
func Redact(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, sensitive := secretFieldNames[k]; sensitive {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
