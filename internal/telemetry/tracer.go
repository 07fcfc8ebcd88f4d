package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for mount coordinator operations. These follow
// OpenTelemetry semantic conventions where applicable; domain-specific
// keys use the "dms." prefix.
const (
	AttrNodeID    = "dms.node_id"
	AttrAction    = "dms.action" // mount, unmount
	AttrJobID     = "dms.job_id"
	AttrTargetID  = "dms.target_id"
	AttrTargetType = "dms.target_type" // s3, nfs
	AttrHost      = "dms.host"
	AttrMountPath = "dms.mount_path"
	AttrStatus    = "dms.status"
	AttrRemaining = "dms.remaining"

	AttrLockPath = "dms.lock.path"
	AttrLockWait = "dms.lock.wait_ms"

	AttrCorrelationID = "dms.rpc.correlation_id"
	AttrQueue         = "dms.rpc.queue"

	AttrPID    = "dms.process.pid"
	AttrSource = "dms.process.source"

	AttrBucket = "storage.bucket"
	AttrRegion = "storage.region"
)

// Span names for coordinator, transport, and executor operations.
const (
	SpanCoordinatorMount   = "coordinator.mount"
	SpanCoordinatorUnmount = "coordinator.unmount"
	SpanCoordinatorStatus  = "coordinator.status"

	SpanLockAcquire = "lockgate.acquire"
	SpanLockRelease = "lockgate.release"

	SpanRPCCall    = "rpctransport.call"
	SpanRPCHandle  = "rpctransport.handle"

	SpanExecutorMount   = "mountexec.mount"
	SpanExecutorUnmount = "mountexec.unmount"

	SpanProcessSpawn = "fuseproc.spawn"
	SpanProcessKill  = "fuseproc.kill"

	SpanLedgerUpsert = "ledger.upsert"
	SpanLedgerRead   = "ledger.read"
)

// NodeID returns an attribute for the server node handling a request.
func NodeID(id string) attribute.KeyValue {
	return attribute.String(AttrNodeID, id)
}

// Action returns an attribute for the operation kind (mount/unmount).
func Action(action string) attribute.KeyValue {
	return attribute.String(AttrAction, action)
}

// JobID returns an attribute for the requesting job id.
func JobID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrJobID, id)
}

// TargetID returns an attribute for the backup target id.
func TargetID(id string) attribute.KeyValue {
	return attribute.String(AttrTargetID, id)
}

// TargetType returns an attribute for the backup target type (s3, nfs).
func TargetType(t string) attribute.KeyValue {
	return attribute.String(AttrTargetType, t)
}

// Host returns an attribute for the host a mount applies to.
func Host(host string) attribute.KeyValue {
	return attribute.String(AttrHost, host)
}

// MountPath returns an attribute for the kernel mount point.
func MountPath(path string) attribute.KeyValue {
	return attribute.String(AttrMountPath, path)
}

// Status returns an attribute for operation status (success, error, pending).
func Status(status string) attribute.KeyValue {
	return attribute.String(AttrStatus, status)
}

// Remaining returns an attribute for the remaining reference count after an unmount.
func Remaining(n int) attribute.KeyValue {
	return attribute.Int(AttrRemaining, n)
}

// LockPath returns an attribute for the lock file path.
func LockPath(path string) attribute.KeyValue {
	return attribute.String(AttrLockPath, path)
}

// LockWaitMs returns an attribute for time spent waiting on the lock gate.
func LockWaitMs(ms float64) attribute.KeyValue {
	return attribute.Float64(AttrLockWait, ms)
}

// CorrelationID returns an attribute for the RPC correlation id.
func CorrelationID(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

// Queue returns an attribute for the broker queue name.
func Queue(name string) attribute.KeyValue {
	return attribute.String(AttrQueue, name)
}

// PID returns an attribute for a FUSE helper process id.
func PID(pid int) attribute.KeyValue {
	return attribute.Int(AttrPID, pid)
}

// Source returns an attribute for where a process record was discovered (spawned, loaded_from_disk).
func Source(src string) attribute.KeyValue {
	return attribute.String(AttrSource, src)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartCoordinatorSpan starts a span for a mount coordinator operation.
func StartCoordinatorSpan(ctx context.Context, spanName string, targetID, host string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		TargetID(targetID),
		Host(host),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartRPCSpan starts a span for an RPC transport call or handle.
func StartRPCSpan(ctx context.Context, spanName, queue, correlationID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Queue(queue),
		CorrelationID(correlationID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartProcessSpan starts a span for a FUSE process registry operation.
func StartProcessSpan(ctx context.Context, spanName, targetID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		TargetID(targetID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
