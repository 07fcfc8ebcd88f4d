// Package coordinator is the reference-counted mount coordinator (C):
// the client-side entry point that wraps the lock gate, the ledger
// store, and the RPC transport into the scoped mount/unmount API
// described by spec.md §4.6.
package coordinator

import (
	"context"
	"time"

	"github.com/dittomount/dms/internal/logger"
	"github.com/dittomount/dms/internal/telemetry"
	"github.com/dittomount/dms/pkg/ledger"
	"github.com/dittomount/dms/pkg/lockgate"
	"github.com/dittomount/dms/pkg/metrics"
	"github.com/dittomount/dms/pkg/model"
)

// LockGate serializes Mount/Unmount against the same host. Satisfied by
// *lockgate.Gate.
type LockGate interface {
	Acquire(ctx context.Context, host string, timeout time.Duration) (*lockgate.Token, error)
	Release(tok *lockgate.Token) error
}

// Caller issues a correlated mount/unmount RPC to the node owning
// req.Host and waits for its reply.
type Caller interface {
	Call(ctx context.Context, nodeID string, req *model.MountRequest, timeout time.Duration) (*model.MountResponse, error)
}

// Coordinator implements the reference-counted mount protocol. The
// ledger is keyed by (job, target, host); the RPC node id is taken to
// be the request's host, since each host runs exactly one DMS server
// process for its own mount namespace (spec.md §5).
type Coordinator struct {
	store ledger.Store
	gate  LockGate
	caller Caller
	met   *metrics.Metrics

	lockTimeout time.Duration
	rpcTimeout  time.Duration
}

// New returns a Coordinator serializing operations per host through
// gate, persisting state through store, and dispatching RPCs through
// caller.
func New(store ledger.Store, gate LockGate, caller Caller, lockTimeout, rpcTimeout time.Duration) *Coordinator {
	return &Coordinator{store: store, gate: gate, caller: caller, lockTimeout: lockTimeout, rpcTimeout: rpcTimeout}
}

// SetMetrics attaches met so ListActive reports the current active
// mount count. A nil met (the default) disables this instrumentation.
func (c *Coordinator) SetMetrics(met *metrics.Metrics) {
	c.met = met
}

func messageOf(successMsg, errMsg *string) string {
	if errMsg != nil {
		return *errMsg
	}
	if successMsg != nil {
		return *successMsg
	}
	return ""
}

// Mount registers req as pending, calls the owning node, and records
// the outcome, all while holding req.Host's lock.
func (c *Coordinator) Mount(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	ctx, span := telemetry.StartCoordinatorSpan(ctx, telemetry.SpanCoordinatorMount, req.BackupTarget.ID, req.Host,
		telemetry.Action(string(req.Action)))
	defer span.End()

	tok, err := c.gate.Acquire(ctx, req.Host, c.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer c.gate.Release(tok)

	key := req.Key()
	if _, err := c.store.UpsertPending(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.caller.Call(ctx, req.Host, req, c.rpcTimeout)
	if err != nil {
		_ = c.store.MarkError(ctx, key, err.Error())
		return nil, err
	}

	if resp.Status != model.StatusSuccess {
		_ = c.store.MarkError(ctx, key, messageOf(nil, resp.ErrorMsg))
		return resp, nil
	}

	if err := c.store.MarkSuccess(ctx, key, resp.MountPath, messageOf(resp.SuccessMsg, nil)); err != nil {
		return nil, err
	}
	return resp, nil
}

// Unmount applies the reference-counting decision tree of spec.md
// §4.6: physically unmount only when the requesting binding is the
// last active one for (target, host); otherwise just release the
// ledger row.
func (c *Coordinator) Unmount(ctx context.Context, req *model.MountRequest) (*model.UnmountResult, error) {
	ctx, span := telemetry.StartCoordinatorSpan(ctx, telemetry.SpanCoordinatorUnmount, req.BackupTarget.ID, req.Host,
		telemetry.Action(string(model.ActionUnmount)))
	defer span.End()

	tok, err := c.gate.Acquire(ctx, req.Host, c.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer c.gate.Release(tok)

	targetID := req.BackupTarget.ID
	host := req.Host
	key := req.Key()

	n, err := c.store.CountActive(ctx, targetID, host)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return &model.UnmountResult{Status: model.StatusSuccess, PhysicallyUnmounted: false, Remaining: 0, Message: "not mounted"}, nil
	}

	unmountReq := *req
	unmountReq.Action = model.ActionUnmount

	entry, err := c.store.UpsertPending(ctx, &unmountReq)
	if err != nil {
		return nil, err
	}
	requestingActive := entry.Mounted

	if n == 1 && requestingActive {
		resp, callErr := c.caller.Call(ctx, host, &unmountReq, c.rpcTimeout)
		if callErr != nil {
			_ = c.store.MarkError(ctx, key, callErr.Error())
			return nil, callErr
		}
		if resp.Status != model.StatusSuccess {
			msg := messageOf(nil, resp.ErrorMsg)
			_ = c.store.MarkError(ctx, key, msg)
			return &model.UnmountResult{Status: model.StatusError, PhysicallyUnmounted: false, Remaining: n, Message: msg}, nil
		}
		msg := messageOf(resp.SuccessMsg, nil)
		if err := c.store.MarkSuccess(ctx, key, nil, msg); err != nil {
			return nil, err
		}
		logger.InfoCtx(ctx, "physically unmounted last active binding", logger.TargetID(targetID), logger.Host(host))
		return &model.UnmountResult{Status: model.StatusSuccess, PhysicallyUnmounted: true, Remaining: 0, Message: msg}, nil
	}

	remaining := n
	if requestingActive {
		remaining = n - 1
	}
	msg := "released; other bindings remain active"
	if !requestingActive {
		msg = "not mounted for this job"
	}
	if err := c.store.MarkSuccess(ctx, key, nil, msg); err != nil {
		return nil, err
	}
	return &model.UnmountResult{Status: model.StatusSuccess, PhysicallyUnmounted: false, Remaining: remaining, Message: msg}, nil
}

// Status returns the ledger row for key, or model.ErrNotFound wrapped
// in a *model.LedgerError if none exists.
func (c *Coordinator) Status(ctx context.Context, key model.LedgerKey) (*model.LedgerEntry, error) {
	return c.store.GetByKey(ctx, key)
}

// ListActive returns every currently-mounted binding, optionally
// filtered to a single host. As a side effect it refreshes the
// active-mounts gauge, since this is the one query that already walks
// the full active set.
func (c *Coordinator) ListActive(ctx context.Context, host string) ([]*model.LedgerEntry, error) {
	entries, err := c.store.ListActive(ctx, host)
	if err != nil {
		return nil, err
	}
	c.met.SetActiveMounts(float64(len(entries)))
	return entries, nil
}

// History returns up to limit ledger rows for targetID, most recent
// first, including soft-deleted ones.
func (c *Coordinator) History(ctx context.Context, targetID string, limit int) ([]*model.LedgerEntry, error) {
	return c.store.HistoryByTarget(ctx, targetID, limit)
}

// SoftDelete retires the ledger row for key.
func (c *Coordinator) SoftDelete(ctx context.Context, key model.LedgerKey) error {
	return c.store.SoftDelete(ctx, key)
}

// WithMount mounts req, runs body with the resolved mount path, and
// unconditionally unmounts on every exit path — normal return, body
// error, or panic — propagating body's outcome. A panic from body is
// logged and re-raised after the release completes.
func (c *Coordinator) WithMount(ctx context.Context, req *model.MountRequest, body func(mountPath string) error) (err error) {
	resp, mountErr := c.Mount(ctx, req)
	if mountErr != nil {
		return mountErr
	}
	if resp.Status != model.StatusSuccess {
		return &model.MountError{
			TargetID:   req.BackupTarget.ID,
			MountPath:  req.BackupTarget.FilesystemExportMountPath,
			KernelText: messageOf(nil, resp.ErrorMsg),
		}
	}

	mountPath := req.BackupTarget.FilesystemExportMountPath
	if resp.MountPath != nil {
		mountPath = *resp.MountPath
	}

	defer func() {
		unmountReq := *req
		unmountReq.Action = model.ActionUnmount
		if _, uerr := c.Unmount(ctx, &unmountReq); uerr != nil && err == nil {
			err = uerr
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "mount body panicked, releasing before propagating",
				logger.TargetID(req.BackupTarget.ID), logger.Host(req.Host))
			panic(r)
		}
	}()

	return body(mountPath)
}
