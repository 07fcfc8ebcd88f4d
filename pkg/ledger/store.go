// Package ledger persists the reference-counting state the mount
// coordinator uses to decide whether a mount/unmount call must touch the
// kernel or can be satisfied by bookkeeping alone.
package ledger

import (
	"context"
	"time"

	"github.com/dittomount/dms/pkg/model"
)

// Store is the persistence interface the coordinator depends on. It is
// implemented by GORMStore for production use and by an in-memory
// fake in tests that do not need a real database.
type Store interface {
	// UpsertPending records a new or re-entrant mount/unmount attempt
	// for (job, target, host) with status "pending", returning the
	// row as it stands after the upsert. An existing row keeps its
	// Mounted flag; a new row starts with Mounted=false.
	UpsertPending(ctx context.Context, req *model.MountRequest) (*model.LedgerEntry, error)

	// MarkSuccess transitions a row to status "success" and, for a
	// mount, sets Mounted=true and records MountPath.
	MarkSuccess(ctx context.Context, key model.LedgerKey, mountPath *string, successMsg string) error

	// MarkError transitions a row to status "error" and records the
	// failure message. A failed mount never sets Mounted=true; a
	// failed unmount leaves Mounted unchanged.
	MarkError(ctx context.Context, key model.LedgerKey, errMsg string) error

	// CountActive returns the number of non-deleted rows with
	// Mounted=true sharing the given target and host, across all jobs.
	CountActive(ctx context.Context, targetID, host string) (int, error)

	// GetByKey returns the row for an exact (job, target, host) key.
	GetByKey(ctx context.Context, key model.LedgerKey) (*model.LedgerEntry, error)

	// ListActive returns every non-deleted row with Mounted=true for
	// the given host, or every host if host is empty.
	ListActive(ctx context.Context, host string) ([]*model.LedgerEntry, error)

	// HistoryByTarget returns every row (including soft-deleted ones)
	// for a target, most recent first.
	HistoryByTarget(ctx context.Context, targetID string, limit int) ([]*model.LedgerEntry, error)

	// SoftDelete marks a row deleted without removing it, preserving
	// it for HistoryByTarget while excluding it from CountActive.
	SoftDelete(ctx context.Context, key model.LedgerKey) error

	// Healthcheck verifies the store is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases the underlying database connection.
	Close() error
}

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = time.Now
