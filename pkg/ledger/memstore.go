package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/dittomount/dms/pkg/model"
)

// MemStore is an in-process Store for tests that do not need a real
// database. Methods are safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	entries map[model.LedgerKey]*model.LedgerEntry
	nextID  uint64
}

// NewMemStore returns an empty in-memory ledger.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[model.LedgerKey]*model.LedgerEntry)}
}

func clone(e *model.LedgerEntry) *model.LedgerEntry {
	c := *e
	return &c
}

func (s *MemStore) UpsertPending(ctx context.Context, req *model.MountRequest) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.Key()
	if existing, ok := s.entries[key]; ok && !existing.Deleted {
		existing.ActionLast = req.Action
		existing.StatusLast = model.StatusPending
		existing.ErrorMsg = ""
		existing.CompletedAt = nil
		return clone(existing), nil
	}

	s.nextID++
	entry := &model.LedgerEntry{
		ID:             s.nextID,
		JobID:          key.JobID,
		BackupTargetID: key.BackupTargetID,
		Host:           key.Host,
		ActionLast:     req.Action,
		StatusLast:     model.StatusPending,
		CreatedAt:      nowFunc(),
		UpdatedAt:      nowFunc(),
	}
	s.entries[key] = entry
	return clone(entry), nil
}

func (s *MemStore) MarkSuccess(ctx context.Context, key model.LedgerKey, mountPath *string, successMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.Deleted {
		return &model.LedgerError{Op: "MarkSuccess", Err: model.ErrNotFound}
	}

	now := nowFunc()
	entry.StatusLast = model.StatusSuccess
	entry.SuccessMsg = successMsg
	entry.ErrorMsg = ""
	entry.CompletedAt = &now
	entry.UpdatedAt = now

	switch entry.ActionLast {
	case model.ActionMount:
		entry.Mounted = true
		entry.MountPath = mountPath
	case model.ActionUnmount:
		entry.Mounted = false
	}
	return nil
}

func (s *MemStore) MarkError(ctx context.Context, key model.LedgerKey, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.Deleted {
		return &model.LedgerError{Op: "MarkError", Err: model.ErrNotFound}
	}

	now := nowFunc()
	entry.StatusLast = model.StatusError
	entry.ErrorMsg = errMsg
	entry.CompletedAt = &now
	entry.UpdatedAt = now
	return nil
}

func (s *MemStore) CountActive(ctx context.Context, targetID, host string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if e.BackupTargetID == targetID && e.Host == host && e.Mounted && !e.Deleted {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) GetByKey(ctx context.Context, key model.LedgerKey) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.Deleted {
		return nil, &model.LedgerError{Op: "GetByKey", Err: model.ErrNotFound}
	}
	return clone(entry), nil
}

func (s *MemStore) ListActive(ctx context.Context, host string) ([]*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.LedgerEntry
	for _, e := range s.entries {
		if !e.Mounted || e.Deleted {
			continue
		}
		if host != "" && e.Host != host {
			continue
		}
		result = append(result, clone(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Host != result[j].Host {
			return result[i].Host < result[j].Host
		}
		return result[i].BackupTargetID < result[j].BackupTargetID
	})
	return result, nil
}

func (s *MemStore) HistoryByTarget(ctx context.Context, targetID string, limit int) ([]*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.LedgerEntry
	for _, e := range s.entries {
		if e.BackupTargetID == targetID {
			result = append(result, clone(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemStore) SoftDelete(ctx context.Context, key model.LedgerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.Deleted {
		return &model.LedgerError{Op: "SoftDelete", Err: model.ErrNotFound}
	}

	now := nowFunc()
	entry.Deleted = true
	entry.DeletedAt = &now
	entry.Mounted = false
	return nil
}

func (s *MemStore) Healthcheck(ctx context.Context) error { return nil }

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
