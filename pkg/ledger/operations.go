package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/dittomount/dms/pkg/model"
)

// ============================================
// LEDGER OPERATIONS
// ============================================

func (s *GORMStore) UpsertPending(ctx context.Context, req *model.MountRequest) (*model.LedgerEntry, error) {
	key := req.Key()
	requestData, err := json.Marshal(req)
	if err != nil {
		return nil, &model.LedgerError{Op: "UpsertPending", Err: err}
	}

	var entry model.LedgerEntry
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("job_id = ? AND backup_target_id = ? AND host = ? AND deleted = ?",
			key.JobID, key.BackupTargetID, key.Host, false).
			First(&entry).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = model.LedgerEntry{
				JobID:          key.JobID,
				BackupTargetID: key.BackupTargetID,
				Host:           key.Host,
				ActionLast:     req.Action,
				StatusLast:     model.StatusPending,
				RequestData:    string(requestData),
			}
			return tx.Create(&entry).Error
		case err != nil:
			return err
		default:
			entry.ActionLast = req.Action
			entry.StatusLast = model.StatusPending
			entry.RequestData = string(requestData)
			entry.ErrorMsg = ""
			entry.CompletedAt = nil
			return tx.Save(&entry).Error
		}
	})
	if txErr != nil {
		if isUniqueConstraintError(txErr) {
			return nil, &model.LedgerError{Op: "UpsertPending", Err: model.ErrAlreadyExists}
		}
		return nil, &model.LedgerError{Op: "UpsertPending", Err: txErr}
	}
	return &entry, nil
}

func (s *GORMStore) MarkSuccess(ctx context.Context, key model.LedgerKey, mountPath *string, successMsg string) error {
	var entry model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND backup_target_id = ? AND host = ? AND deleted = ?",
			key.JobID, key.BackupTargetID, key.Host, false).
		First(&entry).Error
	if err != nil {
		return &model.LedgerError{Op: "MarkSuccess", Err: convertNotFoundError(err)}
	}

	now := nowFunc()
	entry.StatusLast = model.StatusSuccess
	entry.SuccessMsg = successMsg
	entry.ErrorMsg = ""
	entry.CompletedAt = &now

	switch entry.ActionLast {
	case model.ActionMount:
		entry.Mounted = true
		entry.MountPath = mountPath
	case model.ActionUnmount:
		entry.Mounted = false
	}

	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return &model.LedgerError{Op: "MarkSuccess", Err: err}
	}
	return nil
}

func (s *GORMStore) MarkError(ctx context.Context, key model.LedgerKey, errMsg string) error {
	var entry model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND backup_target_id = ? AND host = ? AND deleted = ?",
			key.JobID, key.BackupTargetID, key.Host, false).
		First(&entry).Error
	if err != nil {
		return &model.LedgerError{Op: "MarkError", Err: convertNotFoundError(err)}
	}

	now := nowFunc()
	entry.StatusLast = model.StatusError
	entry.ErrorMsg = errMsg
	entry.CompletedAt = &now

	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return &model.LedgerError{Op: "MarkError", Err: err}
	}
	return nil
}

func (s *GORMStore) CountActive(ctx context.Context, targetID, host string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("backup_target_id = ? AND host = ? AND mounted = ? AND deleted = ?", targetID, host, true, false).
		Count(&count).Error
	if err != nil {
		return 0, &model.LedgerError{Op: "CountActive", Err: err}
	}
	return int(count), nil
}

func (s *GORMStore) GetByKey(ctx context.Context, key model.LedgerKey) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND backup_target_id = ? AND host = ? AND deleted = ?",
			key.JobID, key.BackupTargetID, key.Host, false).
		First(&entry).Error
	if err != nil {
		return nil, &model.LedgerError{Op: "GetByKey", Err: convertNotFoundError(err)}
	}
	return &entry, nil
}

func (s *GORMStore) ListActive(ctx context.Context, host string) ([]*model.LedgerEntry, error) {
	query := s.db.WithContext(ctx).
		Where("mounted = ? AND deleted = ?", true, false).
		Order("host, backup_target_id")
	if host != "" {
		query = query.Where("host = ?", host)
	}

	var entries []*model.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, &model.LedgerError{Op: "ListActive", Err: err}
	}
	return entries, nil
}

func (s *GORMStore) HistoryByTarget(ctx context.Context, targetID string, limit int) ([]*model.LedgerEntry, error) {
	query := s.db.WithContext(ctx).
		Where("backup_target_id = ?", targetID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []*model.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, &model.LedgerError{Op: "HistoryByTarget", Err: err}
	}
	return entries, nil
}

func (s *GORMStore) SoftDelete(ctx context.Context, key model.LedgerKey) error {
	now := nowFunc()
	result := s.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("job_id = ? AND backup_target_id = ? AND host = ? AND deleted = ?",
			key.JobID, key.BackupTargetID, key.Host, false).
		Updates(map[string]any{"deleted": true, "deleted_at": now, "mounted": false})
	if result.Error != nil {
		return &model.LedgerError{Op: "SoftDelete", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &model.LedgerError{Op: "SoftDelete", Err: model.ErrNotFound}
	}
	return nil
}
