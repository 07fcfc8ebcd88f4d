// Package model defines the wire and persistence types shared by the
// mount coordinator, the RPC transport, and the mount executor.
package model

import "time"

// Action identifies whether a ledger row or request concerns a mount or
// an unmount.
type Action string

const (
	ActionMount   Action = "mount"
	ActionUnmount Action = "unmount"
)

// Status is the last observed outcome of a request against a ledger row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// TargetType identifies the kind of backup target a request addresses.
type TargetType string

const (
	TargetTypeS3  TargetType = "s3"
	TargetTypeNFS TargetType = "nfs"
)

// LedgerKey is the logical key identifying a unique (job, target, host)
// binding among live ledger rows.
type LedgerKey struct {
	JobID           int64
	BackupTargetID  string
	Host            string
}

// LedgerEntry is one row per (job, target, host) binding. It is the
// GORM-mapped persistence type for the ledger store.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	JobID          int64  `gorm:"column:job_id;not null;index:idx_job_id" json:"job_id"`
	BackupTargetID string `gorm:"column:backup_target_id;size:255;not null;index:idx_target_host_mounted,priority:1;index:idx_host_mounted,priority:2" json:"backup_target_id"`
	Host           string `gorm:"column:host;size:255;not null;index:idx_target_host_mounted,priority:2;index:idx_host_mounted,priority:1" json:"host"`

	Mounted bool `gorm:"column:mounted;not null;default:false;index:idx_target_host_mounted,priority:3" json:"mounted"`

	MountPath *string `gorm:"column:mount_path;size:512" json:"mount_path,omitempty"`

	ActionLast Action `gorm:"column:action_last;size:20" json:"action_last"`
	StatusLast Status `gorm:"column:status_last;size:20" json:"status_last"`

	RequestData  string `gorm:"column:request_data;type:text" json:"request_data,omitempty"`
	ResponseData string `gorm:"column:response_data;type:text" json:"response_data,omitempty"`

	ErrorMsg   string `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	SuccessMsg string `gorm:"column:success_msg;type:text" json:"success_msg,omitempty"`

	CreatedAt   time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	Deleted   bool       `gorm:"column:deleted;not null;default:false;index:idx_deleted" json:"deleted"`
	DeletedAt *time.Time `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
}

// TableName pins the GORM table name regardless of struct renames.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Key returns the logical (job, target, host) key for this row.
func (e *LedgerEntry) Key() LedgerKey {
	return LedgerKey{JobID: e.JobID, BackupTargetID: e.BackupTargetID, Host: e.Host}
}

// AllModels returns every type GORM must AutoMigrate. Callers pass this
// slice directly to (*gorm.DB).AutoMigrate.
func AllModels() []any {
	return []any{
		&LedgerEntry{},
	}
}

// BackupTarget is request-embedded and never stored by the core; it
// describes the remote endpoint a mount/unmount request addresses.
type BackupTarget struct {
	ID                         string     `json:"id" validate:"required"`
	Type                       TargetType `json:"type" validate:"required,oneof=s3 nfs"`
	FilesystemExport           *string    `json:"filesystem_export,omitempty"`
	FilesystemExportMountPath  string     `json:"filesystem_export_mount_path" validate:"required"`
	SecretRef                  *string    `json:"secret_ref,omitempty"`
	NFSMountOpts               *string    `json:"nfs_mount_opts,omitempty"`
	Status                     string     `json:"status"`
	Deleted                    bool       `json:"deleted"`
}

// Validate checks type-specific requirements that struct tags alone
// cannot express: S3 targets need a secret reference, NFS targets need
// an export path.
func (t *BackupTarget) Validate() error {
	switch t.Type {
	case TargetTypeS3:
		if t.SecretRef == nil || *t.SecretRef == "" {
			return &ValidationError{Field: "backup_target.secret_ref", Message: "required for s3 targets"}
		}
	case TargetTypeNFS:
		if t.FilesystemExport == nil || *t.FilesystemExport == "" {
			return &ValidationError{Field: "backup_target.filesystem_export", Message: "required for nfs targets"}
		}
	default:
		return &ValidationError{Field: "backup_target.type", Message: "must be s3 or nfs"}
	}
	if t.FilesystemExportMountPath == "" {
		return &ValidationError{Field: "backup_target.filesystem_export_mount_path", Message: "required"}
	}
	return nil
}

// RequestContext carries caller identity metadata that flows through to
// the ledger's opaque request blob for forensics.
type RequestContext struct {
	UserID    string `json:"user_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Job identifies the requesting backup/restore job. JobID is validated
// as a JSON number; a string-typed id is a ValidationError rather than
// a silent coercion.
type Job struct {
	ID     int64  `json:"id"`
	Action Action `json:"action,omitempty"`
}

// MountRequest is the wire format published to a node's inbound queue
// and mirrored into the ledger's request blob.
type MountRequest struct {
	Context      RequestContext `json:"context"`
	Token        string         `json:"token" validate:"required"`
	Job          Job            `json:"job" validate:"required"`
	Host         string         `json:"host" validate:"required"`
	Action       Action         `json:"action" validate:"required,oneof=mount unmount"`
	BackupTarget BackupTarget   `json:"backup_target" validate:"required"`
}

// Key returns the logical ledger key this request binds.
func (r *MountRequest) Key() LedgerKey {
	return LedgerKey{JobID: r.Job.ID, BackupTargetID: r.BackupTarget.ID, Host: r.Host}
}

// Validate applies the field-presence and type-contradiction rules from
// the wire contract beyond what struct tags alone can express.
func (r *MountRequest) Validate() error {
	if r.Host == "" {
		return &ValidationError{Field: "host", Message: "must not be empty"}
	}
	if r.Action != ActionMount && r.Action != ActionUnmount {
		return &ValidationError{Field: "action", Message: "must be mount or unmount"}
	}
	return r.BackupTarget.Validate()
}

// MountResponse is the wire format published back to the caller's reply
// queue.
type MountResponse struct {
	Status     Status  `json:"status"`
	SuccessMsg *string `json:"success_msg,omitempty"`
	ErrorMsg   *string `json:"error_msg,omitempty"`
	MountPath  *string `json:"mount_path,omitempty"`
}

// UnmountResult is the coordinator's richer local return value for
// Unmount, which additionally reports the reference-count bookkeeping
// outcome that never crosses the wire.
type UnmountResult struct {
	Status               Status `json:"status"`
	PhysicallyUnmounted   bool   `json:"physically_unmounted"`
	Remaining            int    `json:"remaining"`
	Message              string `json:"message,omitempty"`
}

// ProcessSource records how a ProcessRecord entered the in-memory
// registry: freshly spawned, or adopted from a PID file left by a prior
// server instance.
type ProcessSource string

const (
	ProcessSourceSpawned        ProcessSource = "spawned"
	ProcessSourceLoadedFromDisk ProcessSource = "loaded_from_disk"
)

// ProcessRecord describes one long-lived FUSE helper process tracked by
// the process registry.
type ProcessRecord struct {
	TargetID  string        `json:"target_id"`
	PID       int           `json:"pid"`
	MountPath string        `json:"mount_path"`
	StartedAt time.Time     `json:"started_at"`
	EnvKeys   []string      `json:"env_keys,omitempty"`
	Source    ProcessSource `json:"source"`
}
