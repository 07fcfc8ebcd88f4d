// Package mountexec is the server-side dispatcher invoked once an RPC
// request lands on a node's inbound queue: it resolves credentials,
// prepares the mount point, spawns or reaps the S3 FUSE helper, and
// shells out to the kernel mount/umount machinery for NFS, per the
// mount and unmount contracts of spec.md §4.5.
package mountexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/dittomount/dms/internal/logger"
	"github.com/dittomount/dms/pkg/fuseproc"
	"github.com/dittomount/dms/pkg/model"
	"github.com/dittomount/dms/pkg/secretclient"
)

// SecretFetcher resolves a backup target's secret reference. Satisfied
// by *secretclient.Client; a seam so tests can stub credential
// resolution without an HTTP server.
type SecretFetcher interface {
	FetchSecret(ctx context.Context, ref, token string) (*secretclient.Secret, error)
}

// ProcessRegistry spawns and reaps the long-lived S3 FUSE helper.
// Satisfied by *fuseproc.Registry.
type ProcessRegistry interface {
	Spawn(ctx context.Context, targetID, mountPath string, env []string, readinessTimeout time.Duration) error
	Kill(targetID string, force bool) error
}

// Config holds the static paths and timeouts the executor needs beyond
// what a single request carries.
type Config struct {
	MountHelperPath     string
	PrivilegedMountHelperPath string
	PrivilegedMountHelperConf string
	ReadinessTimeout    time.Duration
}

// Executor is the Mount Executor (M): it is node-local and stateless
// beyond the process registry it wraps.
type Executor struct {
	cfg     Config
	secrets SecretFetcher
	procs   ProcessRegistry

	// checkMountPoint and runCommand are seams over fuseproc.IsMountPoint
	// and exec.CommandContext so tests can exercise the mount/unmount
	// decision tree without a real kernel mount or mount(8) binary.
	checkMountPoint func(string) (bool, error)
	runCommand      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New returns an Executor that fetches secrets through secrets and
// tracks S3 FUSE helpers through procs.
func New(cfg Config, secrets SecretFetcher, procs ProcessRegistry) *Executor {
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = 30 * time.Second
	}
	return &Executor{
		cfg:             cfg,
		secrets:         secrets,
		procs:           procs,
		checkMountPoint: fuseproc.IsMountPoint,
		runCommand:      runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func successResponse(msg string, mountPath *string) *model.MountResponse {
	return &model.MountResponse{Status: model.StatusSuccess, SuccessMsg: &msg, MountPath: mountPath}
}

func errorResponse(msg string) *model.MountResponse {
	return &model.MountResponse{Status: model.StatusError, ErrorMsg: &msg}
}

// Dispatch routes a validated request to Mount or Unmount based on its
// action.
func (e *Executor) Dispatch(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	switch req.Action {
	case model.ActionMount:
		return e.Mount(ctx, req)
	case model.ActionUnmount:
		return e.Unmount(ctx, req)
	default:
		return nil, &model.ValidationError{Field: "action", Message: "must be mount or unmount"}
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Mount performs the server-side half of a mount request. It is
// idempotent: a target already mounted at the kernel level returns
// success without redoing the work.
func (e *Executor) Mount(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	target := req.BackupTarget
	mountPath := target.FilesystemExportMountPath

	if mounted, err := e.checkMountPoint(mountPath); err == nil && mounted {
		logger.InfoCtx(ctx, "mount target already mounted, skipping", logger.TargetID(target.ID), logger.MountPath(mountPath))
		return successResponse("already mounted", &mountPath), nil
	}

	switch target.Type {
	case model.TargetTypeS3:
		return e.mountS3(ctx, req)
	case model.TargetTypeNFS:
		return e.mountNFS(ctx, req)
	default:
		return nil, &model.ValidationError{Field: "backup_target.type", Message: "must be s3 or nfs"}
	}
}

func (e *Executor) mountS3(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	target := req.BackupTarget
	mountPath := target.FilesystemExportMountPath

	secret, err := e.secrets.FetchSecret(ctx, *target.SecretRef, req.Token)
	if err != nil {
		return nil, err
	}

	if err := ensureDir(mountPath); err != nil {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, Err: err}
	}

	env := s3HelperEnv(secret)
	logger.InfoCtx(ctx, "spawning s3 fuse helper", logger.TargetID(target.ID), logger.MountPath(mountPath))
	if err := e.procs.Spawn(ctx, target.ID, mountPath, env, e.cfg.ReadinessTimeout); err != nil {
		return nil, err
	}

	return successResponse("mounted", &mountPath), nil
}

// s3HelperEnv composes the FUSE helper's environment. Callers must
// never log this slice directly; log fuseproc's sanitized env key list
// instead.
func s3HelperEnv(secret *secretclient.Secret) []string {
	env := []string{
		"DMS_S3_BUCKET=" + secret.Bucket,
		"DMS_S3_REGION=" + secret.Region,
		"AWS_ACCESS_KEY_ID=" + secret.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + secret.SecretAccessKey,
	}
	if secret.Endpoint != "" {
		env = append(env, "DMS_S3_ENDPOINT="+secret.Endpoint)
	}
	if secret.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+secret.SessionToken)
	}
	if secret.UseSSL {
		env = append(env, "DMS_S3_USE_SSL=true")
	} else {
		env = append(env, "DMS_S3_USE_SSL=false")
	}
	if secret.ForcePathStyle {
		env = append(env, "DMS_S3_FORCE_PATH_STYLE=true")
	}
	return env
}

func (e *Executor) mountNFS(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	target := req.BackupTarget
	mountPath := target.FilesystemExportMountPath

	if target.FilesystemExport == nil || *target.FilesystemExport == "" {
		return nil, &model.ValidationError{Field: "backup_target.filesystem_export", Message: "required for nfs targets"}
	}

	if err := ensureDir(mountPath); err != nil {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, Err: err}
	}

	args := []string{"-t", "nfs"}
	if target.NFSMountOpts != nil && *target.NFSMountOpts != "" {
		args = append(args, "-o", *target.NFSMountOpts)
	}
	if e.cfg.PrivilegedMountHelperConf != "" {
		args = append(args, "-o", "conf="+e.cfg.PrivilegedMountHelperConf)
	}
	args = append(args, *target.FilesystemExport, mountPath)

	helper := e.cfg.PrivilegedMountHelperPath
	if helper == "" {
		helper = "mount"
	}

	logger.InfoCtx(ctx, "invoking privileged mount helper", logger.TargetID(target.ID), logger.MountPath(mountPath))
	out, err := e.runCommand(ctx, helper, args...)
	if err != nil {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, KernelText: string(bytes.TrimSpace(out)), Err: err}
	}

	mounted, err := e.checkMountPoint(mountPath)
	if err != nil {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, Err: err}
	}
	if !mounted {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, KernelText: "mount helper exited cleanly but path is not a kernel mount point"}
	}

	return successResponse("mounted", &mountPath), nil
}

// unmountFallbacks is the bounded retry chain for a busy unmount:
// plain, then force (-f), then lazy (-l). The chain stops at the first
// attempt that succeeds or that reports the path is no longer mounted.
var unmountFallbacks = [][]string{
	{},
	{"-f"},
	{"-l"},
}

// Unmount performs the server-side half of an unmount request. It is
// idempotent: a target not mounted at the kernel level returns success
// without invoking umount(8).
func (e *Executor) Unmount(ctx context.Context, req *model.MountRequest) (*model.MountResponse, error) {
	target := req.BackupTarget
	mountPath := target.FilesystemExportMountPath

	if target.Type == model.TargetTypeS3 {
		if err := e.procs.Kill(target.ID, false); err != nil {
			return nil, err
		}
	}

	mounted, err := e.checkMountPoint(mountPath)
	if err != nil {
		return nil, &model.MountError{TargetID: target.ID, MountPath: mountPath, Err: err}
	}
	if !mounted {
		return successResponse("not mounted", nil), nil
	}

	var lastErr error
	var lastOut []byte
	for _, extra := range unmountFallbacks {
		args := append(append([]string{}, extra...), mountPath)
		out, err := e.runCommand(ctx, "umount", args...)
		if err == nil {
			return successResponse("unmounted", nil), nil
		}
		lastErr, lastOut = err, out

		stillMounted, checkErr := e.checkMountPoint(mountPath)
		if checkErr == nil && !stillMounted {
			return successResponse("unmounted", nil), nil
		}
	}

	return nil, &model.MountError{
		TargetID:   target.ID,
		MountPath:  mountPath,
		KernelText: string(bytes.TrimSpace(lastOut)),
		Err:        fmt.Errorf("umount did not converge after fallback chain: %w", lastErr),
	}
}
