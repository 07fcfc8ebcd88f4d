package mountexec

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dittomount/dms/pkg/model"
	"github.com/dittomount/dms/pkg/secretclient"
)

type fakeSecrets struct {
	secret *secretclient.Secret
	err    error
}

func (f *fakeSecrets) FetchSecret(ctx context.Context, ref, token string) (*secretclient.Secret, error) {
	return f.secret, f.err
}

type fakeRegistry struct {
	spawnErr  error
	killErr   error
	spawned   []string
	killed    []string
}

func (f *fakeRegistry) Spawn(ctx context.Context, targetID, mountPath string, env []string, readinessTimeout time.Duration) error {
	f.spawned = append(f.spawned, targetID)
	return f.spawnErr
}

func (f *fakeRegistry) Kill(targetID string, force bool) error {
	f.killed = append(f.killed, targetID)
	return f.killErr
}

func newTestExecutor(t *testing.T, secrets SecretFetcher, procs ProcessRegistry) (*Executor, *[]string, *map[string]bool) {
	e := New(Config{}, secrets, procs)

	mounted := map[string]bool{}
	e.checkMountPoint = func(path string) (bool, error) { return mounted[path], nil }

	var ran []string
	e.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ran = append(ran, name+" "+filepath.Join(args...))
		return nil, nil
	}
	return e, &ran, &mounted
}

func s3Request(targetID, mountPath string) *model.MountRequest {
	ref := "vault://secrets/" + targetID
	return &model.MountRequest{
		Token:  "tok",
		Job:    model.Job{ID: 1},
		Host:   "h1",
		Action: model.ActionMount,
		BackupTarget: model.BackupTarget{
			ID:                        targetID,
			Type:                      model.TargetTypeS3,
			SecretRef:                 &ref,
			FilesystemExportMountPath: mountPath,
		},
	}
}

func nfsRequest(targetID, mountPath, export string) *model.MountRequest {
	return &model.MountRequest{
		Token:  "tok",
		Job:    model.Job{ID: 1},
		Host:   "h1",
		Action: model.ActionMount,
		BackupTarget: model.BackupTarget{
			ID:                        targetID,
			Type:                      model.TargetTypeNFS,
			FilesystemExport:          &export,
			FilesystemExportMountPath: mountPath,
		},
	}
}

func TestMountS3FetchesSecretAndSpawns(t *testing.T) {
	secrets := &fakeSecrets{secret: &secretclient.Secret{AccessKeyID: "AKIA", SecretAccessKey: "shh", Bucket: "backups"}}
	procs := &fakeRegistry{}
	e, _, _ := newTestExecutor(t, secrets, procs)

	resp, err := e.Mount(context.Background(), s3Request("tgt-A", t.TempDir()+"/mnt"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, []string{"tgt-A"}, procs.spawned)
}

func TestMountS3SkipsWhenAlreadyMounted(t *testing.T) {
	secrets := &fakeSecrets{}
	procs := &fakeRegistry{}
	e, _, mounted := newTestExecutor(t, secrets, procs)

	path := t.TempDir() + "/mnt"
	(*mounted)[path] = true

	resp, err := e.Mount(context.Background(), s3Request("tgt-A", path))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Empty(t, procs.spawned)
}

func TestMountS3PropagatesSecretError(t *testing.T) {
	secrets := &fakeSecrets{err: &model.SecretError{SecretRef: "vault://secrets/tgt-A", Message: "denied"}}
	procs := &fakeRegistry{}
	e, _, _ := newTestExecutor(t, secrets, procs)

	_, err := e.Mount(context.Background(), s3Request("tgt-A", t.TempDir()+"/mnt"))
	require.Error(t, err)
	var serr *model.SecretError
	require.ErrorAs(t, err, &serr)
}

func TestMountS3PropagatesSpawnError(t *testing.T) {
	secrets := &fakeSecrets{secret: &secretclient.Secret{AccessKeyID: "AKIA", SecretAccessKey: "shh", Bucket: "backups"}}
	procs := &fakeRegistry{spawnErr: &model.MountError{TargetID: "tgt-A", MountPath: "/m/A", KernelText: "boom"}}
	e, _, _ := newTestExecutor(t, secrets, procs)

	_, err := e.Mount(context.Background(), s3Request("tgt-A", t.TempDir()+"/mnt"))
	require.Error(t, err)
	var merr *model.MountError
	require.ErrorAs(t, err, &merr)
}

func TestMountNFSInvokesHelperAndVerifies(t *testing.T) {
	e, ran, mounted := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"

	realRun := e.runCommand
	e.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		(*mounted)[path] = true
		return realRun(ctx, name, args...)
	}

	resp, err := e.Mount(context.Background(), nfsRequest("tgt-B", path, "nfshost:/export"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	require.Len(t, *ran, 1)
}

func TestMountNFSFailsWhenHelperDoesNotProduceMountPoint(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"

	_, err := e.Mount(context.Background(), nfsRequest("tgt-B", path, "nfshost:/export"))
	require.Error(t, err)
	var merr *model.MountError
	require.ErrorAs(t, err, &merr)
}

func TestMountNFSRequiresFilesystemExport(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	req := nfsRequest("tgt-B", t.TempDir()+"/mnt", "")
	req.BackupTarget.FilesystemExport = nil

	_, err := e.Mount(context.Background(), req)
	require.Error(t, err)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUnmountS3KillsThenUnmounts(t *testing.T) {
	procs := &fakeRegistry{}
	e, ran, mounted := newTestExecutor(t, &fakeSecrets{}, procs)
	path := t.TempDir() + "/mnt"
	(*mounted)[path] = true

	realRun := e.runCommand
	e.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		(*mounted)[path] = false
		return realRun(ctx, name, args...)
	}

	req := s3Request("tgt-A", path)
	req.Action = model.ActionUnmount
	resp, err := e.Unmount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, []string{"tgt-A"}, procs.killed)
	require.Len(t, *ran, 1)
}

func TestUnmountNotMountedIsIdempotent(t *testing.T) {
	e, ran, _ := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"

	req := nfsRequest("tgt-B", path, "nfshost:/export")
	req.Action = model.ActionUnmount
	resp, err := e.Unmount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Empty(t, *ran)
}

func TestUnmountEscalatesThroughFallbackChain(t *testing.T) {
	e, ran, mounted := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"
	(*mounted)[path] = true

	attempts := 0
	e.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		attempts++
		*ran = append(*ran, name)
		if attempts < 3 {
			return []byte("device or resource busy"), errors.New("exit status 1")
		}
		(*mounted)[path] = false
		return nil, nil
	}

	req := nfsRequest("tgt-B", path, "nfshost:/export")
	req.Action = model.ActionUnmount
	resp, err := e.Unmount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, 3, attempts)
}

func TestUnmountReturnsMountErrorWhenNeverConverges(t *testing.T) {
	e, _, mounted := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"
	(*mounted)[path] = true

	e.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("device or resource busy"), errors.New("exit status 1")
	}

	req := nfsRequest("tgt-B", path, "nfshost:/export")
	req.Action = model.ActionUnmount
	_, err := e.Unmount(context.Background(), req)
	require.Error(t, err)
	var merr *model.MountError
	require.ErrorAs(t, err, &merr)
}

func TestDispatchRoutesByAction(t *testing.T) {
	e, _, mounted := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	path := t.TempDir() + "/mnt"
	(*mounted)[path] = true

	req := nfsRequest("tgt-B", path, "nfshost:/export")
	req.Action = model.ActionUnmount
	resp, err := e.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
}

func TestDispatchRejectsUnknownAction(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeSecrets{}, &fakeRegistry{})
	req := nfsRequest("tgt-B", t.TempDir()+"/mnt", "nfshost:/export")
	req.Action = "bogus"

	_, err := e.Dispatch(context.Background(), req)
	require.Error(t, err)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestS3HelperEnvOmitsEmptyOptionalFields(t *testing.T) {
	env := s3HelperEnv(&secretclient.Secret{AccessKeyID: "AKIA", SecretAccessKey: "shh", Bucket: "backups"})
	joined := map[string]bool{}
	for _, kv := range env {
		joined[kv] = true
	}
	assert.Contains(t, joined, "DMS_S3_BUCKET=backups")
	assert.Contains(t, joined, "AWS_ACCESS_KEY_ID=AKIA")

	for kv := range joined {
		assert.NotContains(t, kv, "AWS_SESSION_TOKEN")
	}
}
