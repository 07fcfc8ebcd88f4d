package fuseproc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dittomount/dms/pkg/model"
)

func TestSpawnIsIdempotentWhenAlreadyInMemory(t *testing.T) {
	reg := New(t.TempDir(), "/bin/true")
	reg.checkMountPoint = func(string) (bool, error) { return true, nil }

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	reg.procs["tgt-A"] = &model.ProcessRecord{TargetID: "tgt-A", PID: cmd.Process.Pid}

	err := reg.Spawn(context.Background(), "tgt-A", "/m/A", nil, time.Second)
	assert.NoError(t, err)
}

func TestSpawnLoadsFromPIDFileWhenAlive(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir, "/bin/true")

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	require.NoError(t, writePIDFileAtomic(filepath.Join(dir, "tgt-A.pid"), cmd.Process.Pid))

	err := reg.Spawn(context.Background(), "tgt-A", "/m/A", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, reg.IsRunning("tgt-A"))
}

func TestSpawnFailsWhenReadinessNeverArrives(t *testing.T) {
	reg := New(t.TempDir(), "/bin/sleep")
	reg.checkMountPoint = func(string) (bool, error) { return false, nil }

	err := reg.Spawn(context.Background(), "tgt-A", "/m/A", []string{"FOO=bar"}, 200*time.Millisecond)
	require.Error(t, err)

	var merr *model.MountError
	require.ErrorAs(t, err, &merr)
}

func TestKillUntrackedTargetIsNoop(t *testing.T) {
	reg := New(t.TempDir(), "/bin/true")
	assert.NoError(t, reg.Kill("no-such-target", false))
}

func TestKillStopsRunningProcess(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir, "/bin/true")

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	pidPath := filepath.Join(dir, "tgt-A.pid")
	require.NoError(t, writePIDFileAtomic(pidPath, pid))
	reg.procs["tgt-A"] = &model.ProcessRecord{TargetID: "tgt-A", PID: pid}

	require.NoError(t, reg.Kill("tgt-A", false))

	assert.False(t, isAlive(pid))
	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestKillRemovesStalePIDFileWithoutSignaling(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir, "/bin/true")

	pidPath := filepath.Join(dir, "tgt-A.pid")
	require.NoError(t, writePIDFileAtomic(pidPath, 999999))

	require.NoError(t, reg.Kill("tgt-A", false))
	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestIsRunningHydratesFromDisk(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir, "/bin/true")

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	require.NoError(t, writePIDFileAtomic(filepath.Join(dir, "tgt-A.pid"), cmd.Process.Pid))

	assert.True(t, reg.IsRunning("tgt-A"))
	assert.Contains(t, reg.procs, "tgt-A")
}

func TestLoadExistingAdoptsAliveAndDeletesStale(t *testing.T) {
	dir := t.TempDir()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	require.NoError(t, writePIDFileAtomic(filepath.Join(dir, "tgt-alive.pid"), cmd.Process.Pid))
	require.NoError(t, writePIDFileAtomic(filepath.Join(dir, "tgt-dead.pid"), 999999))

	reg := New(dir, "/bin/true")
	require.NoError(t, reg.LoadExisting())

	assert.True(t, reg.IsRunning("tgt-alive"))
	assert.False(t, reg.IsRunning("tgt-dead"))

	_, err := os.Stat(filepath.Join(dir, "tgt-dead.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupDeadRemovesDeadEntries(t *testing.T) {
	dir := t.TempDir()
	reg := New(dir, "/bin/true")

	pidPath := filepath.Join(dir, "tgt-dead.pid")
	require.NoError(t, writePIDFileAtomic(pidPath, 999999))
	reg.procs["tgt-dead"] = &model.ProcessRecord{TargetID: "tgt-dead", PID: 999999}

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()
	reg.procs["tgt-alive"] = &model.ProcessRecord{TargetID: "tgt-alive", PID: cmd.Process.Pid}

	removed := reg.CleanupDead()
	assert.Equal(t, 1, removed)
	assert.NotContains(t, reg.procs, "tgt-dead")
	assert.Contains(t, reg.procs, "tgt-alive")

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDFileAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tgt-A.pid")
	require.NoError(t, writePIDFileAtomic(path, 12345))

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestReadPIDFileMissingReturnsZero(t *testing.T) {
	pid, err := readPIDFile(filepath.Join(t.TempDir(), "none.pid"))
	require.NoError(t, err)
	assert.Equal(t, 0, pid)
}

func TestReadPIDFileMalformedReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := readPIDFile(path)
	assert.Error(t, err)
}

func TestEnvKeys(t *testing.T) {
	keys := envKeys([]string{"AWS_ACCESS_KEY_ID=AKIA", "AWS_SECRET_ACCESS_KEY=shh", "malformed"})
	assert.Equal(t, []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}, keys)
}

func TestIsAliveFalseForReapedProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	assert.False(t, isAlive(cmd.Process.Pid))
}

func TestPidFileFormatIsDecimalPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tgt-A.pid")
	require.NoError(t, writePIDFileAtomic(path, 42))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = strconv.Atoi(string(data))
	assert.NoError(t, err)
}
