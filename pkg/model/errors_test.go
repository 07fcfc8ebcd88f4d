package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "host", Message: "must not be empty"}
	assert.Equal(t, `validation: field "host": must not be empty`, err.Error())

	noField := &ValidationError{Message: "malformed request"}
	assert.Equal(t, "validation: malformed request", noField.Error())
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Op: "call", Queue: "dms.node-1", Message: "no reply", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "dms.node-1")
}

func TestLockTimeoutErrorMessage(t *testing.T) {
	err := &LockTimeoutError{LockPath: "/var/lock/dms/mount_unmount.lock", Waited: "5m0s"}
	assert.Contains(t, err.Error(), "/var/lock/dms/mount_unmount.lock")
	assert.Contains(t, err.Error(), "5m0s")
}

func TestSecretErrorUnwrap(t *testing.T) {
	inner := errors.New("401 unauthorized")
	err := &SecretError{SecretRef: "vault://secrets/tgt-A", Message: "denied", Err: inner}

	assert.ErrorIs(t, err, inner)
}

func TestMountErrorPrefersKernelText(t *testing.T) {
	err := &MountError{
		TargetID:   "tgt-A",
		MountPath:  "/m/A",
		KernelText: "device busy",
		Err:        errors.New("exit status 1"),
	}
	assert.Contains(t, err.Error(), "device busy")
}

func TestProcessTrackingErrorUnwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := &ProcessTrackingError{TargetID: "tgt-A", Message: "pid file write failed", Err: inner}

	assert.ErrorIs(t, err, inner)
}

func TestLedgerErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &LedgerError{Op: "UpsertPending", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "UpsertPending")
}

func TestSentinelErrors(t *testing.T) {
	assert.NotNil(t, ErrNotFound)
	assert.NotNil(t, ErrAlreadyExists)
	assert.NotEqual(t, ErrNotFound.Error(), ErrAlreadyExists.Error())
}
