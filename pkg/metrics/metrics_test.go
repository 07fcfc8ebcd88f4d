package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricNames(t *testing.T, registry *prometheus.Registry) []string {
	t.Helper()
	mfs, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	return names
}

func TestNewRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)
	assert.True(t, m.registered)

	names := metricNames(t, registry)
	assert.Contains(t, names, "dms_mount_requests_total")
	assert.Contains(t, names, "dms_mount_unmount_requests_total")
	assert.Contains(t, names, "dms_lockgate_wait_duration_seconds")
	assert.Contains(t, names, "dms_rpc_call_duration_seconds")
	assert.Contains(t, names, "dms_fuseproc_processes")
	assert.Contains(t, names, "dms_ledger_active_mounts")
}

func TestObserveMountIncrementsCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveMount("s3", StatusSuccess)
	m.ObserveMount("s3", StatusSuccess)
	m.ObserveMount("nfs", StatusError)

	names := metricNames(t, registry)
	assert.Contains(t, names, "dms_mount_requests_total")
}

func TestObserveLockWaitRecordsHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveLockWait("h1", 25*time.Millisecond)
	m.ObserveLockWait("h1", 2*time.Second)

	names := metricNames(t, registry)
	assert.Contains(t, names, "dms_lockgate_wait_duration_seconds")
}

func TestSetActiveMountsAndFUSEProcesses(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SetActiveMounts(3)
	m.SetFUSEProcesses("spawned", 2)
	m.SetFUSEProcesses("loaded_from_disk", 1)

	names := metricNames(t, registry)
	assert.Contains(t, names, "dms_ledger_active_mounts")
	assert.Contains(t, names, "dms_fuseproc_processes")
}

func TestNilMetricsAreSafeToCall(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMount("s3", StatusSuccess)
		m.ObserveUnmount("s3", StatusSuccess)
		m.ObserveLockWait("h1", time.Second)
		m.ObserveRPC("mount", StatusSuccess, time.Second)
		m.SetFUSEProcesses("spawned", 1)
		m.SetActiveMounts(1)
	})
}

func TestNewWithoutRegistryDoesNotRegister(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	assert.False(t, m.registered)
	assert.NotPanics(t, func() {
		m.ObserveMount("s3", StatusSuccess)
	})
}
