// Package metrics provides Prometheus instrumentation for the mount
// coordinator, RPC transport, lock gate, and FUSE process registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelTargetID  = "target_id"
	LabelHost      = "host"
	LabelAction    = "action"
	LabelStatus    = "status"
	LabelTargetType = "target_type"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Metrics provides Prometheus metrics for a DMS server or coordinator
// process. A nil *Metrics is safe to call methods on: every method
// short-circuits, so callers that run with metrics disabled pay no
// instrumentation overhead.
type Metrics struct {
	mountTotal   *prometheus.CounterVec
	unmountTotal *prometheus.CounterVec

	lockWaitDuration *prometheus.HistogramVec
	rpcDuration      *prometheus.HistogramVec

	fuseProcessesGauge *prometheus.GaugeVec
	activeMountsGauge  prometheus.Gauge

	registered bool
}

// New creates and, if registry is non-nil, registers DMS metrics.
// Passing a nil registry builds the collectors without registering
// them, useful for tests that only want to read the observed values.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		mountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dms",
				Subsystem: "mount",
				Name:      "requests_total",
				Help:      "Total number of mount requests handled by the coordinator.",
			},
			[]string{LabelTargetType, LabelStatus},
		),
		unmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dms",
				Subsystem: "mount",
				Name:      "unmount_requests_total",
				Help:      "Total number of unmount requests handled by the coordinator.",
			},
			[]string{LabelTargetType, LabelStatus},
		),
		lockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dms",
				Subsystem: "lockgate",
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting to acquire a host's exclusive mount lock.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{LabelHost},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dms",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "Time from publishing a mount/unmount RPC to receiving its reply.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{LabelAction, LabelStatus},
		),
		fuseProcessesGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dms",
				Subsystem: "fuseproc",
				Name:      "processes",
				Help:      "Number of FUSE helper processes currently tracked by the registry.",
			},
			[]string{"source"},
		),
		activeMountsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dms",
				Subsystem: "ledger",
				Name:      "active_mounts",
				Help:      "Number of ledger rows currently marked mounted.",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.mountTotal,
			m.unmountTotal,
			m.lockWaitDuration,
			m.rpcDuration,
			m.fuseProcessesGauge,
			m.activeMountsGauge,
		)
		m.registered = true
	}

	return m
}

// ObserveMount records a mount request outcome.
func (m *Metrics) ObserveMount(targetType, status string) {
	if m == nil {
		return
	}
	m.mountTotal.WithLabelValues(targetType, status).Inc()
}

// ObserveUnmount records an unmount request outcome.
func (m *Metrics) ObserveUnmount(targetType, status string) {
	if m == nil {
		return
	}
	m.unmountTotal.WithLabelValues(targetType, status).Inc()
}

// ObserveLockWait records time spent waiting for host's lock.
func (m *Metrics) ObserveLockWait(host string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWaitDuration.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveRPC records the round-trip time of a correlated RPC call.
func (m *Metrics) ObserveRPC(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(action, status).Observe(d.Seconds())
}

// SetFUSEProcesses sets the current count of tracked FUSE helpers for
// the given process source ("spawned" or "loaded_from_disk").
func (m *Metrics) SetFUSEProcesses(source string, count float64) {
	if m == nil {
		return
	}
	m.fuseProcessesGauge.WithLabelValues(source).Set(count)
}

// SetActiveMounts sets the current number of mounted ledger rows.
func (m *Metrics) SetActiveMounts(count float64) {
	if m == nil {
		return
	}
	m.activeMountsGauge.Set(count)
}
