// Package metrics defines the metrics-recording interfaces used by the
// manager, disk and user roles, and a process-wide enabled/registry switch.
// Concrete Prometheus-backed implementations live in pkg/metrics/prometheus;
// callers that never call InitRegistry get nil recorders (zero overhead).
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	regMu    sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the process registry.
// Must be called before constructing any Prometheus-backed recorder.
func InitRegistry() *prometheus.Registry {
	regMu.Lock()
	defer regMu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled.Store(true)
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the process registry, creating it if needed.
func GetRegistry() *prometheus.Registry {
	regMu.Lock()
	defer regMu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// ManagerMetrics records Manager-side dispatch counters. A nil ManagerMetrics
// is safe to call methods on (no-op), matching the enabled-or-nil convention
// used by every recorder in this package.
type ManagerMetrics interface {
	RecordCommand(cmd string, status string)
	RecordBusyRejection(op string)
	SetBusy(busy bool)
}

// DiskMetrics records Disk-side content-port counters.
type DiskMetrics interface {
	RecordRequest(cmd string, status string)
	SetMode(failMode bool)
}

// UserMetrics records User-side stripe-engine counters.
type UserMetrics interface {
	RecordReconstruction()
	RecordParityMismatch()
	RecordRecoveryRun()
}
