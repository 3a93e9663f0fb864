package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rgranger/stripefs/pkg/metrics"
)

// userMetrics is the Prometheus implementation of metrics.UserMetrics.
type userMetrics struct {
	reconstructions prometheus.Counter
	parityMismatch  prometheus.Counter
	recoveryRuns    prometheus.Counter
}

// NewUserMetrics creates a Prometheus-backed UserMetrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUserMetrics() metrics.UserMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	return &userMetrics{
		reconstructions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "stripefs_user_stripe_reconstructions_total",
			Help: "Total stripes reconstructed from parity on read",
		}),
		parityMismatch: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "stripefs_user_parity_mismatches_total",
			Help: "Total stripe reads where XOR of all blocks was non-zero, plus whole-file checksum mismatches on read",
		}),
		recoveryRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "stripefs_user_recovery_runs_total",
			Help: "Total disk-failure recovery drills completed",
		}),
	}
}

func (m *userMetrics) RecordReconstruction() {
	if m == nil {
		return
	}
	m.reconstructions.Inc()
}

func (m *userMetrics) RecordParityMismatch() {
	if m == nil {
		return
	}
	m.parityMismatch.Inc()
}

func (m *userMetrics) RecordRecoveryRun() {
	if m == nil {
		return
	}
	m.recoveryRuns.Inc()
}
