package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rgranger/stripefs/pkg/metrics"
)

// diskMetrics is the Prometheus implementation of metrics.DiskMetrics.
type diskMetrics struct {
	requests *prometheus.CounterVec
	failMode prometheus.Gauge
}

// NewDiskMetrics creates a Prometheus-backed DiskMetrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDiskMetrics() metrics.DiskMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	return &diskMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripefs_disk_requests_total",
				Help: "Total content-port requests processed by command and status",
			},
			[]string{"cmd", "status"},
		),
		failMode: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stripefs_disk_fail_mode",
				Help: "1 if the disk is currently in simulated fail mode, else 0",
			},
		),
	}
}

func (m *diskMetrics) RecordRequest(cmd, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(cmd, status).Inc()
}

func (m *diskMetrics) SetMode(failMode bool) {
	if m == nil {
		return
	}
	if failMode {
		m.failMode.Set(1)
	} else {
		m.failMode.Set(0)
	}
}
