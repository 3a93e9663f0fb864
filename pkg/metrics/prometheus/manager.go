// Package prometheus provides Prometheus-backed implementations of the
// recorder interfaces declared in pkg/metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rgranger/stripefs/pkg/metrics"
)

// managerMetrics is the Prometheus implementation of metrics.ManagerMetrics.
type managerMetrics struct {
	commands        *prometheus.CounterVec
	busyRejections  *prometheus.CounterVec
	busy            prometheus.Gauge
}

// NewManagerMetrics creates a Prometheus-backed ManagerMetrics.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewManagerMetrics() metrics.ManagerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	return &managerMetrics{
		commands: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripefs_manager_commands_total",
				Help: "Total manager commands processed by command and status",
			},
			[]string{"cmd", "status"},
		),
		busyRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripefs_manager_busy_rejections_total",
				Help: "Total commands rejected because the manager was busy, by op",
			},
			[]string{"op"},
		),
		busy: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stripefs_manager_busy",
				Help: "1 if the manager busy flag is currently set, else 0",
			},
		),
	}
}

func (m *managerMetrics) RecordCommand(cmd, status string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, status).Inc()
}

func (m *managerMetrics) RecordBusyRejection(op string) {
	if m == nil {
		return
	}
	m.busyRejections.WithLabelValues(op).Inc()
}

func (m *managerMetrics) SetBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.busy.Set(1)
	} else {
		m.busy.Set(0)
	}
}
