package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the server's Prometheus collectors. They live on the
// Server's own registry rather than the package default so tests can run
// several servers side by side.
type metrics struct {
	openSessions    prometheus.Gauge
	editingSessions prometheus.Gauge
	packetsTotal    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		openSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dalang_open_sessions",
			Help: "Number of currently open WebSocket sessions.",
		}),
		editingSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dalang_editing_sessions",
			Help: "Number of sessions that have opened a project for editing.",
		}),
		packetsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dalang_packets_total",
			Help: "Client packets processed, by protocol category.",
		}, []string{"category"}),
	}
}
