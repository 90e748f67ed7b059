// Package server exposes Prometheus metrics describing relay activity.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_clients",
		Help: "Number of currently connected clients.",
	})
	metricRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Number of rooms with at least one member.",
	})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_frames_total",
		Help: "Total number of frames fanned out to room peers.",
	})
	metricDiscardedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_discarded_frames_total",
		Help: "Total number of inbound frames dropped as malformed or invalid.",
	})
	metricUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_uploads_total",
		Help: "Total number of accepted file uploads.",
	})
)

// MetricsHandler exposes Prometheus metrics, served at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
