// Package metrics exposes Prometheus collectors for the signaling core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoomsActive is the number of live rooms.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_rooms_active",
		Help: "Number of active rooms.",
	})

	// PeersConnected is the number of joined peers across all rooms.
	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_peers_connected",
		Help: "Number of joined peers.",
	})

	// ProducersActive is the number of live producers.
	ProducersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_producers_active",
		Help: "Number of active producers.",
	})

	// ConsumersActive is the number of live consumers.
	ConsumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_consumers_active",
		Help: "Number of active consumers.",
	})

	// MessagesReceived counts inbound signaling messages by type.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_signaling_messages_received_total",
		Help: "Inbound signaling messages by type.",
	}, []string{"type"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
