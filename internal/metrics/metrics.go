// Package metrics exposes Prometheus collectors for the signaling server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Join rejection reasons, used as label values.
const (
	ReasonNotFound    = "not_found"
	ReasonFull        = "full"
	ReasonAlreadyIn   = "already_in_room"
	ReasonInvalidRoom = "invalid_room"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// which keeps tests and embedders free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	occupiedRooms  prometheus.Gauge
	roomsCreated   prometheus.Counter
	roomsSwept     prometheus.Counter
	joins          *prometheus.CounterVec
	joinRejections *prometheus.CounterVec
	signalsRelayed prometheus.Counter
	signalsDropped prometheus.Counter
	evictions      prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_websocket_connections",
			Help: "Current number of signaling websocket connections.",
		}),
		occupiedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_rooms_occupied",
			Help: "Rooms with at least one member.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_rooms_created_total",
			Help: "Rooms minted by the registry.",
		}),
		roomsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_rooms_swept_total",
			Help: "Rooms evicted by the age sweeper.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_room_joins_total",
			Help: "Accepted joins by assigned role.",
		}, []string{"role"}),
		joinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_room_join_rejections_total",
			Help: "Rejected joins by reason.",
		}, []string{"reason"}),
		signalsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_signals_relayed_total",
			Help: "Signal messages forwarded to a peer.",
		}),
		signalsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_signals_dropped_total",
			Help: "Signal messages dropped for a missing room id or payload.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_slow_client_evictions_total",
			Help: "Connections dropped because their send buffer was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.occupiedRooms,
		m.roomsCreated,
		m.roomsSwept,
		m.joins,
		m.joinRejections,
		m.signalsRelayed,
		m.signalsDropped,
		m.evictions,
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetOccupiedRooms(n int) {
	if m != nil {
		m.occupiedRooms.Set(float64(n))
	}
}

func (m *Metrics) RoomCreated() {
	if m != nil {
		m.roomsCreated.Inc()
	}
}

func (m *Metrics) RoomsSwept(n int) {
	if m != nil {
		m.roomsSwept.Add(float64(n))
	}
}

// Joined records an accepted join.
func (m *Metrics) Joined(initiator bool) {
	if m == nil {
		return
	}
	role := "responder"
	if initiator {
		role = "initiator"
	}
	m.joins.WithLabelValues(role).Inc()
}

func (m *Metrics) JoinRejected(reason string) {
	if m != nil {
		m.joinRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SignalRelayed() {
	if m != nil {
		m.signalsRelayed.Inc()
	}
}

func (m *Metrics) SignalDropped() {
	if m != nil {
		m.signalsDropped.Inc()
	}
}

func (m *Metrics) SlowClientEvicted() {
	if m != nil {
		m.evictions.Inc()
	}
}
