package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_sessions",
		Help: "Number of currently registered connections",
	})

	activeRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Number of rooms with at least one member or a host",
	})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound events processed by event name",
	}, []string{"event"})

	idleWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_idle_warnings_total",
		Help: "Idle warnings sent to connections",
	})

	idleEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_idle_evictions_total",
		Help: "Connections evicted by the idle monitor, by role",
	}, []string{"role"})
)

func init() {
	prometheus.MustRegister(connectedSessions)
	prometheus.MustRegister(activeRooms)
	prometheus.MustRegister(eventsTotal)
	prometheus.MustRegister(idleWarningsTotal)
	prometheus.MustRegister(idleEvictionsTotal)
}
