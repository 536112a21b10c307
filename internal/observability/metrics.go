package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "connections_open",
			Help:      "Open TCP connections, logged in or not.",
		},
	)
	sessionsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "sessions_registered",
			Help:      "Sessions currently bound to a username.",
		},
	)
	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "packets_total",
			Help:      "Packets processed, by type and direction.",
		},
		[]string{"type", "direction"},
	)
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "logins_total",
			Help:      "Login attempts by response code.",
		},
		[]string{"code"},
	)
	broadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "broadcasts_total",
			Help:      "Broadcast fan-outs by kind.",
		},
		[]string{"kind"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Slash commands dispatched.",
		},
		[]string{"command"},
	)
	heartbeatExpiries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "heartbeat_expiries_total",
			Help:      "Sessions swept after missing heartbeats.",
		},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escp",
			Subsystem: "server",
			Name:      "dispatch_seconds",
			Help:      "Inbound packet dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsOpen,
			sessionsRegistered,
			packetsTotal,
			loginsTotal,
			broadcastsTotal,
			commandsTotal,
			heartbeatExpiries,
			dispatchDuration,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsOpen.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsOpen.Dec()
}

func RecordSessionRegistered() {
	RegisterMetrics()
	sessionsRegistered.Inc()
}

func RecordSessionRemoved() {
	RegisterMetrics()
	sessionsRegistered.Dec()
}

func RecordPacket(packetType, direction string) {
	RegisterMetrics()
	packetsTotal.WithLabelValues(packetType, direction).Inc()
}

func RecordLogin(code string) {
	RegisterMetrics()
	loginsTotal.WithLabelValues(code).Inc()
}

func RecordBroadcast(kind string) {
	RegisterMetrics()
	broadcastsTotal.WithLabelValues(kind).Inc()
}

func RecordCommand(command string) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(command).Inc()
}

func RecordHeartbeatExpiry() {
	RegisterMetrics()
	heartbeatExpiries.Inc()
}

func RecordDispatch(packetType string, duration time.Duration) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(packetType).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
