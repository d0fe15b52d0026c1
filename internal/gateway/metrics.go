package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments a Transport updates over its
// lifetime. Grounded on internal/platform/observability/metrics.go's
// promauto-based construction, trimmed from that file's namespace-wide
// metrics struct (HTTP, satellite, security, ...) down to the counters and
// gauges a single transport instance can meaningfully report.
type Metrics struct {
	ConnectionsActive    *prometheus.GaugeVec
	ConnectAttemptsTotal *prometheus.CounterVec
	ReconnectsTotal      *prometheus.CounterVec
	HandshakeFailures    *prometheus.CounterVec
	PacketsSentTotal     prometheus.Counter
	PacketsReceivedTotal prometheus.Counter
	BytesSentTotal       prometheus.Counter
	BytesReceivedTotal   prometheus.Counter
}

// NewMetrics registers a fresh set of transport metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test transports.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Current number of live sockets by direction (send|receive).",
		}, []string{"direction"}),

		ConnectAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Outbound connect attempts by outcome (success|failure).",
		}, []string{"outcome"}),

		ReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Reconnection loop attempts by outcome (success|failure).",
		}, []string{"outcome"}),

		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "handshake_failures_total",
			Help:      "Inbound handshake failures by reason (timeout|invalid).",
		}, []string{"reason"}),

		PacketsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "packets_sent_total",
			Help:      "Total packets written to send sockets.",
		}),

		PacketsReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "packets_received_total",
			Help:      "Total packets decoded from receive sockets.",
		}),

		BytesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to send sockets.",
		}),

		BytesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from receive sockets.",
		}),
	}
}
