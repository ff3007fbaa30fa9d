package telemetry

import "github.com/prometheus/client_golang/prometheus"

const callsNamespace string = "innovate_calls"

var (
	promConnectionsTotal prometheus.Gauge
	promRoutedMessages   *prometheus.CounterVec
	promCallAttempts     *prometheus.CounterVec
)

func init() {
	promConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: callsNamespace,
		Subsystem: "relay",
		Name:      "connections",
	})

	promRoutedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: callsNamespace,
			Subsystem: "relay",
			Name:      "routed_messages",
		},
		[]string{"kind", "status"},
	)

	promCallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: callsNamespace,
			Subsystem: "relay",
			Name:      "call_attempts",
		},
		[]string{"media_kind"},
	)

	prometheus.MustRegister(promConnectionsTotal)
	prometheus.MustRegister(promRoutedMessages)
	prometheus.MustRegister(promCallAttempts)
}

func ClientConnected() {
	promConnectionsTotal.Inc()
}

func ClientDisconnected() {
	promConnectionsTotal.Dec()
}

func MessageRouted(kind string) {
	promRoutedMessages.WithLabelValues(kind, "ok").Inc()
}

func MessageDropped(kind string) {
	promRoutedMessages.WithLabelValues(kind, "dropped").Inc()
}

func CallAttempt(mediaKind string) {
	promCallAttempts.WithLabelValues(mediaKind).Inc()
}
