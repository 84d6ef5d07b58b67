package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "blind_relay",
			Name:      "active_connections",
			Help:      "Number of open relay connections",
		},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blind_relay",
			Name:      "frames_received_total",
			Help:      "Inbound frames by decoded type",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blind_relay",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped as unparseable",
		},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blind_relay",
			Name:      "rate_limited_total",
			Help:      "Message frames rejected by the rate limiter",
		},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blind_relay",
			Name:      "deliveries_total",
			Help:      "Fan-out results per target connection",
		},
		[]string{"result"},
	)
	storageFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "blind_relay",
			Name:      "storage_failures_total",
			Help:      "Envelopes that could not be appended to the conversation store",
		},
	)
)

func init() {
	prometheus.MustRegister(activeConnections)
	prometheus.MustRegister(framesReceived)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(rateLimited)
	prometheus.MustRegister(deliveries)
	prometheus.MustRegister(storageFailures)
}
