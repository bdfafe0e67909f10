package dispatcher

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeDelivered    = "delivered"
	outcomeRetry        = "retry"
	outcomeDeadLettered = "dead_lettered"
)

type Metrics struct {
	Deliveries *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	Pending    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shopsaga",
		Subsystem: "outbox",
		Name:      "deliveries_total",
		Help:      "Listener invocations by outcome.",
	}, []string{"listener", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shopsaga",
		Subsystem: "outbox",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent in a listener transaction.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"listener"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shopsaga",
		Subsystem: "outbox",
		Name:      "pending_publications",
		Help:      "Publications not yet completed or dead-lettered.",
	})

	reg.MustRegister(deliveries, latency, pending)
	return &Metrics{Deliveries: deliveries, Latency: latency, Pending: pending}
}
