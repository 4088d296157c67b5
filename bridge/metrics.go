package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "battery_bridge"

// Metrics holds the Prometheus instrumentation of the bridge
type Metrics struct {
	messagesReceived    prometheus.Counter
	messagesRejected    *prometheus.CounterVec
	readingsBroadcast   prometheus.Counter
	readingsOutOfRange  prometheus.Counter
	alertsRaised        prometheus.Counter
	ingestConnections   prometheus.Gauge
	subscribersActive   prometheus.Gauge
	subscriberSendFails prometheus.Counter
}

// NewMetrics creates and registers the bridge metrics. A nil registerer
// disables instrumentation and yields a nil *Metrics, which is safe to use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Total messages received from producers",
		}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "messages_rejected_total",
			Help:      "Messages dropped before broadcast",
		}, []string{"reason"}),
		readingsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "readings_broadcast_total",
			Help:      "Readings published to subscribers",
		}),
		readingsOutOfRange: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "window",
			Name:      "readings_out_of_range_total",
			Help:      "Validated readings outside the safe range",
		}),
		alertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "window",
			Name:      "alerts_total",
			Help:      "Threshold alerts raised",
		}),
		ingestConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "connections",
			Help:      "Currently open producer connections",
		}),
		subscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently connected subscribers",
		}),
		subscriberSendFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "send_failures_total",
			Help:      "Failed sends that removed a subscriber",
		}),
	}

	registerer.MustRegister(
		m.messagesReceived,
		m.messagesRejected,
		m.readingsBroadcast,
		m.readingsOutOfRange,
		m.alertsRaised,
		m.ingestConnections,
		m.subscribersActive,
		m.subscriberSendFails,
	)

	return m
}

func (m *Metrics) received() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) rejected(reason string) {
	if m != nil {
		m.messagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) broadcast() {
	if m != nil {
		m.readingsBroadcast.Inc()
	}
}

func (m *Metrics) outOfRange() {
	if m != nil {
		m.readingsOutOfRange.Inc()
	}
}

func (m *Metrics) alert() {
	if m != nil {
		m.alertsRaised.Inc()
	}
}

func (m *Metrics) ingestConnectionDelta(d float64) {
	if m != nil {
		m.ingestConnections.Add(d)
	}
}

func (m *Metrics) subscribers(n int) {
	if m != nil {
		m.subscribersActive.Set(float64(n))
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.subscriberSendFails.Inc()
	}
}
