package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the hub's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	subscribers      prometheus.Gauge
	broadcasts       *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	mediaSessions    *prometheus.GaugeVec
	mediaFailures    *prometheus.CounterVec
	mutations        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
// Postcondition: Returns a Metrics whose collectors are registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hub",
			Name:      "live_subscribers",
			Help:      "Number of open live event streams.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "broadcasts_total",
			Help:      "Domain events broadcast to a game channel.",
		}, []string{"topic"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "delivery_failures_total",
			Help:      "Subscribers dropped because an event could not be delivered.",
		}),
		mediaSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hub",
			Name:      "media_sessions",
			Help:      "Media sessions currently playing.",
		}, []string{"kind"}),
		mediaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "media_failures_total",
			Help:      "Media sessions that failed during setup.",
		}, []string{"kind"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Name:      "mutations_total",
			Help:      "Game mutations by topic and result.",
		}, []string{"topic", "result"}),
	}
	reg.MustRegister(
		m.subscribers,
		m.broadcasts,
		m.deliveryFailures,
		m.mediaSessions,
		m.mediaFailures,
		m.mutations,
	)
	return m
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) Broadcast(topic string) {
	if m != nil {
		m.broadcasts.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) MediaStarted(kind string) {
	if m != nil {
		m.mediaSessions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MediaEnded(kind string) {
	if m != nil {
		m.mediaSessions.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) MediaFailed(kind string) {
	if m != nil {
		m.mediaFailures.WithLabelValues(kind).Inc()
	}
}

// Mutation records a pipeline outcome; result is "ok" or an error class.
func (m *Metrics) Mutation(topic, result string) {
	if m != nil {
		m.mutations.WithLabelValues(topic, result).Inc()
	}
}
