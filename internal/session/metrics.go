package session

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a session. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requestsEmitted prometheus.Counter
	requestsQueued  prometheus.Counter
	requestsDropped prometheus.Counter
	notifications   *prometheus.CounterVec
	reconnects      prometheus.Counter
	queueDepth      prometheus.Gauge
	activeRooms     prometheus.Gauge
	state           prometheus.Gauge
}

// NewMetrics registers the session collectors on reg under namespace.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rtclient"
	}
	factory := promauto.With(reg)

	return &Metrics{
		requestsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_emitted_total",
			Help:      "Total number of requests written to the transport",
		}),
		requestsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_queued_total",
			Help:      "Total number of requests buffered in the offline queue",
		}),
		requestsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Total number of requests discarded while offline",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of subscription notifications received",
		}, []string{"delivered"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of transport reconnections",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Number of requests waiting in the offline queue",
		}),
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with a confirmed subscription",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current connection state (0=initializing .. 6=disconnected)",
		}),
	}
}

func (m *Metrics) emitted() {
	if m != nil {
		m.requestsEmitted.Inc()
	}
}

func (m *Metrics) queued(depth int) {
	if m != nil {
		m.requestsQueued.Inc()
		m.queueDepth.Set(float64(depth))
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.requestsDropped.Inc()
	}
}

func (m *Metrics) setQueueDepth(depth int) {
	if m != nil {
		m.queueDepth.Set(float64(depth))
	}
}

func (m *Metrics) notification(delivered bool) {
	if m != nil {
		m.notifications.WithLabelValues(strconv.FormatBool(delivered)).Inc()
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) setActiveRooms(n int) {
	if m != nil {
		m.activeRooms.Set(float64(n))
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
