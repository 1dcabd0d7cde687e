package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics holds the Prometheus collectors updated by platform clients.
// A nil *ClientMetrics is valid and records nothing.
type ClientMetrics struct {
	MessagesPublished *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	Connected         *prometheus.GaugeVec
	ActionsReceived   *prometheus.CounterVec
}

// NewClientMetrics creates the collectors and registers them with reg when
// reg is not nil.
func NewClientMetrics(reg prometheus.Registerer, namespace string) (*ClientMetrics, error) {
	m := &ClientMetrics{
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published to the platform",
		}, []string{"client_type", "kind"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the platform",
		}, []string{"client_type", "kind"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of publishes that failed after retry",
		}, []string{"client_type"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		}, []string{"client_type"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the client holds a session with the platform",
		}, []string{"client_type"}),
		ActionsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dm_actions_received_total",
			Help:      "Total number of device management actions received",
		}, []string{"action"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *ClientMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesPublished,
		m.MessagesReceived,
		m.PublishFailures,
		m.Reconnects,
		m.Connected,
		m.ActionsReceived,
	}
}

func (m *ClientMetrics) Published(clientType, kind string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(clientType, kind).Inc()
}

func (m *ClientMetrics) Received(clientType, kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(clientType, kind).Inc()
}

func (m *ClientMetrics) PublishFailed(clientType string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(clientType).Inc()
}

func (m *ClientMetrics) Reconnecting(clientType string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(clientType).Inc()
}

func (m *ClientMetrics) SetConnected(clientType string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(clientType).Set(v)
}

func (m *ClientMetrics) ActionReceived(action string) {
	if m == nil {
		return
	}
	m.ActionsReceived.WithLabelValues(action).Inc()
}
