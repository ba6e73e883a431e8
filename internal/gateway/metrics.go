package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Clients   prometheus.Gauge
	Relayed   *prometheus.CounterVec // labels: kind
	SendDrops prometheus.Counter
}

// NewMetrics registers the relay metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_relayed_total",
			Help: "Pub/sub messages relayed, by channel kind",
		}, []string{"kind"}),
		SendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_send_drops_total",
			Help: "Envelopes dropped because a client queue was full",
		}),
	}
	reg.MustRegister(m.Clients, m.Relayed, m.SendDrops)
	return m
}
