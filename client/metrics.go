package client

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	state             prometheus.Gauge
	connectionsTotal  prometheus.Counter
	reconnectAttempts prometheus.Counter
	exhausted         prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	messagesSent      prometheus.Counter
	queueDepth        prometheus.Gauge
	queueDropped      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Current connection state (0=idle 1=connecting 2=open 3=closing 4=closed)",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "connections_total",
			Help:      "Connections that reached the open state",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnection attempts scheduled",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "reconnection_exhausted_total",
			Help:      "Times the client gave up reconnecting",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections closed because no pong arrived within one interval",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before dispatch",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "messages_sent_total",
			Help:      "Outbound application messages written to a connection",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "queue_depth",
			Help:      "Messages waiting in the outbound queue",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamhub",
			Subsystem: "client",
			Name:      "queue_dropped_total",
			Help:      "Queued messages evicted or cleared before delivery",
		}),
	}

	collectors := []prometheus.Collector{
		m.state, m.connectionsTotal, m.reconnectAttempts, m.exhausted, m.heartbeatTimeouts,
		m.framesReceived, m.framesDropped, m.messagesSent, m.queueDepth, m.queueDropped,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("client metrics already registered: %w", err)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *metrics) opened() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *metrics) reconnectScheduled() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *metrics) reconnectionExhausted() {
	if m != nil {
		m.exhausted.Inc()
	}
}

func (m *metrics) heartbeatTimeout() {
	if m != nil {
		m.heartbeatTimeouts.Inc()
	}
}

func (m *metrics) frameReceived(msgType string) {
	if m != nil {
		m.framesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *metrics) frameDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *metrics) sent(n int) {
	if m != nil {
		m.messagesSent.Add(float64(n))
	}
}

func (m *metrics) queue(depth, dropped int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	if dropped > 0 {
		m.queueDropped.Add(float64(dropped))
	}
}
