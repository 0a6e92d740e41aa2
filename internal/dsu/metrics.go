package dsu

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus instruments updated by the dispatch loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	packetsSent   *prometheus.CounterVec
	sendErrors    prometheus.Counter
	malformed     prometheus.Counter
	sessions      prometheus.Counter
	expired       prometheus.Counter
	sessionActive prometheus.Gauge
	running       prometheus.Gauge
}

// NewMetrics registers the DSU instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "requests_received_total",
			Help:      "Inbound datagrams by decoded message type.",
		}, []string{"type"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "packets_sent_total",
			Help:      "Outbound packets successfully written, by message type.",
		}, []string{"type"}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "send_errors_total",
			Help:      "Outbound packets dropped because the socket write failed.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "malformed_total",
			Help:      "Inbound datagrams shorter than a header.",
		}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "sessions_started_total",
			Help:      "Idle to active session transitions.",
		}),
		expired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dsu",
			Name:      "sessions_expired_total",
			Help:      "Sessions dropped after the client timeout.",
		}),
		sessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dsu",
			Name:      "session_active",
			Help:      "1 while a client session is active.",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dsu",
			Name:      "server_running",
			Help:      "1 while the dispatch loop is running.",
		}),
	}
}

func msgTypeLabel(t uint32) string {
	switch t {
	case MsgControllerInfo:
		return "controller_info"
	case MsgControllerData:
		return "controller_data"
	default:
		return "other"
	}
}

func (m *Metrics) request(t uint32) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(msgTypeLabel(t)).Inc()
}

func (m *Metrics) sent(t uint32) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(msgTypeLabel(t)).Inc()
}

func (m *Metrics) sendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) malformedPacket() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) session(active, expired bool) {
	if m == nil {
		return
	}
	if active {
		m.sessions.Inc()
		m.sessionActive.Set(1)
		return
	}
	if expired {
		m.expired.Inc()
	}
	m.sessionActive.Set(0)
}

func (m *Metrics) setRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}
