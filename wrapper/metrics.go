package wrapper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the endpoint collectors. One Metrics may be shared by several
// endpoints; the role label separates server and client.
type Metrics struct {
	handshakes        *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	connectionsActive *prometheus.GaugeVec
	closeSignals      *prometheus.CounterVec
	datagrams         *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which is what endpoints use when WithMetrics is not given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicboot_handshakes_total",
			Help: "Total number of completed or failed handshakes",
		}, []string{"role", "result"}), // result: success, failure
		handshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicboot_handshake_failures_total",
			Help: "Total number of failed outbound handshakes by reason",
		}, []string{"reason"}),
		handshakeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quicboot_handshake_duration_seconds",
			Help:    "Duration of successful handshakes",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
		connectionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quicboot_connections_active",
			Help: "Number of live connections",
		}, []string{"role"}),
		closeSignals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicboot_close_signals_total",
			Help: "Total number of CONNECTION_CLOSE frames sent by local close",
		}, []string{"role"}),
		datagrams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicboot_datagrams_total",
			Help: "Total number of UDP datagrams through endpoint sockets",
		}, []string{"direction"}), // direction: in, out
	}
}

func (m *Metrics) handshakeSucceeded(role Role) {
	m.handshakes.WithLabelValues(role.String(), "success").Inc()
}

// observeHandshake is only called by the dialing side; Accept cannot see
// when a handshake started.
func (m *Metrics) observeHandshake(role Role, d time.Duration) {
	m.handshakeDuration.WithLabelValues(role.String()).Observe(d.Seconds())
}

func (m *Metrics) handshakeFailed(role Role, reason HandshakeReason) {
	m.handshakes.WithLabelValues(role.String(), "failure").Inc()
	m.handshakeFailures.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) connectionOpened(role Role) {
	m.connectionsActive.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) connectionClosed(role Role) {
	m.connectionsActive.WithLabelValues(role.String()).Dec()
}

func (m *Metrics) closeSignalSent(role Role) {
	m.closeSignals.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) datagramIn()  { m.datagrams.WithLabelValues("in").Inc() }
func (m *Metrics) datagramOut() { m.datagrams.WithLabelValues("out").Inc() }
