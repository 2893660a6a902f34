package monitoring

import (
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	sessionsActive *prometheus.GaugeVec
	signalingUp    prometheus.Gauge

	// Counters
	sessionsTotal        *prometheus.CounterVec
	messagesSent         *prometheus.CounterVec
	messagesReceived     *prometheus.CounterVec
	candidatesBuffered   prometheus.Counter
	negotiationTimeouts  *prometheus.CounterVec
	reconnectsTotal      prometheus.Counter
	inboundBytes         prometheus.Counter
	pictureLossRequested prometheus.Counter

	// Histograms
	sessionSetupDuration *prometheus.HistogramVec
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the client metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reelcast_peer_sessions_active",
			Help: "Number of open peer sessions",
		}, []string{"role"}),

		signalingUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reelcast_signaling_connected",
			Help: "1 while the signaling transport is connected",
		}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelcast_peer_sessions_total",
			Help: "Total number of peer sessions opened",
		}, []string{"role"}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelcast_signaling_messages_sent_total",
			Help: "Signaling messages sent by kind",
		}, []string{"kind"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelcast_signaling_messages_received_total",
			Help: "Signaling messages received by kind and outcome",
		}, []string{"kind", "outcome"}),

		candidatesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelcast_ice_candidates_buffered_total",
			Help: "ICE candidates queued until the remote description was set",
		}),

		negotiationTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelcast_negotiation_timeouts_total",
			Help: "Peer sessions closed because negotiation did not finish in time",
		}, []string{"role"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelcast_signaling_reconnects_total",
			Help: "Successful signaling reconnects",
		}),

		inboundBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelcast_inbound_media_bytes_total",
			Help: "RTP bytes received from remote tracks",
		}),

		pictureLossRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelcast_picture_loss_requests_total",
			Help: "Picture loss indications received from viewers",
		}),

		sessionSetupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reelcast_session_setup_duration_seconds",
			Help:    "Time from session creation to connected",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"role"}),
	}
}

func (p *PrometheusCollector) SessionOpened(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Inc()
	p.sessionsTotal.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) SessionClosed(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Dec()
}

func (p *PrometheusCollector) SessionConnected(role domain.Role, setup time.Duration) {
	p.sessionSetupDuration.WithLabelValues(string(role)).Observe(setup.Seconds())
}

func (p *PrometheusCollector) MessageSent(kind domain.MessageKind) {
	p.messagesSent.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) MessageReceived(kind domain.MessageKind, outcome domain.Outcome) {
	p.messagesReceived.WithLabelValues(string(kind), outcome.String()).Inc()
}

func (p *PrometheusCollector) CandidateBuffered() {
	p.candidatesBuffered.Inc()
}

func (p *PrometheusCollector) NegotiationTimedOut(role domain.Role) {
	p.negotiationTimeouts.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) Reconnected() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) BytesReceived(n int) {
	p.inboundBytes.Add(float64(n))
}

func (p *PrometheusCollector) PictureLossRequested() {
	p.pictureLossRequested.Inc()
}

// SignalingConnectionChanged is registered with the transport's OnConnectionChange.
func (p *PrometheusCollector) SignalingConnectionChanged(connected bool) {
	if connected {
		p.signalingUp.Set(1)
		return
	}
	p.signalingUp.Set(0)
}
