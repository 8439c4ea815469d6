// Prometheus metrics (ambient stack), following pkg/dialog/metrics.go's
// shape: promauto-registered counters/gauges/
// histograms under a namespace/subsystem pair, with per-SSRC labels
// kept out of the metric set itself (cardinality risk) and instead
// exposed through Session.Statistics/Sources for anything that needs
// a breakdown.
package rtp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus registration namespace.
type MetricsConfig struct {
	Namespace string
	Subsystem string
	// Registerer lets callers supply a non-default registry, e.g. in
	// tests that don't want to pollute prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

func (c *MetricsConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "rtp"
	}
	if c.Subsystem == "" {
		c.Subsystem = "session"
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
}

// Metrics is the set of Prometheus collectors one Session (or a
// shared collector across several) reports through.
type Metrics struct {
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsLost     prometheus.Counter
	jitter          prometheus.Gauge
	sourcesActive   prometheus.Gauge
	rtcpSent        *prometheus.CounterVec
	rtcpReceived    *prometheus.CounterVec
	cnameCollisions prometheus.Counter
	ssrcCollisions  prometheus.Counter
	byeReceived     prometheus.Counter
	reportInterval  prometheus.Histogram
}

// NewMetrics registers a fresh Metrics set. Safe to call once per
// process per (namespace, subsystem) pair; registering twice under
// the same registerer panics, via promauto.With's fail-fast
// registration.
func NewMetrics(config MetricsConfig) *Metrics {
	config.applyDefaults()
	factory := promauto.With(config.Registerer)

	return &Metrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "packets_sent_total", Help: "RTP packets sent.",
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "packets_received_total", Help: "RTP packets received and accepted by the sequence validator.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "bytes_sent_total", Help: "RTP payload bytes sent.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "bytes_received_total", Help: "RTP payload bytes received.",
		}),
		packetsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "packets_lost_total", Help: "Cumulative packets presumed lost across all remote sources.",
		}),
		jitter: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "jitter_timestamp_units", Help: "Maximum interarrival jitter across remote sources, RFC 3550 Appendix A.8 units.",
		}),
		sourcesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "sources_active", Help: "Remote sources currently tracked.",
		}),
		rtcpSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "rtcp_sent_total", Help: "Compound RTCP packets sent, by leading packet type.",
		}, []string{"type"}),
		rtcpReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "rtcp_received_total", Help: "Individual RTCP packets received, by type.",
		}, []string{"type"}),
		cnameCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "cname_collisions_total", Help: "Distinct SSRCs seen presenting the same CNAME.",
		}),
		ssrcCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "ssrc_collisions_total", Help: "SSRC/address collisions resolved by the source table or by this session's own-SSRC rotation.",
		}),
		byeReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name: "bye_received_total", Help: "BYE packets received.",
		}),
		reportInterval: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace, Subsystem: config.Subsystem,
			Name:    "rtcp_report_interval_seconds",
			Help:    "Computed §6.3 RTCP transmission interval.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
	}
}

func rtcpPacketTypeLabel(p RTCPPacket) string {
	switch p.(type) {
	case *SenderReportPacket:
		return "sr"
	case *ReceiverReportPacket:
		return "rr"
	case *SourceDescriptionPacket:
		return "sdes"
	case *ByePacket:
		return "bye"
	case *AppPacket:
		return "app"
	default:
		return "unknown"
	}
}

// Attach wires m into session's event callbacks alongside whatever
// the caller already set, so metrics collection never displaces
// application logic.
func (m *Metrics) Attach(config *SessionConfig) {
	prevAdded, prevRemoved, prevBye := config.OnSourceAdded, config.OnSourceRemoved, config.OnBye
	prevCnameCollision := config.OnCnameCollision
	prevSsrcCollision := config.OnSsrcCollision
	prevRTCP := config.OnRTCPReceived

	config.OnSourceAdded = func(src *RemoteSource) {
		m.sourcesActive.Inc()
		if prevAdded != nil {
			prevAdded(src)
		}
	}
	config.OnSourceRemoved = func(src *RemoteSource) {
		m.sourcesActive.Dec()
		if prevRemoved != nil {
			prevRemoved(src)
		}
	}
	config.OnBye = func(src *RemoteSource, reason string) {
		m.byeReceived.Inc()
		if prevBye != nil {
			prevBye(src, reason)
		}
	}
	config.OnCnameCollision = func(cname string, existingSSRC, newSSRC uint32) {
		m.cnameCollisions.Inc()
		if prevCnameCollision != nil {
			prevCnameCollision(cname, existingSSRC, newSSRC)
		}
	}
	config.OnSsrcCollision = func(ssrc uint32, sender Address, isRtp bool) {
		m.ssrcCollisions.Inc()
		if prevSsrcCollision != nil {
			prevSsrcCollision(ssrc, sender, isRtp)
		}
	}
	config.OnRTCPReceived = func(p RTCPPacket, from Address) {
		m.rtcpReceived.WithLabelValues(rtcpPacketTypeLabel(p)).Inc()
		if prevRTCP != nil {
			prevRTCP(p, from)
		}
	}
}

// ObserveSend records one successfully transmitted RTP packet.
func (m *Metrics) ObserveSend(payloadBytes int) {
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(payloadBytes))
}

// ObserveReceive records one accepted RTP packet.
func (m *Metrics) ObserveReceive(payloadBytes int) {
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(payloadBytes))
}

// ObserveRTCPSent records one transmitted compound RTCP packet and
// its scheduled interval.
func (m *Metrics) ObserveRTCPSent(leadingType string, interval time.Duration) {
	m.rtcpSent.WithLabelValues(leadingType).Inc()
	m.reportInterval.Observe(interval.Seconds())
}

// ObserveSessionStatistics refreshes the gauges derived from a
// point-in-time SessionStatistics/RemoteSource snapshot; intended to
// be called periodically (e.g. from the sweep loop).
func (m *Metrics) ObserveSessionStatistics(stats SessionStatistics, sources map[uint32]RemoteSource) {
	m.sourcesActive.Set(float64(len(sources)))
	maxJitter := 0.0
	var lost uint32
	for _, src := range sources {
		if src.Stats.Jitter > maxJitter {
			maxJitter = src.Stats.Jitter
		}
		lost += src.Stats.PacketsLost
	}
	m.jitter.Set(maxJitter)
	if lost > 0 {
		m.packetsLost.Add(float64(lost))
	}
}
