// Compound RTCP packet assembly (component C10): turns this
// session's send-side counters and the source table's per-remote
// statistics into the SR/RR + SDES (+ BYE) compound packet §6.1
// requires on every interval. RTCPSession once built its reports
// inline inside a fixed-ticker send loop; here report
// assembly is split out so the scheduler (§6.3) can drive it and a
// poll loop can trigger it early on received BYE, independently of
// how the interval itself is computed.
package rtp

import (
	"fmt"
	"sync/atomic"
	"time"
)

// maxReportsPerSRRR is the 5-bit RC field's limit, RFC 3550 §6.4.1.
const maxReportsPerSRRR = 31

// SenderSnapshot is the local send-side state needed for a sender
// report, read off a PacketBuilder.
type SenderSnapshot struct {
	SSRC        uint32
	PacketCount uint32
	OctetCount  uint32
	RTPTime     uint32
}

// RTCPBuilderConfig configures one session's compound-packet
// assembly.
type RTCPBuilderConfig struct {
	LocalSSRC   uint32
	Description SourceDescription
	Clock       Clock
}

// RTCPBuilder assembles compound RTCP packets from a source table and
// this session's own send statistics.
type RTCPBuilder struct {
	cfg     RTCPBuilderConfig
	sources *SourceTable

	localSSRC     uint32 // atomic; overrides cfg.LocalSSRC after a collision rotation
	nameInterval  int32  // atomic; 0 or 1 means "every packet"
	compoundCount uint32 // atomic
}

// NewRTCPBuilder ties a builder to the source table it will read
// reception reports from.
func NewRTCPBuilder(cfg RTCPBuilderConfig, sources *SourceTable) *RTCPBuilder {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	return &RTCPBuilder{cfg: cfg, sources: sources, localSSRC: cfg.LocalSSRC}
}

// SetLocalSSRC updates the SSRC stamped into outgoing RTCP packets,
// following a §4.7 collision-driven rotation of the outgoing stream.
func (b *RTCPBuilder) SetLocalSSRC(ssrc uint32) {
	atomic.StoreUint32(&b.localSSRC, ssrc)
}

func (b *RTCPBuilder) localSSRCValue() uint32 { return atomic.LoadUint32(&b.localSSRC) }

// SetNameInterval configures how often non-CNAME SDES items (NAME,
// EMAIL, ...) are included in outgoing SDES chunks: every n-th
// compound packet rather than every one, per §6.5's recommendation
// for large sessions. n<=1 means "every packet"; this is also the
// default.
func (b *RTCPBuilder) SetNameInterval(n int) {
	if n < 1 {
		n = 1
	}
	atomic.StoreInt32(&b.nameInterval, int32(n))
}

// reportsFor builds up to maxReportsPerSRRR ReceptionReports, the set
// of remote sources this participant currently has state for,
// advancing each source's interval fraction-lost baseline.
func (b *RTCPBuilder) reportsFor(now time.Time) []ReceptionReport {
	snapshot := b.sources.Snapshot()
	reports := make([]ReceptionReport, 0, len(snapshot))
	for ssrc, src := range snapshot {
		if len(reports) >= maxReportsPerSRRR {
			break
		}
		fraction, _ := b.sources.FractionLostFor(ssrc)
		reports = append(reports, ReceptionReport{
			SSRC:             ssrc,
			FractionLost:     fraction,
			CumulativeLost:   src.LostCumulative() & 0x00FFFFFF,
			HighestSeqNum:    src.ExtendedHighestSeq(),
			Jitter:           uint32(src.Stats.Jitter),
			LastSR:           src.Stats.LastSRTimestamp.MiddleBits(),
			DelaySinceLastSR: delaySinceLastSR(src.Stats.LastSRReceived, now),
		})
	}
	return reports
}

// delaySinceLastSR computes the DLSR field in 1/65536-second units,
// §6.4.1, or 0 if no SR has been received yet from this source.
func delaySinceLastSR(lastSR time.Time, now time.Time) uint32 {
	if lastSR.IsZero() {
		return 0
	}
	d := now.Sub(lastSR)
	if d < 0 {
		return 0
	}
	return uint32(d.Seconds() * 65536)
}

// BuildSenderReport assembles an SR + SDES compound packet, used when
// this participant has sent any RTP data during the session (§6.4).
func (b *RTCPBuilder) BuildSenderReport(now time.Time, sender SenderSnapshot) (*CompoundPacket, error) {
	sec, usec := b.cfg.Clock.Now()
	sr := &SenderReportPacket{
		SSRC:             sender.SSRC,
		NTPTimestamp:     ToNTP(sec, usec),
		RTPTimestamp:     sender.RTPTime,
		PacketCount:      sender.PacketCount,
		OctetCount:       sender.OctetCount,
		ReceptionReports: b.reportsFor(now),
	}
	cp := &CompoundPacket{Packets: []RTCPPacket{sr, b.sdes()}}
	return cp, nil
}

// BuildReceiverReport assembles an RR + SDES compound packet, used
// when this participant has not sent any RTP data.
func (b *RTCPBuilder) BuildReceiverReport(now time.Time) (*CompoundPacket, error) {
	rr := &ReceiverReportPacket{
		SSRC:             b.localSSRCValue(),
		ReceptionReports: b.reportsFor(now),
	}
	cp := &CompoundPacket{Packets: []RTCPPacket{rr, b.sdes()}}
	return cp, nil
}

// sdes assembles this participant's SDES chunk. CNAME is sent on
// every compound packet, §6.5.1's one non-negotiable item; the
// remaining items are gated to every nameInterval-th packet so a
// large session isn't paying their bandwidth cost on every report.
func (b *RTCPBuilder) sdes() *SourceDescriptionPacket {
	items := b.cfg.Description.sdesItems()
	interval := atomic.LoadInt32(&b.nameInterval)
	if interval > 1 {
		count := atomic.AddUint32(&b.compoundCount, 1)
		if count%uint32(interval) != 1 {
			items = []SDESItem{{Type: SDESTypeCNAME, Text: []byte(b.cfg.Description.CNAME)}}
		}
	}
	return &SourceDescriptionPacket{
		Chunks: []SDESChunk{{Source: b.localSSRCValue(), Items: items}},
	}
}

// BuildBye appends a BYE packet to an already-assembled compound
// packet, per §6.3.7: a departing participant's final report still
// carries a full SR/RR + SDES so peers can close out their stats
// before removing the source.
func (b *RTCPBuilder) BuildBye(cp *CompoundPacket, reason string) *CompoundPacket {
	cp.Packets = append(cp.Packets, &ByePacket{Sources: []uint32{b.localSSRCValue()}, Reason: reason})
	return cp
}

// Marshal serializes cp, wrapping any encoding failure with the
// operation that produced it.
func (b *RTCPBuilder) Marshal(cp *CompoundPacket) ([]byte, error) {
	data, err := cp.Marshal()
	if err != nil {
		return nil, newErr(ErrProtocolParse, "RTCPBuilder.Marshal", fmt.Errorf("%w", err))
	}
	return data, nil
}
