// Outgoing RTP packet assembly (component C9). Generalizes the
// RTPSession send-side counters (atomic sequence number and
// timestamp, lazily-generated SSRC) to the full packet shape a sender
// needs: CSRC mixing and header extensions on top of the plain
// audio-frame path.
package rtp

import (
	"sync/atomic"
)

// PacketBuilder owns the per-SSRC sequence number and timestamp
// counters for one outgoing stream.
type PacketBuilder struct {
	ssrc        uint32 // atomic
	payloadType uint8
	clockRate   uint32

	seq uint32 // low 16 bits significant, atomic
	ts  uint32 // atomic

	packetsSent uint64 // atomic
	octetsSent  uint64 // atomic
}

// NewPacketBuilder creates a builder with randomized initial sequence
// number and timestamp, per §4.2/§5.1, unless overridden.
func NewPacketBuilder(ssrc uint32, payloadType uint8, clockRate uint32, rnd RandomSource, initialSeq *uint16, initialTS *uint32) *PacketBuilder {
	b := &PacketBuilder{ssrc: ssrc, payloadType: payloadType, clockRate: clockRate}
	if initialSeq != nil {
		b.seq = uint32(*initialSeq)
	} else {
		b.seq = uint32(rnd.Uint16())
	}
	if initialTS != nil {
		b.ts = *initialTS
	} else {
		b.ts = rnd.Uint32()
	}
	return b
}

// BuildOptions customizes one outgoing packet beyond the defaults
// (marker bit, CSRC mixing list, header extension).
type BuildOptions struct {
	Marker           bool
	CSRC             []uint32
	ExtensionProfile uint16
	ExtensionPayload []byte
}

// Build assembles and serializes the next packet in the stream,
// advancing the sequence number by one and the timestamp by
// samplesInFrame (already expressed in clock-rate units).
func (b *PacketBuilder) Build(payload []byte, samplesInFrame uint32, opts BuildOptions) ([]byte, *Packet, error) {
	seq := uint16(atomic.AddUint32(&b.seq, 1) - 1)
	ts := atomic.LoadUint32(&b.ts)
	if samplesInFrame > 0 {
		atomic.AddUint32(&b.ts, samplesInFrame)
	}

	pkt := &Packet{
		Version:          2,
		Marker:           opts.Marker,
		PayloadType:      b.payloadType,
		SequenceNumber:   seq,
		Timestamp:        ts,
		SSRC:             atomic.LoadUint32(&b.ssrc),
		CSRC:             opts.CSRC,
		Extension:        len(opts.ExtensionPayload) > 0,
		ExtensionProfile: opts.ExtensionProfile,
		ExtensionPayload: opts.ExtensionPayload,
		Payload:          payload,
	}

	encoded, err := pkt.Encode()
	if err != nil {
		return nil, nil, err
	}

	atomic.AddUint64(&b.packetsSent, 1)
	atomic.AddUint64(&b.octetsSent, uint64(len(payload)))

	return encoded, pkt, nil
}

func (b *PacketBuilder) SequenceNumber() uint16 { return uint16(atomic.LoadUint32(&b.seq)) }
func (b *PacketBuilder) Timestamp() uint32      { return atomic.LoadUint32(&b.ts) }
func (b *PacketBuilder) PacketsSent() uint64    { return atomic.LoadUint64(&b.packetsSent) }
func (b *PacketBuilder) OctetsSent() uint64     { return atomic.LoadUint64(&b.octetsSent) }
func (b *PacketBuilder) SSRC() uint32           { return atomic.LoadUint32(&b.ssrc) }

// Rotate replaces the outgoing SSRC with a freshly chosen one and
// reseeds the sequence number and timestamp, since per §4.7 a
// post-collision SSRC is a brand-new synchronization source rather
// than a continuation of the old one. packetsSent/octetsSent counters
// are left untouched; they describe this stream's lifetime send
// activity, not the retired SSRC's.
func (b *PacketBuilder) Rotate(newSSRC uint32, rnd RandomSource) {
	atomic.StoreUint32(&b.ssrc, newSSRC)
	atomic.StoreUint32(&b.seq, uint32(rnd.Uint16()))
	atomic.StoreUint32(&b.ts, rnd.Uint32())
}
