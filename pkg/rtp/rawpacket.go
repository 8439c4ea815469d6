package rtp

import "time"

// RawPacket is the unit exchanged between a Transport and the rest of
// the session: raw bytes plus the metadata the poll loop and source
// table need before any RTP/RTCP parsing happens (component C4).
type RawPacket struct {
	// Data is the packet payload exactly as received off the wire.
	Data []byte
	// Sender is the peer address the data was received from, or the
	// destination it is about to be sent to.
	Sender Address
	// ReceiveTime is when the poll loop observed the packet. Zero for
	// outgoing packets.
	ReceiveTime time.Time
	// IsRTCP distinguishes the RTCP-mux case where a single transport
	// demultiplexes both packet types by payload-type heuristic.
	IsRTCP bool
}

// Clone returns a deep copy of p, safe to retain past the lifetime of
// the buffer p.Data may have borrowed from a receive buffer pool.
func (p *RawPacket) Clone() *RawPacket {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	var sender Address
	if p.Sender != nil {
		sender = p.Sender.Copy()
	}
	return &RawPacket{
		Data:        data,
		Sender:      sender,
		ReceiveTime: p.ReceiveTime,
		IsRTCP:      p.IsRTCP,
	}
}
