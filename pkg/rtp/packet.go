package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"
)

// MaxCSRCCount is the 4-bit CC field's upper bound (RFC 3550 §5.1).
const MaxCSRCCount = 15

// Packet is the codec-level representation of an RTP packet
// (component C5). It wraps pion/rtp.Packet, which already implements
// the fixed header, CSRC list and one-byte/two-byte header extension
// parsing, and layers a classification on top: DecodePacket reports a
// buffer shorter than the fixed header, or anything pion's parser
// rejects, as Truncated, a version other than 2 as BadVersion, and more
// than 15 CSRCs as InvalidPayload. Padding and extension-length faults
// are not reported under reasons of their own.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	ExtensionProfile uint16
	ExtensionPayload []byte
	Payload        []byte
}

// DecodePacket parses raw into a Packet, classifying malformed input
// per §7's parse-error taxonomy rather than panicking.
func DecodePacket(raw []byte) (*Packet, error) {
	if len(raw) < 12 {
		return nil, newErr(ErrProtocolParse, "DecodePacket", fmt.Errorf("%s: %d bytes", ReasonTruncated, len(raw)))
	}

	var p pionrtp.Packet
	if err := p.Unmarshal(raw); err != nil {
		return nil, newErr(ErrProtocolParse, "DecodePacket", fmt.Errorf("%s: %w", ReasonTruncated, err))
	}

	if p.Version != 2 {
		return nil, newErr(ErrProtocolParse, "DecodePacket", fmt.Errorf("%s: version=%d", ReasonBadVersion, p.Version))
	}
	if len(p.CSRC) > MaxCSRCCount {
		return nil, newErr(ErrProtocolParse, "DecodePacket", fmt.Errorf("%s: cc=%d", ReasonInvalidPayload, len(p.CSRC)))
	}

	out := &Packet{
		Version:        p.Version,
		Padding:        p.Padding,
		Extension:      p.Extension,
		Marker:         p.Marker,
		PayloadType:    p.PayloadType,
		SequenceNumber: p.SequenceNumber,
		Timestamp:      p.Timestamp,
		SSRC:           p.SSRC,
		CSRC:           append([]uint32(nil), p.CSRC...),
		Payload:        p.Payload,
	}
	if p.Extension {
		out.ExtensionProfile = p.ExtensionProfile
		out.ExtensionPayload = append([]byte(nil), p.ExtensionPayload...)
	}
	return out, nil
}

// Encode serializes the packet back to wire format.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.CSRC) > MaxCSRCCount {
		return nil, newErr(ErrCapacity, "Packet.Encode", fmt.Errorf("cc=%d exceeds %d", len(p.CSRC), MaxCSRCCount))
	}
	pk := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:          2,
			Padding:          p.Padding,
			Extension:        p.Extension,
			Marker:           p.Marker,
			PayloadType:      p.PayloadType,
			SequenceNumber:   p.SequenceNumber,
			Timestamp:        p.Timestamp,
			SSRC:             p.SSRC,
			CSRC:             p.CSRC,
			ExtensionProfile: p.ExtensionProfile,
		},
		Payload: p.Payload,
	}
	if p.Extension && len(p.ExtensionPayload) > 0 {
		if err := pk.SetExtensionPayload(p.ExtensionPayload); err != nil {
			return nil, newErr(ErrProtocolParse, "Packet.Encode", fmt.Errorf("%s: %w", ReasonBadExtensionLength, err))
		}
	}
	buf, err := pk.Marshal()
	if err != nil {
		return nil, newErr(ErrProtocolParse, "Packet.Encode", err)
	}
	return buf, nil
}

// IsDynamicPayloadType reports whether pt falls in the dynamic range
// used by most modern codecs (RFC 3551 §6): 96-127.
func IsDynamicPayloadType(pt uint8) bool {
	return pt >= 96 && pt <= 127
}

// Clone returns a deep copy, safe to mutate independently of p.
func (p *Packet) Clone() *Packet {
	c := *p
	c.CSRC = append([]uint32(nil), p.CSRC...)
	c.Payload = append([]byte(nil), p.Payload...)
	if p.Extension {
		c.ExtensionPayload = append([]byte(nil), p.ExtensionPayload...)
	}
	return &c
}
