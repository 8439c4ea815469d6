package rtp_test

import (
	"testing"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := &rtp.Packet{
		Version:        2,
		Marker:         true,
		PayloadType:    0,
		SequenceNumber: 42,
		Timestamp:      160000,
		SSRC:           0xDEADBEEF,
		CSRC:           []uint32{1, 2, 3},
		Payload:        []byte("hello rtp"),
	}

	data, err := p.Encode()
	require.NoError(t, err)

	got, err := rtp.DecodePacket(data)
	require.NoError(t, err)

	assert.Equal(t, p.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, p.Timestamp, got.Timestamp)
	assert.Equal(t, p.SSRC, got.SSRC)
	assert.Equal(t, p.CSRC, got.CSRC)
	assert.Equal(t, p.Payload, got.Payload)
	assert.True(t, got.Marker)
}

func TestDecodePacketRejectsTruncated(t *testing.T) {
	_, err := rtp.DecodePacket([]byte{0x80, 0x00})
	require.Error(t, err)
	assert.True(t, rtp.IsKind(err, rtp.ErrProtocolParse))
}

func TestDecodePacketRejectsBadVersion(t *testing.T) {
	p := &rtp.Packet{Version: 2, SSRC: 1, Payload: []byte("x")}
	data, err := p.Encode()
	require.NoError(t, err)

	// Corrupt the version bits (top two bits of the first byte).
	data[0] = (data[0] &^ 0xC0) | (1 << 6)

	_, err = rtp.DecodePacket(data)
	require.Error(t, err)
	assert.True(t, rtp.IsKind(err, rtp.ErrProtocolParse))
}

func TestEncodeRejectsTooManyCSRC(t *testing.T) {
	csrc := make([]uint32, rtp.MaxCSRCCount+1)
	p := &rtp.Packet{Version: 2, SSRC: 1, CSRC: csrc, Payload: []byte("x")}
	_, err := p.Encode()
	require.Error(t, err)
	assert.True(t, rtp.IsKind(err, rtp.ErrCapacity))
}

func TestPacketCloneIsIndependent(t *testing.T) {
	p := &rtp.Packet{SSRC: 1, CSRC: []uint32{1, 2}, Payload: []byte("abc")}
	clone := p.Clone()
	clone.Payload[0] = 'z'
	clone.CSRC[0] = 99

	assert.Equal(t, byte('a'), p.Payload[0])
	assert.EqualValues(t, 1, p.CSRC[0])
}

func TestIsDynamicPayloadType(t *testing.T) {
	assert.False(t, rtp.IsDynamicPayloadType(0))
	assert.False(t, rtp.IsDynamicPayloadType(95))
	assert.True(t, rtp.IsDynamicPayloadType(96))
	assert.True(t, rtp.IsDynamicPayloadType(127))
}
