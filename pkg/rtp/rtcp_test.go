package rtp_test

import (
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundPacketSenderReportRoundTrip(t *testing.T) {
	sr := &rtp.SenderReportPacket{
		SSRC:         0x1001,
		NTPTimestamp: rtp.ToNTP(1_700_000_000, 0),
		RTPTimestamp: 12345,
		PacketCount:  10,
		OctetCount:   1600,
		ReceptionReports: []rtp.ReceptionReport{
			{SSRC: 0x2002, FractionLost: 5, CumulativeLost: 3, HighestSeqNum: 99, Jitter: 42, LastSR: 77, DelaySinceLastSR: 88},
		},
	}
	sdes := &rtp.SourceDescriptionPacket{Chunks: []rtp.SDESChunk{
		{Source: 0x1001, Items: []rtp.SDESItem{{Type: rtp.SDESTypeCNAME, Text: []byte("user@host")}}},
	}}
	cp := &rtp.CompoundPacket{Packets: []rtp.RTCPPacket{sr, sdes}}

	data, err := cp.Marshal()
	require.NoError(t, err)

	var decoded rtp.CompoundPacket
	require.NoError(t, decoded.Unmarshal(data))
	require.Len(t, decoded.Packets, 2)

	gotSR, ok := decoded.Packets[0].(*rtp.SenderReportPacket)
	require.True(t, ok)
	assert.Equal(t, sr.SSRC, gotSR.SSRC)
	assert.Equal(t, sr.PacketCount, gotSR.PacketCount)
	require.Len(t, gotSR.ReceptionReports, 1)
	assert.Equal(t, sr.ReceptionReports[0].SSRC, gotSR.ReceptionReports[0].SSRC)

	gotSDES, ok := decoded.Packets[1].(*rtp.SourceDescriptionPacket)
	require.True(t, ok)
	require.Len(t, gotSDES.Chunks, 1)
	require.Len(t, gotSDES.Chunks[0].Items, 1)
	assert.Equal(t, "user@host", string(gotSDES.Chunks[0].Items[0].Text))
}

func TestCompoundPacketRejectsNonSRRRFirst(t *testing.T) {
	bye := &rtp.ByePacket{Sources: []uint32{1}}
	cp := &rtp.CompoundPacket{Packets: []rtp.RTCPPacket{bye}}
	data, err := cp.Marshal()
	require.NoError(t, err)

	var decoded rtp.CompoundPacket
	err = decoded.Unmarshal(data)
	require.Error(t, err)
	assert.True(t, rtp.IsKind(err, rtp.ErrProtocolParse))
}

func TestCompoundPacketToleratesUnknownPrimitiveType(t *testing.T) {
	rr := &rtp.ReceiverReportPacket{SSRC: 0xAAAA}
	unknownType := uint8(211) // an RTCP primitive type this build doesn't decode
	unknown := []byte{0x80, unknownType, 0, 1, 0xDE, 0xAD, 0xBE, 0xEF}
	bye := &rtp.ByePacket{Sources: []uint32{0xAAAA}}

	data, err := (&rtp.CompoundPacket{Packets: []rtp.RTCPPacket{rr}}).Marshal()
	require.NoError(t, err)
	data = append(data, unknown...)
	byeData, err := (&rtp.CompoundPacket{Packets: []rtp.RTCPPacket{bye}}).Marshal()
	require.NoError(t, err)
	data = append(data, byeData...)

	var decoded rtp.CompoundPacket
	require.NoError(t, decoded.Unmarshal(data))
	require.Len(t, decoded.Packets, 3)

	unk, ok := decoded.Packets[1].(*rtp.UnknownRTCP)
	require.True(t, ok)
	assert.Equal(t, unknownType, unk.PacketType)
	assert.Equal(t, unknown, unk.Raw)

	_, ok = decoded.Packets[2].(*rtp.ByePacket)
	assert.True(t, ok, "packets after the unknown primitive must still decode")
}

func TestCompoundPacketRejectsOverrunLength(t *testing.T) {
	data := []byte{0x80, rtp.RTCPTypeRR, 0xFF, 0xFF, 0, 0, 0, 1}
	var decoded rtp.CompoundPacket
	err := decoded.Unmarshal(data)
	require.Error(t, err)
	assert.True(t, rtp.IsKind(err, rtp.ErrProtocolParse))
}

func TestByePacketRoundTripWithReason(t *testing.T) {
	b := &rtp.ByePacket{Sources: []uint32{0xAAAA, 0xBBBB}, Reason: "leaving"}
	cp := &rtp.CompoundPacket{Packets: []rtp.RTCPPacket{
		&rtp.ReceiverReportPacket{SSRC: 0xAAAA},
		b,
	}}
	data, err := cp.Marshal()
	require.NoError(t, err)

	var decoded rtp.CompoundPacket
	require.NoError(t, decoded.Unmarshal(data))
	require.Len(t, decoded.Packets, 2)

	gotBye, ok := decoded.Packets[1].(*rtp.ByePacket)
	require.True(t, ok)
	assert.Equal(t, b.Sources, gotBye.Sources)
	assert.Equal(t, "leaving", gotBye.Reason)
}

func TestIsRTCPPacketDistinguishesFromRTP(t *testing.T) {
	rtcpHeader := []byte{0x80, rtp.RTCPTypeSR, 0, 0}
	assert.True(t, rtp.IsRTCPPacket(rtcpHeader))

	rtpHeader := []byte{0x80, 0x00, 0, 0}
	assert.False(t, rtp.IsRTCPPacket(rtpHeader))
}

func TestCalculateJitterConverges(t *testing.T) {
	jitter := 0.0
	jitter = rtp.CalculateJitter(1000, 900, jitter)
	assert.Greater(t, jitter, 0.0)

	// Repeated identical transit deltas should drive jitter toward 0.
	for i := 0; i < 200; i++ {
		jitter = rtp.CalculateJitter(1000, 1000, jitter)
	}
	assert.InDelta(t, 0, jitter, 0.01)
}

func TestCalculateFractionLost(t *testing.T) {
	assert.EqualValues(t, 0, rtp.CalculateFractionLost(0, 0))
	assert.EqualValues(t, 0, rtp.CalculateFractionLost(100, 100))
	assert.EqualValues(t, 128, rtp.CalculateFractionLost(100, 50))
}

func TestRTCPBuilderSenderReportIncludesSDES(t *testing.T) {
	sources := rtp.NewSourceTable(rtp.SourceTableConfig{})
	builder := rtp.NewRTCPBuilder(rtp.RTCPBuilderConfig{
		LocalSSRC:   0x1001,
		Description: rtp.SourceDescription{CNAME: "alice@example.com"},
	}, sources)

	now := time.Now()
	cp, err := builder.BuildSenderReport(now, rtp.SenderSnapshot{SSRC: 0x1001, PacketCount: 5, OctetCount: 800, RTPTime: 4000})
	require.NoError(t, err)
	require.Len(t, cp.Packets, 2)

	_, isSR := cp.Packets[0].(*rtp.SenderReportPacket)
	assert.True(t, isSR)
	_, isSDES := cp.Packets[1].(*rtp.SourceDescriptionPacket)
	assert.True(t, isSDES)

	data, err := builder.Marshal(cp)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRTCPBuilderSetLocalSSRCAppliesToSubsequentReports(t *testing.T) {
	sources := rtp.NewSourceTable(rtp.SourceTableConfig{})
	builder := rtp.NewRTCPBuilder(rtp.RTCPBuilderConfig{LocalSSRC: 0x1001}, sources)

	builder.SetLocalSSRC(0x9999)
	cp, err := builder.BuildReceiverReport(time.Now())
	require.NoError(t, err)

	rr, ok := cp.Packets[0].(*rtp.ReceiverReportPacket)
	require.True(t, ok)
	assert.EqualValues(t, 0x9999, rr.SSRC)

	sdes, ok := cp.Packets[1].(*rtp.SourceDescriptionPacket)
	require.True(t, ok)
	assert.EqualValues(t, 0x9999, sdes.Chunks[0].Source)
}

func TestRTCPBuilderSetNameIntervalGatesNonCnameItems(t *testing.T) {
	sources := rtp.NewSourceTable(rtp.SourceTableConfig{})
	builder := rtp.NewRTCPBuilder(rtp.RTCPBuilderConfig{
		LocalSSRC:   0x1001,
		Description: rtp.SourceDescription{CNAME: "alice@example.com", NAME: "Alice"},
	}, sources)
	builder.SetNameInterval(3)

	var sawName [3]bool
	for i := 0; i < 3; i++ {
		cp, err := builder.BuildReceiverReport(time.Now())
		require.NoError(t, err)
		sdes := cp.Packets[1].(*rtp.SourceDescriptionPacket)
		for _, item := range sdes.Chunks[0].Items {
			if item.Type == rtp.SDESTypeCNAME {
				continue
			}
			sawName[i] = true
		}
	}

	assert.True(t, sawName[0], "the first compound packet should carry the full description")
	assert.False(t, sawName[1], "the second should be gated to CNAME only")
	assert.False(t, sawName[2], "the third should be gated to CNAME only")
}

func TestRTCPBuilderBuildByeAppendsToCompound(t *testing.T) {
	sources := rtp.NewSourceTable(rtp.SourceTableConfig{})
	builder := rtp.NewRTCPBuilder(rtp.RTCPBuilderConfig{LocalSSRC: 0x2002}, sources)

	cp, err := builder.BuildReceiverReport(time.Now())
	require.NoError(t, err)
	cp = builder.BuildBye(cp, "shutting down")

	require.Len(t, cp.Packets, 3)
	bye, ok := cp.Packets[2].(*rtp.ByePacket)
	require.True(t, ok)
	assert.Equal(t, "shutting down", bye.Reason)
}
