package rtp

// RTCPMuxMode selects whether RTCP shares the RTP transport's socket
// (RFC 5761 mux) or uses a second, independent Transport, per §4.6.
type RTCPMuxMode int

const (
	// RTCPMuxNone uses separate transports for RTP and RTCP.
	RTCPMuxNone RTCPMuxMode = iota
	// RTCPMuxDemux multiplexes both on a single Transport, dispatched
	// by IsRTCPPacket.
	RTCPMuxDemux
)

// TransportPair bundles the RTP and RTCP transports a session uses.
// When MuxMode is RTCPMuxDemux, RTCP is nil and RTP alone carries
// both packet types.
type TransportPair struct {
	RTP     Transport
	RTCP    Transport
	MuxMode RTCPMuxMode
}

// NewTransportPair builds a TransportPair. Pass a nil rtcp with
// RTCPMuxDemux to mux RTCP onto rtp.
func NewTransportPair(rtp Transport, rtcp Transport, muxMode RTCPMuxMode) *TransportPair {
	return &TransportPair{RTP: rtp, RTCP: rtcp, MuxMode: muxMode}
}

func (tp *TransportPair) Close() error {
	var rtpErr, rtcpErr error
	if tp.RTP != nil {
		rtpErr = tp.RTP.Close()
	}
	if tp.RTCP != nil && tp.MuxMode == RTCPMuxNone {
		rtcpErr = tp.RTCP.Close()
	}
	if rtpErr != nil {
		return rtpErr
	}
	return rtcpErr
}

func (tp *TransportPair) IsActive() bool {
	rtpActive := tp.RTP != nil && tp.RTP.IsActive()
	if tp.MuxMode == RTCPMuxDemux {
		return rtpActive
	}
	rtcpActive := tp.RTCP != nil && tp.RTCP.IsActive()
	return rtpActive && rtcpActive
}
