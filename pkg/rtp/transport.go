package rtp

import (
	"context"
	"time"
)

// Transport is the abstraction the poll loop and session drive for
// both RTP and RTCP I/O (component C7/§4.6). A single session may use
// one Transport for RTP and a second (or the same, RTCP-muxed) one for
// RTCP; SessionConfig.RTCPTransport and TransportConfig.RTCPMux
// select which.
//
// Unlike a plain single-destination Send/Receive pair, this interface
// carries an explicit destination set, an accept/
// ignore host filter, and a cancellable wait so the poll loop (§4.9)
// can multiplex several transports with one select.
type Transport interface {
	// Send transmits raw to every address in the current destination
	// set (see AddDestination). For connection-oriented transports
	// (TCP) the destination set is implicit: the single peer.
	Send(raw []byte) error

	// SendTo transmits raw to exactly one address, bypassing the
	// destination set, e.g. to answer one source directly (app-defined
	// unicast feedback).
	SendTo(raw []byte, dest Address) error

	// Recv blocks until a packet arrives, ctx is cancelled, or
	// AbortWait unblocks every pending Recv. Returns ErrCancelled on
	// the latter two.
	Recv(ctx context.Context) (*RawPacket, error)

	// AbortWait unblocks every goroutine currently parked in Recv,
	// without closing the transport (§4.9's AbortWait semantics).
	AbortWait()

	// AddDestination adds addr to the set of peers Send fans out to.
	AddDestination(addr Address) error
	// DeleteDestination removes addr from the destination set.
	DeleteDestination(addr Address) error
	// ClearDestinations empties the destination set.
	ClearDestinations()

	// AddAcceptedSource / AddIgnoredSource maintain an allow-list or
	// deny-list of remote hosts; a non-empty accept list takes
	// precedence and the ignore list then has no effect, and an empty
	// accept list with no ignore list means "accept from anyone" (§4.6).
	AddAcceptedSource(host Address) error
	AddIgnoredSource(host Address) error
	ClearSourceFilters()

	LocalAddr() Address
	Close() error
	IsActive() bool
}

// TransportConfig is the common dial/bind configuration shared by the
// UDP, TCP and external transport constructors.
type TransportConfig struct {
	LocalAddr    string
	BufferSize   int
	ReadTimeout  time.Duration
	Multicast    bool
	MulticastTTL uint8
	// RTCPMux indicates this single transport carries both RTP and
	// RTCP, demultiplexed with IsRTCPPacket.
	RTCPMux bool
}

// DefaultTransportConfig returns sane defaults: 1500-byte MTU-sized
// receive buffer, no read timeout (blocking until AbortWait/Close).
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{BufferSize: 1500}
}

func sourceFilterAllows(accept, ignore []Address, from Address) bool {
	if len(accept) > 0 {
		for _, a := range accept {
			if a.SameHost(from) {
				return true
			}
		}
		return false
	}
	for _, a := range ignore {
		if a.SameHost(from) {
			return false
		}
	}
	return true
}
