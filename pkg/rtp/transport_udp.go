package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// pollDeadline is the read-deadline granularity used to interleave
// socket reads with abort/context checks.
func pollDeadline() time.Time {
	return time.Now().Add(100 * time.Millisecond)
}

// UDPTransport is the default Transport (component C7), serving both
// IPv4 and IPv6 through the stdlib's dual-stack net.UDPConn; the
// family distinction between IPv4Address and IPv6Address lives in the
// Address values this transport produces and consumes, not in a
// second transport type.
type UDPTransport struct {
	conn   *net.UDPConn
	config ExtendedTransportConfig

	mu           sync.RWMutex
	active       bool
	destinations []Address
	accept       []Address
	ignore       []Address
	stats        TransportStatistics

	abort *abortDescriptor
}

// NewUDPTransport binds a UDP socket per config and applies the
// voice-tuned socket options from transport_common.go /
// transport_socket_*.go.
func NewUDPTransport(config ExtendedTransportConfig) (*UDPTransport, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, newErr(ErrConfiguration, "NewUDPTransport", err)
	}

	localAddr, err := createUDPAddr(config.LocalAddr)
	if err != nil {
		return nil, newErr(ErrConfiguration, "NewUDPTransport", err)
	}

	var conn *net.UDPConn
	if config.Multicast {
		conn, err = net.ListenMulticastUDP("udp", nil, localAddr)
	} else {
		conn, err = net.ListenUDP("udp", localAddr)
	}
	if err != nil {
		return nil, newErr(ErrResource, "NewUDPTransport", err)
	}

	if err := setSockOptForVoiceExtended(conn, config); err != nil {
		conn.Close()
		return nil, newErr(ErrResource, "NewUDPTransport", err)
	}

	abort, err := newAbortDescriptor()
	if err != nil {
		conn.Close()
		return nil, err
	}

	stats := TransportStatistics{
		TransportType:  "udp",
		LocalAddr:      conn.LocalAddr().String(),
		ConnectionTime: time.Now(),
	}
	return &UDPTransport{conn: conn, config: config, active: true, abort: abort, stats: stats}, nil
}

// Stats returns a snapshot of this transport's send/receive counters.
func (t *UDPTransport) Stats() TransportStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *UDPTransport) Send(raw []byte) error {
	t.mu.RLock()
	active := t.active
	destinations := make([]Address, len(t.destinations))
	copy(destinations, t.destinations)
	t.mu.RUnlock()

	if !active {
		return newErr(ErrState, "UDPTransport.Send", fmt.Errorf("transport closed"))
	}
	if len(destinations) == 0 {
		return newErr(ErrConfiguration, "UDPTransport.Send", fmt.Errorf("no destinations"))
	}
	var firstErr error
	for _, dest := range destinations {
		if err := t.writeTo(raw, dest); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *UDPTransport) SendTo(raw []byte, dest Address) error {
	t.mu.RLock()
	active := t.active
	t.mu.RUnlock()
	if !active {
		return newErr(ErrState, "UDPTransport.SendTo", fmt.Errorf("transport closed"))
	}
	return t.writeTo(raw, dest)
}

func (t *UDPTransport) writeTo(raw []byte, dest Address) error {
	udpAddr, err := addressToUDPAddr(dest)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(raw, udpAddr)
	if err != nil {
		t.mu.Lock()
		t.stats.ErrorsSend++
		t.mu.Unlock()
		return newErr(ErrTransientIO, "UDPTransport.Send", err)
	}
	t.mu.Lock()
	t.stats.PacketsSent++
	t.stats.BytesSent += uint64(len(raw))
	t.stats.LastActivity = time.Now()
	t.mu.Unlock()
	return nil
}

func addressToUDPAddr(a Address) (*net.UDPAddr, error) {
	switch v := a.(type) {
	case *IPv4Address:
		return v.UDPAddr(), nil
	case *IPv6Address:
		return v.UDPAddr(), nil
	default:
		return nil, newErr(ErrConfiguration, "addressToUDPAddr", fmt.Errorf("unsupported address type %T for UDP transport", a))
	}
}

func udpAddrToAddress(a *net.UDPAddr) (Address, error) {
	if ip4 := a.IP.To4(); ip4 != nil {
		return NewIPv4Address(a)
	}
	return NewIPv6Address(a)
}

// Recv blocks on the socket until a datagram arrives, ctx is done, or
// AbortWait is called. It polls the abort descriptor and the socket
// read in turn using a short read deadline, the same tradeoff the
// teacher's original Receive made with its 100ms poll, generalized to
// also observe the abort channel.
func (t *UDPTransport) Recv(ctx context.Context) (*RawPacket, error) {
	buf := make([]byte, t.config.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil, newErr(ErrCancelled, "UDPTransport.Recv", ctx.Err())
		default:
		}

		t.mu.RLock()
		if !t.active {
			t.mu.RUnlock()
			return nil, newErr(ErrState, "UDPTransport.Recv", fmt.Errorf("transport closed"))
		}
		conn := t.conn
		accept := t.accept
		ignore := t.ignore
		t.mu.RUnlock()

		conn.SetReadDeadline(pollDeadline())
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.abort.wasSignaled() {
				t.abort.clear()
				return nil, newErr(ErrCancelled, "UDPTransport.Recv", fmt.Errorf("aborted"))
			}
			if isTemporaryError(err) || isTimeout(err) {
				continue
			}
			t.mu.Lock()
			t.stats.ErrorsReceive++
			t.mu.Unlock()
			return nil, newErr(ErrTransientIO, "UDPTransport.Recv", err)
		}

		from, err := udpAddrToAddress(addr)
		if err != nil {
			continue
		}
		if !sourceFilterAllows(accept, ignore, from) {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.mu.Lock()
		t.stats.PacketsReceived++
		t.stats.BytesReceived += uint64(n)
		t.stats.LastActivity = time.Now()
		t.mu.Unlock()
		return &RawPacket{Data: data, Sender: from, IsRTCP: t.config.RTCPMux && IsRTCPPacket(data)}, nil
	}
}

func (t *UDPTransport) AbortWait() {
	t.abort.signal()
}

func (t *UDPTransport) AddDestination(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.destinations {
		if d.Equal(addr) {
			return nil
		}
	}
	t.destinations = append(t.destinations, addr)
	return nil
}

func (t *UDPTransport) DeleteDestination(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, d := range t.destinations {
		if d.Equal(addr) {
			t.destinations = append(t.destinations[:i], t.destinations[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *UDPTransport) ClearDestinations() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destinations = nil
}

func (t *UDPTransport) AddAcceptedSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = append(t.accept, host)
	return nil
}

func (t *UDPTransport) AddIgnoredSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignore = append(t.ignore, host)
	return nil
}

func (t *UDPTransport) ClearSourceFilters() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = nil
	t.ignore = nil
}

func (t *UDPTransport) LocalAddr() Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	a, err := udpAddrToAddress(t.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		return nil
	}
	return a
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	t.abort.close()
	return t.conn.Close()
}

func (t *UDPTransport) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
