// TCP-framed transport: each RTP/RTCP packet is prefixed with a
// 16-bit big-endian length, the same framing JRTPLIB's
// rtptcptransmitter.cpp uses over a TCP byte stream, and each peer
// gets its own per-connection reassembly buffer since TCP gives no
// datagram boundaries.
package rtp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

const tcpMaxFrameSize = 65535

type tcpPeerConn struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	wmu    sync.Mutex
}

// TCPTransport listens for and accepts TCP connections, framing every
// payload with a 2-byte length prefix. Each accepted connection gets
// its own TCPAddress identity and reassembly buffer.
type TCPTransport struct {
	listener net.Listener

	mu      sync.RWMutex
	active  bool
	peers   map[string]*tcpPeerConn
	accept  []Address
	ignore  []Address
	incoming chan tcpFrame
	abort   *abortDescriptor
}

type tcpFrame struct {
	data []byte
	from Address
	err  error
}

// NewTCPListener starts listening on config.LocalAddr for incoming
// framed connections.
func NewTCPListener(config TransportConfig) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", config.LocalAddr)
	if err != nil {
		return nil, newErr(ErrResource, "NewTCPListener", err)
	}
	abort, err := newAbortDescriptor()
	if err != nil {
		ln.Close()
		return nil, err
	}
	t := &TCPTransport{
		listener: ln,
		active:   true,
		peers:    make(map[string]*tcpPeerConn),
		incoming: make(chan tcpFrame, 64),
		abort:    abort,
	}
	go t.acceptLoop()
	return t, nil
}

// DialTCP connects out to remoteAddr and registers it as the sole
// peer of this transport.
func DialTCP(config TransportConfig, remoteAddr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", remoteAddr)
	if err != nil {
		return nil, newErr(ErrResource, "DialTCP", err)
	}
	abort, err := newAbortDescriptor()
	if err != nil {
		conn.Close()
		return nil, err
	}
	t := &TCPTransport{
		active:   true,
		peers:    make(map[string]*tcpPeerConn),
		incoming: make(chan tcpFrame, 64),
		abort:    abort,
	}
	p := t.registerConn(conn)
	go t.readLoop(p)
	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		p := t.registerConn(conn)
		go t.readLoop(p)
	}
}

func (t *TCPTransport) registerConn(conn net.Conn) *tcpPeerConn {
	p := &tcpPeerConn{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
	t.mu.Lock()
	t.peers[p.id] = p
	t.mu.Unlock()
	return p
}

func (t *TCPTransport) peerAddress(p *tcpPeerConn) Address {
	return &TCPAddress{ConnID: p.id, Remote: p.conn.RemoteAddr()}
}

// readLoop reassembles length-prefixed frames off one connection and
// posts them to the shared incoming channel. One goroutine per
// connection, mirroring JRTPLIB's per-destination reassembly state.
func (t *TCPTransport) readLoop(p *tcpPeerConn) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, p.id)
		t.mu.Unlock()
		p.conn.Close()
	}()
	var lenBuf [2]byte
	for {
		if _, err := readFull(p.reader, lenBuf[:]); err != nil {
			t.incoming <- tcpFrame{err: newErr(ErrTransientIO, "TCPTransport.readLoop", err)}
			return
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		if _, err := readFull(p.reader, data); err != nil {
			t.incoming <- tcpFrame{err: newErr(ErrTransientIO, "TCPTransport.readLoop", err)}
			return
		}
		from := t.peerAddress(p)
		t.mu.RLock()
		allowed := sourceFilterAllows(t.accept, t.ignore, from)
		t.mu.RUnlock()
		if !allowed {
			continue
		}
		t.incoming <- tcpFrame{data: data, from: from}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *TCPTransport) writeFrame(p *tcpPeerConn, raw []byte) error {
	if len(raw) > tcpMaxFrameSize {
		return newErr(ErrCapacity, "TCPTransport.Send", fmt.Errorf("frame %d exceeds %d", len(raw), tcpMaxFrameSize))
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(raw)))
	if _, err := p.writer.Write(lenBuf[:]); err != nil {
		return newErr(ErrTransientIO, "TCPTransport.Send", err)
	}
	if _, err := p.writer.Write(raw); err != nil {
		return newErr(ErrTransientIO, "TCPTransport.Send", err)
	}
	if err := p.writer.Flush(); err != nil {
		return newErr(ErrTransientIO, "TCPTransport.Send", err)
	}
	return nil
}

func (t *TCPTransport) Send(raw []byte) error {
	t.mu.RLock()
	peers := make([]*tcpPeerConn, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	var firstErr error
	for _, p := range peers {
		if err := t.writeFrame(p, raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TCPTransport) SendTo(raw []byte, dest Address) error {
	tcpAddr, ok := dest.(*TCPAddress)
	if !ok {
		return newErr(ErrConfiguration, "TCPTransport.SendTo", fmt.Errorf("not a TCPAddress"))
	}
	t.mu.RLock()
	p := t.peers[tcpAddr.ConnID]
	t.mu.RUnlock()
	if p == nil {
		return newErr(ErrState, "TCPTransport.SendTo", fmt.Errorf("connection %s gone", tcpAddr.ConnID))
	}
	return t.writeFrame(p, raw)
}

func (t *TCPTransport) Recv(ctx context.Context) (*RawPacket, error) {
	select {
	case <-ctx.Done():
		return nil, newErr(ErrCancelled, "TCPTransport.Recv", ctx.Err())
	case frame := <-t.incoming:
		if frame.err != nil {
			return nil, frame.err
		}
		return &RawPacket{Data: frame.data, Sender: frame.from}, nil
	}
}

func (t *TCPTransport) AbortWait() { t.abort.signal() }

func (t *TCPTransport) AddDestination(addr Address) error   { return nil }
func (t *TCPTransport) DeleteDestination(addr Address) error { return nil }
func (t *TCPTransport) ClearDestinations()                  {}

func (t *TCPTransport) AddAcceptedSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = append(t.accept, host)
	return nil
}
func (t *TCPTransport) AddIgnoredSource(host Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignore = append(t.ignore, host)
	return nil
}
func (t *TCPTransport) ClearSourceFilters() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accept = nil
	t.ignore = nil
}

func (t *TCPTransport) LocalAddr() Address {
	if t.listener == nil {
		return nil
	}
	if tcpAddr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return &TCPAddress{ConnID: "listener", Remote: tcpAddr}
	}
	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	t.abort.close()
	if t.listener != nil {
		t.listener.Close()
	}
	for _, p := range t.peers {
		p.conn.Close()
	}
	return nil
}

func (t *TCPTransport) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}
