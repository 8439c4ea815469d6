// DTLS-wrapped transport. SRTP/SRTCP encryption itself stays out of
// scope; this transport exists to demonstrate the Transport interface
// composing with an external secure-channel provider the way an
// application-supplied rewrite hook would, per §4.6's "externally
// collaborating transport" allowance.
package rtp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
)

// DTLSTransport wraps a single DTLS association as a Transport. It
// has exactly one peer: AddDestination/AddAcceptedSource are no-ops
// beyond recording the expected peer for SameHost checks.
type DTLSTransport struct {
	udpConn  *net.UDPConn
	dtlsConn *dtls.Conn
	config   DTLSTransportConfig

	mu         sync.RWMutex
	active     bool
	remoteAddr Address

	abort *abortDescriptor
}

// DTLSTransportConfig configures handshake and cipher parameters.
type DTLSTransportConfig struct {
	TransportConfig
	Certificates           []tls.Certificate
	RootCAs                *x509.CertPool
	ClientCAs              *x509.CertPool
	ServerName             string
	PSK                    func([]byte) ([]byte, error)
	PSKIdentityHint        []byte
	CipherSuites           []dtls.CipherSuiteID
	InsecureSkipVerify     bool
	HandshakeTimeout       time.Duration
	MTU                    int
	ReplayProtectionWindow int
}

// DefaultDTLSTransportConfig returns a config tuned for low-latency
// interactive media, mirroring the plain UDP transport's defaults.
func DefaultDTLSTransportConfig() DTLSTransportConfig {
	return DTLSTransportConfig{
		TransportConfig:        DefaultTransportConfig(),
		HandshakeTimeout:       30 * time.Second,
		MTU:                    1200,
		ReplayProtectionWindow: 64,
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
}

func (c *DTLSTransportConfig) dtlsConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:           c.Certificates,
		RootCAs:                c.RootCAs,
		ClientCAs:              c.ClientCAs,
		ServerName:             c.ServerName,
		CipherSuites:           c.CipherSuites,
		InsecureSkipVerify:     c.InsecureSkipVerify,
		PSK:                    c.PSK,
		PSKIdentityHint:        c.PSKIdentityHint,
		MTU:                    c.MTU,
		ReplayProtectionWindow: c.ReplayProtectionWindow,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), c.HandshakeTimeout)
		},
	}
}

// NewDTLSTransportClient dials remoteAddr and performs the DTLS client
// handshake before returning.
func NewDTLSTransportClient(config DTLSTransportConfig, remoteAddr string) (*DTLSTransport, error) {
	config.ApplyTransportDefaults()
	udpRemote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, newErr(ErrConfiguration, "NewDTLSTransportClient", err)
	}
	udpConn, err := net.DialUDP("udp", nil, udpRemote)
	if err != nil {
		return nil, newErr(ErrResource, "NewDTLSTransportClient", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.HandshakeTimeout)
	defer cancel()
	dtlsConn, err := dtls.ClientWithContext(ctx, udpConn, config.dtlsConfig())
	if err != nil {
		udpConn.Close()
		return nil, newErr(ErrResource, "NewDTLSTransportClient", fmt.Errorf("handshake: %w", err))
	}

	abort, err := newAbortDescriptor()
	if err != nil {
		dtlsConn.Close()
		return nil, err
	}

	remote, _ := udpAddrToAddress(udpRemote)
	return &DTLSTransport{udpConn: udpConn, dtlsConn: dtlsConn, config: config, active: true, remoteAddr: remote, abort: abort}, nil
}

// NewDTLSTransportServer binds config.LocalAddr and performs the DTLS
// server handshake with the first peer that contacts it.
func NewDTLSTransportServer(config DTLSTransportConfig) (*DTLSTransport, error) {
	config.ApplyTransportDefaults()
	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, newErr(ErrConfiguration, "NewDTLSTransportServer", err)
	}
	udpConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, newErr(ErrResource, "NewDTLSTransportServer", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.HandshakeTimeout)
	defer cancel()
	dtlsConn, err := dtls.ServerWithContext(ctx, udpConn, config.dtlsConfig())
	if err != nil {
		udpConn.Close()
		return nil, newErr(ErrResource, "NewDTLSTransportServer", fmt.Errorf("handshake: %w", err))
	}

	abort, err := newAbortDescriptor()
	if err != nil {
		dtlsConn.Close()
		return nil, err
	}

	var remote Address
	if ua, ok := dtlsConn.RemoteAddr().(*net.UDPAddr); ok {
		remote, _ = udpAddrToAddress(ua)
	}
	return &DTLSTransport{udpConn: udpConn, dtlsConn: dtlsConn, config: config, active: true, remoteAddr: remote, abort: abort}, nil
}

// ApplyTransportDefaults fills zero-valued fields with the package's
// low-latency defaults.
func (c *DTLSTransportConfig) ApplyTransportDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.MTU == 0 {
		c.MTU = 1200
	}
}

func (t *DTLSTransport) Send(raw []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.active {
		return newErr(ErrState, "DTLSTransport.Send", fmt.Errorf("transport closed"))
	}
	if _, err := t.dtlsConn.Write(raw); err != nil {
		return newErr(ErrTransientIO, "DTLSTransport.Send", err)
	}
	return nil
}

// SendTo ignores dest: a DTLS association has exactly one peer.
func (t *DTLSTransport) SendTo(raw []byte, dest Address) error {
	return t.Send(raw)
}

func (t *DTLSTransport) Recv(ctx context.Context) (*RawPacket, error) {
	buf := make([]byte, t.config.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil, newErr(ErrCancelled, "DTLSTransport.Recv", ctx.Err())
		default:
		}
		t.dtlsConn.SetReadDeadline(pollDeadline())
		n, err := t.dtlsConn.Read(buf)
		if err != nil {
			if t.abort.wasSignaled() {
				t.abort.clear()
				return nil, newErr(ErrCancelled, "DTLSTransport.Recv", fmt.Errorf("aborted"))
			}
			if isTimeout(err) {
				continue
			}
			return nil, newErr(ErrTransientIO, "DTLSTransport.Recv", err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		return &RawPacket{Data: data, Sender: t.remoteAddr}, nil
	}
}

func (t *DTLSTransport) AbortWait() { t.abort.signal() }

func (t *DTLSTransport) AddDestination(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteAddr = addr
	return nil
}
func (t *DTLSTransport) DeleteDestination(addr Address) error { return nil }
func (t *DTLSTransport) ClearDestinations()                   {}

func (t *DTLSTransport) AddAcceptedSource(host Address) error { return nil }
func (t *DTLSTransport) AddIgnoredSource(host Address) error  { return nil }
func (t *DTLSTransport) ClearSourceFilters()                  {}

func (t *DTLSTransport) LocalAddr() Address {
	a, err := udpAddrToAddress(t.udpConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		return nil
	}
	return a
}

func (t *DTLSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	t.abort.close()
	if err := t.dtlsConn.Close(); err != nil {
		return newErr(ErrResource, "DTLSTransport.Close", err)
	}
	return nil
}

func (t *DTLSTransport) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// ExportKeyingMaterial exposes the DTLS exporter, the usual path an
// application would use to derive SRTP keys (not done by this
// package).
func (t *DTLSTransport) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	state := t.dtlsConn.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}
