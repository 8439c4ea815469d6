package rtp_test

import (
	"context"
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/pion/dtls/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the Transport contract over a real DTLS association,
// using a pre-shared key so the handshake needs no certificate
// generation.
func TestDTLSTransportPSKHandshakeAndRoundTrip(t *testing.T) {
	psk := []byte("supersecretkey123")
	cipherSuites := []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256}

	serverConfig := rtp.DefaultDTLSTransportConfig()
	serverConfig.LocalAddr = "127.0.0.1:0"
	serverConfig.PSK = func(hint []byte) ([]byte, error) { return psk, nil }
	serverConfig.PSKIdentityHint = []byte("server-hint")
	serverConfig.CipherSuites = cipherSuites
	serverConfig.HandshakeTimeout = 5 * time.Second

	type serverResult struct {
		transport *rtp.DTLSTransport
		err       error
	}
	serverCh := make(chan serverResult, 1)

	// The server's local port is only known after NewUDPTransport binds
	// it, so bind a throwaway socket first just to learn a free port,
	// then release it immediately before the real DTLS server claims it.
	probe, err := rtp.NewUDPTransport(rtp.ExtendedTransportConfig{TransportConfig: rtp.TransportConfig{LocalAddr: "127.0.0.1:0"}})
	require.NoError(t, err)
	serverAddr := probe.LocalAddr().String()
	require.NoError(t, probe.Close())
	serverConfig.LocalAddr = serverAddr

	go func() {
		srv, err := rtp.NewDTLSTransportServer(serverConfig)
		serverCh <- serverResult{srv, err}
	}()

	clientConfig := rtp.DefaultDTLSTransportConfig()
	clientConfig.PSK = func(hint []byte) ([]byte, error) { return psk, nil }
	clientConfig.PSKIdentityHint = []byte("client-hint")
	clientConfig.CipherSuites = cipherSuites
	clientConfig.HandshakeTimeout = 5 * time.Second

	client, err := rtp.NewDTLSTransportClient(clientConfig, serverAddr)
	require.NoError(t, err)
	defer client.Close()

	var srv *rtp.DTLSTransport
	select {
	case res := <-serverCh:
		require.NoError(t, res.err)
		srv = res.transport
	case <-time.After(6 * time.Second):
		t.Fatal("DTLS server handshake did not complete")
	}
	defer srv.Close()

	require.NoError(t, client.Send([]byte("hello over dtls")))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pkt, err := srv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello over dtls"), pkt.Data)

	keyMaterial, err := client.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 32)
	require.NoError(t, err)
	assert.Len(t, keyMaterial, 32)
}
