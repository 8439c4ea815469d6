// Command rtploopback is a worked example of the two-endpoint echo
// scenario: two Sessions bound to real UDP sockets on localhost,
// exchanging RTP audio frames and RTCP reports until interrupted.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
)

type endpoint struct {
	session   *rtp.Session
	transport *rtp.UDPTransport
	pair      *rtp.TransportPair
}

func newEndpoint(logger *rtp.Logger) (*endpoint, error) {
	transport, err := rtp.NewUDPTransport(rtp.ExtendedTransportConfig{
		TransportConfig: rtp.TransportConfig{
			LocalAddr: "127.0.0.1:0",
			RTCPMux:   true,
		},
	})
	if err != nil {
		return nil, err
	}
	// RTCP rides the same socket as RTP (RTCPMux above); TransportPair
	// just needs to know that so Close/IsActive don't double-close it.
	pair := rtp.NewTransportPair(transport, nil, rtp.RTCPMuxDemux)

	session, err := rtp.NewSession(rtp.SessionConfig{
		PayloadType:      rtp.PayloadTypePCMU,
		Direction:        rtp.DirectionSendRecv,
		Transport:        transport,
		Logger:           logger,
		LocalDescription: rtp.SourceDescription{CNAME: fmt.Sprintf("loopback-%s@localhost", transport.LocalAddr())},
		OnSourceAdded: func(src *rtp.RemoteSource) {
			logger.Info("remote source discovered", rtp.Uint32("remote-ssrc", src.SSRC))
		},
		OnBye: func(src *rtp.RemoteSource, reason string) {
			logger.Info("remote source left", rtp.Uint32("remote-ssrc", src.SSRC), rtp.String("reason", reason))
		},
	})
	if err != nil {
		pair.Close()
		return nil, err
	}
	return &endpoint{session: session, transport: transport, pair: pair}, nil
}

func main() {
	logger := rtp.NewLogger()

	a, err := newEndpoint(logger.WithComponent("endpoint-a"))
	if err != nil {
		log.Fatalf("endpoint A: %v", err)
	}
	defer a.pair.Close()

	b, err := newEndpoint(logger.WithComponent("endpoint-b"))
	if err != nil {
		log.Fatalf("endpoint B: %v", err)
	}
	defer b.pair.Close()

	sessionA, sessionB := a.session, b.session

	if err := a.transport.AddDestination(b.transport.LocalAddr()); err != nil {
		log.Fatalf("wire A->B: %v", err)
	}
	if err := b.transport.AddDestination(a.transport.LocalAddr()); err != nil {
		log.Fatalf("wire B->A: %v", err)
	}

	if err := sessionA.Start(); err != nil {
		log.Fatalf("start A: %v", err)
	}
	defer sessionA.Stop()
	if err := sessionB.Start(); err != nil {
		log.Fatalf("start B: %v", err)
	}
	defer sessionB.Stop()

	if err := sessionA.SendSourceDescription(); err != nil {
		logger.Warn("failed to announce CNAME", rtp.Err(err))
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	silence := make([]byte, 160) // one 20ms G.711 frame of silence
	stopAfter := time.After(5 * time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := sessionA.SendAudio(silence, 20*time.Millisecond); err != nil {
				logger.Warn("send failed", rtp.Err(err))
			}
		case <-stopAfter:
			stats := sessionB.Statistics()
			logger.Info("loopback finished",
				rtp.Int("packets-received", int(stats.PacketsReceived)),
				rtp.Int("bytes-received", int(stats.BytesReceived)),
			)
			return
		case <-sigCh:
			logger.Info("interrupted")
			return
		}
	}
}
