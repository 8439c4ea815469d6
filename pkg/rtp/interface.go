package rtp

import "time"

var _ SessionRTP = (*Session)(nil)

// SessionRTP is the minimal surface an application needs to drive one
// RTP/RTCP stream; Session implements it, and tests can substitute a
// fake for it.
type SessionRTP interface {
	Start() error
	Stop() error
	SendAudio(payload []byte, duration time.Duration) error
	SendPacket(*Packet) error
	SSRC() uint32
	GetState() SessionState
}
