// Package rtp implements an RFC 3550 RTP/RTCP session runtime.
//
// The package separates concerns the way a dialog separates from its
// transaction and transport layers:
// Packet/CompoundPacket are the wire codecs, SourceTable is the
// RFC 3550 Appendix A state machine for remote participants,
// PacketBuilder/RTCPBuilder assemble outgoing traffic, Scheduler
// times RTCP per §6.3, and Transport abstracts the underlying
// socket. Session wires these together into the single type
// applications construct and drive.
package rtp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateActive
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateActive:
		return "active"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	fsmStateIdle   = "idle"
	fsmStateActive = "active"
	fsmStateClosed = "closed"

	fsmEventStart      = "start"
	fsmEventStop       = "stop"
	fsmEventByeDestroy = "byeDestroy"
)

// SessionStatistics aggregates send/receive counters for reporting.
type SessionStatistics struct {
	PacketsSent      uint64
	PacketsReceived  uint64
	BytesSent        uint64
	BytesReceived    uint64
	PacketsLost      uint32
	Jitter           float64
	LastSenderReport time.Time
	LastActivity     time.Time
}

// SessionConfig configures a Session. Transport is required, and so is
// ClockRate for payload types other than the static ones applyDefaults
// knows; everything else has an RFC-sane default.
type SessionConfig struct {
	SSRC        *uint32 // override the randomly generated SSRC, §4.2 Open Question
	PayloadType PayloadType
	MediaType   MediaType
	ClockRate   uint32
	Direction   Direction

	// Transport carries RTP. When RTCPTransport is nil, RTCP is sent on
	// Transport too; incoming RTCP on it is recognized only when its
	// TransportConfig.RTCPMux was set true at construction.
	Transport Transport
	// RTCPTransport, if non-nil, carries RTCP on its own socket rather
	// than muxing onto Transport.
	RTCPTransport Transport

	LocalDescription SourceDescription

	InitialSeq       *uint16
	InitialTimestamp *uint32

	// RTCPBandwidth is the session RTCP bandwidth budget in
	// octets/second, §6.2; defaults to 5% of a 64kbit/s assumption.
	RTCPBandwidth float64

	Random RandomSource
	Clock  Clock
	Logger *Logger

	SourceTimeout time.Duration
	SenderTimeout time.Duration
	ByeTimeout    time.Duration

	OnPacketReceived func(*Packet, Address)
	OnRTCPReceived   func(RTCPPacket, Address)
	OnSourceAdded    func(*RemoteSource)
	OnSourceRemoved  func(*RemoteSource)
	OnSourceTimeout  func(*RemoteSource)
	OnSsrcCollision  func(ssrc uint32, sender Address, isRtp bool)
	OnCnameCollision func(cname string, existingSSRC, newSSRC uint32)
	OnBye            func(*RemoteSource, string)

	// Metrics, if set, receives Prometheus observations for this
	// session's send/receive/RTCP traffic and periodic statistics.
	Metrics *Metrics
}

func (c *SessionConfig) applyDefaults() error {
	if c.ClockRate == 0 {
		switch c.PayloadType {
		case PayloadTypePCMU, PayloadTypePCMA, PayloadTypeGSM, PayloadTypeG723,
			PayloadTypeDVI4_8K, PayloadTypeLPC, PayloadTypeG728, PayloadTypeG729, PayloadTypeG722:
			c.ClockRate = 8000
		case PayloadTypeDVI4_16K:
			c.ClockRate = 16000
		case PayloadTypeL16_1CH, PayloadTypeL16_2CH:
			c.ClockRate = 44100
		default:
			return fmt.Errorf("unknown payload type %d: ClockRate must be set explicitly", c.PayloadType)
		}
	}
	if c.RTCPBandwidth <= 0 {
		c.RTCPBandwidth = 64000.0 / 8.0 * 0.05
	}
	if c.Random == nil {
		c.Random = NewRandomSource()
	}
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
	if c.Logger == nil {
		c.Logger = NewDiscardLogger()
	}
	return nil
}

// Session coordinates one RTP/RTCP media stream: outgoing packet
// assembly, remote source tracking, and RTCP compound-report
// scheduling, over an application-supplied Transport.
type Session struct {
	config SessionConfig

	ssrc      uint32 // atomic
	builder   *PacketBuilder
	sources   *SourceTable
	rtcp      *RTCPBuilder
	scheduler *Scheduler
	logger    *Logger

	fsm        *fsm.FSM
	stateMutex sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   SessionStatistics
}

// NewSession builds a Session in its idle state. Call Start to begin
// sending/receiving.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Transport == nil {
		return nil, newErr(ErrConfiguration, "NewSession", fmt.Errorf("transport is required"))
	}
	if err := config.applyDefaults(); err != nil {
		return nil, newErr(ErrConfiguration, "NewSession", err)
	}
	if config.Metrics != nil {
		config.Metrics.Attach(&config)
	}

	ssrc := config.Random.Uint32()
	if config.SSRC != nil {
		ssrc = *config.SSRC
	}

	logger := config.Logger.WithComponent("session").WithSSRC(ssrc)

	sources := NewSourceTable(SourceTableConfig{
		SenderTimeout:    config.SenderTimeout,
		SourceTimeout:    config.SourceTimeout,
		ByeTimeout:       config.ByeTimeout,
		Clock:            config.Clock,
		OnSourceAdded:    config.OnSourceAdded,
		OnSourceRemoved:  config.OnSourceRemoved,
		OnSourceUpdated:  nil,
		OnSourceTimeout:  config.OnSourceTimeout,
		OnSsrcCollision:  config.OnSsrcCollision,
		OnCnameCollision: config.OnCnameCollision,
		OnBye:            config.OnBye,
	})

	builder := NewPacketBuilder(ssrc, uint8(config.PayloadType), config.ClockRate, config.Random, config.InitialSeq, config.InitialTimestamp)

	rtcpBuilder := NewRTCPBuilder(RTCPBuilderConfig{
		LocalSSRC:   ssrc,
		Description: config.LocalDescription,
		Clock:       config.Clock,
	}, sources)

	scheduler := NewScheduler(SchedulerConfig{Bandwidth: config.RTCPBandwidth, Random: config.Random, Clock: config.Clock})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		config:    config,
		ssrc:      ssrc,
		builder:   builder,
		sources:   sources,
		rtcp:      rtcpBuilder,
		scheduler: scheduler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.fsm = fsm.NewFSM(
		fsmStateIdle,
		fsm.Events{
			{Name: fsmEventStart, Src: []string{fsmStateIdle}, Dst: fsmStateActive},
			{Name: fsmEventStop, Src: []string{fsmStateIdle, fsmStateActive}, Dst: fsmStateClosed},
			{Name: fsmEventByeDestroy, Src: []string{fsmStateIdle, fsmStateActive}, Dst: fsmStateClosed},
		},
		nil,
	)

	return s, nil
}

// Start begins the RTP/RTCP poll loops and schedules the first
// compound RTCP report per §6.3.1.
func (s *Session) Start() error {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if err := s.fsm.Event(s.ctx, fsmEventStart); err != nil {
		return newErr(ErrState, "Session.Start", err)
	}

	s.scheduler.ScheduleFirst(time.Now(), 1, 0, false)

	s.wg.Add(1)
	go s.rtpRecvLoop()

	if s.config.RTCPTransport != nil {
		s.wg.Add(1)
		go s.rtcpRecvLoop()
	}

	s.wg.Add(1)
	go s.rtcpSendLoop()

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("session started", Uint32("ssrc", s.SSRC()))
	return nil
}

// Stop sends a closing BYE best-effort and tears down the poll loops.
// It does not close the underlying Transport, which the caller owns.
func (s *Session) Stop() error {
	s.stateMutex.Lock()
	if s.fsm.Current() == fsmStateClosed {
		s.stateMutex.Unlock()
		return nil
	}
	_ = s.fsm.Event(s.ctx, fsmEventStop)
	s.stateMutex.Unlock()

	s.sendByeBestEffort("session closing")

	s.cancel()
	s.config.Transport.AbortWait()
	if s.config.RTCPTransport != nil {
		s.config.RTCPTransport.AbortWait()
	}
	s.wg.Wait()

	s.logger.Info("session stopped")
	return nil
}

func (s *Session) sendByeBestEffort(reason string) {
	cp, err := s.rtcp.BuildReceiverReport(time.Now())
	if err != nil {
		return
	}
	cp = s.rtcp.BuildBye(cp, reason)
	data, err := s.rtcp.Marshal(cp)
	if err != nil {
		return
	}
	rtcpTransport := s.rtcpTransport()
	_ = rtcpTransport.Send(data)
}

func (s *Session) transportIsRTCPMuxed() bool {
	if rt, ok := s.config.Transport.(*UDPTransport); ok {
		return rt.config.RTCPMux
	}
	return false
}

func (s *Session) rtcpTransport() Transport {
	if s.config.RTCPTransport != nil {
		return s.config.RTCPTransport
	}
	return s.config.Transport
}

// SendAudio builds and transmits one RTP packet carrying audio data
// spanning duration of playout time, advancing the timestamp by the
// equivalent number of clock-rate samples.
func (s *Session) SendAudio(payload []byte, duration time.Duration) error {
	if !s.CanSend() {
		return newErr(ErrState, "Session.SendAudio", fmt.Errorf("direction %s cannot send", s.config.Direction))
	}
	if s.GetState() != SessionStateActive {
		return newErr(ErrState, "Session.SendAudio", fmt.Errorf("session not active"))
	}
	samples := uint32(duration.Seconds() * float64(s.config.ClockRate))
	data, _, err := s.builder.Build(payload, samples, BuildOptions{})
	if err != nil {
		return err
	}
	if err := s.config.Transport.Send(data); err != nil {
		return err
	}
	s.statsMu.Lock()
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(payload))
	s.statsMu.Unlock()
	if s.config.Metrics != nil {
		s.config.Metrics.ObserveSend(len(payload))
	}
	return nil
}

// SendPacket transmits a fully-assembled packet as-is, bypassing the
// built-in sequence/timestamp counters (e.g. for RTP retransmission or
// redundancy payloads the caller has already built).
func (s *Session) SendPacket(p *Packet) error {
	if s.GetState() != SessionStateActive {
		return newErr(ErrState, "Session.SendPacket", fmt.Errorf("session not active"))
	}
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := s.config.Transport.Send(data); err != nil {
		return err
	}
	s.statsMu.Lock()
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(p.Payload))
	s.statsMu.Unlock()
	if s.config.Metrics != nil {
		s.config.Metrics.ObserveSend(len(p.Payload))
	}
	return nil
}

// GetState returns the current lifecycle state.
func (s *Session) GetState() SessionState {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	switch s.fsm.Current() {
	case fsmStateActive:
		return SessionStateActive
	case fsmStateClosed:
		return SessionStateClosed
	default:
		return SessionStateIdle
	}
}

// SSRC returns the local synchronization source identifier.
func (s *Session) SSRC() uint32 { return atomic.LoadUint32(&s.ssrc) }

// Sources returns a snapshot of every currently-tracked remote
// source.
func (s *Session) Sources() map[uint32]RemoteSource { return s.sources.Snapshot() }

// Statistics returns aggregated send/receive counters.
func (s *Session) Statistics() SessionStatistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	stats := s.stats
	for _, src := range s.sources.Snapshot() {
		stats.PacketsReceived += src.Stats.PacketsReceived
		stats.BytesReceived += src.Stats.BytesReceived
		stats.PacketsLost += src.Stats.PacketsLost
		if src.Stats.Jitter > stats.Jitter {
			stats.Jitter = src.Stats.Jitter
		}
		if src.Stats.LastActivity.After(stats.LastActivity) {
			stats.LastActivity = src.Stats.LastActivity
		}
	}
	return stats
}

// SetLocalDescription updates the SDES fields sent in every
// subsequent RTCP report.
func (s *Session) SetLocalDescription(desc SourceDescription) {
	s.config.LocalDescription = desc
	s.rtcp.cfg.Description = desc
}

// SendSourceDescription forces an immediate compound packet of an
// empty RR followed by the SDES chunk, outside the normal §6.3 schedule (e.g. right after joining,
// per §6.5's recommendation to announce CNAME promptly).
func (s *Session) SendSourceDescription() error {
	cp := &CompoundPacket{Packets: []RTCPPacket{&ReceiverReportPacket{SSRC: s.SSRC()}, s.rtcpSDES()}}
	data, err := s.rtcp.Marshal(cp)
	if err != nil {
		return err
	}
	return s.rtcpTransport().Send(data)
}

func (s *Session) rtcpSDES() *SourceDescriptionPacket {
	return &SourceDescriptionPacket{Chunks: []SDESChunk{{Source: s.SSRC(), Items: s.config.LocalDescription.sdesItems()}}}
}

// PayloadType returns the configured payload type.
func (s *Session) PayloadType() PayloadType { return s.config.PayloadType }

// ClockRate returns the configured RTP clock rate in Hz.
func (s *Session) ClockRate() uint32 { return s.config.ClockRate }

// SequenceNumber returns the next outgoing sequence number.
func (s *Session) SequenceNumber() uint16 { return s.builder.SequenceNumber() }

// Timestamp returns the next outgoing RTP timestamp.
func (s *Session) Timestamp() uint32 { return s.builder.Timestamp() }

// SetDirection changes the media direction; refused once the session
// is active, since direction is a negotiation-time-only setting.
func (s *Session) SetDirection(direction Direction) error {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.fsm.Current() == fsmStateActive {
		return newErr(ErrState, "Session.SetDirection", fmt.Errorf("cannot change direction of an active session"))
	}
	s.config.Direction = direction
	return nil
}

func (s *Session) GetDirection() Direction { return s.config.Direction }
func (s *Session) CanSend() bool           { return s.config.Direction.CanSend() }
func (s *Session) CanReceive() bool        { return s.config.Direction.CanReceive() }

// SetNameInterval configures how often non-CNAME SDES items are
// included in outgoing RTCP reports; see RTCPBuilder.SetNameInterval.
func (s *Session) SetNameInterval(n int) { s.rtcp.SetNameInterval(n) }

// isOwnTransmitterAddress reports whether from matches one of this
// session's own sending sockets, per §4.7: a packet carrying our own
// SSRC is only a genuine collision if it did NOT come from one of our
// own transmitters (a loopback of our own traffic is not a collision).
func (s *Session) isOwnTransmitterAddress(from Address) bool {
	if from == nil {
		return false
	}
	if local := s.config.Transport.LocalAddr(); local != nil && local.SameHost(from) {
		return true
	}
	if s.config.RTCPTransport != nil {
		if local := s.config.RTCPTransport.LocalAddr(); local != nil && local.SameHost(from) {
			return true
		}
	}
	return false
}

// rotateSSRC handles an own-SSRC collision per §4.7: if this
// participant has already sent data under the colliding SSRC it sends
// a BYE for it, then picks a fresh SSRC absent from the source table
// and switches the outgoing packet builder and RTCP builder over to
// it. isRtp distinguishes an RTP-carried collision from one detected
// in RTCP, purely for the OnSsrcCollision callback.
func (s *Session) rotateSSRC(from Address, isRtp bool) {
	old := s.SSRC()
	if s.builder.PacketsSent() > 0 {
		s.sendByeBestEffort("ssrc collision")
	}

	next := old
	for {
		next = s.config.Random.Uint32()
		if next == old {
			continue
		}
		if _, exists := s.sources.Get(next); !exists {
			break
		}
	}

	atomic.StoreUint32(&s.ssrc, next)
	s.builder.Rotate(next, s.config.Random)
	s.rtcp.SetLocalSSRC(next)
	s.sources.Remove(old)

	s.logger.Warn("own ssrc collision, rotated to new ssrc", Uint32("old_ssrc", old), Uint32("new_ssrc", next))
	if s.config.OnSsrcCollision != nil {
		s.config.OnSsrcCollision(old, from, isRtp)
	}
}

// BeginDataAccess locks the source table for iteration via
// GotoFirstSource/GotoNextSource/GetNextPacket. Must be paired with
// EndDataAccess.
func (s *Session) BeginDataAccess() error { return s.sources.BeginDataAccess() }

// EndDataAccess releases the lock taken by BeginDataAccess.
func (s *Session) EndDataAccess() { s.sources.EndDataAccess() }

// GotoFirstSource positions the data-access cursor at the first known
// remote source.
func (s *Session) GotoFirstSource() bool { return s.sources.GotoFirstSource() }

// GotoNextSource advances the data-access cursor.
func (s *Session) GotoNextSource() bool { return s.sources.GotoNextSource() }

// GotoFirstSourceWithData positions the cursor at the first source
// that has at least one buffered, unread RTP packet.
func (s *Session) GotoFirstSourceWithData() bool { return s.sources.GotoFirstSourceWithData() }

// GotoNextSourceWithData advances the cursor to the next source with
// buffered data.
func (s *Session) GotoNextSourceWithData() bool { return s.sources.GotoNextSourceWithData() }

// CurrentSourceSSRC returns the SSRC the data-access cursor currently
// points at.
func (s *Session) CurrentSourceSSRC() (uint32, bool) { return s.sources.CurrentSourceSSRC() }

// GetNextPacket dequeues the oldest buffered RTP packet for the
// source the data-access cursor currently points at, or nil if none
// is queued.
func (s *Session) GetNextPacket() *Packet { return s.sources.GetNextPacket() }

// ByeDestroy sends a BYE (best-effort, bounded by maxWait) and tears
// down the session, per §4.9's byeDestroy: unlike Stop, the caller
// gets a bound on how long the closing BYE is allowed to take before
// the session moves to its destroyed state regardless.
func (s *Session) ByeDestroy(maxWait time.Duration, reason string) error {
	s.stateMutex.Lock()
	if s.fsm.Current() == fsmStateClosed {
		s.stateMutex.Unlock()
		return nil
	}
	_ = s.fsm.Event(s.ctx, fsmEventByeDestroy)
	s.stateMutex.Unlock()

	done := make(chan struct{})
	go func() {
		s.sendByeBestEffort(reason)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(maxWait):
		s.logger.Warn("byeDestroy: bye send exceeded maxWait", Duration("max_wait", maxWait))
	}

	s.cancel()
	s.config.Transport.AbortWait()
	if s.config.RTCPTransport != nil {
		s.config.RTCPTransport.AbortWait()
	}
	s.wg.Wait()

	s.logger.Info("session destroyed", String("reason", reason))
	return nil
}
