// Poll loops (component C12): one goroutine pulling RTP off the wire,
// one pulling RTCP (only spun up when RTCP has its own transport
// rather than being muxed), one driving the §6.3 scheduler, and one
// sweeping the source table for timeouts. Follows the shape of
// RTPSession/RTCPSession's receiveLoop/sendLoop goroutines, generalized
// to drive the Transport/Scheduler/SourceTable trio instead of a
// fixed ticker.
package rtp

import (
	"time"
)

func (s *Session) rtpRecvLoop() {
	defer s.wg.Done()
	log := s.logger.WithComponent("rtp-recv")
	for {
		raw, err := s.config.Transport.Recv(s.ctx)
		if err != nil {
			if IsKind(err, ErrCancelled) {
				return
			}
			log.Error("recv failed", Err(err))
			continue
		}
		if raw.IsRTCP {
			s.handleRTCPData(raw.Data, raw.Sender)
			continue
		}
		s.handleRTPData(raw.Data, raw.Sender, raw.ReceiveTime)
	}
}

func (s *Session) rtcpRecvLoop() {
	defer s.wg.Done()
	log := s.logger.WithComponent("rtcp-recv")
	transport := s.rtcpTransport()
	for {
		raw, err := transport.Recv(s.ctx)
		if err != nil {
			if IsKind(err, ErrCancelled) {
				return
			}
			log.Error("recv failed", Err(err))
			continue
		}
		s.handleRTCPData(raw.Data, raw.Sender)
	}
}

func (s *Session) handleRTPData(data []byte, from Address, receiveTime time.Time) {
	log := s.logger.WithComponent("rtp-recv")
	pkt, err := DecodePacket(data)
	if err != nil {
		log.Warn("dropping malformed rtp packet", Err(err))
		return
	}
	if pkt.SSRC == s.SSRC() && !s.isOwnTransmitterAddress(from) {
		s.rotateSSRC(from, true)
	}
	if receiveTime.IsZero() {
		receiveTime = time.Now()
	}
	_, accepted := s.sources.OnRTPPacket(pkt.SSRC, pkt.SequenceNumber, pkt.Timestamp, len(pkt.Payload), from, receiveTime, s.config.ClockRate)
	if !accepted {
		return
	}
	s.sources.enqueuePacket(pkt.SSRC, pkt)
	if s.config.Metrics != nil {
		s.config.Metrics.ObserveReceive(len(pkt.Payload))
	}
	if s.config.OnPacketReceived != nil {
		s.config.OnPacketReceived(pkt, from)
	}
}

func (s *Session) handleRTCPData(data []byte, from Address) {
	log := s.logger.WithComponent("rtcp-recv")
	var cp CompoundPacket
	if err := cp.Unmarshal(data); err != nil {
		log.Warn("dropping malformed rtcp compound packet", Err(err))
		return
	}
	now := time.Now()
	for _, p := range cp.Packets {
		switch v := p.(type) {
		case *SenderReportPacket:
			s.sources.RecordSenderReport(v.SSRC, v.NTPTimestamp, from, now)
		case *SourceDescriptionPacket:
			for _, chunk := range v.Chunks {
				s.sources.OnSDES(chunk.Source, sourceDescriptionFromItems(chunk.Items), from, now)
			}
		case *ByePacket:
			for _, ssrc := range v.Sources {
				s.sources.OnBye(ssrc, v.Reason, now)
			}
		case *AppPacket:
			if v.SSRC == s.SSRC() && !s.isOwnTransmitterAddress(from) {
				s.rotateSSRC(from, false)
			}
		}
		if s.config.OnRTCPReceived != nil {
			s.config.OnRTCPReceived(p, from)
		}
	}
}

// rtcpSendLoop fires compound reports on the schedule computed by
// Scheduler, reconsidering the interval whenever the membership count
// moves.
func (s *Session) rtcpSendLoop() {
	defer s.wg.Done()
	log := s.logger.WithComponent("rtcp-send")
	for {
		deadline := s.scheduler.NextDeadline()
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		members := s.sources.Count() + 1
		senders := s.sources.SenderCount(now)
		// weSent stays true once any RTP packet has been sent in this
		// session; it does not lapse after a period of silence.
		weSent := s.builder.PacketsSent() > 0

		cp, err := s.buildReport(now, weSent)
		if err != nil {
			log.Error("failed to build rtcp report", Err(err))
			s.scheduler.OnTransmit(now, members, senders, weSent)
			continue
		}
		data, err := s.rtcp.Marshal(cp)
		if err == nil {
			if sendErr := s.rtcpTransport().Send(data); sendErr != nil {
				log.Warn("rtcp send failed", Err(sendErr))
			} else {
				s.scheduler.OnReportSizeObserved(len(data))
				if s.config.Metrics != nil {
					leading := "rr"
					if weSent {
						leading = "sr"
					}
					s.config.Metrics.ObserveRTCPSent(leading, wait)
				}
			}
		}
		s.scheduler.OnTransmit(now, members, senders, weSent)
	}
}

func (s *Session) buildReport(now time.Time, weSent bool) (*CompoundPacket, error) {
	if weSent {
		return s.rtcp.BuildSenderReport(now, SenderSnapshot{
			SSRC:        s.SSRC(),
			PacketCount: uint32(s.builder.PacketsSent()),
			OctetCount:  uint32(s.builder.OctetsSent()),
			RTPTime:     s.builder.Timestamp(),
		})
	}
	return s.rtcp.BuildReceiverReport(now)
}

// sweepLoop ages out stale remote sources at a fraction of the
// nominal RTCP interval, independent of when the next report actually
// fires.
func (s *Session) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.sources.Sweep(now)
			s.scheduler.ReverseConsider(now, s.sources.Count()+1)
			if s.config.Metrics != nil {
				s.config.Metrics.ObserveSessionStatistics(s.Statistics(), s.sources.Snapshot())
			}
		}
	}
}
