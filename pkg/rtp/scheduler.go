// RTCP transmission scheduling (component C11): the exact interval
// algorithm of RFC 3550 §6.3 and Appendix A.7 — deterministic interval
// scaled by active-member/sender counts, randomized by a uniform
// [0.5, 1.5) factor divided by e - 3/2 (1.21828) to avoid synchronized
// bursts across a session's participants, reverse reconsideration when
// the member count drops, and the BYE backoff that keeps a mass
// departure from flooding the network with goodbye packets.
//
// RTCPIntervalCalculation once computed only the deterministic half of
// this (and skipped randomization "for determinism"); this is the
// textbook algorithm in full, including the parts that stand-in
// deliberately left out.
package rtp

import "time"

const (
	// rtcpMinInterval is RTCP_MIN_TIME from Appendix A.7: five seconds.
	rtcpMinInterval = 5 * time.Second
	// compensationFactor is the e - 3/2 divisor RFC 3550 applies after
	// the uniform [0.5,1.5) randomization, so the average interval
	// matches the deterministic one despite the multiply.
	compensationFactor = 1.21828
	// defaultAvgRTCPSize seeds the running average before any report
	// has actually been sent or received.
	defaultAvgRTCPSize = 200.0
)

// SchedulerConfig parameterizes one session's RTCP interval
// computation.
type SchedulerConfig struct {
	// Bandwidth is the session RTCP bandwidth in octets/second,
	// conventionally 5% of the session (media) bandwidth.
	Bandwidth float64
	Random    RandomSource
	Clock     Clock

	// PreTransmissionDelay shifts Tn earlier by a fixed amount so a
	// batch of packets queued around the same wall-clock moment tend
	// to leave in one compound send, per JRTPLIB's
	// setPreTransmissionDelay. Zero disables it.
	PreTransmissionDelay time.Duration
}

// Scheduler implements RFC 3550 §6.3's RTCP transmission timer,
// independent of any particular transport: callers drive it with
// member/sender counts and feed back observed report sizes.
type Scheduler struct {
	cfg SchedulerConfig

	avgRTCPSize float64
	pmembers    int
	tp          time.Time // last transmission time
	tn          time.Time // next scheduled transmission time
	initial     bool
}

// NewScheduler creates a scheduler in its pre-first-transmission
// state, per §6.3.1.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Bandwidth <= 0 {
		cfg.Bandwidth = 5000 // arbitrary but positive default
	}
	if cfg.Random == nil {
		cfg.Random = NewRandomSource()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	return &Scheduler{cfg: cfg, avgRTCPSize: defaultAvgRTCPSize, initial: true}
}

// Interval computes T, the randomized RTCP transmission interval, per
// Appendix A.7. members/senders are the current source-table counts;
// weSent is true if this participant counts itself as a sender
// (Session passes true once it has sent any RTP packet).
func (s *Scheduler) Interval(members, senders int, weSent bool) time.Duration {
	bw := s.cfg.Bandwidth
	n := members
	if n < 1 {
		n = 1
	}
	if weSent && float64(senders) < float64(members)*0.25 {
		bw *= 0.25
		n = senders
	} else {
		bw *= 0.75
		n = members - senders
	}
	if n < 1 {
		n = 1
	}

	minInterval := rtcpMinInterval
	if s.initial {
		minInterval /= 2
	}

	t := s.avgRTCPSize * float64(n) / bw
	tSeconds := t
	minSeconds := minInterval.Seconds()
	if tSeconds < minSeconds {
		tSeconds = minSeconds
	}

	randomized := tSeconds * UniformBetween(s.cfg.Random, 0.5, 1.5)
	randomized /= compensationFactor

	// Never clamp to a negative or zero interval: a pathological
	// avgRTCPSize/bandwidth ratio must still produce forward progress.
	if randomized <= 0 {
		randomized = minSeconds
	}
	return time.Duration(randomized * float64(time.Second))
}

// ScheduleFirst sets Tp/Tn for the very first report, per §6.3.1: T
// is the randomized interval from Interval, computed with the halved
// initial minimum.
func (s *Scheduler) ScheduleFirst(now time.Time, members, senders int, weSent bool) time.Time {
	s.tp = now
	s.pmembers = members
	t := s.Interval(members, senders, weSent)
	s.tn = now.Add(t).Add(-s.cfg.PreTransmissionDelay)
	return s.tn
}

// NextDeadline returns the currently scheduled Tn.
func (s *Scheduler) NextDeadline() time.Time { return s.tn }

// LastTransmission returns Tp, the instant of the last transmission
// (or scheduling baseline before the first one).
func (s *Scheduler) LastTransmission() time.Time { return s.tp }

// OnTransmit updates Tp/Tn after actually sending a compound packet,
// per §6.3.3: Tn = Tp + T, advancing from the transmission time
// itself (not "now"), and un-sets the initial flag.
func (s *Scheduler) OnTransmit(now time.Time, members, senders int, weSent bool) time.Time {
	s.tp = now
	s.pmembers = members
	s.initial = false
	t := s.Interval(members, senders, weSent)
	s.tn = now.Add(t).Add(-s.cfg.PreTransmissionDelay)
	return s.tn
}

// OnReportSizeObserved folds packetSize into the running average
// control-traffic size, per §6.3.3's 1/16 weighting.
func (s *Scheduler) OnReportSizeObserved(packetSize int) {
	s.avgRTCPSize = float64(packetSize)/16.0 + s.avgRTCPSize*15.0/16.0
}

// ReverseConsider implements §6.3.4's reverse reconsideration: when a
// BYE or timeout drops the member count below what it was at the last
// transmission, both Tn and Tp are pulled in proportionally rather
// than left sized for a larger group.
func (s *Scheduler) ReverseConsider(now time.Time, members int) {
	if s.pmembers == 0 || members >= s.pmembers {
		return
	}
	ratio := float64(members) / float64(s.pmembers)
	remaining := s.tn.Sub(now)
	s.tn = now.Add(time.Duration(float64(remaining) * ratio))
	elapsed := now.Sub(s.tp)
	s.tp = now.Add(-time.Duration(float64(elapsed) * ratio))
	s.pmembers = members
}

// ScheduleBye computes the backoff interval for sending this
// participant's own BYE, per §6.3.7: reuse the normal interval
// formula with we_sent=false, senders=0, but cap members at 50 so a
// mass simultaneous departure doesn't all wait out a huge interval
// computed for the full (stale) membership.
func (s *Scheduler) ScheduleBye(now time.Time, members int) time.Time {
	capped := members
	if capped > 50 {
		capped = 50
	}
	t := s.Interval(capped, 0, false)
	s.tn = now.Add(t)
	return s.tn
}

// IsInitial reports whether no compound packet has been sent yet.
func (s *Scheduler) IsInitial() bool { return s.initial }
