// Remote-source bookkeeping (component C8): sequence-number
// validation exactly as specified in RFC 3550 Appendix A.1, jitter
// per Appendix A.8, SSRC collision detection per §8.2/§8.3, and the
// timeout sweep that ages out senders, receivers and whole sources.
// Follows source_manager.go's overall shape (map-of-SSRC plus an
// event-callback surface) but the sequence state machine itself
// follows the RFC reference implementation rather than a simplified
// +-100 window, and the collision table adds the first-seen
// bookkeeping JRTPLIB's rtpsourcedata/rtpcollisionlist keep before
// firing OnSsrcCollision.
package rtp

import (
	"sync"
	"time"
)

const (
	rtpSeqMod     = 1 << 16
	maxDropout    = 3000
	maxMisorder   = 100
	minSequential = 2

	// defaultProbationPackets is MIN_SEQUENTIAL from RFC 3550 A.1: a
	// fresh SSRC must deliver this many packets in sequence before its
	// reports count toward the session.
	defaultProbationPackets = minSequential
)

// SourceStatistics is the per-source counters fed into RTCP reception
// reports.
type SourceStatistics struct {
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsLost     uint32
	FractionLost    uint8
	Jitter          float64
	LastSRTimestamp NTPTime
	LastSRReceived  time.Time
	LastActivity    time.Time
}

// RemoteSource is one remote participant tracked by the source table.
type RemoteSource struct {
	SSRC        uint32
	Description SourceDescription
	Stats       SourceStatistics

	probation int
	maxSeq    uint16
	baseSeq   uint16
	badSeq    int32
	cycles    uint32
	received  uint32

	receivedPrior uint32
	expectedPrior uint32

	lastTransit int64
	haveTransit bool

	lastRTPTimestamp uint32
	lastArrival      time.Time

	Active    bool
	SentBye   bool
	FirstSeen time.Time
	LastSeen  time.Time
	LastRTCP  time.Time

	Address Address

	// packets queues accepted RTP packets awaiting GetNextPacket; see
	// data_access.go.
	packets []*Packet
}

// ExtendedHighestSeq returns the 32-bit extended sequence number
// (cycle count in the high 16 bits), the HighestSeqNum field of a
// reception report.
func (s *RemoteSource) ExtendedHighestSeq() uint32 {
	return s.cycles + uint32(s.maxSeq)
}

// Expected returns the number of packets that should have arrived
// since the base sequence number, RFC 3550 Appendix A.3.
func (s *RemoteSource) Expected() uint32 {
	return s.ExtendedHighestSeq() - uint32(s.baseSeq) + 1
}

// LostCumulative returns the total number of packets presumed lost.
func (s *RemoteSource) LostCumulative() uint32 {
	expected := s.Expected()
	if expected < s.received {
		return 0
	}
	return expected - s.received
}

// intervalFractionLost computes the fraction lost since the previous
// report, RFC 3550 Appendix A.3, and resets the "_prior" baselines.
func (s *RemoteSource) intervalFractionLost() uint8 {
	expected := s.Expected()
	expectedInterval := expected - s.expectedPrior
	s.expectedPrior = expected
	receivedInterval := s.received - s.receivedPrior
	s.receivedPrior = s.received
	lostInterval := int32(expectedInterval) - int32(receivedInterval)

	if expectedInterval == 0 || lostInterval <= 0 {
		return 0
	}
	return uint8((lostInterval << 8) / int32(expectedInterval))
}

func (s *RemoteSource) initSeq(seq uint16) {
	s.baseSeq = seq
	s.maxSeq = seq
	s.badSeq = rtpSeqMod + 1
	s.cycles = 0
	s.received = 0
	s.receivedPrior = 0
	s.expectedPrior = 0
}

// updateSequence implements the RFC 3550 Appendix A.1 update_seq
// algorithm verbatim. It returns false for packets that should be
// discarded (still on probation, or a wild sequence jump that isn't
// yet confirmed as a legitimate restart).
func (s *RemoteSource) updateSequence(seq uint16) bool {
	udelta := int(seq) - int(s.maxSeq)
	if udelta < 0 {
		udelta += rtpSeqMod
	}

	if s.probation > 0 {
		if seq == s.maxSeq+1 {
			s.probation--
			s.maxSeq = seq
			if s.probation == 0 {
				s.initSeq(seq)
				s.received++
				return true
			}
		} else {
			s.probation = defaultProbationPackets - 1
			s.maxSeq = seq
		}
		return false
	}

	switch {
	case udelta < maxDropout:
		if seq < s.maxSeq {
			s.cycles += rtpSeqMod
		}
		s.maxSeq = seq
	case udelta <= rtpSeqMod-maxMisorder:
		if int32(seq) == s.badSeq {
			s.initSeq(seq)
		} else {
			s.badSeq = (int32(seq) + 1) & (rtpSeqMod - 1)
			return false
		}
	default:
		// duplicate or out-of-order within the misorder window; keep
		// it but don't touch max_seq/cycles.
	}
	s.received++
	return true
}

// updateJitter feeds one packet's arrival into the running jitter
// estimate, RFC 3550 Appendix A.8. arrivalRTPUnits is the arrival
// wallclock converted into the stream's RTP timestamp units.
func (s *RemoteSource) updateJitter(rtpTimestamp uint32, arrivalRTPUnits uint32) {
	transit := int64(arrivalRTPUnits) - int64(rtpTimestamp)
	if s.haveTransit {
		s.Stats.Jitter = CalculateJitter(transit, s.lastTransit, s.Stats.Jitter)
	}
	s.lastTransit = transit
	s.haveTransit = true
}

// collisionEntry records the first time a conflicting address reported
// a known SSRC, per RFC 3550 §8.2's loop-detection algorithm. Keyed by
// sender-address (§3: "map from sender-address → first-seen instant")
// rather than by SSRC, so a single flapping address doesn't re-churn
// the SSRC it's colliding with on every packet.
type collisionEntry struct {
	ssrc      uint32
	firstSeen time.Time
}

// SourceTableConfig configures timeouts and collision callbacks.
type SourceTableConfig struct {
	// SenderTimeout: a source that sent RTP but not within this long is
	// demoted from the sender count, §6.3.4.
	SenderTimeout time.Duration
	// SourceTimeout: total inactivity after which a source is dropped
	// from the table entirely, conventionally 5x the RTCP interval.
	SourceTimeout time.Duration
	// ByeTimeout bounds how long a BYE-marked source is kept around
	// for late-arriving duplicate BYEs before final removal.
	ByeTimeout time.Duration
	Clock      Clock

	OnSourceAdded   func(*RemoteSource)
	OnSourceRemoved func(*RemoteSource)
	OnSourceUpdated func(*RemoteSource)
	OnSourceTimeout func(*RemoteSource)
	// OnSsrcCollision fires per §8.2 when an address other than the one
	// on record reports a known SSRC for the second time, at which point
	// that address becomes the source's address (an address collision,
	// not a CNAME duplication).
	OnSsrcCollision func(ssrc uint32, sender Address, isRtp bool)
	// OnCnameCollision fires per §8.3 when two distinct SSRCs present
	// the same CNAME in SDES.
	OnCnameCollision func(cname string, existingSSRC, newSSRC uint32)
	OnBye            func(*RemoteSource, string)
}

func (c *SourceTableConfig) applyDefaults() {
	if c.SenderTimeout == 0 {
		c.SenderTimeout = 2 * time.Second
	}
	if c.SourceTimeout == 0 {
		c.SourceTimeout = 30 * time.Second
	}
	if c.ByeTimeout == 0 {
		c.ByeTimeout = 1 * time.Second
	}
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
}

// SourceTable tracks every remote SSRC seen by a session.
type SourceTable struct {
	mu          sync.RWMutex
	config      SourceTableConfig
	sources     map[uint32]*RemoteSource
	collision   map[string]*collisionEntry // keyed by sender address
	cnameOwners map[string]uint32          // CNAME -> first SSRC seen with it

	// accessMu/cursor implement the BeginDataAccess/GotoFirstSource/
	// GetNextPacket iteration API in data_access.go.
	accessMu sync.Mutex
	cursor   dataAccessCursor
}

// NewSourceTable builds an empty table.
func NewSourceTable(config SourceTableConfig) *SourceTable {
	config.applyDefaults()
	return &SourceTable{
		config:      config,
		sources:     make(map[uint32]*RemoteSource),
		collision:   make(map[string]*collisionEntry),
		cnameOwners: make(map[string]uint32),
	}
}

// OnRTPPacket registers reception of an RTP packet from from, running
// the probation/sequence/jitter state machine. clockRate converts
// wallclock to RTP units for the jitter calculation. Returns the
// source and whether the packet survived validation (false means:
// drop it, still on probation or rejected as a wild jump).
func (t *SourceTable) OnRTPPacket(ssrc uint32, seq uint16, rtpTimestamp uint32, payloadBytes int, from Address, now time.Time, clockRate uint32) (*RemoteSource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, exists := t.sources[ssrc]
	if !exists {
		src = &RemoteSource{
			SSRC:      ssrc,
			probation: defaultProbationPackets,
			Address:   from,
			FirstSeen: now,
		}
		src.initSeq(seq)
		src.maxSeq = seq - 1 // first updateSequence call expects maxSeq+1==seq
		t.sources[ssrc] = src
	} else if src.Address != nil && from != nil && !src.Address.SameHost(from) {
		t.handleCollision(src, from, now)
	}

	src.LastSeen = now
	src.Active = true

	ok := src.updateSequence(seq)
	if ok {
		if clockRate > 0 {
			arrivalUnits := uint32(now.Unix())*clockRate + uint32(now.Nanosecond())/1000*clockRate/1000000
			src.updateJitter(rtpTimestamp, arrivalUnits)
		}
		src.Stats.PacketsReceived++
		src.Stats.BytesReceived += uint64(payloadBytes)
		src.Stats.LastActivity = now
	}

	if !exists && t.config.OnSourceAdded != nil {
		t.config.OnSourceAdded(src)
	} else if exists && t.config.OnSourceUpdated != nil {
		t.config.OnSourceUpdated(src)
	}

	return src, ok
}

// handleCollision implements the §8.2 loop/collision bookkeeping: the
// first time an unfamiliar address reports an already-known SSRC it is
// recorded with a timestamp; only a second observation from that same
// address promotes it to a reported collision, giving a single
// transient reordering a chance to resolve itself.
func (t *SourceTable) handleCollision(src *RemoteSource, from Address, now time.Time) {
	key := from.String()
	entry, seen := t.collision[key]
	if !seen {
		t.collision[key] = &collisionEntry{ssrc: src.SSRC, firstSeen: now}
		return
	}
	if entry.ssrc == src.SSRC {
		// Confirmed: the same address has reappeared reporting the
		// same SSRC, accept it as the source's new home (likely re-IP,
		// not a loop).
		src.Address = from
		delete(t.collision, key)
		if t.config.OnSsrcCollision != nil {
			t.config.OnSsrcCollision(src.SSRC, from, true)
		}
		return
	}
	// The same address now reporting a different SSRC: refresh the
	// pending entry rather than firing on a still-unconfirmed pairing.
	entry.ssrc = src.SSRC
	entry.firstSeen = now
}

// OnSDES merges description into the source's SDES record, creating
// the source if this is the first time it's been heard from at all
// (§6.5 allows SDES to arrive before the first RTP packet).
func (t *SourceTable) OnSDES(ssrc uint32, description SourceDescription, from Address, now time.Time) *RemoteSource {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, exists := t.sources[ssrc]
	if !exists {
		src = &RemoteSource{SSRC: ssrc, Address: from, FirstSeen: now}
		t.sources[ssrc] = src
		if t.config.OnSourceAdded != nil {
			t.config.OnSourceAdded(src)
		}
	}
	src.Description = description
	src.LastSeen = now

	if description.CNAME != "" {
		if owner, seen := t.cnameOwners[description.CNAME]; !seen {
			t.cnameOwners[description.CNAME] = ssrc
		} else if owner != ssrc && t.config.OnCnameCollision != nil {
			t.config.OnCnameCollision(description.CNAME, owner, ssrc)
		}
	}

	if t.config.OnSourceUpdated != nil && exists {
		t.config.OnSourceUpdated(src)
	}
	return src
}

// OnBye marks ssrc as having sent BYE, per §6.6: the source is kept
// around briefly (ByeTimeout) rather than removed immediately, so a
// duplicate BYE or a trailing RTCP report doesn't resurrect it as new.
func (t *SourceTable) OnBye(ssrc uint32, reason string, now time.Time) {
	t.mu.Lock()
	src, ok := t.sources[ssrc]
	if ok {
		src.SentBye = true
		src.LastSeen = now
	}
	t.mu.Unlock()
	if ok && t.config.OnBye != nil {
		t.config.OnBye(src, reason)
	}
}

// RecordSenderReport stores the NTP timestamp of a just-received SR,
// creating the source first if this is the first time it's been seen
// at all (an SR can arrive before any RTP packet does).
func (t *SourceTable) RecordSenderReport(ssrc uint32, ntp NTPTime, from Address, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.sources[ssrc]
	if !ok {
		src = &RemoteSource{SSRC: ssrc, Address: from, FirstSeen: now}
		t.sources[ssrc] = src
		if t.config.OnSourceAdded != nil {
			t.config.OnSourceAdded(src)
		}
	}
	src.Stats.LastSRTimestamp = ntp
	src.Stats.LastSRReceived = now
	src.LastSeen = now
}

// Get returns a copy of the source's current state, if known.
func (t *SourceTable) Get(ssrc uint32) (RemoteSource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src, ok := t.sources[ssrc]
	if !ok {
		return RemoteSource{}, false
	}
	return *src, true
}

// Snapshot returns a copy of every known source, keyed by SSRC.
func (t *SourceTable) Snapshot() map[uint32]RemoteSource {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint32]RemoteSource, len(t.sources))
	for ssrc, src := range t.sources {
		out[ssrc] = *src
	}
	return out
}

// Count returns the number of known sources (RFC 3550's "members").
func (t *SourceTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sources)
}

// SenderCount returns the number of sources that sent RTP within
// SenderTimeout, the "senders" count §6.3's interval algorithm needs.
func (t *SourceTable) SenderCount(now time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, src := range t.sources {
		if src.Active && !src.Stats.LastActivity.IsZero() && now.Sub(src.Stats.LastActivity) < t.config.SenderTimeout {
			n++
		}
	}
	return n
}

// FractionLostFor returns the interval fraction-lost for ssrc,
// advancing its "_prior" baselines as a side effect (called once per
// RTCP reporting interval, by the compound-packet builder).
func (t *SourceTable) FractionLostFor(ssrc uint32) (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	src, ok := t.sources[ssrc]
	if !ok {
		return 0, false
	}
	return src.intervalFractionLost(), true
}

// Sweep runs the timeout pass: demote stale senders,
// time out BYE'd sources whose grace period elapsed, drop sources
// that have been silent past SourceTimeout, and fire OnSourceTimeout/
// OnSourceRemoved accordingly. Session's sweep loop calls it once a
// second.
func (t *SourceTable) Sweep(now time.Time) {
	t.mu.Lock()
	var removed []*RemoteSource
	for ssrc, src := range t.sources {
		if src.Active && now.Sub(src.Stats.LastActivity) > t.config.SenderTimeout {
			src.Active = false
		}
		if src.SentBye && now.Sub(src.LastSeen) > t.config.ByeTimeout {
			removed = append(removed, src)
			delete(t.sources, ssrc)
			t.forgetCollisionsFor(ssrc)
			continue
		}
		if now.Sub(src.LastSeen) > t.config.SourceTimeout {
			removed = append(removed, src)
			delete(t.sources, ssrc)
			t.forgetCollisionsFor(ssrc)
		}
	}
	t.mu.Unlock()

	for _, src := range removed {
		if t.config.OnSourceTimeout != nil {
			t.config.OnSourceTimeout(src)
		}
		if t.config.OnSourceRemoved != nil {
			t.config.OnSourceRemoved(src)
		}
	}
}

// Remove deletes ssrc unconditionally (used when a session explicitly
// closes a local tracking entry, e.g. after an SSRC collision forces
// a local re-randomization).
func (t *SourceTable) Remove(ssrc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sources, ssrc)
	t.forgetCollisionsFor(ssrc)
}

// forgetCollisionsFor drops any pending collision/CNAME-ownership
// bookkeeping tied to ssrc. Called with t.mu already held.
func (t *SourceTable) forgetCollisionsFor(ssrc uint32) {
	for key, entry := range t.collision {
		if entry.ssrc == ssrc {
			delete(t.collision, key)
		}
	}
	for cname, owner := range t.cnameOwners {
		if owner == ssrc {
			delete(t.cnameOwners, cname)
		}
	}
}
