package rtp_test

import (
	"testing"
	"time"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAddress(t *testing.T, host string, port uint16) *rtp.IPv4Address {
	t.Helper()
	var ip [4]byte
	switch host {
	case "a":
		ip = [4]byte{10, 0, 0, 1}
	case "b":
		ip = [4]byte{10, 0, 0, 2}
	case "c":
		ip = [4]byte{10, 0, 0, 3}
	default:
		t.Fatalf("unknown test host %q", host)
	}
	return &rtp.IPv4Address{IP: ip, Port: port}
}

func TestSourceTableProbationGatesFirstPackets(t *testing.T) {
	table := rtp.NewSourceTable(rtp.SourceTableConfig{})
	addr := newTestAddress(t, "a", 5000)
	now := time.Now()

	// MIN_SEQUENTIAL is 2: the very first packet must not be accepted
	// until a run of in-order packets confirms the source.
	_, accepted := table.OnRTPPacket(0xAAAA, 100, 1000, 160, addr, now, 8000)
	assert.False(t, accepted, "first packet from a new SSRC should stay on probation")

	_, accepted = table.OnRTPPacket(0xAAAA, 101, 1160, 160, addr, now.Add(20*time.Millisecond), 8000)
	assert.True(t, accepted, "second in-order packet should clear probation")
}

func TestSourceTableOutOfOrderWithinWindowIsAccepted(t *testing.T) {
	table := rtp.NewSourceTable(rtp.SourceTableConfig{})
	addr := newTestAddress(t, "a", 5000)
	now := time.Now()

	table.OnRTPPacket(0xBEEF, 10, 0, 160, addr, now, 8000)
	table.OnRTPPacket(0xBEEF, 11, 160, 160, addr, now, 8000)
	// A minor reorder (12 arrives after 13) is within MAX_MISORDER and
	// must not be treated as a stream restart.
	table.OnRTPPacket(0xBEEF, 13, 480, 160, addr, now, 8000)
	_, accepted := table.OnRTPPacket(0xBEEF, 12, 320, 160, addr, now, 8000)
	assert.True(t, accepted)

	src, ok := table.Get(0xBEEF)
	require.True(t, ok)
	assert.EqualValues(t, 13, src.ExtendedHighestSeq())
}

func TestSourceTableCollisionRequiresTwoConfirmations(t *testing.T) {
	var collisions int
	table := rtp.NewSourceTable(rtp.SourceTableConfig{
		OnSsrcCollision: func(ssrc uint32, sender rtp.Address, isRtp bool) {
			collisions++
			assert.True(t, isRtp)
		},
	})
	addrA := newTestAddress(t, "a", 5000)
	addrB := newTestAddress(t, "b", 5000)
	now := time.Now()

	table.OnRTPPacket(0xCAFE, 1, 0, 160, addrA, now, 8000)
	table.OnRTPPacket(0xCAFE, 2, 160, 160, addrA, now, 8000)

	// First appearance of a new address for a known SSRC is recorded
	// but does not yet fire the collision callback.
	table.OnRTPPacket(0xCAFE, 3, 320, 160, addrB, now, 8000)
	assert.Equal(t, 0, collisions)

	// The same new address reappearing confirms the move.
	table.OnRTPPacket(0xCAFE, 4, 480, 160, addrB, now, 8000)
	assert.Equal(t, 1, collisions)

	src, ok := table.Get(0xCAFE)
	require.True(t, ok)
	assert.True(t, src.Address.Equal(addrB))
}

func TestSourceTableSdesDuplicateCnameFiresCallback(t *testing.T) {
	var collisions int
	var lastCname string
	var lastExisting, lastNew uint32
	table := rtp.NewSourceTable(rtp.SourceTableConfig{
		OnCnameCollision: func(cname string, existingSSRC, newSSRC uint32) {
			collisions++
			lastCname, lastExisting, lastNew = cname, existingSSRC, newSSRC
		},
	})
	addrA := newTestAddress(t, "a", 5000)
	addrB := newTestAddress(t, "b", 5000)
	now := time.Now()

	table.OnSDES(0x1111, rtp.SourceDescription{CNAME: "alice@example.com"}, addrA, now)
	assert.Equal(t, 0, collisions, "the first SSRC to present a CNAME is not a collision")

	table.OnSDES(0x2222, rtp.SourceDescription{CNAME: "alice@example.com"}, addrB, now)
	assert.Equal(t, 1, collisions)
	assert.Equal(t, "alice@example.com", lastCname)
	assert.EqualValues(t, 0x1111, lastExisting)
	assert.EqualValues(t, 0x2222, lastNew)
}

func TestSourceTableByeThenSweepRemoves(t *testing.T) {
	var removed []uint32
	table := rtp.NewSourceTable(rtp.SourceTableConfig{
		ByeTimeout: 10 * time.Millisecond,
		OnSourceRemoved: func(src *rtp.RemoteSource) {
			removed = append(removed, src.SSRC)
		},
	})
	addr := newTestAddress(t, "a", 5000)
	now := time.Now()
	table.OnRTPPacket(0x1234, 1, 0, 160, addr, now, 8000)
	table.OnRTPPacket(0x1234, 2, 160, 160, addr, now, 8000)

	table.OnBye(0x1234, "done", now)
	assert.Equal(t, 1, table.Count(), "source should still be present immediately after BYE")

	table.Sweep(now.Add(20 * time.Millisecond))
	assert.Equal(t, 0, table.Count())
	assert.Equal(t, []uint32{0x1234}, removed)
}

func TestSourceTableSweepTimesOutSilentSource(t *testing.T) {
	var timedOut bool
	table := rtp.NewSourceTable(rtp.SourceTableConfig{
		SourceTimeout: 5 * time.Millisecond,
		OnSourceTimeout: func(src *rtp.RemoteSource) {
			timedOut = true
		},
	})
	addr := newTestAddress(t, "a", 5000)
	now := time.Now()
	table.OnRTPPacket(0x5555, 1, 0, 160, addr, now, 8000)
	table.OnRTPPacket(0x5555, 2, 160, 160, addr, now, 8000)

	table.Sweep(now.Add(50 * time.Millisecond))
	assert.True(t, timedOut)
	assert.Equal(t, 0, table.Count())
}

func TestSourceTableRecordSenderReportCreatesSource(t *testing.T) {
	table := rtp.NewSourceTable(rtp.SourceTableConfig{})
	addr := newTestAddress(t, "a", 5000)
	now := time.Now()
	ntp := rtp.ToNTP(uint32(now.Unix()), 0)

	table.RecordSenderReport(0x9999, ntp, addr, now)

	src, ok := table.Get(0x9999)
	require.True(t, ok)
	assert.Equal(t, ntp, src.Stats.LastSRTimestamp)
}

func TestSourceTableFractionLostForUnknownSourceIsFalse(t *testing.T) {
	table := rtp.NewSourceTable(rtp.SourceTableConfig{})
	_, ok := table.FractionLostFor(0xDEAD)
	assert.False(t, ok)
}
