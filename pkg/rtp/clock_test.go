package rtp_test

import (
	"testing"

	"github.com/arzzra/grtprt/pkg/rtp"
	"github.com/stretchr/testify/assert"
)

func TestToNTPFromNTPRoundTrip(t *testing.T) {
	sec, usec := uint32(1_700_000_000), uint32(250_000)
	ntp := rtp.ToNTP(sec, usec)

	gotSec, gotUsec := rtp.FromNTP(ntp)
	assert.Equal(t, sec, gotSec)
	assert.InDelta(t, int(usec), int(gotUsec), 1, "usec round-trip should be accurate to within 1us of fixed-point error")
}

func TestToNTPCarriesFractionalOverflow(t *testing.T) {
	// usec >= 1e6 must carry into the seconds field rather than
	// wrapping silently.
	ntp := rtp.ToNTP(1000, 1_500_000)
	sec, usec := rtp.FromNTP(ntp)
	assert.Equal(t, uint32(1001), sec)
	assert.InDelta(t, 500_000, int(usec), 1)
}

func TestFromNTPBeforeEpochIsZero(t *testing.T) {
	sec, usec := rtp.FromNTP(rtp.NTPTime(0))
	assert.Zero(t, sec)
	assert.Zero(t, usec)
}

func TestNTPMiddleBits(t *testing.T) {
	ntp := rtp.ToNTP(1_700_000_000, 0)
	mid := ntp.MiddleBits()
	// MiddleBits must be stable and non-zero for a real timestamp.
	assert.NotZero(t, mid)
}

func TestSystemClockNowIsMonotoneNonDecreasing(t *testing.T) {
	clk := rtp.NewSystemClock()
	sec1, usec1 := clk.Now()
	clk.Wait(0) // no-op, exercises the <=0 guard
	sec2, usec2 := clk.Now()

	t1 := uint64(sec1)*1_000_000 + uint64(usec1)
	t2 := uint64(sec2)*1_000_000 + uint64(usec2)
	assert.GreaterOrEqual(t, t2, t1)
}
