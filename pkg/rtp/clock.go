// Wallclock reads and NTP <-> microsecond conversion (component C1).
//
// Основано на подходе teacher-пакета к работе со временем (time.Time +
// ручная конвертация в NTP внутри rtcp.go), но вынесено в отдельный,
// подменяемый интерфейс Clock, чтобы сессия и планировщик RTCP могли
// тестироваться с детерминированным временем.
package rtp

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Clock abstracts wallclock reads so the scheduler and source table
// can be driven by a fake clock in tests.
type Clock interface {
	// Now returns the current time split into whole seconds and a
	// microsecond remainder in [0, 1e6).
	Now() (sec uint32, usec uint32)
	// Wait performs a best-effort sleep; it is not required to be
	// precise, only monotone.
	Wait(d time.Duration)
}

// SystemClock is the default Clock, backed by the OS wallclock.
type SystemClock struct{}

// NewSystemClock returns the default Clock implementation.
func NewSystemClock() *SystemClock { return &SystemClock{} }

func (SystemClock) Now() (uint32, uint32) {
	t := time.Now()
	return uint32(t.Unix()), uint32(t.Nanosecond() / 1000)
}

func (SystemClock) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// NTPTime is a 64-bit fixed-point NTP timestamp: 32 bits of seconds
// since 1900-01-01, 32 bits of binary fraction.
type NTPTime uint64

// ToNTP converts (unixSec, usec) to an NTP timestamp per RFC 3550
// §4.1: ntpSeconds = unixSeconds + 2208988800, ntpFraction =
// usec * 2^32 / 1e6. usec is saturated into [0, 1e6) with carry into
// seconds before conversion.
func ToNTP(sec, usec uint32) NTPTime {
	s, u := normalizeSecUsec(sec, usec)
	ntpSec := uint64(s) + ntpEpochOffset
	ntpFrac := (uint64(u) << 32) / 1000000
	return NTPTime(ntpSec<<32 | ntpFrac)
}

// FromNTP converts an NTP timestamp back to (unixSec, usec). It
// returns (0, 0) when the NTP seconds field is less than the epoch
// offset, per §4.1.
func FromNTP(t NTPTime) (sec uint32, usec uint32) {
	ntpSec := uint64(t) >> 32
	ntpFrac := uint64(t) & 0xFFFFFFFF
	if ntpSec < ntpEpochOffset {
		return 0, 0
	}
	unixSec := ntpSec - ntpEpochOffset
	u := (ntpFrac * 1000000) >> 32
	return uint32(unixSec), uint32(u)
}

// MiddleBits returns the middle 32 bits of the NTP timestamp, used as
// the LSR (Last SR) field in reception reports.
func (t NTPTime) MiddleBits() uint32 {
	return uint32(uint64(t) >> 16)
}

func normalizeSecUsec(sec, usec uint32) (uint32, uint32) {
	carry := usec / 1000000
	return sec + carry, usec % 1000000
}
