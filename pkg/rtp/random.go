// Uniform random draws for SSRC / sequence-number / scheduler jitter
// (component C2). The contract (§4.2) only asks for uniform u8/u16/
// u32/f64 draws seeded from pid + wallclock + a process-local unique
// value; cryptographic strength is explicitly not required, so we
// reach for the same generator pion/rtp's own dependency tree already
// uses for exactly this purpose (SSRC/sequence-number generation)
// rather than hand-rolling one on top of crypto/rand the way the
// teacher's generateSSRC/generateRandomUint16 helpers did.
package rtp

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/pion/randutil"
)

var processUnique int64

// RandomSource is the uniform-draw contract required by §4.2.
// Implementations need not be cryptographically strong.
type RandomSource interface {
	Uint8() uint8
	Uint16() uint16
	Uint32() uint32
	Float64() float64
}

// mathRandomSource adapts pion/randutil's math-backed generator to
// the RandomSource contract. Each instance is seeded from the process
// id, current wallclock, and a monotonically increasing process-local
// counter, per §4.2's seed recipe.
type mathRandomSource struct {
	gen randutil.MathRandomGenerator
}

// NewRandomSource returns the default RandomSource.
func NewRandomSource() RandomSource {
	unique := atomic.AddInt64(&processUnique, 1)
	seed := int64(os.Getpid())<<32 ^ time.Now().UnixNano() ^ unique
	src := &mathRandomSource{}
	src.gen.New(uint64(seed))
	return src
}

func (r *mathRandomSource) Uint32() uint32 {
	return r.gen.Uint32()
}

func (r *mathRandomSource) Uint16() uint16 {
	return uint16(r.gen.Uint32())
}

func (r *mathRandomSource) Uint8() uint8 {
	return uint8(r.gen.Uint32())
}

// Float64 returns a uniform draw in [0, 1), built from a 32-bit draw
// the same way RFC 3550's own reference randomization does.
func (r *mathRandomSource) Float64() float64 {
	return float64(r.gen.Uint32()) / (float64(1) << 32)
}

// UniformBetween returns a uniform draw in [lo, hi) using r.
func UniformBetween(r RandomSource, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}
