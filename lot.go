package phylo

import (
	"fmt"
	"math"
	"time"
)

// Lot is the Park-Miller minimal standard generator (multiplier 16807,
// modulus 2^31-1), computed with Schrage's decomposition so every
// intermediate fits in 32 bits. It implements math/rand/v2.Source.
type Lot struct {
	seed     uint32
	initSeed uint32
}

const (
	lotMultiplier = 16807
	lotModulus    = 2147483647
	lotScale      = 4.6566128575e-10
	lotSignBit    = 0x80000000
)

// NewLot returns a generator started at seed, which must lie strictly
// between 0 and math.MaxUint32.
func NewLot(seed uint32) *Lot {
	l := &Lot{}
	l.SetSeed(seed)
	return l
}

// NewLotFromClock seeds from the wall clock.
func NewLotFromClock() *Lot {
	s := uint32(time.Now().Unix())
	if s == 0 || s == math.MaxUint32 {
		s = 1
	}
	return NewLot(s)
}

// SetSeed restarts the sequence.
func (l *Lot) SetSeed(s uint32) {
	if s == 0 || s == math.MaxUint32 {
		panic(fmt.Sprintf("phylo: seed must be in (0, %d), got %d", uint32(math.MaxUint32), s))
	}
	l.seed, l.initSeed = s, s
}

// Seed returns the current state, which changes on every draw.
func (l *Lot) Seed() uint32 { return l.seed }

// InitSeed returns the seed last passed to SetSeed.
func (l *Lot) InitSeed() uint32 { return l.initSeed }

func (l *Lot) next() uint32 {
	const b15, b16 = 32768, 65536
	x := l.seed
	xhi := x / b16
	xalo := (x - xhi*b16) * lotMultiplier
	leftlo := xalo / b16
	fhi := xhi*lotMultiplier + leftlo
	k := fhi / b15
	x = ((xalo - leftlo*b16) - lotModulus) + (fhi-k*b15)*b16 + k
	if x&lotSignBit != 0 {
		x += lotModulus
	}
	l.seed = x
	return x
}

// Uniform returns a deviate in (0, 1).
func (l *Lot) Uniform() float64 {
	return float64(l.next()) * lotScale
}

// Uint64 packs three 31-bit draws into 64 bits.
func (l *Lot) Uint64() uint64 {
	hi, mid, lo := uint64(l.next()), uint64(l.next()), uint64(l.next())
	return hi<<33 | mid<<2 | lo&3
}

// SampleUint returns an integer in [0, n) with all values equiprobable.
func (l *Lot) SampleUint(n uint32) uint32 {
	if n == 0 {
		panic("phylo: SampleUint requires n > 0")
	}
	v := n
	for v == n {
		v = uint32(float64(n) * l.Uniform())
	}
	return v
}

// RandBits returns a value whose low nbits bits are random, nbits in
// [1, 31].
func (l *Lot) RandBits(nbits uint) uint32 {
	if nbits == 0 || nbits > 31 {
		panic(fmt.Sprintf("phylo: RandBits requires 1 <= nbits <= 31, got %d", nbits))
	}
	return uint32(math.Floor(l.Uniform() * float64(uint32(1)<<nbits)))
}

// MultinomialDraw returns a bin index drawn with weights probs that sum to
// total.
func (l *Lot) MultinomialDraw(probs []float64, total float64) int {
	if len(probs) == 0 {
		panic("phylo: MultinomialDraw requires at least one bin")
	}
	u := total * l.Uniform()
	for i, p := range probs {
		u -= p
		if u < 0 {
			return i
		}
	}
	return len(probs) - 1
}
