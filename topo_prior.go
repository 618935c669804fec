package phylo

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// TopoPriorCalculator counts labeled topologies by number of internal nodes
// (the resolution class) and derives log priors over those classes. Under
// the polytomy prior a topology with m internal nodes has weight
// C^(maxM-m); under the resolution class prior every class has weight
// C^(maxM-m) shared equally among its topologies.
//
// Tables are rebuilt lazily: setters only mark the state dirty and the next
// query recomputes. A calculator is not safe for concurrent use.
type TopoPriorCalculator struct {
	ntax                 int
	c                    float64
	rooted               bool
	resolutionClassPrior bool
	dirty                bool

	// counts[m] is the number of topologies with m internal nodes; counts[0]
	// is the total. Values overflow to +Inf for large ntax; lnCounts does
	// not.
	counts   []float64
	lnCounts []float64

	// topologyPrior[m] is the unnormalized log prior of one topology with m
	// internal nodes; topologyPrior[0] is the log normalizing constant.
	topologyPrior []float64

	logger *slog.Logger
}

// NewTopoPriorCalculator returns a calculator for 4 unrooted taxa with the
// resolution class prior and C = 1. A nil logger discards.
func NewTopoPriorCalculator(logger *slog.Logger) *TopoPriorCalculator {
	return &TopoPriorCalculator{
		ntax:                 4,
		c:                    1.0,
		resolutionClassPrior: true,
		dirty:                true,
		logger:               orDiscard(logger),
	}
}

// SetNTax sets the number of taxa.
func (tp *TopoPriorCalculator) SetNTax(n int) {
	if n < 2 {
		panic(fmt.Sprintf("phylo: number of taxa must be >= 2, got %d", n))
	}
	if n != tp.ntax {
		tp.ntax = n
		tp.dirty = true
	}
}

// SetC sets the polytomy weight base. It must be positive.
func (tp *TopoPriorCalculator) SetC(c float64) {
	if !(c > 0) || math.IsInf(c, 1) {
		panic(fmt.Sprintf("phylo: C must be positive and finite, got %g", c))
	}
	if c != tp.c {
		tp.c = c
		tp.dirty = true
	}
}

func (tp *TopoPriorCalculator) ChooseRooted()   { tp.setRooted(true) }
func (tp *TopoPriorCalculator) ChooseUnrooted() { tp.setRooted(false) }

func (tp *TopoPriorCalculator) setRooted(b bool) {
	if tp.rooted != b {
		tp.rooted = b
		tp.dirty = true
	}
}

func (tp *TopoPriorCalculator) ChooseResolutionClassPrior() { tp.setResolutionClassPrior(true) }
func (tp *TopoPriorCalculator) ChoosePolytomyPrior()        { tp.setResolutionClassPrior(false) }

func (tp *TopoPriorCalculator) setResolutionClassPrior(b bool) {
	if tp.resolutionClassPrior != b {
		tp.resolutionClassPrior = b
		tp.dirty = true
	}
}

func (tp *TopoPriorCalculator) NTax() int                    { return tp.ntax }
func (tp *TopoPriorCalculator) C() float64                   { return tp.c }
func (tp *TopoPriorCalculator) IsRooted() bool               { return tp.rooted }
func (tp *TopoPriorCalculator) IsUnrooted() bool             { return !tp.rooted }
func (tp *TopoPriorCalculator) IsResolutionClassPrior() bool { return tp.resolutionClassPrior }
func (tp *TopoPriorCalculator) IsPolytomyPrior() bool        { return !tp.resolutionClassPrior }
func (tp *TopoPriorCalculator) IsDirty() bool                { return tp.dirty }

// MaxInternals returns the number of internal nodes of a fully resolved
// tree: ntax-1 if rooted, ntax-2 otherwise.
func (tp *TopoPriorCalculator) MaxInternals() int {
	if tp.rooted {
		return tp.ntax - 1
	}
	return tp.ntax - 2
}

// Reset recomputes the count and prior tables for the current settings.
func (tp *TopoPriorCalculator) Reset() {
	maxM := tp.MaxInternals()
	if maxM < 1 {
		panic(fmt.Sprintf("phylo: %d unrooted taxa admit no tree topology", tp.ntax))
	}
	tp.recalcCounts(maxM)
	tp.recalcPriors(maxM)
	tp.dirty = false
	tp.logger.Debug("topology prior recomputed",
		"ntax", tp.ntax, "maxInternals", maxM, "rooted", tp.rooted,
		"resolutionClass", tp.resolutionClassPrior, "C", tp.c,
		"lnNormConstant", tp.topologyPrior[0])
}

// recalcCounts fills the triangular table one internal-node count at a
// time, reusing the previous row in place. The same recurrence runs on raw
// values and on logarithms.
func (tp *TopoPriorCalculator) recalcCounts(maxM int) {
	counts := make([]float64, 2, maxM+1)
	lnCounts := make([]float64, 2, maxM+1)
	// The total starts at 1 rather than 0: with only the star class the
	// single topology still counts toward it.
	counts[0], counts[1] = 1, 1
	lnCounts[0], lnCounts[1] = 0, 0

	for m := 2; m <= maxM; m++ {
		counts = append(counts, 0)
		lnCounts = append(lnCounts, math.Inf(-1))
		counts[0], counts[1] = 1, 1
		lnCounts[0], lnCounts[1] = 0, 0
		a, lnA := 1.0, 0.0
		for k := 2; k <= m; k++ {
			b, lnB := counts[k], lnCounts[k]
			fm := float64(m + k - 1)
			c := a * fm
			lnC := lnA + math.Log(fm)
			if k < m {
				c += b * float64(k)
				lnC = logAdd(lnC, lnB+math.Log(float64(k)))
			}
			counts[k], lnCounts[k] = c, lnC
			counts[0] += c
			lnCounts[0] = logAdd(lnCounts[0], lnC)
			a, lnA = b, lnB
		}
	}
	tp.counts, tp.lnCounts = counts, lnCounts
}

func (tp *TopoPriorCalculator) recalcPriors(maxM int) {
	prior := make([]float64, maxM+1)
	logC := math.Log(tp.c)
	for m := 1; m <= maxM; m++ {
		prior[m] = float64(maxM-m) * logC
		if tp.resolutionClassPrior {
			if math.IsInf(tp.lnCounts[m], -1) {
				panic(fmt.Sprintf("phylo: zero topology count for %d internal nodes", m))
			}
			prior[m] -= tp.lnCounts[m]
		}
	}
	prior[0] = floats.LogSumExp(prior[1:])
	tp.topologyPrior = prior
}

// logAdd returns log(exp(x) + exp(y)).
func logAdd(x, y float64) float64 {
	if math.IsInf(x, -1) {
		return y
	}
	if math.IsInf(y, -1) {
		return x
	}
	if x < y {
		x, y = y, x
	}
	return x + math.Log1p(math.Exp(y-x))
}

// ensure switches to n taxa and recomputes if anything changed.
func (tp *TopoPriorCalculator) ensure(n int) {
	tp.SetNTax(n)
	if tp.dirty {
		tp.Reset()
	}
}

func (tp *TopoPriorCalculator) ensureClean() {
	if tp.dirty {
		tp.Reset()
	}
}

func (tp *TopoPriorCalculator) checkM(m int) {
	if m < 1 || m >= len(tp.counts) {
		panic(fmt.Sprintf("phylo: internal node count %d out of range [1, %d]", m, len(tp.counts)-1))
	}
}

// Count returns the number of n-taxon topologies with m internal nodes.
func (tp *TopoPriorCalculator) Count(n, m int) float64 {
	tp.ensure(n)
	tp.checkM(m)
	return tp.counts[m]
}

// SaturatedCount returns the number of fully resolved n-taxon topologies.
func (tp *TopoPriorCalculator) SaturatedCount(n int) float64 {
	tp.ensure(n)
	return tp.counts[len(tp.counts)-1]
}

// TotalCount returns the number of n-taxon topologies over all classes.
func (tp *TopoPriorCalculator) TotalCount(n int) float64 {
	tp.ensure(n)
	return tp.counts[0]
}

// LnCount is the logarithm of Count, finite for any n.
func (tp *TopoPriorCalculator) LnCount(n, m int) float64 {
	tp.ensure(n)
	tp.checkM(m)
	return tp.lnCounts[m]
}

func (tp *TopoPriorCalculator) LnSaturatedCount(n int) float64 {
	tp.ensure(n)
	return tp.lnCounts[len(tp.lnCounts)-1]
}

func (tp *TopoPriorCalculator) LnTotalCount(n int) float64 {
	tp.ensure(n)
	return tp.lnCounts[0]
}

// Counts returns a copy of the count table for the current taxon count.
func (tp *TopoPriorCalculator) Counts() []float64 {
	tp.ensureClean()
	return slices.Clone(tp.counts)
}

// LnCounts returns a copy of the log count table.
func (tp *TopoPriorCalculator) LnCounts() []float64 {
	tp.ensureClean()
	return slices.Clone(tp.lnCounts)
}

// TopoPriors returns a copy of the log prior table; entry 0 is the log
// normalizing constant.
func (tp *TopoPriorCalculator) TopoPriors() []float64 {
	tp.ensureClean()
	return slices.Clone(tp.topologyPrior)
}

// LnTopologyPrior returns the unnormalized log prior of one topology with m
// internal nodes.
func (tp *TopoPriorCalculator) LnTopologyPrior(m int) float64 {
	tp.ensureClean()
	tp.checkM(m)
	return tp.topologyPrior[m]
}

// LnNormalizedTopologyPrior returns the normalized log prior of one
// topology with m internal nodes.
func (tp *TopoPriorCalculator) LnNormalizedTopologyPrior(m int) float64 {
	tp.ensureClean()
	tp.checkM(m)
	return tp.topologyPrior[m] - tp.topologyPrior[0]
}

// LnNormConstant returns the log normalizing constant of the prior table.
func (tp *TopoPriorCalculator) LnNormConstant() float64 {
	tp.ensureClean()
	return tp.topologyPrior[0]
}

// RealizedResClassPriors returns, for each m >= 1, the log prior mass of
// the whole resolution class (count times per-topology prior) and, in
// entry 0, the log of their sum.
func (tp *TopoPriorCalculator) RealizedResClassPriors() []float64 {
	tp.ensureClean()
	v := make([]float64, len(tp.topologyPrior))
	for m := 1; m < len(v); m++ {
		v[m] = tp.lnCounts[m] + tp.topologyPrior[m]
	}
	v[0] = floats.LogSumExp(v[1:])
	return v
}

// SampleUniform maps a uniform deviate u in (0, 1] to a resolution class
// by inverting the cumulative realized prior.
func (tp *TopoPriorCalculator) SampleUniform(u float64) int {
	v := tp.RealizedResClassPriors()
	cum := 0.0
	for m := 1; m < len(v); m++ {
		cum += math.Exp(v[m] - v[0])
		if u <= cum {
			return m
		}
	}
	return len(v) - 1
}

// Sample draws a resolution class from the realized prior using src.
func (tp *TopoPriorCalculator) Sample(src rand.Source) int {
	v := tp.RealizedResClassPriors()
	w := make([]float64, len(v)-1)
	for m := 1; m < len(v); m++ {
		w[m-1] = math.Exp(v[m] - v[0])
	}
	return int(distuv.NewCategorical(w, src).Rand()) + 1
}
