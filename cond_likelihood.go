package phylo

import (
	"fmt"
	"log/slog"
)

const float64Bytes = 8

// CondLikeShape is the dimension triple of a conditional likelihood array.
type CondLikeShape struct {
	NRates    int `yaml:"rates"`
	NPatterns int `yaml:"patterns"`
	NStates   int `yaml:"states"`
}

// Len returns the number of likelihood values in an array of this shape.
func (s CondLikeShape) Len() int { return s.NRates * s.NPatterns * s.NStates }

// Valid reports whether every dimension is positive.
func (s CondLikeShape) Valid() bool { return s.NRates > 0 && s.NPatterns > 0 && s.NStates > 0 }

func (s CondLikeShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.NRates, s.NPatterns, s.NStates)
}

// CondLikelihood is a reusable likelihood buffer laid out rate-major, then
// pattern, then state. Alongside the array it keeps one log scaling factor
// per pattern for underflow correction and the edge length the contents
// were computed with.
type CondLikelihood struct {
	id    uint64
	shape CondLikeShape
	cla   []float64

	underflow []float64
	// edgesSinceUnderflowProtection counts edges combined since the last
	// rescaling pass.
	edgesSinceUnderflowProtection int
	edgeLen                       float64
}

func newCondLikelihood(id uint64, shape CondLikeShape) *CondLikelihood {
	return &CondLikelihood{
		id:        id,
		shape:     shape,
		cla:       make([]float64, shape.Len()),
		underflow: make([]float64, shape.NPatterns),
		edgeLen:   EdgeLenUnassigned,
	}
}

func (cl *CondLikelihood) ID() uint64                      { return cl.id }
func (cl *CondLikelihood) Shape() CondLikeShape            { return cl.shape }
func (cl *CondLikelihood) CLA() []float64                  { return cl.cla }
func (cl *CondLikelihood) EdgeLen() float64                { return cl.edgeLen }
func (cl *CondLikelihood) SetEdgeLen(v float64)            { cl.edgeLen = v }
func (cl *CondLikelihood) UnderflowCorrections() []float64 { return cl.underflow }

// Index returns the offset of (rate, pattern, state) in CLA.
func (cl *CondLikelihood) Index(rate, pattern, state int) int {
	return (rate*cl.shape.NPatterns+pattern)*cl.shape.NStates + state
}

// ComputedFor reports whether the contents were computed with edge length v.
func (cl *CondLikelihood) ComputedFor(v float64) bool {
	return cl.edgeLen != EdgeLenUnassigned && cl.edgeLen == v
}

// EdgesSinceUnderflowProtection returns how many edges have been combined
// into the array since the underflow corrections were last refreshed.
func (cl *CondLikelihood) EdgesSinceUnderflowProtection() int {
	return cl.edgesSinceUnderflowProtection
}

// MarkEdgeCombined records one more combined edge and reports whether
// rescaling is due under the given interval.
func (cl *CondLikelihood) MarkEdgeCombined(interval int) bool {
	cl.edgesSinceUnderflowProtection++
	return interval > 0 && cl.edgesSinceUnderflowProtection >= interval
}

// ResetUnderflow zeroes the per-pattern corrections.
func (cl *CondLikelihood) ResetUnderflow() {
	clear(cl.underflow)
	cl.edgesSinceUnderflowProtection = 0
}

// TotalUnderflowCorrection sums the per-pattern log corrections.
func (cl *CondLikelihood) TotalUnderflowCorrection() float64 {
	var sum float64
	for _, v := range cl.underflow {
		sum += v
	}
	return sum
}

// CondLikelihoodStorage is a pool of CondLikelihood buffers with one free
// stack per shape. A buffer is either on a free stack or checked out to
// exactly one holder. The pool is not safe for concurrent use; give each
// chain its own.
type CondLikelihoodStorage struct {
	free       map[CondLikeShape][]*CondLikelihood
	checkedOut map[*CondLikelihood]struct{}

	// reallocMin buffers are created whenever a free stack runs dry.
	reallocMin int
	numCreated int
	nextID     uint64

	logger  *slog.Logger
	metrics *PoolMetrics
}

// NewCondLikelihoodStorage returns an empty pool. A nil logger discards.
func NewCondLikelihoodStorage(logger *slog.Logger) *CondLikelihoodStorage {
	return &CondLikelihoodStorage{
		free:       make(map[CondLikeShape][]*CondLikelihood),
		checkedOut: make(map[*CondLikelihood]struct{}),
		reallocMin: 1,
		logger:     orDiscard(logger),
	}
}

// SetMetrics attaches instrumentation. Passing nil detaches it.
func (s *CondLikelihoodStorage) SetMetrics(m *PoolMetrics) {
	s.metrics = m
	s.metrics.observe(s)
}

// SetReallocMin sets how many buffers are created on a stack fault.
func (s *CondLikelihoodStorage) SetReallocMin(n int) {
	if n < 1 {
		panic(fmt.Sprintf("phylo: realloc minimum must be >= 1, got %d", n))
	}
	s.reallocMin = n
}

// ReallocMin returns the number of buffers created on a stack fault.
func (s *CondLikelihoodStorage) ReallocMin() int { return s.reallocMin }

// Get checks out a buffer of the given shape. Reused buffers keep their old
// values; callers must overwrite before reading. The edge length memo and
// underflow corrections are reset.
func (s *CondLikelihoodStorage) Get(shape CondLikeShape) *CondLikelihood {
	if !shape.Valid() {
		panic(fmt.Sprintf("phylo: invalid conditional likelihood shape %v", shape))
	}
	stack := s.free[shape]
	if len(stack) == 0 {
		s.logger.Debug("conditional likelihood stack fault",
			"shape", shape.String(), "created", s.reallocMin, "total", s.numCreated+s.reallocMin)
		s.metrics.stackFault()
		s.FillTo(shape, s.reallocMin)
		stack = s.free[shape]
	}
	cl := stack[len(stack)-1]
	stack[len(stack)-1] = nil
	s.free[shape] = stack[:len(stack)-1]

	cl.edgeLen = EdgeLenUnassigned
	cl.ResetUnderflow()
	s.checkedOut[cl] = struct{}{}
	s.metrics.checkout()
	s.metrics.observe(s)
	return cl
}

// Put returns a checked-out buffer to its free stack. Releasing a buffer
// twice, or one this pool did not hand out, panics.
func (s *CondLikelihoodStorage) Put(cl *CondLikelihood) {
	if cl == nil {
		panic("phylo: releasing a nil conditional likelihood")
	}
	if _, ok := s.checkedOut[cl]; !ok {
		panic(fmt.Sprintf("phylo: conditional likelihood %d is not checked out from this pool", cl.id))
	}
	delete(s.checkedOut, cl)
	s.free[cl.shape] = append(s.free[cl.shape], cl)
	s.metrics.release()
	s.metrics.observe(s)
}

// FillTo ensures at least capacity idle buffers of shape are stored.
func (s *CondLikelihoodStorage) FillTo(shape CondLikeShape, capacity int) {
	if !shape.Valid() {
		panic(fmt.Sprintf("phylo: invalid conditional likelihood shape %v", shape))
	}
	stack := s.free[shape]
	for len(stack) < capacity {
		s.nextID++
		stack = append(stack, newCondLikelihood(s.nextID, shape))
		s.numCreated++
		s.metrics.created()
	}
	s.free[shape] = stack
	s.metrics.observe(s)
}

// ClearStack drops every idle buffer. Checked-out buffers are unaffected
// and may still be returned.
func (s *CondLikelihoodStorage) ClearStack() {
	clear(s.free)
	s.metrics.observe(s)
}

// IsCheckedOut reports whether cl is currently held by a caller.
func (s *CondLikelihoodStorage) IsCheckedOut(cl *CondLikelihood) bool {
	_, ok := s.checkedOut[cl]
	return ok
}

// NumCreated returns the number of buffers allocated over the pool's life.
func (s *CondLikelihoodStorage) NumCreated() int { return s.numCreated }

// NumStored returns the number of idle buffers over all shapes.
func (s *CondLikelihoodStorage) NumStored() int {
	n := 0
	for _, stack := range s.free {
		n += len(stack)
	}
	return n
}

// NumStoredFor returns the number of idle buffers of one shape.
func (s *CondLikelihoodStorage) NumStoredFor(shape CondLikeShape) int { return len(s.free[shape]) }

// NumCheckedOut returns the number of buffers held by callers.
func (s *CondLikelihoodStorage) NumCheckedOut() int { return len(s.checkedOut) }

// BytesPerCLA returns the memory held by one buffer of shape, counting the
// likelihood values and the per-pattern corrections.
func BytesPerCLA(shape CondLikeShape) int {
	return (shape.Len() + shape.NPatterns) * float64Bytes
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
