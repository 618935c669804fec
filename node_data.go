package phylo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NodeData is the likelihood payload owned by a node. It is either a
// *TipData or an *InternalData; both borrow buffers from one pool and give
// them back when the node is freed.
type NodeData interface {
	// Shape returns the dimensions of the buffers the payload borrows.
	Shape() CondLikeShape

	// ParentalCondLike returns the working parental buffer, checking one
	// out of the pool if the slot is empty.
	ParentalCondLike() *CondLikelihood

	// ValidParentalCondLike returns the working parental buffer or nil.
	ValidParentalCondLike() *CondLikelihood

	ParentalCLAValid() bool
	ParentalCLACached() bool

	parentalPair() *claPair
	release()
}

// claPair holds a working buffer and the previous generation kept for a
// possible revert. touched marks a pair invalidated since the last accept
// or revert.
type claPair struct {
	working *CondLikelihood
	cached  *CondLikelihood
	touched bool
}

func (p *claPair) acquire(pool *CondLikelihoodStorage, shape CondLikeShape) *CondLikelihood {
	if p.working == nil {
		p.working = pool.Get(shape)
	}
	return p.working
}

// invalidate parks the working buffer in the cache slot, releasing whatever
// was cached before.
func (p *claPair) invalidate(pool *CondLikelihoodStorage) {
	p.touched = true
	if p.working == nil {
		return
	}
	if p.cached != nil {
		pool.Put(p.cached)
	}
	p.cached, p.working = p.working, nil
}

// restore drops the working buffer and promotes the cached one, which may
// leave both slots empty. Pairs not invalidated since the last accept are
// left alone, so restoring twice is harmless.
func (p *claPair) restore(pool *CondLikelihoodStorage) {
	if !p.touched {
		return
	}
	p.touched = false
	if p.working != nil {
		pool.Put(p.working)
	}
	p.working, p.cached = p.cached, nil
}

func (p *claPair) discardCache(pool *CondLikelihoodStorage) {
	p.touched = false
	if p.cached != nil {
		pool.Put(p.cached)
		p.cached = nil
	}
}

func (p *claPair) release(pool *CondLikelihoodStorage) {
	if p.working != nil {
		pool.Put(p.working)
		p.working = nil
	}
	p.discardCache(pool)
}

type payload struct {
	pool     *CondLikelihoodStorage
	shape    CondLikeShape
	parental claPair
}

func newPayload(pool *CondLikelihoodStorage, shape CondLikeShape) payload {
	if pool == nil {
		panic("phylo: node data requires a conditional likelihood pool")
	}
	if !shape.Valid() {
		panic(fmt.Sprintf("phylo: invalid conditional likelihood shape %v", shape))
	}
	return payload{pool: pool, shape: shape}
}

func (d *payload) Shape() CondLikeShape { return d.shape }

func (d *payload) ParentalCondLike() *CondLikelihood {
	return d.parental.acquire(d.pool, d.shape)
}

func (d *payload) ValidParentalCondLike() *CondLikelihood { return d.parental.working }
func (d *payload) ParentalCLAValid() bool                 { return d.parental.working != nil }
func (d *payload) ParentalCLACached() bool                { return d.parental.cached != nil }
func (d *payload) parentalPair() *claPair                 { return &d.parental }

// TipData is the payload of an observed node: the observed state code for
// each pattern and, per rate category, a transition matrix transposed so
// that row c holds the probability of ending in any state compatible with
// code c from each starting state.
type TipData struct {
	payload
	stateCodes []int
	stateSets  [][]int
	pMatT      []*mat.Dense
}

// NewTipData builds tip data for the given codes. stateSets maps each code
// to the states it stands for; nil means codes 0..NStates-1 are the states
// themselves and code NStates is missing data.
func NewTipData(pool *CondLikelihoodStorage, shape CondLikeShape, stateCodes []int, stateSets [][]int) *TipData {
	if len(stateCodes) != shape.NPatterns {
		panic(fmt.Sprintf("phylo: %d state codes for %d patterns", len(stateCodes), shape.NPatterns))
	}
	if stateSets == nil {
		stateSets = make([][]int, shape.NStates+1)
		for s := range shape.NStates {
			stateSets[s] = []int{s}
		}
		all := make([]int, shape.NStates)
		for s := range all {
			all[s] = s
		}
		stateSets[shape.NStates] = all
	}
	for i, c := range stateCodes {
		if c < 0 || c >= len(stateSets) {
			panic(fmt.Sprintf("phylo: state code %d at pattern %d out of range", c, i))
		}
	}
	td := &TipData{
		payload:    newPayload(pool, shape),
		stateCodes: stateCodes,
		stateSets:  stateSets,
		pMatT:      make([]*mat.Dense, shape.NRates),
	}
	for r := range td.pMatT {
		td.pMatT[r] = mat.NewDense(len(stateSets), shape.NStates, nil)
	}
	return td
}

func (td *TipData) StateCodes() []int { return td.stateCodes }
func (td *TipData) NumCodes() int     { return len(td.stateSets) }

// TransposedPMatrix returns the codes-by-states matrix for one rate.
func (td *TipData) TransposedPMatrix(rate int) *mat.Dense { return td.pMatT[rate] }

// SetPMatrix loads the states-by-states transition matrix p for one rate,
// folding ambiguous codes into sums over their states.
func (td *TipData) SetPMatrix(rate int, p mat.Matrix) {
	r, c := p.Dims()
	if r != td.shape.NStates || c != td.shape.NStates {
		panic(fmt.Sprintf("phylo: transition matrix is %dx%d, want %dx%d", r, c, td.shape.NStates, td.shape.NStates))
	}
	dst := td.pMatT[rate]
	dst.Zero()
	for code, states := range td.stateSets {
		row := dst.RawRowView(code)
		for _, to := range states {
			for from := range row {
				row[from] += p.At(from, to)
			}
		}
	}
}

func (td *TipData) release() { td.parental.release(td.pool) }

// InternalData is the payload of an unobserved node. Besides the parental
// buffer it keeps a filial buffer summarizing the subtree below the node,
// and one transition matrix per rate for the edge to its parent.
type InternalData struct {
	payload
	filial claPair
	pMat   []*mat.Dense
}

// NewInternalData builds internal data with identity transition matrices.
func NewInternalData(pool *CondLikelihoodStorage, shape CondLikeShape) *InternalData {
	id := &InternalData{
		payload: newPayload(pool, shape),
		pMat:    make([]*mat.Dense, shape.NRates),
	}
	for r := range id.pMat {
		m := mat.NewDense(shape.NStates, shape.NStates, nil)
		for s := range shape.NStates {
			m.Set(s, s, 1)
		}
		id.pMat[r] = m
	}
	return id
}

// PMatrix returns the transition matrix for one rate.
func (id *InternalData) PMatrix(rate int) *mat.Dense { return id.pMat[rate] }

// SetPMatrix copies p into the matrix for one rate.
func (id *InternalData) SetPMatrix(rate int, p mat.Matrix) {
	r, c := p.Dims()
	if r != id.shape.NStates || c != id.shape.NStates {
		panic(fmt.Sprintf("phylo: transition matrix is %dx%d, want %dx%d", r, c, id.shape.NStates, id.shape.NStates))
	}
	id.pMat[rate].Copy(p)
}

// FilialCondLike returns the working filial buffer, checking one out if
// the slot is empty.
func (id *InternalData) FilialCondLike() *CondLikelihood {
	return id.filial.acquire(id.pool, id.shape)
}

func (id *InternalData) ValidFilialCondLike() *CondLikelihood { return id.filial.working }
func (id *InternalData) FilialCLAValid() bool                 { return id.filial.working != nil }
func (id *InternalData) FilialCLACached() bool                { return id.filial.cached != nil }

func (id *InternalData) release() {
	id.parental.release(id.pool)
	id.filial.release(id.pool)
}
