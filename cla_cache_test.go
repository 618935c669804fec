package phylo

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jcProb is the Jukes-Cantor transition probability over an edge of
// length v.
func jcProb(v float64, from, to int) float64 {
	e := math.Exp(-4.0 / 3.0 * v)
	if from == to {
		return 0.25 + 0.75*e
	}
	return 0.25 - 0.25*e
}

// jcPruner is a minimal Felsenstein pruning model driving a CLACache with
// one rate category and four states.
type jcPruner struct {
	tr    *Tree
	cache *CLACache
	codes map[string][]int
}

func newJCPruner(t testing.TB, newick string, codes map[string][]int) *jcPruner {
	t.Helper()
	tr := mustNewick(t, newick)
	var nPatterns int
	for _, c := range codes {
		nPatterns = len(c)
	}
	shape := CondLikeShape{NRates: 1, NPatterns: nPatterns, NStates: 4}
	cache := NewCLACache(tr, NewCondLikelihoodStorage(nil), shape, nil)
	cache.Prepare(func(n *Node) []int { return codes[n.Name()] })
	return &jcPruner{tr: tr, cache: cache, codes: codes}
}

func (m *jcPruner) nPatterns() int { return m.cache.Shape().NPatterns }

func (m *jcPruner) edgeLen(u, v NodeID) float64 {
	if m.tr.nodes[u].parent == v {
		return m.tr.nodes[u].edgeLen
	}
	return m.tr.nodes[v].edgeLen
}

// observed returns the likelihood contribution of the data at id itself:
// an indicator for observed nodes and ones otherwise.
func (m *jcPruner) observed(id NodeID, pat int) [4]float64 {
	n := &m.tr.nodes[id]
	if !n.observable {
		return [4]float64{1, 1, 1, 1}
	}
	code := m.codes[n.name][pat]
	if code >= 4 {
		return [4]float64{1, 1, 1, 1}
	}
	var v [4]float64
	v[code] = 1
	return v
}

// partial returns the conditional likelihood at far of everything on far's
// side of the far-closer edge.
func (m *jcPruner) partial(far, closer NodeID, pat int) [4]float64 {
	if m.tr.nodes[far].IsTip() {
		return m.observed(far, pat)
	}
	cl := m.cache.ValidCondLike(far, closer)
	if cl == nil {
		panic("stale buffer read")
	}
	var v [4]float64
	for s := range 4 {
		v[s] = cl.CLA()[cl.Index(0, pat, s)]
	}
	return v
}

// atNode multiplies the data at id by the messages of every neighbor except
// skip.
func (m *jcPruner) atNode(id, skip NodeID, pat int) [4]float64 {
	v := m.observed(id, pat)
	for _, nb := range neighbors(m.tr, id) {
		if nb == skip {
			continue
		}
		msg := m.partial(nb, id, pat)
		el := m.edgeLen(id, nb)
		for s := range 4 {
			var sum float64
			for to := range 4 {
				sum += jcProb(el, s, to) * msg[to]
			}
			v[s] *= sum
		}
	}
	return v
}

func (m *jcPruner) combine(e EdgeEndpoints, dst *CondLikelihood) {
	for pat := range m.nPatterns() {
		v := m.atNode(e.FocalNode(), e.FocalNeighbor(), pat)
		for s := range 4 {
			dst.CLA()[dst.Index(0, pat, s)] = v[s]
		}
	}
}

// lnL recomputes what is stale around focal and returns the log likelihood
// evaluated there.
func (m *jcPruner) lnL(focal NodeID) float64 {
	m.cache.Recompute(focal, m.combine)
	var lnL float64
	for pat := range m.nPatterns() {
		v := m.atNode(focal, NoNode, pat)
		lnL += math.Log(0.25 * (v[0] + v[1] + v[2] + v[3]))
	}
	return lnL
}

// bruteLnL prunes from the root without any caching.
func (m *jcPruner) bruteLnL() float64 {
	var rec func(id NodeID, pat int) [4]float64
	rec = func(id NodeID, pat int) [4]float64 {
		v := m.observed(id, pat)
		for _, c := range m.tr.Children(id) {
			msg := rec(c, pat)
			for s := range 4 {
				var sum float64
				for to := range 4 {
					sum += jcProb(m.tr.nodes[c].edgeLen, s, to) * msg[to]
				}
				v[s] *= sum
			}
		}
		return v
	}
	var lnL float64
	for pat := range m.nPatterns() {
		v := rec(m.tr.Root(), pat)
		lnL += math.Log(0.25 * (v[0] + v[1] + v[2] + v[3]))
	}
	return lnL
}

var sixTaxonCodes = map[string][]int{
	"a": {0, 1, 2},
	"b": {0, 1, 3},
	"c": {1, 1, 4},
	"d": {2, 3, 2},
	"e": {2, 0, 2},
	"f": {3, 3, 1},
}

const sixTaxa = "((a:0.1,b:0.2)x:0.05,c:0.3,((d:0.15,e:0.1)z:0.2,f:0.4)y:0.1);"

func TestLikelihoodInvariantAcrossFocalNodes(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	want := m.bruteLnL()
	require.False(t, math.IsNaN(want))

	for focal := range m.tr.Preorder() {
		assert.InDelta(t, want, m.lnL(focal), 1e-10, "focal %s", m.tr.Node(focal).Info())
	}

	// Every directional buffer is now current: one parental buffer per
	// edge and one filial buffer per internal non-root node.
	assert.Equal(t, (m.tr.NumNodes()-1)+(m.tr.NumInternals()-1), m.cache.Pool().NumCheckedOut())
	for focal := range m.tr.Preorder() {
		assert.Empty(t, m.cache.StaleEdges(focal))
	}
}

func TestLikelihoodWithTipRoot(t *testing.T) {
	codes := map[string][]int{"a": {0, 2}, "b": {0, 1}, "c": {3, 2}, "d": {1, 4}}
	m := newJCPruner(t, "((b:0.2,c:0.3)x:0.1,d:0.25)a;", codes)
	require.False(t, m.tr.IsTipRoot(m.tr.Root()))

	tip := newJCPruner(t, "(((b:0.2,c:0.3)x:0.1,d:0.25)w:0.15)a;", codes)
	require.True(t, tip.tr.IsTipRoot(tip.tr.Root()))
	require.NotNil(t, tip.tr.Node(tip.tr.Root()).TipData())

	want := tip.bruteLnL()
	for focal := range tip.tr.Preorder() {
		assert.InDelta(t, want, tip.lnL(focal), 1e-10, "focal %s", tip.tr.Node(focal).Info())
	}
}

func TestEdgeLengthChangeAcceptAndRevert(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}
	before := m.bruteLnL()
	held := m.cache.Pool().NumCheckedOut()

	z := byName(t, m.tr, "z")
	oldLen := m.tr.Node(z).EdgeLen()

	// Propose, evaluate, reject.
	m.tr.SetEdgeLen(z, 0.9)
	m.cache.EdgeLengthChanged(z)
	proposed := m.bruteLnL()
	require.NotEqual(t, before, proposed)
	assert.InDelta(t, proposed, m.lnL(m.tr.Root()), 1e-10)

	m.tr.SetEdgeLen(z, oldLen)
	m.cache.Revert(z)
	for focal := range m.tr.Preorder() {
		assert.Empty(t, m.cache.StaleEdges(focal), "revert leaves %s stale", m.tr.Node(focal).Info())
		assert.InDelta(t, before, m.lnL(focal), 1e-10)
	}
	assert.Equal(t, held, m.cache.Pool().NumCheckedOut())

	// Propose, evaluate, accept.
	m.tr.SetEdgeLen(z, 0.9)
	m.cache.EdgeLengthChanged(z)
	assert.InDelta(t, proposed, m.lnL(byName(t, m.tr, "a")), 1e-10)
	m.cache.Accept()
	for focal := range m.tr.Preorder() {
		assert.InDelta(t, proposed, m.lnL(focal), 1e-10)
		n := m.tr.Node(focal)
		assert.False(t, n.Data().ParentalCLACached())
		if id := n.InternalData(); id != nil {
			assert.False(t, id.FilialCLACached())
		}
	}
	assert.Equal(t, held, m.cache.Pool().NumCheckedOut())
}

func TestEdgeLengthChangedStaleEdges(t *testing.T) {
	m := newJCPruner(t, fiveTaxa, map[string][]int{
		"a": {0}, "b": {1}, "c": {2}, "d": {3}, "e": {0},
	})
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}
	x := byName(t, m.tr, "x")
	a := byName(t, m.tr, "a")
	y := byName(t, m.tr, "y")
	m.cache.EdgeLengthChanged(x)

	// Only the filial buffer of y survives: it does not see the edge above x.
	yd := m.tr.Node(y).InternalData()
	assert.True(t, yd.FilialCLAValid())
	assert.False(t, yd.ParentalCLAValid())
	assert.True(t, yd.ParentalCLACached())

	fromRoot := m.cache.StaleEdges(m.tr.Root())
	assert.Equal(t, []string{"x"}, focalNames(m.tr, fromRoot))

	fromA := m.cache.StaleEdges(a)
	assert.Equal(t, []string{"", "x"}, focalNames(m.tr, fromA))
	assert.Same(t, m.cache.BufferFor(fromA[1]), m.tr.Node(a).Data().ParentalCondLike())
}

func TestIsValidSemantics(t *testing.T) {
	m := newJCPruner(t, fiveTaxa, map[string][]int{
		"a": {0}, "b": {1}, "c": {2}, "d": {3}, "e": {0},
	})
	tr, c := m.tr, m.cache
	x, a, root := byName(t, tr, "x"), byName(t, tr, "a"), tr.Root()

	assert.True(t, c.IsValid(tr, a, x), "tips are always valid")
	assert.False(t, c.IsValid(tr, x, root))
	assert.False(t, c.IsValid(tr, root, x))

	tr.Node(x).InternalData().FilialCondLike()
	assert.True(t, c.IsValid(tr, x, root), "upward edge reads the filial buffer of ref")
	assert.False(t, c.IsValid(tr, root, x))

	tr.Node(x).Data().ParentalCondLike()
	assert.True(t, c.IsValid(tr, root, x), "downward edge reads the parental buffer of closer")
}

func TestInvalidateAndRestoreNode(t *testing.T) {
	m := newJCPruner(t, fiveTaxa, map[string][]int{
		"a": {0}, "b": {1}, "c": {2}, "d": {3}, "e": {0},
	})
	tr, c := m.tr, m.cache
	x, a, root := byName(t, tr, "x"), byName(t, tr, "a"), tr.Root()
	xd := tr.Node(x).InternalData()
	ad := tr.Node(a).Data()

	ad.ParentalCondLike()
	xd.FilialCondLike()
	xd.ParentalCondLike()

	// a below x: a's parental buffer carries x's side toward a.
	assert.False(t, c.InvalidateNode(tr, a, x))
	assert.False(t, ad.ParentalCLAValid())
	assert.True(t, ad.ParentalCLACached())

	// root above x: x's filial buffer carries x's subtree toward the root.
	c.InvalidateNode(tr, root, x)
	assert.False(t, xd.FilialCLAValid())
	assert.True(t, xd.ParentalCLAValid())

	// A tip closer to the focal has no filial buffer to touch.
	assert.NotPanics(t, func() { c.InvalidateNode(tr, x, a) })

	c.RestoreFromCacheNode(tr, a, x)
	c.RestoreFromCacheNode(tr, root, x)
	assert.True(t, ad.ParentalCLAValid())
	assert.True(t, xd.FilialCLAValid())
	assert.False(t, xd.FilialCLACached())
}

func TestInvalidateAllReturnsEveryBuffer(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}
	m.cache.EdgeLengthChanged(byName(t, m.tr, "x"))
	require.Positive(t, m.cache.Pool().NumCheckedOut())

	m.cache.InvalidateAll()
	assert.Zero(t, m.cache.Pool().NumCheckedOut())

	// Everything can be rebuilt from scratch.
	assert.InDelta(t, m.bruteLnL(), m.lnL(m.tr.Root()), 1e-10)
}

func TestSubtreeRearranged(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}

	// Prune z and regraft it onto c's old position under the root.
	z := byName(t, m.tr, "z")
	y := byName(t, m.tr, "y")
	x := byName(t, m.tr, "x")
	m.tr.DetachSubtree(z)
	m.tr.AddChild(x, z)
	m.cache.SubtreeRearranged(z, y, x)
	require.NoError(t, m.tr.Validate())

	want := m.bruteLnL()
	for focal := range m.tr.Preorder() {
		assert.InDelta(t, want, m.lnL(focal), 1e-10, "focal %s", m.tr.Node(focal).Info())
	}
}

func TestSubtreeRearrangedRejectRestoresEveryFocal(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}
	before := m.bruteLnL()
	held := m.cache.Pool().NumCheckedOut()

	z := byName(t, m.tr, "z")
	y := byName(t, m.tr, "y")
	x := byName(t, m.tr, "x")

	// Propose: move z under x and evaluate from two places.
	m.tr.DetachSubtree(z)
	m.tr.AddChild(x, z)
	m.cache.SubtreeRearranged(z, y, x)
	proposed := m.bruteLnL()
	require.NotEqual(t, before, proposed)
	assert.InDelta(t, proposed, m.lnL(m.tr.Root()), 1e-10)
	assert.InDelta(t, proposed, m.lnL(y), 1e-10)

	// Reject: put z back under y without refreshing by hand.
	m.tr.DetachSubtree(z)
	m.tr.AddChild(y, z)
	m.cache.Revert(z, y, x)
	require.NoError(t, m.tr.Validate())
	require.InDelta(t, before, m.bruteLnL(), 1e-12)

	for focal := range m.tr.Preorder() {
		assert.Empty(t, m.cache.StaleEdges(focal), "revert leaves %s stale", m.tr.Node(focal).Info())
		assert.InDelta(t, before, m.lnL(focal), 1e-10, "focal %s", m.tr.Node(focal).Info())
	}
	assert.Equal(t, held, m.cache.Pool().NumCheckedOut())
}

func TestRevertWithoutNodesRestoresPending(t *testing.T) {
	m := newJCPruner(t, sixTaxa, sixTaxonCodes)
	for focal := range m.tr.Preorder() {
		m.lnL(focal)
	}
	before := m.bruteLnL()
	held := m.cache.Pool().NumCheckedOut()

	z := byName(t, m.tr, "z")
	oldLen := m.tr.Node(z).EdgeLen()
	m.tr.SetEdgeLen(z, 0.7)
	m.cache.EdgeLengthChanged(z)
	m.lnL(byName(t, m.tr, "a"))

	m.tr.SetEdgeLen(z, oldLen)
	m.cache.Revert()
	for focal := range m.tr.Preorder() {
		assert.InDelta(t, before, m.lnL(focal), 1e-10)
	}
	assert.Equal(t, held, m.cache.Pool().NumCheckedOut())

	// Restoring again is a no-op.
	m.cache.Revert(z)
	assert.Equal(t, held, m.cache.Pool().NumCheckedOut())
	assert.Empty(t, m.cache.StaleEdges(m.tr.Root()))
}

func TestPrepareRejectsObservableInternal(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	tr.Node(byName(t, tr, "x")).SetObservable(true)
	cache := NewCLACache(tr, NewCondLikelihoodStorage(nil), dnaShape, nil)
	assert.Panics(t, func() { cache.Prepare(nil) })
}

func TestPrepareKeepsExistingData(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	pool := NewCondLikelihoodStorage(nil)
	cache := NewCLACache(tr, pool, dnaShape, nil)
	a := byName(t, tr, "a")

	custom := NewTipData(pool, dnaShape, []int{1, 2}, nil)
	cache.SetNodeData(a, custom)
	cache.Prepare(nil)
	assert.Same(t, custom, tr.Node(a).TipData())
	assert.Equal(t, []int{4, 4}, tr.Node(byName(t, tr, "b")).TipData().StateCodes())
	assert.NotNil(t, tr.Node(byName(t, tr, "x")).InternalData())

	// Replacing a payload releases its buffers.
	custom.ParentalCondLike()
	require.Equal(t, 1, pool.NumCheckedOut())
	cache.SetNodeData(a, NewTipData(pool, dnaShape, []int{0, 0}, nil))
	assert.Zero(t, pool.NumCheckedOut())
}

func TestCLACacheMissingDataPanics(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	cache := NewCLACache(tr, NewCondLikelihoodStorage(nil), dnaShape, nil)
	assert.Panics(t, func() { cache.EdgeLengthChanged(byName(t, tr, "x")) })
	assert.Panics(t, func() { NewCLACache(tr, nil, CondLikeShape{}, nil) })
}

func TestCLACacheLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := mustNewick(t, "((a,b)x,c,d);")
	cache := NewCLACache(tr, NewCondLikelihoodStorage(nil), dnaShape, logger)
	cache.Prepare(nil)

	cache.EdgeLengthChanged(byName(t, tr, "x"))
	cache.Revert(byName(t, tr, "x"))
	assert.Contains(t, buf.String(), "edge length changed")
	assert.Contains(t, buf.String(), "reverting conditional likelihoods")
}
