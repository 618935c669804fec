package phylo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustNewick builds a tree or fails the test.
func mustNewick(t testing.TB, s string) *Tree {
	t.Helper()
	tr, err := BuildFromNewick(s)
	require.NoError(t, err)
	return tr
}

// byName returns the live node with the given name.
func byName(t testing.TB, tr *Tree, name string) NodeID {
	t.Helper()
	for id := range tr.preorderFresh() {
		if tr.nodes[id].name == name {
			return id
		}
	}
	t.Fatalf("no node named %q", name)
	return NoNode
}

func names(tr *Tree, ids []NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = tr.nodes[id].name
	}
	return out
}

func TestNewNodeDefaults(t *testing.T) {
	tr := NewTree()
	id := tr.AddNode("a")
	n := tr.Node(id)

	assert.Equal(t, "a", n.Name())
	assert.Equal(t, NoNode, n.Parent())
	assert.Equal(t, NoNode, n.LeftChild())
	assert.Equal(t, NoNode, n.RightSibling())
	assert.True(t, n.EdgeLenNotYetAssigned())
	assert.True(t, n.NumberNotYetAssigned())
	assert.True(t, n.IsTip())
	assert.True(t, n.IsRoot())
	assert.False(t, n.IsObservable())
	assert.Nil(t, n.Data())
	assert.Nil(t, n.TipData())
	assert.Nil(t, n.InternalData())
}

func TestNodeSelection(t *testing.T) {
	tr := mustNewick(t, "(a,b,c);")
	tr.SelectAllNodes()
	for id := range tr.Preorder() {
		assert.True(t, tr.Node(id).IsSelected())
	}
	tr.Node(byName(t, tr, "b")).Unselect()
	assert.False(t, tr.Node(byName(t, tr, "b")).IsSelected())
	tr.UnselectAllNodes()
	for id := range tr.Preorder() {
		assert.False(t, tr.Node(id).IsSelected())
	}
}

func TestSetEdgeLenClampsAndRejects(t *testing.T) {
	tr := NewTree()
	id := tr.AddNode("a")

	tr.SetEdgeLen(id, 0)
	assert.Equal(t, EdgeLenEpsilon, tr.Node(id).EdgeLen())

	tr.SetEdgeLen(id, 0.25)
	assert.Equal(t, 0.25, tr.Node(id).EdgeLen())

	assert.Panics(t, func() { tr.SetEdgeLen(id, -1) })
	assert.Panics(t, func() { tr.SetEdgeLen(id, math.NaN()) })
}

func TestNodeInfo(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	assert.Equal(t, "a (0)", tr.Node(byName(t, tr, "a")).Info())
	// Internal nodes are numbered after the four tips.
	assert.Equal(t, "? [4]", tr.Node(tr.Root()).Info())
	assert.Equal(t, "x [5]", tr.Node(byName(t, tr, "x")).Info())
}

func TestBuildTreeByHand(t *testing.T) {
	tr := NewTree()
	root := tr.AddNode("")
	a := tr.AddNode("a")
	b := tr.AddNode("b")
	c := tr.AddNode("c")
	tr.SetRoot(root)
	tr.AddChild(root, a)
	tr.AddChild(root, b)
	tr.AddChild(root, c)

	assert.True(t, tr.PreorderDirty())
	tr.RefreshPreorder()
	assert.False(t, tr.PreorderDirty())

	assert.Equal(t, []NodeID{a, b, c}, tr.Children(root))
	assert.Equal(t, 3, tr.CountChildren(root))
	assert.Equal(t, 4, tr.NumNodes())
	assert.Equal(t, 3, tr.NumTips())
	assert.Equal(t, 1, tr.NumInternals())
	assert.Equal(t, b, tr.Node(a).RightSibling())
	assert.Equal(t, root, tr.Node(c).Parent())
	require.NoError(t, tr.Validate())
}

func TestAddChildPanics(t *testing.T) {
	tr := mustNewick(t, "(a,b,c);")
	a := byName(t, tr, "a")
	b := byName(t, tr, "b")

	assert.Panics(t, func() { tr.AddChild(b, a) }, "attached child")
	assert.Panics(t, func() { tr.AddChild(a, tr.Root()) }, "root as child")
	assert.Panics(t, func() { tr.AddChild(a, a) }, "self loop")
	assert.Panics(t, func() { tr.Node(NodeID(99)) }, "missing node")
}

func TestStructuralEditMarksDirty(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	tr.RefreshPreorder()
	require.False(t, tr.PreorderDirty())

	x := byName(t, tr, "x")
	tr.DetachSubtree(x)
	assert.True(t, tr.PreorderDirty())
	assert.Panics(t, func() { tr.PreorderBegin() })

	tr.AddChild(byName(t, tr, "d"), x)
	tr.RefreshPreorder()
	assert.Equal(t, "(c,((a,b)x)d);", tr.NewickTopology())
	require.NoError(t, tr.Validate())
}

func TestDetachAndReattach(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	x := byName(t, tr, "x")
	d := byName(t, tr, "d")

	tr.DetachSubtree(x)
	assert.Equal(t, NoNode, tr.Node(x).Parent())
	assert.Equal(t, "(c,d);", tr.NewickTopology())

	tr.AddChild(d, x)
	assert.Equal(t, "(c,((a,b)x)d);", tr.NewickTopology())
	require.NoError(t, tr.Validate())
	assert.Equal(t, 7, tr.NumNodes())

	assert.Panics(t, func() { tr.DetachSubtree(tr.Root()) })
}

func TestDeleteSubtreeRecyclesSlots(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	before := tr.Len()
	tr.DeleteSubtree(byName(t, tr, "x"))

	assert.Equal(t, "(c,d);", tr.NewickTopology())
	assert.Equal(t, 3, tr.NumNodes())

	// Freed slots are reused before the arena grows.
	for range 3 {
		tr.AddNode("new")
	}
	assert.Equal(t, before, tr.Len())
}

func TestDeleteSubtreeReleasesBuffers(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	pool := NewCondLikelihoodStorage(nil)
	cache := NewCLACache(tr, pool, CondLikeShape{NRates: 1, NPatterns: 2, NStates: 4}, nil)
	cache.Prepare(nil)
	// Tips are always valid, so only the filial buffer of x is filled.
	require.Equal(t, 1, cache.Recompute(tr.Root(), func(EdgeEndpoints, *CondLikelihood) {}))
	require.Equal(t, 1, pool.NumCheckedOut())

	tr.DeleteSubtree(byName(t, tr, "x"))
	assert.Zero(t, pool.NumCheckedOut())
	assert.Equal(t, pool.NumCreated(), pool.NumStored())

	tr.Clear()
	assert.Equal(t, NoNode, tr.Root())
	assert.Zero(t, tr.NumNodes())
}

func TestCollapseEdge(t *testing.T) {
	tr := mustNewick(t, "((a:1,b:2)x:0.5,c:3,d:4);")
	tr.CollapseEdge(byName(t, tr, "x"))

	assert.Equal(t, "(a:1,b:2,c:3,d:4);", tr.Newick())
	assert.Equal(t, 5, tr.NumNodes())
	require.NoError(t, tr.Validate())

	assert.Panics(t, func() { tr.CollapseEdge(tr.Root()) })
	assert.Panics(t, func() { tr.CollapseEdge(byName(t, tr, "a")) })
}

func TestRerootAt(t *testing.T) {
	tr := mustNewick(t, "((a:1,b:2)x:0.5,c:3,d:4);")
	x := byName(t, tr, "x")
	tr.RerootAt(x)

	assert.Equal(t, x, tr.Root())
	assert.True(t, tr.Node(x).EdgeLenNotYetAssigned())
	assert.Equal(t, "(a:1,b:2,(c:3,d:4):0.5)x;", tr.Newick())
	require.NoError(t, tr.Validate())

	// Rerooting at a tip gives a tip root.
	a := byName(t, tr, "a")
	tr.RerootAt(a)
	assert.True(t, tr.IsTipRoot(a))
	assert.Equal(t, "((b:2,(c:3,d:4):0.5)x:1)a;", tr.Newick())
}

func TestEdgeLenSumAndSetAll(t *testing.T) {
	tr := mustNewick(t, "((a:1,b:2)x:0.5,c:3,d:4);")
	assert.InDelta(t, 10.5, tr.EdgeLenSum(), 1e-12)

	tr.SetAllEdgeLens(0.2)
	assert.InDelta(t, 1.0, tr.EdgeLenSum(), 1e-12)
	assert.True(t, tr.Node(tr.Root()).EdgeLenNotYetAssigned())
}

func TestIsAncestorAndFindTip(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	x := byName(t, tr, "x")
	a := byName(t, tr, "a")

	assert.True(t, tr.IsAncestor(x, a))
	assert.True(t, tr.IsAncestor(tr.Root(), a))
	assert.True(t, tr.IsAncestor(a, a))
	assert.False(t, tr.IsAncestor(a, x))

	assert.Equal(t, a, tr.FindTipNode(0))
	assert.Equal(t, byName(t, tr, "d"), tr.FindTipNode(3))
	assert.Equal(t, NoNode, tr.FindTipNode(42))
}

func TestRenumberNodes(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,(d,e)y);")
	want := map[string]uint{"a": 0, "b": 1, "c": 2, "d": 3, "e": 4, "": 5, "x": 6, "y": 7}
	for id := range tr.Preorder() {
		n := tr.Node(id)
		assert.Equal(t, want[n.Name()], n.Number(), n.Name())
	}
}

func TestNodesWithEdges(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	assert.Equal(t, []string{"x", "a", "b", "c", "d"}, names(tr, tr.NodesWithEdges()))
}

func TestSubtreeNodesOnDirtyTree(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,(d,e)y);")
	x, y := byName(t, tr, "x"), byName(t, tr, "y")
	tr.DetachSubtree(y)
	tr.AddChild(x, y)
	require.True(t, tr.PreorderDirty())

	got := names(tr, tr.SubtreeNodes(x))
	assert.Equal(t, []string{"x", "a", "b", "y", "d", "e"}, got)
}

func TestTipRootCounts(t *testing.T) {
	tr := mustNewick(t, "((b,c)x)a;")
	a := tr.Root()
	assert.True(t, tr.IsTipRoot(a))
	assert.True(t, tr.Node(a).IsObservable())
	assert.False(t, tr.Node(a).IsTip())
	assert.Equal(t, 3, tr.NumObservables())
	assert.Equal(t, 2, tr.NumTips())
	assert.Equal(t, 2, tr.NumInternals())
	assert.False(t, tr.IsTipRoot(byName(t, tr, "x")))
}

func TestRefreshPreorderDetectsCycle(t *testing.T) {
	tr := mustNewick(t, "((a,b)x,c,d);")
	a := byName(t, tr, "a")
	// Corrupt the sibling chain so it loops back on itself.
	tr.nodes[byName(t, tr, "b")].rightSibling = a
	tr.preorderDirty = true
	assert.Panics(t, func() { tr.RefreshPreorder() })
}
