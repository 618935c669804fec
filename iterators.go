package phylo

import (
	"fmt"
	"iter"
)

// PreorderIterator walks nextPreorder links. The zero-node iterator is the
// end sentinel.
type PreorderIterator struct {
	t    *Tree
	node NodeID
}

// PreorderFrom returns an iterator positioned at start. Iteration continues
// past the subtree of start to the end of the tree's preorder. It panics if
// the preorder links are stale.
func (t *Tree) PreorderFrom(start NodeID) PreorderIterator {
	t.mustBeFresh()
	if start != NoNode {
		t.Node(start)
	}
	return PreorderIterator{t: t, node: start}
}

// PreorderBegin returns an iterator positioned at the root.
func (t *Tree) PreorderBegin() PreorderIterator { return t.PreorderFrom(t.firstPreorder) }

func (it PreorderIterator) Node() NodeID { return it.node }
func (it PreorderIterator) Done() bool   { return it.node == NoNode }

// Next advances to the following node in preorder.
func (it *PreorderIterator) Next() {
	if it.node == NoNode {
		panic("phylo: advancing an exhausted preorder iterator")
	}
	it.node = it.t.nodes[it.node].nextPreorder
}

// Equal compares node identity.
func (it PreorderIterator) Equal(other PreorderIterator) bool { return it.node == other.node }

// PostorderIterator walks prevPreorder links from the last node in preorder,
// so every node is visited after all of its descendants.
type PostorderIterator struct {
	t    *Tree
	node NodeID
}

// PostorderBegin returns an iterator positioned at the last node in
// preorder. It panics if the preorder links are stale.
func (t *Tree) PostorderBegin() PostorderIterator {
	t.mustBeFresh()
	return PostorderIterator{t: t, node: t.lastPreorder}
}

func (it PostorderIterator) Node() NodeID { return it.node }
func (it PostorderIterator) Done() bool   { return it.node == NoNode }

func (it *PostorderIterator) Next() {
	if it.node == NoNode {
		panic("phylo: advancing an exhausted postorder iterator")
	}
	it.node = it.t.nodes[it.node].prevPreorder
}

func (it PostorderIterator) Equal(other PostorderIterator) bool { return it.node == other.node }

// Preorder yields every node from the root in preorder.
func (t *Tree) Preorder() iter.Seq[NodeID] {
	start := t.PreorderBegin()
	return func(yield func(NodeID) bool) {
		for it := start; !it.Done(); it.Next() {
			if !yield(it.Node()) {
				return
			}
		}
	}
}

// Postorder yields every node after all of its descendants.
func (t *Tree) Postorder() iter.Seq[NodeID] {
	start := t.PostorderBegin()
	return func(yield func(NodeID) bool) {
		for it := start; !it.Done(); it.Next() {
			if !yield(it.Node()) {
				return
			}
		}
	}
}

func (t *Tree) mustBeFresh() {
	if t.preorderDirty {
		panic("phylo: preorder links are stale; call RefreshPreorder after changing the topology")
	}
}

// EdgeEndpoints names one edge as seen from a traversal: FocalNode is the
// endpoint farther from the effective root and FocalNeighbor the closer one.
// The true parent/child roles are recorded at construction.
type EdgeEndpoints struct {
	focal    NodeID
	neighbor NodeID
	child    NodeID
}

// NewEdgeEndpoints pairs two adjacent nodes in either order. It panics if
// neither is the parent of the other.
func NewEdgeEndpoints(t *Tree, focalNode, focalNeighbor NodeID) EdgeEndpoints {
	switch {
	case t.Node(focalNode).parent == focalNeighbor && focalNeighbor != NoNode:
		return EdgeEndpoints{focal: focalNode, neighbor: focalNeighbor, child: focalNode}
	case t.Node(focalNeighbor).parent == focalNode && focalNode != NoNode:
		return EdgeEndpoints{focal: focalNode, neighbor: focalNeighbor, child: focalNeighbor}
	}
	panic(fmt.Sprintf("phylo: nodes %d and %d are not adjacent", focalNode, focalNeighbor))
}

func (e EdgeEndpoints) FocalNode() NodeID     { return e.focal }
func (e EdgeEndpoints) FocalNeighbor() NodeID { return e.neighbor }

// ActualChild returns the endpoint whose parent is the other endpoint.
func (e EdgeEndpoints) ActualChild() NodeID { return e.child }

// ActualParent returns the parent endpoint.
func (e EdgeEndpoints) ActualParent() NodeID {
	if e.child == e.focal {
		return e.neighbor
	}
	return e.focal
}

func (e EdgeEndpoints) String() string {
	return fmt.Sprintf("%d->%d", e.focal, e.neighbor)
}

// NodeValidityChecker reports whether the likelihood information flowing
// from node toward neighborCloserToFocal is already up to date. A true
// result prunes the subtree behind node from an effective postorder walk.
// Checkers may also be used purely for their side effects on every visited
// edge by always returning false.
type NodeValidityChecker func(t *Tree, node, neighborCloserToFocal NodeID) bool

// EffectivePostorderEdgeIterator yields the edges that must be revisited, in
// postorder relative to a focal node, without rerooting the tree. The edge
// stack is built once at construction; Next only pops it.
type EffectivePostorderEdgeIterator struct {
	t       *Tree
	focal   NodeID
	edges   []EdgeEndpoints
	isValid NodeValidityChecker
}

// NewEffectivePostorderEdgeIterator walks the subtree below focal and then
// each ancestor in turn, fanning out into the ancestors' other children,
// until the root is passed or an ancestor edge is already valid. Edges that
// isValid accepts are pruned together with everything behind them.
func NewEffectivePostorderEdgeIterator(t *Tree, focal NodeID, isValid NodeValidityChecker) *EffectivePostorderEdgeIterator {
	if focal == NoNode {
		panic("phylo: effective postorder iteration requires a focal node")
	}
	if isValid == nil {
		panic("phylo: effective postorder iteration requires a validity checker")
	}
	t.mustBeFresh()
	it := &EffectivePostorderEdgeIterator{t: t, focal: focal, isValid: isValid}

	it.buildFromNodeAndSiblings(t.Node(focal).leftChild, NoNode)
	avoid := focal
	for anc := t.nodes[focal].parent; anc != NoNode; anc = t.nodes[anc].parent {
		if isValid(t, anc, avoid) {
			break
		}
		it.edges = append(it.edges, EdgeEndpoints{focal: anc, neighbor: avoid, child: avoid})
		it.buildFromNodeAndSiblings(t.nodes[anc].leftChild, avoid)
		avoid = anc
	}
	if len(it.edges) == 0 {
		it.focal = NoNode
	}
	return it
}

// buildFromNodeAndSiblings pushes the edges of curr, its right siblings and
// all their descendants, skipping skip and any subtree whose edge is valid.
func (it *EffectivePostorderEdgeIterator) buildFromNodeAndSiblings(curr, skip NodeID) {
	nodes := it.t.nodes
	nextSibling := func(id NodeID) NodeID {
		id = nodes[id].rightSibling
		if id != NoNode && id == skip {
			id = nodes[id].rightSibling
		}
		return id
	}
	if curr != NoNode && curr == skip {
		curr = nodes[curr].rightSibling
	}
	var pending []NodeID
	for curr != NoNode {
		par := nodes[curr].parent
		if it.isValid(it.t, curr, par) {
			curr = nextSibling(curr)
		} else {
			it.edges = append(it.edges, EdgeEndpoints{focal: curr, neighbor: par, child: curr})
			if r := nextSibling(curr); r != NoNode {
				pending = append(pending, r)
			}
			curr = nodes[curr].leftChild
		}
		if curr == NoNode && len(pending) > 0 {
			curr = pending[len(pending)-1]
			pending = pending[:len(pending)-1]
		}
	}
}

// Done reports whether every edge has been consumed.
func (it *EffectivePostorderEdgeIterator) Done() bool { return len(it.edges) == 0 }

// Edge returns the current edge. It panics when the iterator is exhausted.
func (it *EffectivePostorderEdgeIterator) Edge() EdgeEndpoints {
	if len(it.edges) == 0 {
		panic("phylo: dereferencing an exhausted edge iterator")
	}
	return it.edges[len(it.edges)-1]
}

// Next pops the current edge.
func (it *EffectivePostorderEdgeIterator) Next() {
	if len(it.edges) == 0 {
		return
	}
	it.edges = it.edges[:len(it.edges)-1]
	if len(it.edges) == 0 {
		it.focal = NoNode
	}
}

// Focal returns the focal node, or NoNode once the iterator is exhausted.
func (it *EffectivePostorderEdgeIterator) Focal() NodeID { return it.focal }

// Equal reports whether two iterators are in the same position. Any two
// exhausted iterators are equal.
func (it *EffectivePostorderEdgeIterator) Equal(other *EffectivePostorderEdgeIterator) bool {
	if it.focal != other.focal {
		return false
	}
	if len(it.edges) == 0 {
		return len(other.edges) == 0
	}
	return len(other.edges) != 0 && it.Edge().focal == other.Edge().focal
}

// Len returns the number of edges left.
func (it *EffectivePostorderEdgeIterator) Len() int { return len(it.edges) }

// EffectivePostorderEdges yields the edges of an effective postorder walk
// around focal.
func EffectivePostorderEdges(t *Tree, focal NodeID, isValid NodeValidityChecker) iter.Seq[EdgeEndpoints] {
	start := NewEffectivePostorderEdgeIterator(t, focal, isValid)
	return func(yield func(EdgeEndpoints) bool) {
		for it := *start; !it.Done(); it.Next() {
			if !yield(it.Edge()) {
				return
			}
		}
	}
}

// AlwaysInvalid prunes nothing.
func AlwaysInvalid(*Tree, NodeID, NodeID) bool { return false }

// AlwaysValid prunes everything.
func AlwaysValid(*Tree, NodeID, NodeID) bool { return true }
