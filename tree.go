package phylo

import (
	"fmt"
	"iter"
	"slices"
)

// Tree is an arena of nodes joined by left-child/right-sibling links. Freed
// slots are recycled by AddNode.
type Tree struct {
	nodes []Node
	free  []NodeID
	root  NodeID

	// Preorder links are valid only while preorderDirty is false.
	preorderDirty bool
	firstPreorder NodeID
	lastPreorder  NodeID

	nTips        int
	nInternals   int
	nObservables int
	nNodes       int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		root:          NoNode,
		firstPreorder: NoNode,
		lastPreorder:  NoNode,
		preorderDirty: true,
	}
}

// Node returns the node stored at id. It panics if id does not name a live
// node.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) || !t.nodes[id].inUse {
		panic(fmt.Sprintf("phylo: node %d does not exist", id))
	}
	return &t.nodes[id]
}

// Root returns the root node, or NoNode for an empty tree.
func (t *Tree) Root() NodeID { return t.root }

// Len returns the arena size, including freed slots.
func (t *Tree) Len() int { return len(t.nodes) }

// AddNode allocates a detached node.
func (t *Tree) AddNode(name string) NodeID {
	var id NodeID
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[id] = newNode(id)
	} else {
		id = NodeID(len(t.nodes))
		t.nodes = append(t.nodes, newNode(id))
	}
	t.nodes[id].name = name
	t.preorderDirty = true
	return id
}

// SetRoot makes id the root. The node must not have a parent.
func (t *Tree) SetRoot(id NodeID) {
	if t.Node(id).parent != NoNode {
		panic(fmt.Sprintf("phylo: root %d must not have a parent", id))
	}
	t.root = id
	t.preorderDirty = true
}

// AddChild appends child as the rightmost child of parent. child must be
// detached; a subtree removed with DetachSubtree can be reattached this way.
func (t *Tree) AddChild(parent, child NodeID) {
	p, c := t.Node(parent), t.Node(child)
	if c.parent != NoNode || child == t.root {
		panic(fmt.Sprintf("phylo: node %d is already attached", child))
	}
	if parent == child {
		panic(fmt.Sprintf("phylo: node %d cannot be its own child", child))
	}
	c.parent = parent
	c.rightSibling = NoNode
	if p.leftChild == NoNode {
		p.leftChild = child
	} else {
		last := p.leftChild
		for t.nodes[last].rightSibling != NoNode {
			last = t.nodes[last].rightSibling
		}
		t.nodes[last].rightSibling = child
	}
	t.preorderDirty = true
}

// DetachSubtree unlinks id from its parent. The subtree keeps its nodes and
// payloads and can be reattached with AddChild.
func (t *Tree) DetachSubtree(id NodeID) {
	n := t.Node(id)
	if n.parent == NoNode {
		panic(fmt.Sprintf("phylo: cannot detach root or detached node %d", id))
	}
	p := &t.nodes[n.parent]
	if p.leftChild == id {
		p.leftChild = n.rightSibling
	} else {
		prev := p.leftChild
		for t.nodes[prev].rightSibling != id {
			prev = t.nodes[prev].rightSibling
		}
		t.nodes[prev].rightSibling = n.rightSibling
	}
	n.parent = NoNode
	n.rightSibling = NoNode
	t.preorderDirty = true
}

// DeleteSubtree detaches id and frees every node below it, returning their
// likelihood buffers to the pool they came from.
func (t *Tree) DeleteSubtree(id NodeID) {
	if t.Node(id).parent != NoNode {
		t.DetachSubtree(id)
	}
	if id == t.root {
		t.root = NoNode
	}
	for _, cur := range t.SubtreeNodes(id) {
		t.freeNode(cur)
	}
	t.preorderDirty = true
}

// CollapseEdge removes the internal node id, splicing its children into its
// parent's child list in its place. The children keep their edge lengths.
func (t *Tree) CollapseEdge(id NodeID) {
	n := t.Node(id)
	if n.parent == NoNode || n.leftChild == NoNode {
		panic(fmt.Sprintf("phylo: node %d is not a non-root internal node", id))
	}
	lastChild := n.leftChild
	for c := n.leftChild; c != NoNode; c = t.nodes[c].rightSibling {
		t.nodes[c].parent = n.parent
		lastChild = c
	}
	t.nodes[lastChild].rightSibling = n.rightSibling
	p := &t.nodes[n.parent]
	if p.leftChild == id {
		p.leftChild = n.leftChild
	} else {
		prev := p.leftChild
		for t.nodes[prev].rightSibling != id {
			prev = t.nodes[prev].rightSibling
		}
		t.nodes[prev].rightSibling = n.leftChild
	}
	n.leftChild = NoNode
	t.freeNode(id)
	t.preorderDirty = true
}

// RerootAt makes id the root by reversing the parent links on the path from
// id to the current root. Each reversed edge keeps its length.
func (t *Tree) RerootAt(id NodeID) {
	t.Node(id)
	if id == t.root {
		return
	}
	var path []NodeID
	for cur := id; cur != NoNode; cur = t.nodes[cur].parent {
		path = append(path, cur)
	}
	if path[len(path)-1] != t.root {
		panic(fmt.Sprintf("phylo: node %d is not connected to the root", id))
	}
	lens := make([]float64, len(path)-1)
	for i := range lens {
		lens[i] = t.nodes[path[i]].edgeLen
		t.DetachSubtree(path[i])
	}
	t.root = NoNode
	for i := range lens {
		t.AddChild(path[i], path[i+1])
		t.nodes[path[i+1]].edgeLen = lens[i]
	}
	t.nodes[id].edgeLen = EdgeLenUnassigned
	t.root = id
	t.preorderDirty = true
}

// Clear frees every node, releasing all likelihood buffers.
func (t *Tree) Clear() {
	for i := range t.nodes {
		if t.nodes[i].inUse {
			t.freeNode(NodeID(i))
		}
	}
	t.root = NoNode
	t.preorderDirty = true
}

func (t *Tree) freeNode(id NodeID) {
	n := &t.nodes[id]
	if n.data != nil {
		n.data.release()
	}
	*n = Node{id: id, leftChild: NoNode, rightSibling: NoNode, parent: NoNode,
		nextPreorder: NoNode, prevPreorder: NoNode}
	t.free = append(t.free, id)
}

// SetEdgeLen sets the length of the edge below id. Lengths below
// EdgeLenEpsilon are raised to it.
func (t *Tree) SetEdgeLen(id NodeID, v float64) {
	t.Node(id).setEdgeLen(v)
}

// SetAllEdgeLens assigns v to every non-root edge.
func (t *Tree) SetAllEdgeLens(v float64) {
	for id := range t.preorderFresh() {
		if id != t.root {
			t.nodes[id].setEdgeLen(v)
		}
	}
}

// EdgeLenSum returns the tree length, skipping unassigned edges.
func (t *Tree) EdgeLenSum() float64 {
	var sum float64
	for id := range t.preorderFresh() {
		n := &t.nodes[id]
		if id != t.root && !n.EdgeLenNotYetAssigned() {
			sum += n.edgeLen
		}
	}
	return sum
}

func (t *Tree) SelectAllNodes() {
	for id := range t.preorderFresh() {
		t.nodes[id].selected = true
	}
}

func (t *Tree) UnselectAllNodes() {
	for id := range t.preorderFresh() {
		t.nodes[id].selected = false
	}
}

// CountChildren returns the number of children of id.
func (t *Tree) CountChildren(id NodeID) int {
	k := 0
	for c := t.Node(id).leftChild; c != NoNode; c = t.nodes[c].rightSibling {
		k++
	}
	return k
}

// Children returns the children of id from left to right.
func (t *Tree) Children(id NodeID) []NodeID {
	var out []NodeID
	for c := t.Node(id).leftChild; c != NoNode; c = t.nodes[c].rightSibling {
		out = append(out, c)
	}
	return out
}

// IsTipRoot reports whether id is an observable root with a single child,
// the layout used for unrooted trees rooted at a taxon.
func (t *Tree) IsTipRoot(id NodeID) bool {
	n := t.Node(id)
	if n.parent != NoNode || n.leftChild == NoNode {
		return false
	}
	return n.observable && t.nodes[n.leftChild].rightSibling == NoNode
}

// IsAncestor reports whether anc lies on the path from id to the root,
// counting id itself.
func (t *Tree) IsAncestor(anc, id NodeID) bool {
	for cur := id; cur != NoNode; cur = t.nodes[cur].parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// FindTipNode returns the tip with the given number, or NoNode.
func (t *Tree) FindTipNode(number uint) NodeID {
	for id := range t.preorderFresh() {
		n := &t.nodes[id]
		if n.IsTip() && n.number == number {
			return id
		}
	}
	return NoNode
}

// NodesWithEdges returns every non-root node in preorder.
func (t *Tree) NodesWithEdges() []NodeID {
	out := make([]NodeID, 0, t.NumNodes())
	for id := range t.preorderFresh() {
		if id != t.root {
			out = append(out, id)
		}
	}
	return out
}

// RenumberNodes numbers observable nodes 0..k-1 in preorder and the rest
// from k upward. Names are kept.
func (t *Tree) RenumberNodes() {
	var next uint
	var rest []NodeID
	for id := range t.preorderFresh() {
		if t.nodes[id].observable {
			t.nodes[id].number = next
			next++
		} else {
			rest = append(rest, id)
		}
	}
	for _, id := range rest {
		t.nodes[id].number = next
		next++
	}
}

// PreorderDirty reports whether the preorder links need RefreshPreorder.
func (t *Tree) PreorderDirty() bool { return t.preorderDirty }

// RefreshPreorder rebuilds the nextPreorder/prevPreorder links and the node
// counts from the root. It panics if the sibling structure does not
// terminate, which means a cycle.
func (t *Tree) RefreshPreorder() {
	t.nTips, t.nInternals, t.nObservables, t.nNodes = 0, 0, 0, 0
	t.firstPreorder, t.lastPreorder = t.root, NoNode
	prev := NoNode
	steps := 0
	for cur := t.root; cur != NoNode; cur = t.advancePreorder(cur) {
		if steps++; steps > len(t.nodes) {
			panic("phylo: cycle detected while refreshing preorder")
		}
		n := &t.nodes[cur]
		n.prevPreorder = prev
		if prev != NoNode {
			t.nodes[prev].nextPreorder = cur
		}
		prev = cur
		t.nNodes++
		if n.IsTip() {
			t.nTips++
		} else {
			t.nInternals++
		}
		if n.observable {
			t.nObservables++
		}
	}
	if prev != NoNode {
		t.nodes[prev].nextPreorder = NoNode
	}
	t.lastPreorder = prev
	t.preorderDirty = false
}

// advancePreorder returns the recursive-preorder successor of cur using only
// the structural links.
func (t *Tree) advancePreorder(cur NodeID) NodeID {
	if c := t.nodes[cur].leftChild; c != NoNode {
		return c
	}
	for cur != NoNode {
		if s := t.nodes[cur].rightSibling; s != NoNode {
			return s
		}
		cur = t.nodes[cur].parent
	}
	return NoNode
}

func (t *Tree) refreshIfDirty() {
	if t.preorderDirty {
		t.RefreshPreorder()
	}
}

func (t *Tree) preorderFresh() iter.Seq[NodeID] {
	t.refreshIfDirty()
	return t.Preorder()
}

// NumNodes returns the number of nodes reachable from the root.
func (t *Tree) NumNodes() int {
	t.refreshIfDirty()
	return t.nNodes
}

// NumTips returns the number of childless nodes.
func (t *Tree) NumTips() int {
	t.refreshIfDirty()
	return t.nTips
}

// NumInternals returns the number of nodes with children, the root included.
func (t *Tree) NumInternals() int {
	t.refreshIfDirty()
	return t.nInternals
}

// NumObservables returns the number of nodes carrying data.
func (t *Tree) NumObservables() int {
	t.refreshIfDirty()
	return t.nObservables
}

// SubtreeNodes lists id and its descendants in recursive preorder. It does
// not depend on the preorder links, so it is safe to call on a dirty tree.
func (t *Tree) SubtreeNodes(id NodeID) []NodeID {
	t.Node(id)
	var out []NodeID
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		kids := t.Children(cur)
		slices.Reverse(kids)
		stack = append(stack, kids...)
	}
	return out
}
