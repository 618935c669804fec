package phylo

import (
	"fmt"
	"math"
)

// NodeID addresses a node in its tree's arena.
type NodeID int

// NoNode is the null node reference.
const NoNode NodeID = -1

const (
	// EdgeLenUnassigned marks an edge length that has never been set.
	EdgeLenUnassigned = math.MaxFloat64

	// EdgeLenEpsilon is the smallest legal edge length.
	EdgeLenEpsilon = 1e-8

	// EdgeLenDefault is used when a tree description supplies no length.
	EdgeLenDefault = 0.1

	// NodeNumberUnassigned marks a node whose number has not been set.
	NodeNumberUnassigned = math.MaxUint
)

// Node is one vertex of a multifurcating tree. The owning [Tree] maintains
// the structural links; callers read them through the accessors.
type Node struct {
	id     NodeID
	number uint
	name   string

	leftChild    NodeID
	rightSibling NodeID
	parent       NodeID
	nextPreorder NodeID
	prevPreorder NodeID

	edgeLen    float64
	observable bool
	selected   bool
	inUse      bool

	data NodeData
}

func newNode(id NodeID) Node {
	return Node{
		id:           id,
		number:       NodeNumberUnassigned,
		leftChild:    NoNode,
		rightSibling: NoNode,
		parent:       NoNode,
		nextPreorder: NoNode,
		prevPreorder: NoNode,
		edgeLen:      EdgeLenUnassigned,
		inUse:        true,
	}
}

func (n *Node) ID() NodeID                 { return n.id }
func (n *Node) Number() uint               { return n.number }
func (n *Node) SetNumber(num uint)         { n.number = num }
func (n *Node) Name() string               { return n.name }
func (n *Node) SetName(name string)        { n.name = name }
func (n *Node) LeftChild() NodeID          { return n.leftChild }
func (n *Node) RightSibling() NodeID       { return n.rightSibling }
func (n *Node) Parent() NodeID             { return n.parent }
func (n *Node) NextPreorder() NodeID       { return n.nextPreorder }
func (n *Node) PrevPreorder() NodeID       { return n.prevPreorder }
func (n *Node) EdgeLen() float64           { return n.edgeLen }
func (n *Node) IsObservable() bool         { return n.observable }
func (n *Node) SetObservable(b bool)       { n.observable = b }
func (n *Node) IsSelected() bool           { return n.selected }
func (n *Node) Select()                    { n.selected = true }
func (n *Node) Unselect()                  { n.selected = false }
func (n *Node) HasChildren() bool          { return n.leftChild != NoNode }
func (n *Node) NumberNotYetAssigned() bool { return n.number == NodeNumberUnassigned }

// EdgeLenNotYetAssigned reports whether the edge length still holds the
// unassigned sentinel.
func (n *Node) EdgeLenNotYetAssigned() bool { return n.edgeLen == EdgeLenUnassigned }

// IsTip reports whether the node has no children.
func (n *Node) IsTip() bool { return n.leftChild == NoNode }

// IsInternal reports whether the node has at least one child.
func (n *Node) IsInternal() bool { return n.leftChild != NoNode }

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.parent == NoNode }

// Data returns the likelihood payload attached to the node, or nil.
func (n *Node) Data() NodeData { return n.data }

// TipData returns the payload as tip data, or nil if the node carries
// internal data or nothing.
func (n *Node) TipData() *TipData {
	td, _ := n.data.(*TipData)
	return td
}

// InternalData returns the payload as internal data, or nil.
func (n *Node) InternalData() *InternalData {
	id, _ := n.data.(*InternalData)
	return id
}

// setEdgeLen clamps lengths below EdgeLenEpsilon up to it.
func (n *Node) setEdgeLen(v float64) {
	if v < 0 || math.IsNaN(v) {
		panic(fmt.Sprintf("phylo: edge length of node %d must be >= 0, got %g", n.id, v))
	}
	n.edgeLen = max(v, EdgeLenEpsilon)
}

// Info renders a short label: the name or "?" followed by the number in
// parentheses for tips and brackets for internal nodes.
func (n *Node) Info() string {
	nm := n.name
	if nm == "" {
		nm = "?"
	}
	num := "-"
	if !n.NumberNotYetAssigned() {
		num = fmt.Sprint(n.number)
	}
	if n.IsTip() {
		return fmt.Sprintf("%s (%s)", nm, num)
	}
	return fmt.Sprintf("%s [%s]", nm, num)
}
