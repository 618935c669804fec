package phylo

import (
	"fmt"
	"strings"
)

// Describer renders a tree as text.
type Describer interface {
	Describe(t *Tree) string
}

// NewickDescriber renders parenthetical notation.
type NewickDescriber struct {
	// TopologyOnly omits edge lengths.
	TopologyOnly bool
}

func (d NewickDescriber) Describe(t *Tree) string {
	if d.TopologyOnly {
		return t.NewickTopology()
	}
	return t.Newick()
}

// WalkDescriber lists the nodes in preorder. At verbosity 0 each node is
// its Info label joined by " -> "; at 1 every node gets a line with its
// links; at 2 edge lengths and payload state are added.
type WalkDescriber struct {
	Verbosity int
}

func (d WalkDescriber) Describe(t *Tree) string {
	t.refreshIfDirty()
	if d.Verbosity == 0 {
		parts := make([]string, 0, t.NumNodes())
		for id := range t.Preorder() {
			parts = append(parts, t.nodes[id].Info())
		}
		return strings.Join(parts, " -> ")
	}
	var b strings.Builder
	for id := range t.Preorder() {
		n := &t.nodes[id]
		fmt.Fprintf(&b, "%d %s parent=%s lchild=%s rsib=%s",
			id, n.Info(), linkString(n.parent), linkString(n.leftChild), linkString(n.rightSibling))
		if d.Verbosity > 1 {
			if n.EdgeLenNotYetAssigned() {
				b.WriteString(" len=?")
			} else {
				fmt.Fprintf(&b, " len=%g", n.edgeLen)
			}
			b.WriteString(" data=" + describeData(n.data))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func linkString(id NodeID) string {
	if id == NoNode {
		return "-"
	}
	return fmt.Sprint(int(id))
}

func describeData(d NodeData) string {
	switch d := d.(type) {
	case nil:
		return "none"
	case *TipData:
		return "tip[" + pairState(&d.parental) + "]"
	case *InternalData:
		return "internal[" + pairState(&d.parental) + " " + pairState(&d.filial) + "]"
	}
	return "unknown"
}

// pairState shows W for a working buffer and C for a cached one.
func pairState(p *claPair) string {
	s := []byte{'-', '-'}
	if p.working != nil {
		s[0] = 'W'
	}
	if p.cached != nil {
		s[1] = 'C'
	}
	return string(s)
}
