package phylo

import (
	"errors"
	"fmt"
)

// ErrMalformedTree is wrapped by every Validate failure.
var ErrMalformedTree = errors.New("phylo: malformed tree")

// Validate checks the structural invariants the traversal code relies on:
// one root, parent back-references that agree with the child lists, sibling
// chains that terminate, no cycles, and, when they are fresh, preorder
// links equal to a recursive preorder walk.
func (t *Tree) Validate() error {
	if t.root == NoNode {
		return nil
	}
	if !t.nodes[t.root].inUse {
		return fmt.Errorf("%w: root %d is not a live node", ErrMalformedTree, t.root)
	}
	if p := t.nodes[t.root].parent; p != NoNode {
		return fmt.Errorf("%w: root %d has parent %d", ErrMalformedTree, t.root, p)
	}

	uf := NewUnionFind(len(t.nodes))
	var order []NodeID
	stack := []NodeID{t.root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, cur)

		var kids []NodeID
		for c := t.nodes[cur].leftChild; c != NoNode; c = t.nodes[c].rightSibling {
			if c < 0 || int(c) >= len(t.nodes) || !t.nodes[c].inUse {
				return fmt.Errorf("%w: node %d links to missing node %d", ErrMalformedTree, cur, c)
			}
			if t.nodes[c].parent != cur {
				return fmt.Errorf("%w: node %d is listed under %d but its parent is %d",
					ErrMalformedTree, c, cur, t.nodes[c].parent)
			}
			if !uf.Union(int(cur), int(c)) {
				return fmt.Errorf("%w: cycle through node %d", ErrMalformedTree, c)
			}
			kids = append(kids, c)
		}
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}

	if t.preorderDirty {
		return nil
	}
	i := 0
	for cur := t.firstPreorder; cur != NoNode; cur = t.nodes[cur].nextPreorder {
		if i >= len(order) || order[i] != cur {
			return fmt.Errorf("%w: preorder link mismatch at position %d", ErrMalformedTree, i)
		}
		if i > 0 && t.nodes[cur].prevPreorder != order[i-1] {
			return fmt.Errorf("%w: postorder link mismatch at node %d", ErrMalformedTree, cur)
		}
		i++
	}
	if i != len(order) {
		return fmt.Errorf("%w: preorder links visit %d of %d nodes", ErrMalformedTree, i, len(order))
	}
	return nil
}
