package phylo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"
	gtree "github.com/evolbioinfo/gotree/tree"
)

// ErrInvalidNewick is wrapped by every tree description parse error.
var ErrInvalidNewick = errors.New("phylo: invalid newick description")

// BuildFromNewick builds a tree from a parenthetical description such as
// "((a:0.1,b:0.2)x:0.3,c:0.4);". Leaves are observable. A named root with a
// single child is treated as a taxon at the root. Edges without a length
// get EdgeLenDefault. Bracketed comments are skipped and names may be
// single-quoted. Nodes are numbered with RenumberNodes.
func BuildFromNewick(s string) (*Tree, error) {
	lx := &newickLexer{src: s}
	canon, err := lx.normalize()
	if err != nil {
		return nil, err
	}
	t := NewTree()
	var root NodeID
	if !strings.HasPrefix(canon, "(") {
		// A lone taxon has no structure to parse.
		name := lx.unmask(strings.TrimSuffix(canon, ";"))
		if name == "" || len(lx.names) != 1 {
			return nil, fmt.Errorf("%w: expected '(' or a single name", ErrInvalidNewick)
		}
		root = t.AddNode(name)
		t.nodes[root].observable = true
	} else {
		gt, err := newick.NewParser(strings.NewReader(canon)).Parse()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNewick, err)
		}
		if gt.Root() == nil {
			return nil, fmt.Errorf("%w: no root", ErrInvalidNewick)
		}
		if root, err = lx.convert(t, gt.Root(), nil, nil); err != nil {
			return nil, err
		}
	}
	t.SetRoot(root)
	rn := t.Node(root)
	if rn.name != "" && t.CountChildren(root) == 1 {
		rn.observable = true
	}
	if lx.rootLen >= 0 {
		rn.setEdgeLen(lx.rootLen)
	} else {
		rn.edgeLen = EdgeLenUnassigned
	}
	t.RenumberNodes()
	return t, nil
}

// convert copies the gotree subtree at n, entered from prev over e, into t.
func (lx *newickLexer) convert(t *Tree, n, prev *gtree.Node, e *gtree.Edge) (NodeID, error) {
	id := t.AddNode(lx.unmask(n.Name()))
	nd := &t.nodes[id]
	nd.edgeLen = EdgeLenDefault
	if e != nil && e.Length() != gtree.NIL_LENGTH {
		if e.Length() < 0 {
			return NoNode, fmt.Errorf("%w: negative edge length %g above %q", ErrInvalidNewick, e.Length(), nd.name)
		}
		nd.setEdgeLen(e.Length())
	}

	edges := n.Edges()
	for i, nb := range n.Neigh() {
		if nb == prev {
			continue
		}
		child, err := lx.convert(t, nb, n, edges[i])
		if err != nil {
			return NoNode, err
		}
		t.AddChild(id, child)
	}
	if nd.leftChild == NoNode && prev != nil {
		if nd.name == "" {
			return NoNode, fmt.Errorf("%w: empty leaf name", ErrInvalidNewick)
		}
		nd.observable = true
	}
	return id, nil
}

// newickLexer rewrites a description into the plain form handed to the
// gotree parser: comments and blanks dropped, every name replaced by a
// placeholder, the root edge length lifted out and a single terminating
// semicolon.
type newickLexer struct {
	src     string
	pos     int
	out     strings.Builder
	names   []string
	named   bool
	rootLen float64
}

const newickPlaceholder = "n"

func (lx *newickLexer) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrInvalidNewick, fmt.Sprintf(format, args...), lx.pos)
}

func (lx *newickLexer) normalize() (string, error) {
	lx.rootLen = -1
	depth, done := 0, false
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		case c == '[':
			end := strings.IndexByte(lx.src[lx.pos:], ']')
			if end < 0 {
				return "", lx.errorf("unterminated comment")
			}
			lx.pos += end + 1
		case done:
			return "", lx.errorf("trailing input %q", lx.src[lx.pos:])
		case c == ';':
			if depth != 0 {
				return "", lx.errorf("unbalanced parentheses")
			}
			lx.pos++
			done = true
		case c == '\'':
			if err := lx.quotedName(); err != nil {
				return "", err
			}
		case c == ':':
			lx.named = false
			lx.pos++
			text, v, err := lx.number()
			if err != nil {
				return "", err
			}
			if v < 0 {
				return "", lx.errorf("negative edge length %g", v)
			}
			if depth == 0 {
				lx.rootLen = v
				continue
			}
			lx.out.WriteByte(':')
			lx.out.WriteString(text)
		case c == '(' || c == ')' || c == ',':
			if c == '(' {
				depth++
			} else if c == ')' {
				depth--
				if depth < 0 {
					return "", lx.errorf("unmatched ')'")
				}
			}
			lx.out.WriteByte(c)
			lx.pos++
			lx.named = false
		case c == ']':
			return "", lx.errorf("unexpected ']'")
		default:
			start := lx.pos
			for lx.pos < len(lx.src) && !isNewickPunct(lx.src[lx.pos]) {
				lx.pos++
			}
			if err := lx.mask(lx.src[start:lx.pos]); err != nil {
				return "", err
			}
		}
	}
	if depth != 0 {
		return "", lx.errorf("unbalanced parentheses")
	}
	if lx.out.Len() == 0 {
		return "", lx.errorf("empty description")
	}
	lx.out.WriteByte(';')
	return lx.out.String(), nil
}

func (lx *newickLexer) quotedName() error {
	var b strings.Builder
	lx.pos++
	for {
		if lx.pos >= len(lx.src) {
			return lx.errorf("unterminated quoted name")
		}
		c := lx.src[lx.pos]
		lx.pos++
		if c == '\'' {
			if lx.pos < len(lx.src) && lx.src[lx.pos] == '\'' {
				b.WriteByte('\'')
				lx.pos++
				continue
			}
			break
		}
		b.WriteByte(c)
	}
	return lx.mask(b.String())
}

// mask writes a placeholder for name. A node carries at most one name.
func (lx *newickLexer) mask(name string) error {
	if lx.named {
		return lx.errorf("unexpected name %q", name)
	}
	lx.named = true
	lx.out.WriteString(newickPlaceholder + strconv.Itoa(len(lx.names)))
	lx.names = append(lx.names, name)
	return nil
}

func (lx *newickLexer) number() (string, float64, error) {
	for lx.pos < len(lx.src) && (lx.src[lx.pos] == ' ' || lx.src[lx.pos] == '\t') {
		lx.pos++
	}
	start := lx.pos
	for lx.pos < len(lx.src) && strings.IndexByte("0123456789+-.eE", lx.src[lx.pos]) >= 0 {
		lx.pos++
	}
	text := lx.src[start:lx.pos]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return "", 0, lx.errorf("bad edge length %q", text)
	}
	return text, v, nil
}

// unmask maps a placeholder back to the name it stands for.
func (lx *newickLexer) unmask(name string) string {
	if rest, ok := strings.CutPrefix(name, newickPlaceholder); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < len(lx.names) {
			return lx.names[i]
		}
	}
	return name
}

func isNewickPunct(c byte) bool {
	return strings.IndexByte("(),:;[] \t\n\r'", c) >= 0
}

// Newick describes the tree in parenthetical notation with edge lengths.
func (t *Tree) Newick() string {
	return t.newick(true)
}

// NewickTopology describes the tree without edge lengths.
func (t *Tree) NewickTopology() string {
	return t.newick(false)
}

func (t *Tree) newick(withLens bool) string {
	if t.root == NoNode {
		return ";"
	}
	var b strings.Builder
	t.writeNewick(&b, t.root, withLens)
	b.WriteByte(';')
	return b.String()
}

func (t *Tree) writeNewick(b *strings.Builder, id NodeID, withLens bool) {
	n := &t.nodes[id]
	if n.leftChild != NoNode {
		b.WriteByte('(')
		for c := n.leftChild; c != NoNode; c = t.nodes[c].rightSibling {
			if c != n.leftChild {
				b.WriteByte(',')
			}
			t.writeNewick(b, c, withLens)
		}
		b.WriteByte(')')
	}
	b.WriteString(quoteNewickName(n.name))
	if withLens && !n.EdgeLenNotYetAssigned() {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(n.edgeLen, 'g', -1, 64))
	}
}

func quoteNewickName(name string) string {
	for i := 0; i < len(name); i++ {
		if isNewickPunct(name[i]) {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}
