package phylo

import (
	"fmt"
	"log/slog"
)

// CLACache coordinates the conditional likelihood buffers of one tree. For
// every edge there are two directional buffers: the filial buffer of the
// child summarizes the subtree below the child, and the parental buffer of
// the child summarizes everything else as seen from the parent.
//
// Its validity checkers double as visitors for effective postorder walks:
// IsValid prunes subtrees whose buffers are current, the others always
// return false so the walk covers the whole tree.
type CLACache struct {
	t      *Tree
	pool   *CondLikelihoodStorage
	shape  CondLikeShape
	logger *slog.Logger

	// pending lists the pairs invalidated since the last Accept or Revert.
	pending []*claPair
}

// CombineFunc fills dst with the conditional likelihood flowing from
// e.FocalNode toward e.FocalNeighbor. Buffers of all other neighbors of
// e.FocalNode are current when it is called.
type CombineFunc func(e EdgeEndpoints, dst *CondLikelihood)

// NewCLACache binds a tree to a pool. A nil logger discards.
func NewCLACache(t *Tree, pool *CondLikelihoodStorage, shape CondLikeShape, logger *slog.Logger) *CLACache {
	if !shape.Valid() {
		panic(fmt.Sprintf("phylo: invalid conditional likelihood shape %v", shape))
	}
	return &CLACache{t: t, pool: pool, shape: shape, logger: orDiscard(logger)}
}

func (c *CLACache) Tree() *Tree                  { return c.t }
func (c *CLACache) Pool() *CondLikelihoodStorage { return c.pool }
func (c *CLACache) Shape() CondLikeShape         { return c.shape }

// Prepare attaches a payload to every node that lacks one. Observable tips
// and an observable root with one child get TipData with the codes returned
// by tipCodes (all missing when tipCodes is nil); every other node gets
// InternalData.
func (c *CLACache) Prepare(tipCodes func(n *Node) []int) {
	t := c.t
	t.refreshIfDirty()
	for id := range t.Preorder() {
		n := &t.nodes[id]
		if n.data != nil {
			continue
		}
		if !n.observable {
			n.data = NewInternalData(c.pool, c.shape)
			continue
		}
		if !n.IsTip() && !t.IsTipRoot(id) {
			panic(fmt.Sprintf("phylo: observable internal node %d cannot carry tip data", id))
		}
		var codes []int
		if tipCodes != nil {
			codes = tipCodes(n)
		} else {
			codes = make([]int, c.shape.NPatterns)
			for i := range codes {
				codes[i] = c.shape.NStates
			}
		}
		n.data = NewTipData(c.pool, c.shape, codes, nil)
	}
}

// SetNodeData replaces the payload of id, releasing the old one.
func (c *CLACache) SetNodeData(id NodeID, d NodeData) {
	n := c.t.Node(id)
	if n.data != nil {
		n.data.release()
	}
	n.data = d
}

func (c *CLACache) data(id NodeID) NodeData {
	d := c.t.nodes[id].data
	if d == nil {
		panic(fmt.Sprintf("phylo: node %d has no likelihood data; call Prepare", id))
	}
	return d
}

func (c *CLACache) internal(id NodeID) *InternalData {
	d := c.t.nodes[id].InternalData()
	if d == nil {
		panic(fmt.Sprintf("phylo: node %d has no internal data", id))
	}
	return d
}

// IsValid reports whether the buffer carrying information from ref toward
// closer is current. Tips are always valid.
func (c *CLACache) IsValid(t *Tree, ref, closer NodeID) bool {
	if t.nodes[ref].IsTip() {
		return true
	}
	if t.nodes[ref].parent == closer {
		return c.internal(ref).FilialCLAValid()
	}
	return c.data(closer).ParentalCLAValid()
}

// InvalidateNode invalidates the buffer on the ref-closer edge that carries
// information away from the focal node of the walk, from closer toward ref:
// the parental buffer of ref when ref is below closer, otherwise the filial
// buffer of closer.
func (c *CLACache) InvalidateNode(t *Tree, ref, closer NodeID) bool {
	if pair := c.towardRef(t, ref, closer); pair != nil {
		c.invalidate(pair)
	}
	return false
}

func (c *CLACache) invalidate(p *claPair) {
	if !p.touched {
		c.pending = append(c.pending, p)
	}
	p.invalidate(c.pool)
}

// RestoreFromCacheNode undoes InvalidateNode. A working buffer with no
// cached predecessor was computed for the rejected state and is dropped.
func (c *CLACache) RestoreFromCacheNode(t *Tree, ref, closer NodeID) bool {
	if pair := c.towardRef(t, ref, closer); pair != nil {
		pair.restore(c.pool)
	}
	return false
}

func (c *CLACache) towardRef(t *Tree, ref, closer NodeID) *claPair {
	if t.nodes[ref].IsTip() || t.nodes[ref].parent == closer {
		return c.data(ref).parentalPair()
	}
	if t.nodes[closer].IsTip() {
		return nil
	}
	return &c.internal(closer).filial
}

// InvalidateBothEnds invalidates the parental and filial buffers of ref.
func (c *CLACache) InvalidateBothEnds(_ *Tree, ref, _ NodeID) bool {
	d := c.data(ref)
	c.invalidate(d.parentalPair())
	if id, ok := d.(*InternalData); ok {
		c.invalidate(&id.filial)
	}
	return false
}

// InvalidateBothEndsDiscardCache returns every buffer of ref to the pool.
func (c *CLACache) InvalidateBothEndsDiscardCache(_ *Tree, ref, _ NodeID) bool {
	c.data(ref).release()
	return false
}

// RestoreFromCacheBothEnds restores the parental and filial buffers of ref.
func (c *CLACache) RestoreFromCacheBothEnds(_ *Tree, ref, _ NodeID) bool {
	d := c.data(ref)
	d.parentalPair().restore(c.pool)
	if id, ok := d.(*InternalData); ok {
		id.filial.restore(c.pool)
	}
	return false
}

// RestoreFromCacheParentalOnly restores only the parental buffer of ref.
func (c *CLACache) RestoreFromCacheParentalOnly(_ *Tree, ref, _ NodeID) bool {
	c.data(ref).parentalPair().restore(c.pool)
	return false
}

// DiscardCacheBothEnds releases the cached buffers of ref.
func (c *CLACache) DiscardCacheBothEnds(_ *Tree, ref, _ NodeID) bool {
	d := c.data(ref)
	d.parentalPair().discardCache(c.pool)
	if id, ok := d.(*InternalData); ok {
		id.filial.discardCache(c.pool)
	}
	return false
}

// InvalidateAwayFromNode invalidates every buffer that carries information
// about focal, so any node can serve as the likelihood root afterwards.
func (c *CLACache) InvalidateAwayFromNode(focal NodeID) {
	NewEffectivePostorderEdgeIterator(c.t, focal, c.InvalidateNode)
}

// RestoreAwayFromNode reverses InvalidateAwayFromNode.
func (c *CLACache) RestoreAwayFromNode(focal NodeID) {
	NewEffectivePostorderEdgeIterator(c.t, focal, c.RestoreFromCacheNode)
}

// EdgeLengthChanged records that the edge below nd has a new length.
func (c *CLACache) EdgeLengthChanged(nd NodeID) {
	c.logger.Debug("edge length changed", "node", nd)
	c.InvalidateAwayFromNode(nd)
	c.InvalidateBothEnds(c.t, nd, NoNode)
}

// SubtreeRearranged records a topology change touching the given nodes,
// typically the pruned subtree root and the old and new attachment points.
// Preorder links are refreshed first.
func (c *CLACache) SubtreeRearranged(nodes ...NodeID) {
	c.t.refreshIfDirty()
	for _, nd := range nodes {
		c.logger.Debug("subtree rearranged", "node", nd)
		c.InvalidateAwayFromNode(nd)
		c.InvalidateBothEnds(c.t, nd, NoNode)
	}
}

// Revert restores every buffer invalidated since the last Accept. Pass the
// nodes given to EdgeLengthChanged or SubtreeRearranged; the tree must
// already be back in its accepted shape. Walks run in reverse order, and
// buffers the restored shape puts off every walk are restored from the
// pending list.
func (c *CLACache) Revert(nodes ...NodeID) {
	c.t.refreshIfDirty()
	for i := len(nodes) - 1; i >= 0; i-- {
		nd := nodes[i]
		c.logger.Debug("reverting conditional likelihoods", "focal", nd)
		// The walk restores the filial buffer of nd.
		c.RestoreAwayFromNode(nd)
		c.RestoreFromCacheParentalOnly(c.t, nd, NoNode)
	}
	for _, p := range c.pending {
		p.restore(c.pool)
	}
	c.pending = c.pending[:0]
}

// Accept discards every cached buffer, committing the working generation.
func (c *CLACache) Accept() {
	for id := range c.t.preorderFresh() {
		c.DiscardCacheBothEnds(c.t, id, NoNode)
	}
	for _, p := range c.pending {
		p.discardCache(c.pool)
	}
	c.pending = c.pending[:0]
}

// InvalidateAll returns every buffer of every node to the pool.
func (c *CLACache) InvalidateAll() {
	for id := range c.t.Preorder() {
		if c.t.nodes[id].data != nil {
			c.InvalidateBothEndsDiscardCache(c.t, id, NoNode)
		}
	}
	c.pending = c.pending[:0]
}

// StaleEdges returns the edges whose buffers must be recomputed, in an
// order where every edge follows the edges it depends on.
func (c *CLACache) StaleEdges(focal NodeID) []EdgeEndpoints {
	it := NewEffectivePostorderEdgeIterator(c.t, focal, c.IsValid)
	out := make([]EdgeEndpoints, 0, it.Len())
	for ; !it.Done(); it.Next() {
		out = append(out, it.Edge())
	}
	return out
}

// BufferFor returns the working buffer for the information flowing along
// e, checking one out if needed. Edges leaving a tip need no buffer and
// yield nil.
func (c *CLACache) BufferFor(e EdgeEndpoints) *CondLikelihood {
	far, closer := e.FocalNode(), e.FocalNeighbor()
	if c.t.nodes[far].IsTip() {
		return nil
	}
	if c.t.nodes[far].parent == closer {
		return c.internal(far).FilialCondLike()
	}
	return c.data(closer).ParentalCondLike()
}

// ValidCondLike returns the current buffer carrying information from far
// toward closer, or nil if there is none. Tips have none.
func (c *CLACache) ValidCondLike(far, closer NodeID) *CondLikelihood {
	if c.t.nodes[far].IsTip() {
		return nil
	}
	if c.t.nodes[far].parent == closer {
		return c.internal(far).ValidFilialCondLike()
	}
	return c.data(closer).ValidParentalCondLike()
}

// Recompute refreshes every stale buffer around focal by calling combine in
// dependency order, and returns how many buffers were filled.
func (c *CLACache) Recompute(focal NodeID, combine CombineFunc) int {
	n := 0
	for _, e := range c.StaleEdges(focal) {
		dst := c.BufferFor(e)
		if dst == nil {
			continue
		}
		combine(e, dst)
		n++
	}
	c.logger.Debug("recomputed conditional likelihoods", "focal", focal, "buffers", n)
	return n
}
