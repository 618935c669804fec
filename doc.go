// Package phylo implements the tree, traversal and conditional-likelihood
// caching engine used by Bayesian phylogenetic samplers, together with the
// topology prior over resolution classes.
//
// Trees are arenas of nodes addressed by [NodeID]. Structural edits mark the
// cached preorder links dirty; call [Tree.RefreshPreorder] before building a
// traversal iterator.
//
// Basic usage:
//
//	t, err := phylo.BuildFromNewick("((a:0.1,b:0.2):0.05,c:0.3,d:0.4);")
//	for id := range t.Preorder() {
//		// visit node id
//	}
//
// # Conditional likelihoods
//
// A [CondLikelihoodStorage] hands out reusable likelihood buffers keyed by
// [CondLikeShape]. Each node owns a [TipData] or [InternalData] payload that
// borrows working buffers from the pool and parks the previous generation in
// a cache slot so a rejected proposal can be reverted:
//
//	pool := phylo.NewCondLikelihoodStorage(nil)
//	cache := phylo.NewCLACache(t, pool, phylo.CondLikeShape{NRates: 4, NPatterns: 100, NStates: 4}, nil)
//	cache.Prepare(nil) // tip state codes come from the caller; nil means missing data
//	cache.EdgeLengthChanged(nd)
//	for _, e := range cache.StaleEdges(nd) {
//		// recompute cache.BufferFor(e)
//	}
//	cache.Accept() // or cache.Revert(nd)
//
// # Topology prior
//
// [TopoPriorCalculator] counts labeled topologies per number of internal
// nodes and derives log priors over resolution classes:
//
//	calc := phylo.NewTopoPriorCalculator(nil)
//	calc.SetNTax(6)
//	calc.Count(6, 3) // 105
//	calc.TotalCount(6) // 236
//
// All components are single-threaded. Run independent chains with
// independent pools and calculators.
package phylo
