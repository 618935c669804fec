package phylo

// UnionFind is a disjoint-set forest over arena slots with path compression
// and union by size. Tree validation uses it to prove that every reachable
// node hangs off a single root without cycles.
type UnionFind struct {
	parent []int
	size   []int
	sets   int
}

// NewUnionFind creates n singleton sets.
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	size := make([]int, n)
	for i := range parent {
		parent[i] = -1 // -1 means "is a root"
		size[i] = 1
	}
	return &UnionFind{parent: parent, size: size, sets: n}
}

// Find returns the representative of the set containing x.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != -1 {
		root = uf.parent[root]
	}
	for uf.parent[x] != -1 {
		x, uf.parent[x] = uf.parent[x], root
	}
	return root
}

// Union merges the sets of x and y and reports whether they were distinct.
// A false result on a parent/child link means the links contain a cycle.
func (uf *UnionFind) Union(x, y int) bool {
	rootX, rootY := uf.Find(x), uf.Find(y)
	if rootX == rootY {
		return false
	}
	if uf.size[rootX] < uf.size[rootY] {
		rootX, rootY = rootY, rootX
	}
	uf.parent[rootY] = rootX
	uf.size[rootX] += uf.size[rootY]
	uf.sets--
	return true
}

// Connected reports whether x and y are in the same set.
func (uf *UnionFind) Connected(x, y int) bool { return uf.Find(x) == uf.Find(y) }

// SetSize returns the size of the set containing x.
func (uf *UnionFind) SetSize(x int) int { return uf.size[uf.Find(x)] }

// Sets returns the number of disjoint sets.
func (uf *UnionFind) Sets() int { return uf.sets }
