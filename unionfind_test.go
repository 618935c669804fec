package phylo

import "testing"

func TestNewUnionFind(t *testing.T) {
	uf := NewUnionFind(5)

	// Each element should be its own root.
	for i := 0; i < 5; i++ {
		if root := uf.Find(i); root != i {
			t.Errorf("Find(%d) = %d, want %d", i, root, i)
		}
		if size := uf.SetSize(i); size != 1 {
			t.Errorf("SetSize(%d) = %d, want 1", i, size)
		}
	}
	if uf.Sets() != 5 {
		t.Errorf("Sets() = %d, want 5", uf.Sets())
	}
}

func TestUnionFind_UnionTwoElements(t *testing.T) {
	uf := NewUnionFind(5)
	if !uf.Union(1, 3) {
		t.Fatal("Union(1,3) of distinct sets returned false")
	}
	if !uf.Connected(1, 3) {
		t.Error("after Union(1,3), 1 and 3 are not connected")
	}
	if uf.SetSize(3) != 2 {
		t.Errorf("SetSize(3) = %d, want 2", uf.SetSize(3))
	}
	if uf.Sets() != 4 {
		t.Errorf("Sets() = %d, want 4", uf.Sets())
	}

	// A repeated union reports the cycle.
	if uf.Union(3, 1) {
		t.Error("Union(3,1) of the same set returned true")
	}
	if uf.Sets() != 4 {
		t.Errorf("Sets() after repeated union = %d, want 4", uf.Sets())
	}
}

func TestUnionFind_MultipleUnions(t *testing.T) {
	uf := NewUnionFind(6)

	// Union {0,1,2} and {3,4,5}.
	uf.Union(0, 1)
	uf.Union(1, 2)
	uf.Union(3, 4)
	uf.Union(4, 5)

	if !uf.Connected(0, 2) {
		t.Error("0 and 2 should be in same set")
	}
	if !uf.Connected(3, 5) {
		t.Error("3 and 5 should be in same set")
	}
	if uf.Connected(0, 3) {
		t.Error("0 and 3 should be in different sets")
	}

	uf.Union(2, 4)
	for i := 1; i < 6; i++ {
		if !uf.Connected(0, i) {
			t.Errorf("after full union, %d is not connected to 0", i)
		}
	}
	if uf.SetSize(0) != 6 {
		t.Errorf("SetSize(0) = %d, want 6", uf.SetSize(0))
	}
	if uf.Sets() != 1 {
		t.Errorf("Sets() = %d, want 1", uf.Sets())
	}
}

func TestUnionFind_PathCompression(t *testing.T) {
	uf := NewUnionFind(5)

	// Create a chain: 0←1←2←3←4
	uf.Union(0, 1)
	uf.Union(uf.Find(0), 2)
	uf.Union(uf.Find(0), 3)
	uf.Union(uf.Find(0), 4)

	// Find(4) should compress path.
	root := uf.Find(4)
	if uf.parent[4] != root && uf.parent[4] != -1 {
		t.Errorf("after Find(4), parent[4] = %d, want root %d", uf.parent[4], root)
	}
}

func TestUnionFind_UnionBySize(t *testing.T) {
	uf := NewUnionFind(4)

	// Union {0,1,2} → size 3.
	uf.Union(0, 1)
	uf.Union(0, 2)

	bigRoot := uf.Find(0)

	// Union with single element 3 → smaller attaches to larger.
	uf.Union(3, 0)
	newRoot := uf.Find(3)

	if newRoot != bigRoot {
		t.Errorf("expected union-by-size: small tree attaches to big root %d, got root %d", bigRoot, newRoot)
	}
}
