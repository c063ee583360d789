package entry

import "testing"

// buildTree constructs root/a/{f(100,8), b(200,8)} with cumulative
// aggregates already rolled up, mirroring what memtree.Dir.Final would
// have produced, so ZeroStats/UpdateSuberr can be exercised directly
// without a real scan.
func buildTree() (root, dirA, fileF, fileB *Entry) {
	root = NewDir([]byte("root"), nil)
	dirA = NewDir([]byte("a"), root)
	root.Dir.Children = append(root.Dir.Children, dirA)

	fileF = NewFile([]byte("f"), dirA, 100, 8)
	fileB = NewFile([]byte("b"), dirA, 200, 8)
	dirA.Dir.Children = append(dirA.Dir.Children, fileF, fileB)

	dirA.Dir.CumSize, dirA.Dir.CumBlocks = 300, 16
	dirA.Dir.Items = 2

	root.Dir.CumSize, root.Dir.CumBlocks = 300, 16
	root.Dir.Items = 3

	return root, dirA, fileF, fileB
}

func TestZeroStatsSubtractsFromAncestors(t *testing.T) {
	root, dirA, fileF, _ := buildTree()

	ZeroStats(fileF, dirA)

	if dirA.Dir.CumSize != 200 || dirA.Dir.CumBlocks != 8 {
		t.Fatalf("dirA cum = (%d, %d), want (200, 8)", dirA.Dir.CumSize, dirA.Dir.CumBlocks)
	}
	if root.Dir.CumSize != 200 || root.Dir.CumBlocks != 8 {
		t.Fatalf("root cum = (%d, %d), want (200, 8)", root.Dir.CumSize, root.Dir.CumBlocks)
	}
	if dirA.Dir.Items != 1 || root.Dir.Items != 2 {
		t.Fatalf("items = (dirA=%d, root=%d), want (1, 2)", dirA.Dir.Items, root.Dir.Items)
	}
}

func TestZeroStatsNeverUnderflows(t *testing.T) {
	root, dirA, fileF, fileB := buildTree()

	ZeroStats(fileF, dirA)
	ZeroStats(fileB, dirA)
	// A third subtraction with nothing left to give must saturate at
	// zero, not wrap to a huge uint64.
	ZeroStats(fileF, dirA)

	if dirA.Dir.CumSize != 0 || dirA.Dir.CumBlocks != 0 {
		t.Fatalf("dirA cum = (%d, %d), want (0, 0)", dirA.Dir.CumSize, dirA.Dir.CumBlocks)
	}
	if root.Dir.CumSize != 0 || root.Dir.CumBlocks != 0 {
		t.Fatalf("root cum = (%d, %d), want (0, 0)", root.Dir.CumSize, root.Dir.CumBlocks)
	}
	if dirA.Dir.Items != 0 || root.Dir.Items != 0 {
		t.Fatalf("items = (dirA=%d, root=%d), want (0, 0)", dirA.Dir.Items, root.Dir.Items)
	}
}

func TestZeroStatsZeroesSubtreeRecursively(t *testing.T) {
	root := NewDir([]byte("root"), nil)
	dirA := NewDir([]byte("a"), root)
	root.Dir.Children = append(root.Dir.Children, dirA)
	f := NewFile([]byte("f"), dirA, 100, 8)
	dirA.Dir.Children = append(dirA.Dir.Children, f)
	dirA.Dir.CumSize, dirA.Dir.CumBlocks, dirA.Dir.Items = 100, 8, 1
	root.Dir.CumSize, root.Dir.CumBlocks, root.Dir.Items = 100, 8, 2

	ZeroStats(dirA, root)

	if dirA.Dir.CumSize != 0 || dirA.Dir.CumBlocks != 0 || dirA.Dir.Items != 0 {
		t.Fatalf("dirA's own counters should be zeroed, got cum=(%d,%d) items=%d",
			dirA.Dir.CumSize, dirA.Dir.CumBlocks, dirA.Dir.Items)
	}
	if root.Dir.CumSize != 0 || root.Dir.CumBlocks != 0 || root.Dir.Items != 0 {
		t.Fatalf("root counters should be zeroed by subtracting dirA's prior totals, got cum=(%d,%d) items=%d",
			root.Dir.CumSize, root.Dir.CumBlocks, root.Dir.Items)
	}
}

func TestUpdateSuberrFromChildren(t *testing.T) {
	root := NewDir([]byte("root"), nil)
	clean := NewDir([]byte("clean"), root)
	broken := NewDir([]byte("broken"), root)
	root.Dir.Children = append(root.Dir.Children, clean, broken)

	UpdateSuberr(root)
	if root.Dir.Suberr {
		t.Fatal("expected suberr=false with no erroring children")
	}

	broken.Dir.Err = true
	UpdateSuberr(root)
	if !root.Dir.Suberr {
		t.Fatal("expected suberr=true once a child's own Err bit is set")
	}
}

func TestUpdateSuberrIsNotTransitive(t *testing.T) {
	root := NewDir([]byte("root"), nil)
	mid := NewDir([]byte("mid"), root)
	root.Dir.Children = append(root.Dir.Children, mid)
	leaf := NewDir([]byte("leaf"), mid)
	mid.Dir.Children = append(mid.Dir.Children, leaf)
	leaf.Dir.Err = true

	UpdateSuberr(mid)
	if !mid.Dir.Suberr {
		t.Fatal("mid should see leaf's own error")
	}

	// root's suberr must be recomputed explicitly from mid — it is not
	// automatically propagated by UpdateSuberr(mid).
	if root.Dir.Suberr {
		t.Fatal("root.Suberr should still be false until UpdateSuberr(root) runs")
	}
	UpdateSuberr(root)
	if !root.Dir.Suberr {
		t.Fatal("root should see mid's suberr bit once recomputed")
	}
}

func TestUpdateSuberrViaReadErrorSpecial(t *testing.T) {
	root := NewDir([]byte("root"), nil)
	sp := NewSpecial([]byte("forbidden"), root, SpecialReadError)
	root.Dir.Children = append(root.Dir.Children, sp)

	UpdateSuberr(root)
	if !root.Dir.Suberr {
		t.Fatal("a read-error special child should set suberr")
	}
}

func TestSubtreeItemsLeafIsOne(t *testing.T) {
	f := NewFile([]byte("f"), nil, 1, 1)
	if got := SubtreeItems(f); got != 1 {
		t.Fatalf("SubtreeItems(leaf) = %d, want 1", got)
	}
}

func TestSubtreeItemsDirIncludesSelf(t *testing.T) {
	d := NewDir([]byte("d"), nil)
	d.Dir.Items = 5
	if got := SubtreeItems(d); got != 6 {
		t.Fatalf("SubtreeItems(dir with 5 descendants) = %d, want 6", got)
	}
}

func TestCumContributionIgnoresLinks(t *testing.T) {
	l := NewLink([]byte("l"), nil, 1000, 16, 1, 42, 2)
	blocks, size := CumContribution(l)
	if blocks != 0 || size != 0 {
		t.Fatalf("CumContribution(link) = (%d, %d), want (0, 0): links are aggregated by internal/hardlink, not tree recursion", blocks, size)
	}

	f := NewFile([]byte("f"), nil, 1000, 16)
	blocks, size = CumContribution(f)
	if blocks != 16 || size != 1000 {
		t.Fatalf("CumContribution(file) = (%d, %d), want (16, 1000)", blocks, size)
	}
}
