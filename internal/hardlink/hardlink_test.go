package hardlink

import (
	"testing"

	"github.com/lumipallolabs/godu/internal/entry"
)

// mkdir builds a bare Dir entry parented under parent.
func mkdir(name string, parent *entry.Entry) *entry.Entry {
	return entry.NewDir([]byte(name), parent)
}

// TestFullyContainedClassHasNoSharedAttribution exercises spec scenario
// (b): two links to the same inode, both living under the same root,
// contribute their size once and no shared bytes.
func TestFullyContainedClassHasNoSharedAttribution(t *testing.T) {
	r := mkdir("r", nil)
	x := entry.NewLink([]byte("x"), r, 1000, 16, 1, 42, 2)
	y := entry.NewLink([]byte("y"), r, 1000, 16, 1, 42, 2)

	tbl := NewTable()
	tbl.AddLink(x)
	tbl.AddLink(y)
	tbl.AddAllStats(nil)

	if r.Dir.CumSize != 1000 || r.Dir.CumBlocks != 16 {
		t.Fatalf("r.cum = (%d, %d), want (1000, 16)", r.Dir.CumSize, r.Dir.CumBlocks)
	}
	if r.Dir.SharedSize != 0 || r.Dir.SharedBlocks != 0 {
		t.Fatalf("r.shared = (%d, %d), want (0, 0): both links live under r", r.Dir.SharedSize, r.Dir.SharedBlocks)
	}
}

// TestPartiallyContainedClassIsShared exercises spec scenario (c): a
// class with a declared nlink of 2 where only one link is actually
// visible in this scan (the other lives outside the scanned root) is
// attributed to r's shared_* counters, per §8 invariant 4.
func TestPartiallyContainedClassIsShared(t *testing.T) {
	r := mkdir("r", nil)
	x := entry.NewLink([]byte("x"), r, 1000, 16, 1, 42, 2)

	tbl := NewTable()
	tbl.AddLink(x)
	tbl.AddAllStats(nil)

	if r.Dir.CumSize != 1000 || r.Dir.CumBlocks != 16 {
		t.Fatalf("r.cum = (%d, %d), want (1000, 16)", r.Dir.CumSize, r.Dir.CumBlocks)
	}
	if r.Dir.SharedSize != 1000 || r.Dir.SharedBlocks != 16 {
		t.Fatalf("r.shared = (%d, %d), want (1000, 16): declared nlink=2 but only 1 link is visible", r.Dir.SharedSize, r.Dir.SharedBlocks)
	}
}

// TestIntermediateAncestorGetsSharedUntilFullyContained checks that every
// ancestor up the chain sees the class as shared until it reaches one
// that contains the whole class, after which it is no longer shared for
// that ancestor or any of its ancestors.
func TestIntermediateAncestorGetsSharedUntilFullyContained(t *testing.T) {
	root := mkdir("root", nil)
	s := mkdir("s", root)
	r := mkdir("r", root)
	x := entry.NewLink([]byte("x"), r, 500, 8, 1, 7, 2)
	y := entry.NewLink([]byte("y"), s, 500, 8, 1, 7, 2)

	tbl := NewTable()
	tbl.AddLink(x)
	tbl.AddLink(y)
	tbl.AddAllStats(nil)

	if r.Dir.SharedSize != 500 || r.Dir.SharedBlocks != 8 {
		t.Fatalf("r (contains only x) shared = (%d, %d), want (500, 8)", r.Dir.SharedSize, r.Dir.SharedBlocks)
	}
	if s.Dir.SharedSize != 500 || s.Dir.SharedBlocks != 8 {
		t.Fatalf("s (contains only y) shared = (%d, %d), want (500, 8)", s.Dir.SharedSize, s.Dir.SharedBlocks)
	}
	// root contains the whole class (both x and y) — no shared
	// attribution, but it still gets the size once.
	if root.Dir.SharedSize != 0 || root.Dir.SharedBlocks != 0 {
		t.Fatalf("root (contains the full class) shared = (%d, %d), want (0, 0)", root.Dir.SharedSize, root.Dir.SharedBlocks)
	}
	if root.Dir.CumSize != 500 || root.Dir.CumBlocks != 8 {
		t.Fatalf("root.cum = (%d, %d), want (500, 8): the class counts once, not once per member", root.Dir.CumSize, root.Dir.CumBlocks)
	}
}

// TestInconsistentDeclaredNlinkFallsBackToRingLength covers §4.F's
// inconsistency policy: when ring members disagree on declared nlink,
// the ring's own length wins.
func TestInconsistentDeclaredNlinkFallsBackToRingLength(t *testing.T) {
	r := mkdir("r", nil)
	x := entry.NewLink([]byte("x"), r, 200, 4, 1, 9, 3)
	y := entry.NewLink([]byte("y"), r, 200, 4, 1, 9, 5) // disagrees with x

	tbl := NewTable()
	tbl.AddLink(x)
	tbl.AddLink(y)
	tbl.AddAllStats(nil)

	// Ring length is 2, and both members live under r, so the class is
	// fully contained under the ring-length interpretation: no shared
	// attribution.
	if r.Dir.SharedSize != 0 {
		t.Fatalf("r.shared = %d, want 0 (ring length 2 == count under r)", r.Dir.SharedSize)
	}
	if r.Dir.CumSize != 200 || r.Dir.CumBlocks != 4 {
		t.Fatalf("r.cum = (%d, %d), want (200, 4)", r.Dir.CumSize, r.Dir.CumBlocks)
	}
}

// TestRemoveLinkUndoesContribution checks that removing every member of
// a class and re-aggregating clears the ancestor's contribution
// entirely (the class key itself is dropped once empty).
func TestRemoveLinkUndoesContribution(t *testing.T) {
	r := mkdir("r", nil)
	x := entry.NewLink([]byte("x"), r, 1000, 16, 1, 42, 2)
	y := entry.NewLink([]byte("y"), r, 1000, 16, 1, 42, 2)

	tbl := NewTable()
	tbl.AddLink(x)
	tbl.AddLink(y)
	tbl.AddAllStats(nil)
	if r.Dir.CumSize != 1000 {
		t.Fatalf("setup: r.CumSize = %d, want 1000", r.Dir.CumSize)
	}

	tbl.RemoveLink(x)
	tbl.RemoveLink(y)
	tbl.AddAllStats(nil)

	if r.Dir.CumSize != 0 || r.Dir.CumBlocks != 0 {
		t.Fatalf("after removing every member, r.cum = (%d, %d), want (0, 0)", r.Dir.CumSize, r.Dir.CumBlocks)
	}
}

// TestManyClassesAggregateCorrectlyRegardlessOfSweepMode checks that the
// full-sweep/pending-set bookkeeping of §4.F's "uncounted" accelerator
// never loses a class: adding many distinct inode classes under one
// ancestor without an intervening AddAllStats call (which is exactly
// the condition that trips the one-eighth full-sweep threshold) still
// yields a correct final aggregate.
func TestManyClassesAggregateCorrectlyRegardlessOfSweepMode(t *testing.T) {
	tbl := NewTable()
	r := mkdir("r", nil)

	for i := 0; i < 9; i++ {
		l1 := entry.NewLink([]byte("l1"), r, 100, 2, 1, uint64(i+1), 2)
		l2 := entry.NewLink([]byte("l2"), r, 100, 2, 1, uint64(i+1), 2)
		tbl.AddLink(l1)
		tbl.AddLink(l2)
	}

	tbl.AddAllStats(nil)
	if r.Dir.CumSize != 900 {
		t.Fatalf("r.CumSize = %d, want 900 (9 classes x 100, each counted once)", r.Dir.CumSize)
	}
	if r.Dir.CumBlocks != 18 {
		t.Fatalf("r.CumBlocks = %d, want 18 (9 classes x 2)", r.Dir.CumBlocks)
	}
}
