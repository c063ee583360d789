package entry

import "github.com/lumipallolabs/godu/internal/satmath"

// SubtreeItems returns how many transitive descendant entries e
// contributes when e itself is counted as one item of its parent (per
// §3's "items equals the number of transitive descendant entries").
func SubtreeItems(e *Entry) uint64 {
	if e.Kind == KindDir {
		return satmath.AddClamp(uint64(e.Dir.Items), 1, satmath.MaxItems)
	}
	return 1
}

// subtreeTotals is what a subtree rooted at e currently contributes to
// every ancestor's cumulative counters.
type subtreeTotals struct {
	blocks, size             uint64
	shrBlocks, shrSize       uint64
	items                    uint64
}

func totalsOf(e *Entry) subtreeTotals {
	t := subtreeTotals{items: SubtreeItems(e)}
	switch e.Kind {
	case KindDir:
		t.blocks, t.size = e.Dir.CumBlocks, e.Dir.CumSize
		t.shrBlocks, t.shrSize = e.Dir.SharedBlocks, e.Dir.SharedSize
	case KindLink:
		// A Link's blocks/size are folded into ancestor aggregates by
		// internal/hardlink, not by plain tree recursion, so it
		// contributes nothing here — hardlink.Table.RemoveLink is the
		// caller's other required step when actually removing a Link.
	default:
		t.blocks, t.size = e.Blocks, e.Size
	}
	return t
}

// CumContribution returns what e contributes to a plain recursive sum
// of its parent's cumulative counters: a Dir or leaf's own cumulative
// totals, but zero for a Link — whose contribution to ancestor
// aggregates is owned entirely by internal/hardlink (§4.F), since the
// same inode class may appear as multiple Link entries across a
// subtree and must only be counted once per ancestor.
func CumContribution(e *Entry) (blocks, size uint64) {
	if e.Kind == KindLink {
		return 0, 0
	}
	return e.CumBlocks(), e.CumSize()
}

// ZeroStats recursively zeros the aggregated counters of the subtree
// rooted at e and subtracts e's current contribution from every
// ancestor starting at parent, using saturating subtraction. It does
// not recompute suberr on ancestors — the caller must call UpdateSuberr
// afterward, per §4.A.
func ZeroStats(e *Entry, parent *Entry) {
	t := totalsOf(e)

	for a := parent; a != nil; a = a.Parent {
		d := a.Dir
		d.Lock()
		d.CumBlocks = satmath.SubClamp(d.CumBlocks, t.blocks)
		d.CumSize = satmath.SubClamp(d.CumSize, t.size)
		d.SharedBlocks = satmath.SubClamp(d.SharedBlocks, t.shrBlocks)
		d.SharedSize = satmath.SubClamp(d.SharedSize, t.shrSize)
		items := satmath.SubClamp(uint64(d.Items), t.items)
		d.Items = uint32(satmath.Clamp(items, satmath.MaxItems))
		d.Unlock()
	}

	zeroSubtree(e)
}

func zeroSubtree(e *Entry) {
	if e.Kind != KindDir {
		return
	}
	d := e.Dir
	d.CumBlocks, d.CumSize = 0, 0
	d.SharedBlocks, d.SharedSize = 0, 0
	d.Items = 0
	for _, c := range d.Children {
		zeroSubtree(c)
	}
}

// UpdateSuberr recomputes dir.Suberr from its immediate children only
// (non-transitive): true iff some child is itself in error, or is a Dir
// whose own suberr bit is already set.
func UpdateSuberr(dir *Entry) {
	d := dir.Dir
	d.Lock()
	defer d.Unlock()

	suberr := false
	for _, c := range d.Children {
		switch c.Kind {
		case KindDir:
			if c.Dir.Err || c.Dir.Suberr {
				suberr = true
			}
		case KindSpecial:
			if c.SpecialKind == SpecialReadError {
				suberr = true
			}
		}
		if suberr {
			break
		}
	}
	d.Suberr = suberr
}

// Destroy releases e. Go's GC reclaims the node once it is unreachable;
// this exists only so callers mirror the create/destroy pairing of
// spec.md §4.A.
func Destroy(*Entry) {}
