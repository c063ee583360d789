// Package hardlink implements the inode equivalence-class accounting of
// §4.F: grouping Link entries that share (device, inode), and folding
// their size into every ancestor that contains some but not all of the
// class, while avoiding double-counting for ancestors that contain all
// of it.
//
// The teacher (diskdive) has no equivalent — it doesn't special-case
// hardlinks at all — so this is grounded directly on spec.md §4.F, with
// the ring represented as a plain slice (§9 explicitly allows "any
// equivalence-class representation").
package hardlink

import (
	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/satmath"
)

// ProgressSampleInterval is how often AddAllStats reports progress, per
// spec.md §4.F ("sampled at a ~64-item interval").
const ProgressSampleInterval = 64

type classKey struct {
	dev uint32
	ino uint64
}

type class struct {
	members []*entry.Entry

	counted  bool
	snapshot map[*entry.Entry]bool // ancestor -> whether shared_* was applied
	apBlocks uint64
	apSize   uint64
}

// Table is the per-scan inode table.
type Table struct {
	classes   map[classKey]*class
	pending   map[classKey]struct{}
	fullSweep bool
}

// NewTable allocates an empty inode table.
func NewTable() *Table {
	return &Table{
		classes: make(map[classKey]*class),
		pending: make(map[classKey]struct{}),
	}
}

func keyOf(l *entry.Entry) classKey { return classKey{dev: l.Dev, ino: l.Inode} }

// AddLink registers a newly scanned hardlink with its equivalence class
// and marks the class uncounted.
func (t *Table) AddLink(l *entry.Entry) {
	k := keyOf(l)
	c, ok := t.classes[k]
	if !ok {
		c = &class{}
		t.classes[k] = c
	}
	c.members = append(c.members, l)
	t.markPending(k)
}

// RemoveLink unlinks l from its class and marks the class pending so a
// subsequent AddAllStats notices the change. An emptied class that was
// never counted is removed at once; an emptied counted class stays until
// that AddAllStats has undone its contribution and then drops it.
func (t *Table) RemoveLink(l *entry.Entry) {
	k := keyOf(l)
	c, ok := t.classes[k]
	if !ok {
		return
	}
	for i, m := range c.members {
		if m == l {
			c.members = append(c.members[:i], c.members[i+1:]...)
			break
		}
	}
	if len(c.members) == 0 && !c.counted {
		delete(t.classes, k)
		delete(t.pending, k)
		return
	}
	t.markPending(k)
}

func (t *Table) markPending(k classKey) {
	t.pending[k] = struct{}{}
	if len(t.classes) > 0 && len(t.pending)*8 > len(t.classes) {
		t.fullSweep = true
		t.pending = make(map[classKey]struct{})
	}
}

// effectiveNlink returns the declared nlink if every member agrees, or
// the ring length otherwise (§4.F inconsistency policy).
func effectiveNlink(members []*entry.Entry) uint32 {
	if len(members) == 0 {
		return 0
	}
	n := members[0].Nlink
	for _, m := range members[1:] {
		if m.Nlink != n {
			return uint32(len(members))
		}
	}
	if n == 0 {
		return uint32(len(members))
	}
	return n
}

// ancestorCounts walks every member's parent chain to the root, counting
// how many ring members live under each ancestor Dir.
func ancestorCounts(members []*entry.Entry) map[*entry.Entry]uint32 {
	counts := make(map[*entry.Entry]uint32)
	for _, m := range members {
		for a := m.Parent; a != nil; a = a.Parent {
			counts[a]++
		}
	}
	return counts
}

func addAncestor(a *entry.Entry, blocks, size uint64, add bool) {
	d := a.Dir
	d.Lock()
	if add {
		d.CumBlocks = satmath.AddClamp(d.CumBlocks, blocks, satmath.MaxBlocks)
		d.CumSize = satmath.AddClamp(d.CumSize, size, satmath.MaxBlocks)
	} else {
		d.CumBlocks = satmath.SubClamp(d.CumBlocks, blocks)
		d.CumSize = satmath.SubClamp(d.CumSize, size)
	}
	d.Unlock()
}

func addAncestorShared(a *entry.Entry, blocks, size uint64, add bool) {
	d := a.Dir
	d.Lock()
	if add {
		d.SharedBlocks = satmath.AddClamp(d.SharedBlocks, blocks, satmath.MaxBlocks)
		d.SharedSize = satmath.AddClamp(d.SharedSize, size, satmath.MaxBlocks)
	} else {
		d.SharedBlocks = satmath.SubClamp(d.SharedBlocks, blocks)
		d.SharedSize = satmath.SubClamp(d.SharedSize, size)
	}
	d.Unlock()
}

// SetStats applies (add=true) or undoes (add=false) one class's
// contribution to its current ancestor set, per §4.F's set_stats. It is
// exported for direct use by tests exercising the invariant in spec.md
// §8.4; normal operation drives it through AddAllStats.
func (t *Table) SetStats(k classKey, add bool) {
	c, ok := t.classes[k]
	if !ok || (add && len(c.members) == 0) {
		return
	}
	if add {
		counts := ancestorCounts(c.members)
		nlink := effectiveNlink(c.members)
		blocks, size := c.members[0].Blocks, c.members[0].Size
		snap := make(map[*entry.Entry]bool, len(counts))
		for a, cnt := range counts {
			addAncestor(a, blocks, size, true)
			shared := cnt < nlink
			if shared {
				addAncestorShared(a, blocks, size, true)
			}
			snap[a] = shared
		}
		c.snapshot, c.apBlocks, c.apSize = snap, blocks, size
	} else {
		for a, shared := range c.snapshot {
			addAncestor(a, c.apBlocks, c.apSize, false)
			if shared {
				addAncestorShared(a, c.apBlocks, c.apSize, false)
			}
		}
		c.snapshot = nil
	}
}

func (t *Table) recount(k classKey) {
	c, ok := t.classes[k]
	if !ok {
		return
	}
	if c.counted {
		t.SetStats(k, false)
		c.counted = false
	}
	if len(c.members) == 0 {
		delete(t.classes, k)
		return
	}
	t.SetStats(k, true)
	c.counted = true
}

// AddAllStats re-aggregates every class needing it: the whole map if a
// full sweep was raised, otherwise just the pending set. progress, if
// non-nil, is called roughly every ProgressSampleInterval classes with a
// monotonic (done, total) pair.
func (t *Table) AddAllStats(progress func(done, total int)) {
	var keys []classKey
	if t.fullSweep {
		keys = make([]classKey, 0, len(t.classes))
		for k := range t.classes {
			keys = append(keys, k)
		}
		t.fullSweep = false
	} else {
		keys = make([]classKey, 0, len(t.pending))
		for k := range t.pending {
			keys = append(keys, k)
		}
	}
	t.pending = make(map[classKey]struct{})

	total := len(keys)
	for i, k := range keys {
		t.recount(k)
		done := i + 1
		if progress != nil && (done%ProgressSampleInterval == 0 || done == total) {
			progress(done, total)
		}
	}
}
