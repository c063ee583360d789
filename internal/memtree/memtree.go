// Package memtree implements the in-memory aggregation sink of §4.E: it
// builds the scanned tree, reuses existing nodes in place on refresh,
// and triggers hardlink aggregation once the whole scan has finished.
//
// Grounded on the teacher's tree-building pass
// (lumipallolabs/diskdive's scanner.Walker.buildTree and
// model.Node.ComputeSizes) and its path-map-based refresh merge
// (internal/cache/diff.go's ApplyDiff/buildPathMap), generalized from a
// two-pass flat-entries-to-tree build into the scanner's streaming
// addStat/addDir/final protocol.
package memtree

import (
	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/hardlink"
	"github.com/lumipallolabs/godu/internal/satmath"
	"github.com/lumipallolabs/godu/internal/sink"
)

// Backend is the memory-sink implementation of sink.Backend.
type Backend struct {
	HL *hardlink.Table
}

// NewBackend allocates a fresh memory-sink backend with its own inode
// table.
func NewBackend() *Backend {
	return &Backend{HL: hardlink.NewTable()}
}

// MaxThreads reports that the memory sink is thread-safe without limit.
func (b *Backend) MaxThreads() int { return 0 }

// CreateRoot builds the root Dir entry.
func (b *Backend) CreateRoot(name []byte, st *sink.Stat) sink.BackendDir {
	root := entry.NewDir(name, nil)
	root.Dir.Dev = st.Dev
	root.Dir.OwnBlocks = st.Blocks
	root.Dir.OwnSize = st.Size
	root.Ext = st.Ext
	return &Dir{entry: root, hl: b.HL, seen: make(map[string]struct{})}
}

// Dir is the memory sink's per-directory state for one scan pass.
type Dir struct {
	entry *entry.Entry
	hl    *hardlink.Table
	seen  map[string]struct{}
}

// WrapExisting returns a Dir backend wrapping target for a refresh
// pass: its own apparent/disk size and extended metadata are updated
// from st, and a fresh seen set is started so the rescan's eventual
// Final call drops any child not revisited — exactly the "rescans a
// subtree... merging in place" behavior of §2 component D's data flow,
// reusing the same reuse-or-replace logic AddStat/AddDir already give
// an ordinary incremental scan.
func WrapExisting(target *entry.Entry, hl *hardlink.Table, st *sink.Stat) *Dir {
	target.Dir.Lock()
	target.Dir.OwnBlocks, target.Dir.OwnSize = st.Blocks, st.Size
	if st.Dev != 0 {
		target.Dir.Dev = st.Dev
	}
	target.Dir.Err = false
	target.Dir.Unlock()
	target.Ext = st.Ext
	return &Dir{entry: target, hl: hl, seen: make(map[string]struct{})}
}

// Entry returns the underlying tree node — used by callers that need
// the finished tree (the CLI, the browser, re-export).
func (d *Dir) Entry() *entry.Entry { return d.entry }

func matchesLeaf(e *entry.Entry, st *sink.Stat) bool {
	if e.Kind != st.Kind {
		return false
	}
	if st.Kind == entry.KindLink {
		return e.Dev == st.Dev && e.Inode == st.Inode
	}
	return true
}

// AddStat reuses an existing child of matching kind (+device/inode for
// links) or inserts a new one. t is unused: the memory sink keeps no
// per-worker buffers.
func (d *Dir) AddStat(t *sink.Thread, name []byte, st *sink.Stat) {
	key := string(name)
	if existing, ok := d.entry.Dir.ByName[key]; ok && matchesLeaf(existing, st) {
		if existing.Kind == entry.KindLink {
			d.hl.RemoveLink(existing)
		}
		existing.Size, existing.Blocks = st.Size, st.Blocks
		existing.Nlink = st.Nlink
		existing.Ext = st.Ext
		if existing.Kind == entry.KindLink {
			d.hl.AddLink(existing)
		}
		d.seen[key] = struct{}{}
		return
	}

	d.dropExisting(key)

	var e *entry.Entry
	switch st.Kind {
	case entry.KindFile:
		e = entry.NewFile(name, d.entry, st.Size, st.Blocks)
	case entry.KindNonReg:
		e = entry.NewNonReg(name, d.entry, st.Size, st.Blocks)
	case entry.KindLink:
		e = entry.NewLink(name, d.entry, st.Size, st.Blocks, st.Dev, st.Inode, st.Nlink)
		d.hl.AddLink(e)
	default:
		e = entry.NewFile(name, d.entry, st.Size, st.Blocks)
	}
	e.Ext = st.Ext
	d.insert(key, e)
}

// AddDir reuses an existing child Dir of the same name, or creates one.
func (d *Dir) AddDir(t *sink.Thread, name []byte, st *sink.Stat) sink.BackendDir {
	key := string(name)
	if existing, ok := d.entry.Dir.ByName[key]; ok && existing.Kind == entry.KindDir {
		existing.Dir.OwnBlocks, existing.Dir.OwnSize = st.Blocks, st.Size
		if st.Dev != 0 {
			existing.Dir.Dev = st.Dev
		}
		existing.Ext = st.Ext
		d.seen[key] = struct{}{}
		return &Dir{entry: existing, hl: d.hl, seen: make(map[string]struct{})}
	}

	d.dropExisting(key)

	child := entry.NewDir(name, d.entry)
	child.Dir.OwnBlocks, child.Dir.OwnSize = st.Blocks, st.Size
	if st.Dev != 0 {
		child.Dir.Dev = st.Dev
	}
	child.Ext = st.Ext
	d.insert(key, child)
	return &Dir{entry: child, hl: d.hl, seen: make(map[string]struct{})}
}

// AddSpecial records a no-size special entry, replacing any prior entry
// of the same name.
func (d *Dir) AddSpecial(t *sink.Thread, name []byte, kind entry.SpecialKind) {
	key := string(name)
	d.dropExisting(key)
	e := entry.NewSpecial(name, d.entry, kind)
	d.insert(key, e)
}

// SetReadError sets this Dir's own error bit.
func (d *Dir) SetReadError() {
	d.entry.Dir.Lock()
	d.entry.Dir.Err = true
	d.entry.Dir.Unlock()
}

// dropExisting removes any current child under key without regard to
// "seen" bookkeeping — used when a name is being replaced with an entry
// of a different kind within the same pass.
func (d *Dir) dropExisting(key string) {
	existing, ok := d.entry.Dir.ByName[key]
	if !ok {
		return
	}
	entry.ZeroStats(existing, d.entry)
	if existing.Kind == entry.KindLink {
		d.hl.RemoveLink(existing)
	}
	delete(d.entry.Dir.ByName, key)
	for i, c := range d.entry.Dir.Children {
		if c == existing {
			d.entry.Dir.Children = append(d.entry.Dir.Children[:i], d.entry.Dir.Children[i+1:]...)
			break
		}
	}
	entry.Destroy(existing)
}

func (d *Dir) insert(key string, e *entry.Entry) {
	d.entry.Dir.Children = append(d.entry.Dir.Children, e)
	d.entry.Dir.ByName[key] = e
	d.seen[key] = struct{}{}
}

// Final removes children not visited this pass, recomputes this Dir's
// cumulative aggregates from its current children (§8 invariant 3,
// excluding Link contributions which internal/hardlink owns), and
// recomputes suberr. parent is unused here — the sink package's RefDir
// wrapper already guarantees children finalize before parents.
func (d *Dir) Final(sink.BackendDir) {
	kept := d.entry.Dir.Children[:0:0]
	for _, c := range d.entry.Dir.Children {
		key := string(c.Name)
		if _, ok := d.seen[key]; ok {
			kept = append(kept, c)
			continue
		}
		entry.ZeroStats(c, d.entry)
		if c.Kind == entry.KindLink {
			d.hl.RemoveLink(c)
		}
		delete(d.entry.Dir.ByName, key)
		entry.Destroy(c)
	}
	d.entry.Dir.Children = kept

	var cumBlocks, cumSize, items uint64
	for _, c := range kept {
		b, s := entry.CumContribution(c)
		cumBlocks = satmath.AddClamp(cumBlocks, b, satmath.MaxBlocks)
		cumSize = satmath.AddClamp(cumSize, s, satmath.MaxBlocks)
		items = satmath.AddClamp(items, entry.SubtreeItems(c), satmath.MaxItems)
	}

	d.entry.Dir.Lock()
	d.entry.Dir.CumBlocks = satmath.AddClamp(d.entry.Dir.OwnBlocks, cumBlocks, satmath.MaxBlocks)
	d.entry.Dir.CumSize = satmath.AddClamp(d.entry.Dir.OwnSize, cumSize, satmath.MaxBlocks)
	d.entry.Dir.Items = uint32(satmath.Clamp(items, satmath.MaxItems))
	d.entry.Dir.Unlock()

	entry.UpdateSuberr(d.entry)
}

// FinishScan commits hardlink aggregation once the whole scan has
// quiesced (§4.E: "On completion of the whole scan, iterate the inode
// map and commit hardlink aggregates"). No scanner threads may still be
// running when this is called.
func (b *Backend) FinishScan(progress func(done, total int)) {
	b.HL.AddAllStats(progress)
}
