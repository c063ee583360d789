// Package entry implements the tagged-variant entry model of §4.A: one
// node type per filesystem entity kind (dir, regular file, non-regular,
// hardlink, special), plus the optional extended-metadata record.
//
// This generalizes the teacher's single flat model.Node
// (lumipallolabs/diskdive's internal/model/node.go) into a tagged union,
// since hardlinks and specials carry fields a plain size/name/children
// node has no room for.
package entry

import "sync"

// Kind discriminates the entry variant.
type Kind uint8

const (
	KindDir Kind = iota
	KindFile
	KindNonReg
	KindLink
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindNonReg:
		return "nonreg"
	case KindLink:
		return "link"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// SpecialKind names the reason a Special entry carries no size.
type SpecialKind uint8

const (
	SpecialReadError SpecialKind = iota
	SpecialPattern
	SpecialOtherFS
	SpecialKernfs
)

func (s SpecialKind) String() string {
	switch s {
	case SpecialReadError:
		return "read_error"
	case SpecialPattern:
		return "pattern"
	case SpecialOtherFS:
		return "otherfs"
	case SpecialKernfs:
		return "kernfs"
	default:
		return "unknown"
	}
}

// Ext is the optional extended-metadata record; each field is
// individually present/absent per spec.md §3.
type Ext struct {
	MTime      int64
	HasMTime   bool
	UID        uint32
	HasUID     bool
	GID        uint32
	HasGID     bool
	Mode       uint32
	HasMode    bool
}

// Entry is one node in the scanned tree. Name is an opaque byte string:
// it is not required to be valid UTF-8, must be non-empty, and must
// contain neither '/' nor a NUL byte.
type Entry struct {
	Kind   Kind
	Name   []byte
	Parent *Entry
	Ext    *Ext

	// Own apparent size (bytes) and disk usage (512-byte blocks) for
	// File, NonReg, Link, and a Dir's own inode. Unused for Special.
	Size   uint64
	Blocks uint64

	// Link-only.
	Dev   uint32
	Inode uint64
	Nlink uint32

	// Special-only.
	SpecialKind SpecialKind

	// Dir-only payload.
	Dir *DirData
}

// DirData holds the aggregation state and child list of a Dir entry.
type DirData struct {
	mu sync.Mutex

	Children []*Entry
	ByName   map[string]*Entry

	Dev uint32 // interned device id; defaults to parent's

	OwnBlocks uint64 // the directory inode's own disk usage
	OwnSize   uint64

	CumBlocks uint64 // own + Σ children, saturating, hardlink-adjusted
	CumSize   uint64

	SharedBlocks uint64
	SharedSize   uint64

	Items uint32 // transitive descendant count, saturating at 2^32-1

	Err    bool // this Dir's own read error
	Suberr bool // true iff any transitive descendant has a read error
}

// Lock/Unlock expose the per-Dir mutex final() uses while applying
// child-provided deltas (§4.E final, §5 ordering guarantees).
func (d *DirData) Lock()   { d.mu.Lock() }
func (d *DirData) Unlock() { d.mu.Unlock() }

// NewDir allocates a Dir entry with the given name, parented under
// parent (nil for the scan root). The child device id defaults to the
// parent's per §3's invariant; callers override Dir.Dev when the device
// actually differs.
func NewDir(name []byte, parent *Entry) *Entry {
	e := &Entry{
		Kind:   KindDir,
		Name:   name,
		Parent: parent,
		Dir: &DirData{
			ByName: make(map[string]*Entry, 8),
		},
	}
	if parent != nil {
		e.Dir.Dev = parent.Dir.Dev
	}
	return e
}

// NewFile allocates a regular-file entry.
func NewFile(name []byte, parent *Entry, size, blocks uint64) *Entry {
	return &Entry{Kind: KindFile, Name: name, Parent: parent, Size: size, Blocks: blocks}
}

// NewNonReg allocates a device/socket/fifo entry.
func NewNonReg(name []byte, parent *Entry, size, blocks uint64) *Entry {
	return &Entry{Kind: KindNonReg, Name: name, Parent: parent, Size: size, Blocks: blocks}
}

// NewLink allocates a hardlink entry. It still needs to be registered
// with the inode table (internal/hardlink) by the caller.
func NewLink(name []byte, parent *Entry, size, blocks uint64, dev uint32, inode uint64, nlink uint32) *Entry {
	return &Entry{
		Kind: KindLink, Name: name, Parent: parent,
		Size: size, Blocks: blocks, Dev: dev, Inode: inode, Nlink: nlink,
	}
}

// NewSpecial allocates a special (no-size) entry recording why an entry
// was excluded or failed.
func NewSpecial(name []byte, parent *Entry, kind SpecialKind) *Entry {
	return &Entry{Kind: KindSpecial, Name: name, Parent: parent, SpecialKind: kind}
}

// IsDir reports whether e is a directory entry.
func (e *Entry) IsDir() bool { return e.Kind == KindDir }

// OwnBlocks and OwnSize return this entry's own contribution, ignoring
// any cumulative aggregation (a Dir's own inode cost, or a leaf's full
// size/blocks).
func (e *Entry) OwnBlocks() uint64 {
	if e.Kind == KindDir {
		return e.Dir.OwnBlocks
	}
	return e.Blocks
}

func (e *Entry) OwnSize() uint64 {
	if e.Kind == KindDir {
		return e.Dir.OwnSize
	}
	return e.Size
}

// CumBlocks and CumSize return the cumulative (own + descendants) totals
// for a Dir, or the leaf's own totals otherwise.
func (e *Entry) CumBlocks() uint64 {
	if e.Kind == KindDir {
		return e.Dir.CumBlocks
	}
	return e.Blocks
}

func (e *Entry) CumSize() uint64 {
	if e.Kind == KindDir {
		return e.Dir.CumSize
	}
	return e.Size
}
