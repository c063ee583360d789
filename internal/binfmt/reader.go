package binfmt

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/sink"
)

// lruSlots is the fixed size of the decompressed-block cache of §4.H:
// "a small fixed number of most-recently-used data blocks, uncompressed,
// kept in memory; eight is enough to walk one directory's sibling chain
// without repeated decompression."
const lruSlots = 8

// Reader provides random access into a binary container written by
// Encode: a decoded itemref resolves to a cursor over one entry's map
// without requiring the whole file to be held in memory.
//
// Grounded on spec.md §4.H directly (the teacher carries no block-cache
// random-access reader of its own); the LRU is a map of decompressed
// block bytes plus a recency-ordered slice of block numbers, evicting
// the oldest once more than lruSlots are held.
type Reader struct {
	ra  io.ReaderAt
	zdec *zstd.Decoder

	index []uint64 // one indexEntry per block, decoded from the trailing index block
	root  uint64

	mu    sync.Mutex
	cache map[uint64][]byte // blockNum -> decompressed payload
	order []uint64          // recency order, oldest first
}

// Open validates ra's signature and trailing index block, returning a
// Reader ready to serve ReadItem/IterateItem calls. size must be the
// total byte length of the container (e.g. from os.File.Stat).
func Open(ra io.ReaderAt, size int64) (*Reader, error) {
	if size < int64(len(Signature))+8 {
		return nil, fmt.Errorf("binfmt: file too small to contain a valid container")
	}

	sig := make([]byte, len(Signature))
	if _, err := ra.ReadAt(sig, 0); err != nil {
		return nil, fmt.Errorf("binfmt: reading signature: %w", err)
	}
	for i, b := range sig {
		if b != Signature[i] {
			return nil, fmt.Errorf("binfmt: bad signature")
		}
	}

	trailer := make([]byte, 4)
	if _, err := ra.ReadAt(trailer, size-4); err != nil {
		return nil, fmt.Errorf("binfmt: reading index trailer: %w", err)
	}
	kind, total := decodeBlockHeader(getU32(trailer))
	if kind != blockKindIndex {
		return nil, fmt.Errorf("binfmt: final block is not an index block (kind %d)", kind)
	}
	if int64(total) > size-int64(len(Signature)) {
		return nil, fmt.Errorf("binfmt: index block length %d exceeds file size", total)
	}

	body := make([]byte, total-8) // minus the 4-byte header and 4-byte trailer
	if _, err := ra.ReadAt(body, size-int64(total)+4); err != nil {
		return nil, fmt.Errorf("binfmt: reading index body: %w", err)
	}
	if len(body) < 8 || len(body)%8 != 0 {
		return nil, fmt.Errorf("binfmt: malformed index body length %d", len(body))
	}

	n := len(body)/8 - 1
	index := make([]uint64, n)
	for i := 0; i < n; i++ {
		index[i] = getU64(body[i*8 : i*8+8])
	}
	root := getU64(body[n*8 : n*8+8])

	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Reader{
		ra: ra, zdec: zdec,
		index: index, root: root,
		cache: make(map[uint64][]byte, lruSlots),
	}, nil
}

// GetRoot returns the itemref of the container's root entry.
func (r *Reader) GetRoot() uint64 { return r.root }

// blockBytes returns blockNum's decompressed payload, serving it from
// the LRU cache when present.
func (r *Reader) blockBytes(blockNum uint64) ([]byte, error) {
	r.mu.Lock()
	if b, ok := r.cache[blockNum]; ok {
		r.touch(blockNum)
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	if blockNum >= uint64(len(r.index)) {
		return nil, fmt.Errorf("binfmt: block number %d out of range (have %d)", blockNum, len(r.index))
	}
	offset, length := splitIndexEntry(r.index[blockNum])

	raw := make([]byte, length)
	if _, err := r.ra.ReadAt(raw, int64(offset)); err != nil {
		return nil, fmt.Errorf("binfmt: reading block %d: %w", blockNum, err)
	}
	kind, total := decodeBlockHeader(getU32(raw))
	if kind != blockKindData {
		return nil, fmt.Errorf("binfmt: block %d has unexpected kind %d", blockNum, kind)
	}
	if total != length {
		return nil, fmt.Errorf("binfmt: block %d header length %d disagrees with index length %d", blockNum, total, length)
	}
	gotNum := getU32(raw[4:8])
	if uint64(gotNum) != blockNum {
		return nil, fmt.Errorf("binfmt: block %d's embedded number %d disagrees with its position", blockNum, gotNum)
	}

	payload, err := r.zdec.DecodeAll(raw[8:len(raw)-4], nil)
	if err != nil {
		return nil, fmt.Errorf("binfmt: decompressing block %d: %w", blockNum, err)
	}

	r.mu.Lock()
	r.cache[blockNum] = payload
	r.touch(blockNum)
	for len(r.order) > lruSlots {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.cache, evict)
	}
	r.mu.Unlock()

	return payload, nil
}

// touch moves blockNum to the end of r.order (most-recently-used); must
// be called with r.mu held.
func (r *Reader) touch(blockNum uint64) {
	for i, b := range r.order {
		if b == blockNum {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append(r.order, blockNum)
}

// field is one decoded key/value-head pair from an entry map.
type field struct {
	key  int
	head head
	buf  []byte // the block this head's trailing bytes live in
	off  int    // offset immediately following the head, for majBytes payloads
}

// Item is a decoded entry: its itemref, and the field list from its
// map, in encoded order.
type Item struct {
	Ref    uint64
	Fields []field
}

// ReadItem decodes the single entry at ref, returning its field list.
// Unknown keys (a newer writer's extension) are preserved in Fields but
// never interpreted.
func (r *Reader) ReadItem(ref uint64) (*Item, error) {
	blockNum, offset := splitItemRef(ref)
	buf, err := r.blockBytes(blockNum)
	if err != nil {
		return nil, err
	}
	if int(offset) >= len(buf) {
		return nil, fmt.Errorf("binfmt: itemref %#x offset %d past block %d end (%d bytes)", ref, offset, blockNum, len(buf))
	}

	h, off, err := readHead(buf, int(offset))
	if err != nil {
		return nil, fmt.Errorf("binfmt: itemref %#x: %w", ref, err)
	}
	if h.major != majMap || h.arg != 31 {
		return nil, fmt.Errorf("binfmt: itemref %#x does not point at an indefinite map", ref)
	}

	item := &Item{Ref: ref}
	for {
		if off >= len(buf) {
			return nil, fmt.Errorf("binfmt: itemref %#x: map runs past end of block", ref)
		}
		if buf[off] == breakByte {
			off++
			break
		}
		kh, next, err := readHead(buf, off)
		if err != nil {
			return nil, fmt.Errorf("binfmt: itemref %#x: reading field key: %w", ref, err)
		}
		key, err := kh.asUint()
		if err != nil {
			return nil, fmt.Errorf("binfmt: itemref %#x: field key is not a pos-int: %w", ref, err)
		}
		off = next

		vh, next, err := readHead(buf, off)
		if err != nil {
			return nil, fmt.Errorf("binfmt: itemref %#x: reading field %d value: %w", ref, key, err)
		}
		off = next
		if vh.major == majBytes || vh.major == majText {
			if off+int(vh.arg) > len(buf) {
				return nil, fmt.Errorf("binfmt: itemref %#x: field %d payload runs past end of block", ref, key)
			}
			item.Fields = append(item.Fields, field{key: int(key), head: vh, buf: buf, off: off})
			off += int(vh.arg)
		} else {
			item.Fields = append(item.Fields, field{key: int(key), head: vh, buf: buf, off: off})
		}
	}
	return item, nil
}

func (it *Item) find(key int) (field, bool) {
	for _, f := range it.Fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

func (it *Item) uint(key int) (uint64, bool, error) {
	f, ok := it.find(key)
	if !ok {
		return 0, false, nil
	}
	v, err := f.head.asUint()
	return v, true, err
}

func (it *Item) sint(key int) (int64, bool, error) {
	f, ok := it.find(key)
	if !ok {
		return 0, false, nil
	}
	v, err := f.head.asInt()
	return v, true, err
}

func (it *Item) bytes(key int) ([]byte, bool) {
	f, ok := it.find(key)
	if !ok || f.head.major != majBytes {
		return nil, false
	}
	return f.buf[f.off : f.off+int(f.head.arg)], true
}

// itemRefField decodes a (possibly relative) itemref value stored under
// key, resolved against self per §4.G/§9: a neg-int argument names a
// target in the same block as self, `self - arg - 1`.
func (it *Item) itemRefField(key int) (uint64, bool, error) {
	f, ok := it.find(key)
	if !ok {
		return 0, false, nil
	}
	switch f.head.major {
	case majPosInt:
		return f.head.arg, true, nil
	case majNegInt:
		blockNum, _ := splitItemRef(it.Ref)
		target := it.Ref - f.head.arg - 1
		gotBlock, _ := splitItemRef(target)
		if gotBlock != blockNum {
			return 0, false, fmt.Errorf("binfmt: relative itemref under key %d resolved outside its block", key)
		}
		return target, true, nil
	default:
		return 0, false, fmt.Errorf("binfmt: key %d is not an itemref (major %d)", key, f.head.major)
	}
}

// decodedEntry is the fully-typed form of one Item, per §4.G's key
// schema — the shared shape ImportTree and ConvertToTextual build on.
type decodedEntry struct {
	etype EType
	name  []byte
	prev  uint64
	hasPrev bool
	sub     uint64
	hasSub  bool

	asize, dsize uint64
	dev          uint32
	hasDev       bool
	rdErr        bool
	subErr       bool
	cumASize, cumDSize     uint64
	shrASize, shrDSize     uint64
	items                  uint32
	ino                    uint64
	nlink                  uint32

	ext *entry.Ext
}

func (it *Item) decode() (*decodedEntry, error) {
	typeVal, ok, err := it.sint(keyType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("binfmt: itemref %#x: missing required key %d (type)", it.Ref, keyType)
	}
	name, ok := it.bytes(keyName)
	if !ok {
		return nil, fmt.Errorf("binfmt: itemref %#x: missing required key %d (name)", it.Ref, keyName)
	}

	d := &decodedEntry{etype: EType(typeVal), name: name}

	if d.prev, d.hasPrev, err = it.itemRefField(keyPrev); err != nil {
		return nil, err
	}
	if d.sub, d.hasSub, err = it.itemRefField(keySub); err != nil {
		return nil, err
	}
	if d.asize, _, err = it.uint(keyASize); err != nil {
		return nil, err
	}
	if d.dsize, _, err = it.uint(keyDSize); err != nil {
		return nil, err
	}
	if dev, ok, err := it.uint(keyDev); err != nil {
		return nil, err
	} else if ok {
		d.dev, d.hasDev = uint32(dev), true
	}
	if f, ok := it.find(keyRdErr); ok {
		if f.head.major != majSimple {
			return nil, fmt.Errorf("binfmt: itemref %#x: key %d is not a simple value", it.Ref, keyRdErr)
		}
		switch byte(f.head.arg) {
		case simpleOwnErr:
			d.rdErr = true
		case simpleSubtreeErr:
			d.subErr = true
		}
	}
	if v, _, err := it.uint(keyCumASize); err != nil {
		return nil, err
	} else {
		d.cumASize = v
	}
	if v, _, err := it.uint(keyCumDSize); err != nil {
		return nil, err
	} else {
		d.cumDSize = v
	}
	if v, _, err := it.uint(keyShrASize); err != nil {
		return nil, err
	} else {
		d.shrASize = v
	}
	if v, _, err := it.uint(keyShrDSize); err != nil {
		return nil, err
	} else {
		d.shrDSize = v
	}
	if v, _, err := it.uint(keyItems); err != nil {
		return nil, err
	} else {
		d.items = uint32(v)
	}
	if v, _, err := it.uint(keyIno); err != nil {
		return nil, err
	} else {
		d.ino = v
	}
	if v, _, err := it.uint(keyNlink); err != nil {
		return nil, err
	} else {
		d.nlink = uint32(v)
	}

	ext := &entry.Ext{}
	hasExt := false
	if v, ok, err := it.uint(keyUID); err != nil {
		return nil, err
	} else if ok {
		ext.UID, ext.HasUID, hasExt = uint32(v), true, true
	}
	if v, ok, err := it.uint(keyGID); err != nil {
		return nil, err
	} else if ok {
		ext.GID, ext.HasGID, hasExt = uint32(v), true, true
	}
	if v, ok, err := it.uint(keyMode); err != nil {
		return nil, err
	} else if ok {
		ext.Mode, ext.HasMode, hasExt = uint32(v), true, true
	}
	if v, ok, err := it.sint(keyMTime); err != nil {
		return nil, err
	} else if ok {
		ext.MTime, ext.HasMTime, hasExt = v, true, true
	}
	if hasExt {
		d.ext = ext
	}

	return d, nil
}

func (d *decodedEntry) specialKind() (entry.SpecialKind, bool) {
	switch d.etype {
	case ETypeSpecialReadError:
		return entry.SpecialReadError, true
	case ETypeSpecialPattern:
		return entry.SpecialPattern, true
	case ETypeSpecialOtherFS:
		return entry.SpecialOtherFS, true
	case ETypeSpecialKernfs:
		return entry.SpecialKernfs, true
	default:
		return 0, false
	}
}

func (d *decodedEntry) kind() (entry.Kind, error) {
	switch d.etype {
	case ETypeDir:
		return entry.KindDir, nil
	case ETypeFile:
		return entry.KindFile, nil
	case ETypeNonReg:
		return entry.KindNonReg, nil
	case ETypeLink:
		return entry.KindLink, nil
	}
	if _, ok := d.specialKind(); ok {
		return entry.KindSpecial, nil
	}
	return 0, fmt.Errorf("binfmt: unknown entry type %d", d.etype)
}

// ImportTree replays the container's entries depth-first, in the same
// addStat/addDir/AddSpecial/Final protocol order the scanner would have
// used, feeding backend — per §4.H: "binary containers must be
// importable into any sink exactly as a live scan would populate it."
// Device ids (key 5) are not carried into the imported stats.
func ImportTree(r *Reader, backend sink.Backend) (*sink.RefDir, error) {
	rootItem, err := r.ReadItem(r.GetRoot())
	if err != nil {
		return nil, err
	}
	rootDec, err := rootItem.decode()
	if err != nil {
		return nil, err
	}
	if k, err := rootDec.kind(); err != nil || k != entry.KindDir {
		return nil, fmt.Errorf("binfmt: root entry is not a directory")
	}

	thread := &sink.Thread{}
	rootDir := sink.NewRoot(backend, rootDec.name, &sink.Stat{
		Kind: entry.KindDir, Size: rootDec.asize, Blocks: rootDec.dsize / 512,
		Ext: rootDec.ext,
	})
	if rootDec.rdErr {
		rootDir.SetReadError()
	}
	if err := importChildren(r, thread, rootDir, rootDec); err != nil {
		rootDir.Unref()
		return nil, err
	}
	rootDir.Unref()
	return rootDir, nil
}

// importChildren walks dec's sub/prev chain (reversed, since it's
// stored as a singly linked list built newest-first) and feeds every
// child into dir.
func importChildren(r *Reader, t *sink.Thread, dir *sink.RefDir, dec *decodedEntry) error {
	if !dec.hasSub {
		return nil
	}

	var refs []uint64
	ref, has := dec.sub, dec.hasSub
	for has {
		refs = append(refs, ref)
		item, err := r.ReadItem(ref)
		if err != nil {
			return fmt.Errorf("binfmt: walking sibling chain from itemref %#x: %w", ref, err)
		}
		child, err := item.decode()
		if err != nil {
			return err
		}
		ref, has = child.prev, child.hasPrev
	}

	for i := len(refs) - 1; i >= 0; i-- {
		item, err := r.ReadItem(refs[i])
		if err != nil {
			return err
		}
		dec, err := item.decode()
		if err != nil {
			return err
		}
		if err := importOne(r, t, dir, dec); err != nil {
			return fmt.Errorf("binfmt: importing itemref %#x: %w", refs[i], err)
		}
	}
	return nil
}

func importOne(r *Reader, t *sink.Thread, dir *sink.RefDir, dec *decodedEntry) error {
	kind, err := dec.kind()
	if err != nil {
		return err
	}

	if kind == entry.KindSpecial {
		sk, _ := dec.specialKind()
		dir.AddSpecial(t, dec.name, sk)
		return nil
	}

	if kind == entry.KindDir {
		cd := dir.AddDir(t, dec.name, &sink.Stat{Kind: entry.KindDir, Size: dec.asize, Blocks: dec.dsize / 512, Ext: dec.ext})
		if dec.rdErr {
			cd.SetReadError()
		}
		if err := importChildren(r, t, cd, dec); err != nil {
			cd.Unref()
			return err
		}
		cd.Unref()
		return nil
	}

	st := &sink.Stat{Kind: kind, Size: dec.asize, Blocks: dec.dsize / 512, Ext: dec.ext}
	if kind == entry.KindLink {
		st.Inode, st.Nlink = dec.ino, dec.nlink
	}
	dir.AddStat(t, dec.name, st)
	return nil
}
