package binfmt

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/lumipallolabs/godu/internal/entry"
)

// Writer holds the container-wide state a stream of concurrent encoder
// workers share: the growing side index, the current file offset, and
// the zstd encoder used to compress every data block. Per §5, "Binary-
// writer global index and file offset: single mutex held for the
// duration of a single block write."
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	offset uint64
	index  []uint64

	zenc     *zstd.Encoder
	schedule []int
}

func (w *Writer) bufferSizeAfter(blocksFlushed int) int {
	idx := 0
	for _, threshold := range []int{1 << 20, 2 << 20, 4 << 20, 8 << 20, 16 << 20} {
		if blocksFlushed >= threshold {
			idx++
		}
	}
	if idx >= len(w.schedule) {
		idx = len(w.schedule) - 1
	}
	return w.schedule[idx]
}

// EncodeOptions configures Encode's block sizing and compression, per
// the CLI's `--export-block-size` (4..16000 KiB) and `--compress-level`
// (1..20) flags.
type EncodeOptions struct {
	// BlockSizeKiB is the starting worker-buffer size; zero uses the
	// §4.G default of 64 KiB. The doubling schedule is derived from
	// this base instead of the fixed {64,...,2048} KiB table when set.
	BlockSizeKiB int
	// CompressLevel is a zstd level 1..20; zero uses the zstd default.
	CompressLevel int
}

func (o EncodeOptions) schedule() []int {
	if o.BlockSizeKiB <= 0 {
		return bufferSizeSchedule
	}
	base := o.BlockSizeKiB << 10
	sched := make([]int, len(bufferSizeSchedule))
	for i := range sched {
		sched[i] = base << uint(i)
	}
	return sched
}

func (o EncodeOptions) encoderOpts() []zstd.EOption {
	opts := []zstd.EOption{zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true)}
	if o.CompressLevel > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.CompressLevel)))
	}
	return opts
}

// NewWriter wraps out, ready to accept blocks via internal encoders.
// Callers normally use Encode instead of driving a Writer directly.
func NewWriter(out io.Writer, opts EncodeOptions) (*Writer, error) {
	zenc, err := zstd.NewWriter(nil, opts.encoderOpts()...)
	if err != nil {
		return nil, err
	}
	return &Writer{out: out, zenc: zenc, schedule: opts.schedule()}, nil
}

// reserveBlock claims the next sequential block number, growing the
// side index by one zero-valued slot (§4.G step 1's "reserve an index
// slot"). Reservation happens eagerly when an encoder resets its
// buffer, not when the block is actually flushed — this is what lets
// concurrent encoder workers each know their own current block number
// without contending on every byte they append.
func (w *Writer) reserveBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := uint64(len(w.index))
	w.index = append(w.index, 0)
	return n
}

// flushBuffer compresses raw and writes it as blockNum's data block,
// recording its (offset, length) in the side index.
func (w *Writer) flushBuffer(blockNum uint64, raw []byte) error {
	compressed := w.zenc.EncodeAll(raw, nil)
	total := 4 + 4 + len(compressed) + 4
	hdr := blockHeader(blockKindData, uint32(total))

	out := make([]byte, 0, total)
	out = appendU32Bytes(out, hdr)
	out = appendU32Bytes(out, uint32(blockNum))
	out = append(out, compressed...)
	out = appendU32Bytes(out, hdr)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.offset+uint64(total) >= uint64(1)<<40 {
		return fmt.Errorf("binfmt: file offset would exceed 2^40 bytes")
	}
	if _, err := w.out.Write(out); err != nil {
		return err
	}
	w.index[blockNum] = indexEntry(w.offset, uint32(total))
	w.offset += uint64(total)
	return nil
}

// finalize trims unused trailing index slots (reserved but never
// flushed — the last block a worker reserves ahead of time and then
// never fills) and appends the index block that closes the stream.
func (w *Writer) finalize(rootRef uint64) error {
	w.mu.Lock()
	idx := w.index
	for len(idx) > 0 && idx[len(idx)-1] == 0 {
		idx = idx[:len(idx)-1]
	}
	w.mu.Unlock()

	body := make([]byte, 0, len(idx)*8+8)
	for _, e := range idx {
		body = appendU64Bytes(body, e)
	}
	body = appendU64Bytes(body, rootRef)

	total := 4 + len(body) + 4
	hdr := blockHeader(blockKindIndex, uint32(total))
	out := make([]byte, 0, total)
	out = appendU32Bytes(out, hdr)
	out = append(out, body...)
	out = appendU32Bytes(out, hdr)

	_, err := w.out.Write(out)
	return err
}

func appendU32Bytes(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64Bytes(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>uint(8*i)))
	}
	return buf
}

// encoder is one worker's private uncompressed buffer, per §4.G: it
// grows through the {64,128,256,512,1024,2048} KiB doubling schedule as
// the worker flushes more blocks.
type encoder struct {
	w             *Writer
	buf           []byte
	blockNum      uint64
	blocksFlushed int
	capTarget     int
}

func newEncoder(w *Writer) *encoder {
	return &encoder{w: w, blockNum: w.reserveBlock(), capTarget: w.schedule[0]}
}

func (enc *encoder) selfRef() uint64 { return itemRef(enc.blockNum, uint32(len(enc.buf))) }

func (enc *encoder) maybeFlush() error {
	if len(enc.buf) < enc.capTarget {
		return nil
	}
	return enc.flush()
}

func (enc *encoder) flush() error {
	if len(enc.buf) == 0 {
		return nil
	}
	if err := enc.w.flushBuffer(enc.blockNum, enc.buf); err != nil {
		return err
	}
	enc.blocksFlushed++
	enc.buf = enc.buf[:0]
	enc.capTarget = enc.w.bufferSizeAfter(enc.blocksFlushed)
	enc.blockNum = enc.w.reserveBlock()
	return nil
}

// chainState is the mutable "last child written" pointer for one Dir's
// listing, guarded by a mutex so that concurrent encoder workers
// finishing sibling subtrees in any order still produce a valid (if not
// necessarily readdir-ordered) singly linked chain, per §3's "child
// linkage within a directory is a singly linked list walked backwards
// via prev."
type chainState struct {
	mu   sync.Mutex
	last uint64
	has  bool
}

// errBox collects the first error reported by any encoder worker.
type errBox struct {
	mu  sync.Mutex
	err error
}

func (b *errBox) set(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
}

func (b *errBox) get() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Encode writes root's subtree to out as a complete container: the
// 8-byte signature, the depth-first entry stream split across
// concurrently-flushed data blocks, and a trailing index block. workers
// bounds how many directory subtrees may be encoded concurrently by
// distinct encoder buffers, mirroring the scanner's own private-LIFO /
// shared-stack split (internal/scanner.workQueue) applied to encoding
// instead of filesystem I/O.
func Encode(root *entry.Entry, out io.Writer, workers int, opts EncodeOptions) error {
	if workers < 1 {
		workers = 1
	}
	if _, err := out.Write(Signature[:]); err != nil {
		return err
	}
	w, err := NewWriter(out, opts)
	if err != nil {
		return err
	}
	w.offset = uint64(len(Signature))

	sem := make(chan struct{}, workers)
	errs := &errBox{}
	enc := newEncoder(w)

	rootRef, err := encodeTree(enc, root, nil, sem, errs)
	if err != nil {
		return err
	}
	if err := enc.flush(); err != nil {
		return err
	}
	if err := errs.get(); err != nil {
		return err
	}
	return w.finalize(rootRef)
}

// encodeTree writes e's subtree using enc's buffer, recursively; a Dir's
// subdirectory children may be farmed out to fresh encoders up to sem's
// capacity, falling back to enc itself when the pool is saturated or
// the child is a leaf. It returns e's own itemref.
func encodeTree(enc *encoder, e *entry.Entry, parentChain *chainState, sem chan struct{}, errs *errBox) (uint64, error) {
	var childChain *chainState
	if e.Kind == entry.KindDir {
		childChain = &chainState{}
		var wg sync.WaitGroup
		for _, c := range e.Dir.Children {
			c := c
			if c.Kind == entry.KindDir {
				select {
				case sem <- struct{}{}:
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer func() { <-sem }()
						childEnc := newEncoder(enc.w)
						if _, err := encodeTree(childEnc, c, childChain, sem, errs); err != nil {
							errs.set(err)
							return
						}
						errs.set(childEnc.flush())
					}()
					continue
				default:
				}
			}
			if _, err := encodeTree(enc, c, childChain, sem, errs); err != nil {
				errs.set(err)
			}
		}
		wg.Wait()
	}

	if err := errs.get(); err != nil {
		return 0, err
	}

	self := enc.selfRef()
	var prevRef uint64
	hasPrev := false
	if parentChain != nil {
		parentChain.mu.Lock()
		prevRef, hasPrev = parentChain.last, parentChain.has
		parentChain.last, parentChain.has = self, true
		parentChain.mu.Unlock()
	}

	enc.buf = encodeEntry(enc.buf, e, self, prevRef, hasPrev, childChain)
	if err := enc.maybeFlush(); err != nil {
		return 0, err
	}
	return self, nil
}

func etypeOf(e *entry.Entry) EType {
	switch e.Kind {
	case entry.KindDir:
		return ETypeDir
	case entry.KindFile:
		return ETypeFile
	case entry.KindNonReg:
		return ETypeNonReg
	case entry.KindLink:
		return ETypeLink
	case entry.KindSpecial:
		switch e.SpecialKind {
		case entry.SpecialPattern:
			return ETypeSpecialPattern
		case entry.SpecialOtherFS:
			return ETypeSpecialOtherFS
		case entry.SpecialKernfs:
			return ETypeSpecialKernfs
		default:
			return ETypeSpecialReadError
		}
	default:
		return ETypeFile
	}
}

// encodeEntry appends e's complete indefinite-length map (§4.G's key
// schema, in ascending key order) to buf.
func encodeEntry(buf []byte, e *entry.Entry, self, prevRef uint64, hasPrev bool, childChain *chainState) []byte {
	buf = appendIndefiniteHead(buf, majMap)
	buf = appendInt(buf, keyType, int64(etypeOf(e)))
	buf = appendBytes(buf, keyName, e.Name)
	if hasPrev {
		buf = appendItemRef(buf, keyPrev, self, prevRef)
	}

	if e.Kind != entry.KindSpecial {
		buf = appendUint(buf, keyASize, e.OwnSize())
		buf = appendUint(buf, keyDSize, e.OwnBlocks()*512)

		if e.Kind == entry.KindDir {
			if e.Parent == nil || e.Dir.Dev != e.Parent.Dir.Dev {
				buf = appendUint(buf, keyDev, uint64(e.Dir.Dev))
			}
			switch {
			case e.Dir.Err:
				buf = appendSimple(buf, keyRdErr, simpleOwnErr)
			case e.Dir.Suberr:
				buf = appendSimple(buf, keyRdErr, simpleSubtreeErr)
			}
			buf = appendUint(buf, keyCumASize, e.Dir.CumSize)
			buf = appendUint(buf, keyCumDSize, e.Dir.CumBlocks*512)
			if e.Dir.SharedSize > 0 {
				buf = appendUint(buf, keyShrASize, e.Dir.SharedSize)
			}
			if e.Dir.SharedBlocks > 0 {
				buf = appendUint(buf, keyShrDSize, e.Dir.SharedBlocks*512)
			}
			buf = appendUint(buf, keyItems, uint64(e.Dir.Items))
			if childChain != nil && childChain.has {
				buf = appendItemRef(buf, keySub, self, childChain.last)
			}
		}

		if e.Kind == entry.KindLink {
			buf = appendUint(buf, keyIno, e.Inode)
			buf = appendUint(buf, keyNlink, uint64(e.Nlink))
		}
	}

	if e.Ext != nil {
		if e.Ext.HasUID {
			buf = appendUint(buf, keyUID, uint64(e.Ext.UID))
		}
		if e.Ext.HasGID {
			buf = appendUint(buf, keyGID, uint64(e.Ext.GID))
		}
		if e.Ext.HasMode {
			buf = appendUint(buf, keyMode, uint64(e.Ext.Mode))
		}
		if e.Ext.HasMTime {
			buf = appendInt(buf, keyMTime, e.Ext.MTime)
		}
	}

	return appendBreak(buf)
}
