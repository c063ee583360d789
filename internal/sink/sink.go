// Package sink implements the type-erased dispatch and reference
// counting of §4.D: scanner output is routed to one backend through a
// uniform Dir handle (the memory tree of internal/memtree is the only
// backend; the textual and binary writers export a finished memory tree
// instead), and a Dir is only finalized after every child Dir it produced
// has itself finalized.
//
// Grounded on spec.md §4.D directly — no pack repo has an equivalent
// fan-out sink — with the "last release runs final()" shape borrowed
// from the teacher's event-channel lifecycle in core.Controller
// (lumipallolabs/diskdive's runScan: the channel closes only once every
// writer goroutine is done), generalized from channel-close to an
// atomic refcount since finalization here must be synchronous.
package sink

import (
	"sync"
	"sync/atomic"

	"github.com/lumipallolabs/godu/internal/entry"
)

// Stat is the stat-like record the scanner hands to a sink for a single
// filesystem entry (everything but Special entries, which go through
// AddSpecial instead).
type Stat struct {
	Kind   entry.Kind
	Size   uint64
	Blocks uint64
	Dev    uint32
	Inode  uint64
	Nlink  uint32
	Ext    *entry.Ext
}

// BackendDir is the narrow per-backend interface RefDir wraps. Only
// internal/memtree implements it; internal/textfmt and internal/binfmt
// are not backends and write from a finished memory tree. Backends never
// see reference counts. Every entry-producing call takes the calling
// worker's Thread, per §4.D's addStat(t, name, &stat) signature;
// memtree needs no per-worker state and ignores it.
type BackendDir interface {
	AddSpecial(t *Thread, name []byte, kind entry.SpecialKind)
	AddStat(t *Thread, name []byte, st *Stat)
	AddDir(t *Thread, name []byte, st *Stat) BackendDir
	SetReadError()
	// Final is invoked once this Dir's refcount reaches zero. parent is
	// nil for the root Dir.
	Final(parent BackendDir)
}

// Backend creates the root Dir and reports whether it can run with more
// than one worker thread.
type Backend interface {
	CreateRoot(name []byte, st *Stat) BackendDir
	// MaxThreads returns the largest thread count this backend can run
	// with unassisted. No single-threaded backend exists, and nothing
	// coerces the thread count to fit it.
	MaxThreads() int
}

// RefDir is the reference-counted Dir handle the scanner operates on.
type RefDir struct {
	backend  BackendDir
	parent   *RefDir
	refcount int32
}

// NewRoot creates the root Dir handle for a scan.
func NewRoot(b Backend, name []byte, st *Stat) *RefDir {
	return &RefDir{backend: b.CreateRoot(name, st), refcount: 1}
}

// NewRootFrom wraps an already-constructed BackendDir as a root handle
// with no parent — used by a refresh pass, which drives the scanner
// against an existing tree node (internal/memtree.WrapExisting) rather
// than a freshly created one.
func NewRootFrom(bd BackendDir) *RefDir {
	return &RefDir{backend: bd, refcount: 1}
}

// AddSpecial records a special (no-size) entry under this Dir.
func (r *RefDir) AddSpecial(t *Thread, name []byte, kind entry.SpecialKind) {
	r.backend.AddSpecial(t, name, kind)
}

// AddStat records a non-directory entry under this Dir.
func (r *RefDir) AddStat(t *Thread, name []byte, st *Stat) {
	r.backend.AddStat(t, name, st)
}

// AddDir creates a child Dir, incrementing this Dir's refcount — the
// child holds an implicit reference to its parent until it finalizes.
func (r *RefDir) AddDir(t *Thread, name []byte, st *Stat) *RefDir {
	atomic.AddInt32(&r.refcount, 1)
	return &RefDir{backend: r.backend.AddDir(t, name, st), parent: r, refcount: 1}
}

// SetReadError marks this Dir's own read-error bit.
func (r *RefDir) SetReadError() {
	r.backend.SetReadError()
}

// Backend returns the concrete BackendDir this handle wraps, letting a
// caller that knows which Backend it started (the CLI, internal/core)
// reach backend-specific accessors — internal/memtree.Dir.Entry, for
// instance — that BackendDir itself doesn't expose.
func (r *RefDir) Backend() BackendDir { return r.backend }

// Unref releases one reference to this Dir. When the count reaches
// zero, Final runs on the backend (with the parent's backend Dir, or
// nil at the root) and then the parent itself is released — ensuring a
// Dir is finalized only after all its children are.
func (r *RefDir) Unref() {
	if atomic.AddInt32(&r.refcount, -1) != 0 {
		return
	}
	var pb BackendDir
	if r.parent != nil {
		pb = r.parent.backend
	}
	r.backend.Final(pb)
	if r.parent != nil {
		r.parent.Unref()
	}
}

// Thread is per-worker scanner state: atomic progress counters sampled
// by a progress UI, and the worker's currently-visited Dir, published
// under a mutex.
type Thread struct {
	FilesSeen atomic.Uint32
	BytesSeen atomic.Uint64

	mu     sync.Mutex
	curDir *RefDir
}

// SetDir publishes (or clears, with nil) the worker's current Dir.
func (t *Thread) SetDir(d *RefDir) {
	t.mu.Lock()
	t.curDir = d
	t.mu.Unlock()
}

// CurDir returns the worker's last-published Dir.
func (t *Thread) CurDir() *RefDir {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curDir
}

// Observe advances this thread's progress counters for one scanned
// entry.
func (t *Thread) Observe(isFile bool, size uint64) {
	t.FilesSeen.Add(1)
	if isFile {
		t.BytesSeen.Add(size)
	}
}

// CreateThreads allocates T per-worker Thread records. If the backend
// cannot run with T workers (MaxThreads() < T), it is still given T
// threads — the caller (internal/scanner or the CLI) is responsible for
// picking a single-threaded backend or interposing a memory-sink
// coercion per §4.D; this package only exposes the capability check.
func CreateThreads(b Backend, t int) []*Thread {
	threads := make([]*Thread, t)
	for i := range threads {
		threads[i] = &Thread{}
	}
	return threads
}

// LastError is the global single-writer "last observed error path"
// store of §4.D/§5 — there is no queue, and the UI is allowed to lag.
type LastError struct {
	mu   sync.Mutex
	path string
	err  error
}

func (l *LastError) Set(path string, err error) {
	l.mu.Lock()
	l.path, l.err = path, err
	l.mu.Unlock()
}

func (l *LastError) Get() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path, l.err
}
