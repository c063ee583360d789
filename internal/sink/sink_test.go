package sink

import (
	"testing"

	"github.com/lumipallolabs/godu/internal/entry"
)

// fakeDir is a minimal BackendDir recording Final calls in visit order,
// used to pin down RefDir's "finalize only after every child has" order
// without pulling in a real backend.
type fakeDir struct {
	name     string
	finals   *[]string
	readErr  bool
}

func (d *fakeDir) AddSpecial(t *Thread, name []byte, kind entry.SpecialKind) {}
func (d *fakeDir) AddStat(t *Thread, name []byte, st *Stat)                  {}
func (d *fakeDir) AddDir(t *Thread, name []byte, st *Stat) BackendDir {
	return &fakeDir{name: string(name), finals: d.finals}
}
func (d *fakeDir) SetReadError() { d.readErr = true }
func (d *fakeDir) Final(parent BackendDir) {
	*d.finals = append(*d.finals, d.name)
}

type fakeBackend struct {
	finals *[]string
}

func (b *fakeBackend) CreateRoot(name []byte, st *Stat) BackendDir {
	return &fakeDir{name: string(name), finals: b.finals}
}
func (b *fakeBackend) MaxThreads() int { return 4 }

func TestRefDirFinalizesOnlyAfterChildrenRelease(t *testing.T) {
	var finals []string
	b := &fakeBackend{finals: &finals}

	root := NewRoot(b, []byte("root"), nil)
	child := root.AddDir(nil, []byte("child"), nil)

	// The root is still referenced by the child; releasing root's own
	// reference must not finalize it yet.
	root.Unref()
	if len(finals) != 0 {
		t.Fatalf("root finalized before its child released: %v", finals)
	}

	child.Unref()
	if len(finals) != 2 || finals[0] != "child" || finals[1] != "root" {
		t.Fatalf("finalize order = %v, want [child root]", finals)
	}
}

func TestRefDirMultipleChildrenDelayRootFinalize(t *testing.T) {
	var finals []string
	b := &fakeBackend{finals: &finals}

	root := NewRoot(b, []byte("root"), nil)
	c1 := root.AddDir(nil, []byte("c1"), nil)
	c2 := root.AddDir(nil, []byte("c2"), nil)
	root.Unref()

	c1.Unref()
	if len(finals) != 1 || finals[0] != "c1" {
		t.Fatalf("after c1 release, finals = %v, want [c1]", finals)
	}

	c2.Unref()
	if len(finals) != 3 || finals[1] != "c2" || finals[2] != "root" {
		t.Fatalf("after c2 release, finals = %v, want [c1 c2 root]", finals)
	}
}

func TestRefDirBackendReturnsWrappedDir(t *testing.T) {
	var finals []string
	b := &fakeBackend{finals: &finals}
	root := NewRoot(b, []byte("root"), nil)

	fd, ok := root.Backend().(*fakeDir)
	if !ok || fd.name != "root" {
		t.Fatalf("Backend() = %#v, want *fakeDir{name: root}", root.Backend())
	}
}

func TestNewRootFromWrapsExistingBackendDirWithNoParent(t *testing.T) {
	var finals []string
	fd := &fakeDir{name: "existing", finals: &finals}

	root := NewRootFrom(fd)
	root.Unref()
	if len(finals) != 1 || finals[0] != "existing" {
		t.Fatalf("finals = %v, want [existing]", finals)
	}
}

func TestThreadObserveTracksFilesAndBytes(t *testing.T) {
	th := &Thread{}
	th.Observe(true, 100)
	th.Observe(false, 50) // a directory: counted as a file seen, not bytes
	th.Observe(true, 25)

	if got := th.FilesSeen.Load(); got != 3 {
		t.Fatalf("FilesSeen = %d, want 3", got)
	}
	if got := th.BytesSeen.Load(); got != 125 {
		t.Fatalf("BytesSeen = %d, want 125", got)
	}
}

func TestThreadSetDirAndCurDir(t *testing.T) {
	th := &Thread{}
	if th.CurDir() != nil {
		t.Fatal("expected nil CurDir before SetDir")
	}

	var finals []string
	b := &fakeBackend{finals: &finals}
	root := NewRoot(b, []byte("root"), nil)
	th.SetDir(root)
	if th.CurDir() != root {
		t.Fatal("CurDir did not return the Dir set by SetDir")
	}

	th.SetDir(nil)
	if th.CurDir() != nil {
		t.Fatal("expected CurDir to clear back to nil")
	}
}

func TestLastErrorSetAndGet(t *testing.T) {
	var le LastError
	if path, err := le.Get(); path != "" || err != nil {
		t.Fatalf("fresh LastError = (%q, %v), want (\"\", nil)", path, err)
	}

	sentinel := errSentinel{}
	le.Set("/some/path", sentinel)
	path, err := le.Get()
	if path != "/some/path" || err != sentinel {
		t.Fatalf("Get() = (%q, %v), want (/some/path, %v)", path, err, sentinel)
	}

	// A later Set overwrites rather than queues, per §4.D/§5's
	// single-slot "last observed error" contract.
	le.Set("/other/path", nil)
	path, err = le.Get()
	if path != "/other/path" || err != nil {
		t.Fatalf("Get() after overwrite = (%q, %v), want (/other/path, nil)", path, err)
	}
}

func TestCreateThreadsAllocatesRequestedCount(t *testing.T) {
	var finals []string
	b := &fakeBackend{finals: &finals}
	threads := CreateThreads(b, 4)
	if len(threads) != 4 {
		t.Fatalf("len(threads) = %d, want 4", len(threads))
	}
	for i, th := range threads {
		if th == nil {
			t.Fatalf("threads[%d] is nil", i)
		}
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel" }
