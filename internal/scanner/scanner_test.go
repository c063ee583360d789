package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/exclude"
	"github.com/lumipallolabs/godu/internal/memtree"
)

// TestScanBasicTree exercises spec scenario (a): a root with a
// subdirectory and files is walked and every name appears with its
// correct size.
func TestScanBasicTree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!!"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 2})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	a, ok := e.Dir.ByName["a.txt"]
	if !ok || a.Size != 5 {
		t.Fatalf("a.txt: present=%v size=%d, want present size 5", ok, a.Size)
	}
	sub, ok := e.Dir.ByName["sub"]
	if !ok || !sub.IsDir() {
		t.Fatal("expected 'sub' to appear as a directory")
	}
	b, ok := sub.Dir.ByName["b.txt"]
	if !ok || b.Size != 7 {
		t.Fatalf("sub/b.txt: present=%v size=%d, want present size 7", ok, b.Size)
	}
}

// TestScanHardlinkDedup exercises spec scenario (b) through a real
// filesystem: two names hardlinked to the same inode contribute their
// size once to the containing directory's cumulative total.
func TestScanHardlinkDedup(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "orig")
	if err := os.WriteFile(target, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Link(target, filepath.Join(root, "linked")); err != nil {
		t.Skipf("hardlinks unsupported on this filesystem: %v", err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	orig, ok := e.Dir.ByName["orig"]
	if !ok || orig.Kind != entry.KindLink {
		t.Fatalf("expected 'orig' to be classified as a hardlink, got kind=%v present=%v", orig.Kind, ok)
	}
	if want := e.Dir.OwnSize + 4096; e.Dir.CumSize != want {
		t.Fatalf("CumSize = %d, want %d (the directory's own size plus the pair counted once)", e.Dir.CumSize, want)
	}
}

// TestScanExcludePattern checks that a name matched by an exclusion
// pattern is recorded as a pattern-excluded special entry rather than
// descended or stat'd for size.
func TestScanExcludePattern(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "node_modules", "pkg.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1, Patterns: exclude.NewGlobPatterns([]string{"node_modules"})})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	excluded, ok := e.Dir.ByName["node_modules"]
	if !ok {
		t.Fatal("expected 'node_modules' to still appear, as an excluded special entry")
	}
	if excluded.Kind != entry.KindSpecial || excluded.SpecialKind != entry.SpecialPattern {
		t.Fatalf("node_modules: kind=%v specialKind=%v, want Special/SpecialPattern", excluded.Kind, excluded.SpecialKind)
	}
	if _, ok := e.Dir.ByName["keep.txt"]; !ok {
		t.Fatal("expected 'keep.txt' to be unaffected by the exclusion pattern")
	}
}

// TestScanCacheDirTagExclusion checks §4.C's CACHEDIR.TAG detection: a
// directory tagged as a cache directory is recorded as a special entry
// and not descended into, when ExcludeCaches is set.
func TestScanCacheDirTagExclusion(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	if err := os.Mkdir(cacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "CACHEDIR.TAG"), []byte(string(cacheDirTagSignature)+"\n# more"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "blob.bin"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1, Flags: Flags{ExcludeCaches: true}})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	cache, ok := e.Dir.ByName["cache"]
	if !ok {
		t.Fatal("expected 'cache' to still appear")
	}
	if cache.Kind != entry.KindSpecial || cache.SpecialKind != entry.SpecialPattern {
		t.Fatalf("cache: kind=%v specialKind=%v, want Special/SpecialPattern (cache-tagged)", cache.Kind, cache.SpecialKind)
	}
}

// TestScanFollowSymlinks checks that with FollowSymlinks set, a symlink
// to a regular file is recorded using the target's size rather than the
// symlink's own (tiny) size.
func TestScanFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	if err := os.WriteFile(target, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1, Flags: Flags{FollowSymlinks: true}})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	link, ok := e.Dir.ByName["link.txt"]
	if !ok {
		t.Fatal("expected 'link.txt' to appear")
	}
	if link.Size != 2048 {
		t.Fatalf("followed symlink size = %d, want 2048 (the target's size)", link.Size)
	}
}

// TestScanWithoutFollowSymlinks checks the default (no -L) behavior: a
// symlink is recorded as a non-regular leaf using its own (link) stat,
// never descended.
func TestScanWithoutFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	if err := os.WriteFile(target, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1})
	rootDir, err := s.Scan(context.Background(), backend, root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	backend.FinishScan(nil)

	e := rootDir.Backend().(*memtree.Dir).Entry()
	link, ok := e.Dir.ByName["link.txt"]
	if !ok {
		t.Fatal("expected 'link.txt' to appear")
	}
	if link.Kind != entry.KindNonReg {
		t.Fatalf("unfollowed symlink kind = %v, want KindNonReg", link.Kind)
	}
	if link.Size == 2048 {
		t.Fatal("unfollowed symlink should use its own stat, not the target's size")
	}
}

func TestScanRootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := memtree.NewBackend()
	s := New(Options{Workers: 1})
	_, err := s.Scan(context.Background(), backend, file, nil)
	if err != ErrNotADirectory {
		t.Fatalf("Scan(file) error = %v, want ErrNotADirectory", err)
	}
}
