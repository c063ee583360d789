package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world!!"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanProducesTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, ok := rootEntry.Dir.ByName["a.txt"]; !ok {
		t.Fatal("expected a.txt in the scanned tree")
	}
	sub, ok := rootEntry.Dir.ByName["sub"]
	if !ok || !sub.IsDir() {
		t.Fatal("expected sub/ to appear as a directory")
	}
	if want := rootEntry.Dir.OwnSize + sub.Dir.OwnSize + 12; rootEntry.Dir.CumSize != want {
		t.Fatalf("CumSize = %d, want %d (5 + 7 plus both directories' own sizes)", rootEntry.Dir.CumSize, want)
	}
}

// TestDeleteRemovesFromDiskAndTree exercises the supplemented Delete
// operation: the file disappears from disk and from the tree, and the
// ancestor's cumulative size reflects the removal without a rescan.
func TestDeleteRemovesFromDiskAndTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	target := rootEntry.Dir.ByName["a.txt"]
	if err := ctl.Delete(target); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt to be removed from disk, stat err = %v", err)
	}
	if _, ok := rootEntry.Dir.ByName["a.txt"]; ok {
		t.Fatal("expected a.txt to be removed from the tree")
	}
	sub := rootEntry.Dir.ByName["sub"]
	if want := rootEntry.Dir.OwnSize + sub.Dir.OwnSize + 7; rootEntry.Dir.CumSize != want {
		t.Fatalf("CumSize after delete = %d, want %d (just sub/b.txt plus both directories' own sizes)", rootEntry.Dir.CumSize, want)
	}
}

// TestDeleteReaggregatesHardlinks covers the bug this fix addresses:
// deleting one member of a hardlink class whose other member lives
// outside the deleted subtree must leave the surviving ancestor's
// shared/cum totals correct, which requires the post-delete
// FinishScan call (Table.RemoveLink only marks the class pending).
func TestDeleteReaggregatesHardlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "orig")
	if err := os.WriteFile(target, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	linked := filepath.Join(root, "sub", "linked")
	if err := os.Link(target, linked); err != nil {
		t.Skipf("hardlinks unsupported on this filesystem: %v", err)
	}

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sub := rootEntry.Dir.ByName["sub"]
	dirsOwn := rootEntry.Dir.OwnSize + sub.Dir.OwnSize
	if want := dirsOwn + 4096; rootEntry.Dir.CumSize != want {
		t.Fatalf("setup: CumSize = %d, want %d (one class counted once, plus both directories' own sizes)", rootEntry.Dir.CumSize, want)
	}

	linkedEntry := sub.Dir.ByName["linked"]
	if err := ctl.Delete(linkedEntry); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// "orig" is still the sole surviving member, and the class still
	// counts once. Its declared nlink (2, from scan time) is never
	// re-stat'd after a deletion per spec.md §4.F/§9 ("declared nlink"
	// is whatever the entry held when scanned), so with only 1 of the 2
	// declared links now visible, root sees the class as partially
	// contained and now owes it shared attribution too.
	if want := dirsOwn + 4096; rootEntry.Dir.CumSize != want {
		t.Fatalf("CumSize after deleting one hardlink member = %d, want %d", rootEntry.Dir.CumSize, want)
	}
	if rootEntry.Dir.SharedSize != 4096 {
		t.Fatalf("SharedSize after deleting one hardlink member = %d, want 4096 (stale declared nlink=2, only 1 member left)", rootEntry.Dir.SharedSize)
	}
}

func TestRefreshPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "sub", "c.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := rootEntry.Dir.ByName["sub"]
	if err := ctl.Refresh(sub); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, ok := sub.Dir.ByName["c.txt"]; !ok {
		t.Fatal("expected c.txt to appear after refresh")
	}
	if want := rootEntry.Dir.OwnSize + sub.Dir.OwnSize + 15; rootEntry.Dir.CumSize != want {
		t.Fatalf("CumSize after refresh = %d, want %d (5 + 7 + 3 plus both directories' own sizes)", rootEntry.Dir.CumSize, want)
	}
}

func TestExportBinaryImportRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	out := filepath.Join(t.TempDir(), "export.bin")
	if err := ctl.ExportBinary(rootEntry, out); err != nil {
		t.Fatalf("ExportBinary: %v", err)
	}

	ctl2 := New(Options{})
	imported, err := ctl2.Import(out)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Dir.CumSize != rootEntry.Dir.CumSize {
		t.Fatalf("imported CumSize = %d, want %d", imported.Dir.CumSize, rootEntry.Dir.CumSize)
	}
}

func TestExportTextualImportRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	out := filepath.Join(t.TempDir(), "export.json")
	if err := ctl.ExportTextual(rootEntry, out); err != nil {
		t.Fatalf("ExportTextual: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[1,")) {
		n := len(data)
		if n > 20 {
			n = 20
		}
		t.Fatalf("exported textual container doesn't start with the expected [1,... array: %s", data[:n])
	}

	ctl2 := New(Options{})
	imported, err := ctl2.Import(out)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Dir.CumSize != rootEntry.Dir.CumSize {
		t.Fatalf("imported CumSize = %d, want %d", imported.Dir.CumSize, rootEntry.Dir.CumSize)
	}
}

func TestDeleteRejectsScanRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	ctl := New(Options{})
	rootEntry, err := ctl.Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := ctl.Delete(rootEntry); err == nil {
		t.Fatal("expected an error deleting the scan root itself")
	}
}
