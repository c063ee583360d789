package memtree

import (
	"os"
	"path/filepath"

	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/hardlink"
)

// Delete removes child from the filesystem and from the in-memory tree,
// keeping the tree's aggregates consistent without a full rescan.
//
// This is the supplemented delete operation from SPEC_FULL.md: spec.md
// §1 keeps deletion in scope but only names it through §5's cancellation
// discussion ("Cancellation while deleting is observed between
// entries"), so its shape is defined here rather than in spec.md
// proper.
func Delete(hl *hardlink.Table, path string, parent *entry.Entry, child *entry.Entry) error {
	var err error
	if child.Kind == entry.KindDir {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	removeFromParent(hl, parent, child)
	return nil
}

// removeFromParent performs the same zero_stats + ancestor-subtraction +
// hardlink bookkeeping the scanner's final() path performs when a child
// disappears across a refresh, but as a single synchronous step.
func removeFromParent(hl *hardlink.Table, parent *entry.Entry, child *entry.Entry) {
	entry.ZeroStats(child, parent)
	removeLinksIn(hl, child)

	key := string(child.Name)
	delete(parent.Dir.ByName, key)
	for i, c := range parent.Dir.Children {
		if c == child {
			parent.Dir.Children = append(parent.Dir.Children[:i], parent.Dir.Children[i+1:]...)
			break
		}
	}
	entry.UpdateSuberr(parent)
	entry.Destroy(child)
}

func removeLinksIn(hl *hardlink.Table, e *entry.Entry) {
	if e.Kind == entry.KindLink {
		hl.RemoveLink(e)
		return
	}
	if e.Kind != entry.KindDir {
		return
	}
	for _, c := range e.Dir.Children {
		removeLinksIn(hl, c)
	}
}

// Path reconstructs the filesystem path of e relative to root's own
// path, by walking parent pointers and joining names. Used by callers
// (the CLI/browser) that only keep a root path string plus the tree.
func Path(rootPath string, e *entry.Entry) string {
	var parts [][]byte
	for n := e; n != nil && n.Parent != nil; n = n.Parent {
		parts = append(parts, n.Name)
	}
	p := rootPath
	for i := len(parts) - 1; i >= 0; i-- {
		p = filepath.Join(p, string(parts[i]))
	}
	return p
}
