package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/lumipallolabs/godu/internal/binfmt"
	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/memtree"
	"github.com/lumipallolabs/godu/internal/scanner"
	"github.com/lumipallolabs/godu/internal/sink"
	"github.com/lumipallolabs/godu/internal/textfmt"
)

// Controller owns the single scan backend a session works against: the
// memory tree, its hardlink table, and the scanner configuration every
// Scan/Refresh call reuses.
//
// Grounded on the teacher's core.Controller
// (lumipallolabs/diskdive's internal/core/controller.go), trimmed to the
// single-backend, single-rooted-tree shape spec.md §2 describes — the
// teacher's multi-drive registry and background watcher have no
// counterpart here (see DESIGN.md).
type Controller struct {
	opts    Options
	backend *memtree.Backend
	scanner *scanner.Scanner

	rootPath string
}

// New creates a Controller with the given options. The scanner itself is
// built lazily on first Scan, since Options.Threads may still change
// before the first scan runs.
func New(opts Options) *Controller {
	return &Controller{opts: opts}
}

func (c *Controller) scannerOpts() scanner.Options {
	return scanner.Options{
		Workers: c.opts.Threads,
		Flags: scanner.Flags{
			SameFS:         c.opts.SameFS,
			FollowSymlinks: c.opts.FollowSymlinks,
			ExcludeCaches:  c.opts.ExcludeCaches,
			ExcludeKernfs:  c.opts.ExcludeKernfs,
		},
		Patterns: c.opts.Patterns,
	}
}

// Scan walks root from scratch, building a fresh memory tree and
// committing hardlink aggregation once the walk quiesces (§4.C, §4.E).
func (c *Controller) Scan(root string) (*entry.Entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	backend := memtree.NewBackend()
	sc := scanner.New(c.scannerOpts())

	rootDir, err := sc.Scan(context.Background(), backend, absRoot, nil)
	if err != nil {
		return nil, err
	}
	backend.FinishScan(nil)

	c.backend, c.scanner, c.rootPath = backend, sc, absRoot
	return rootDir.Backend().(*memtree.Dir).Entry(), nil
}

// Refresh rescans target's subtree in place against the live tree
// (§2 component D's "Refresh... rescans a subtree via (C) against the
// existing tree, merging in place"), reusing the Controller's own
// hardlink table so links shared with the untouched part of the tree
// stay consistent.
//
// This is the scenario sink.NewRootFrom/memtree.WrapExisting/
// scanner.ScanWith exist for: the same worker loop and reuse-or-replace
// logic an ordinary Scan uses, driven against an already-live Entry
// instead of a freshly allocated one.
func (c *Controller) Refresh(target *entry.Entry) error {
	if c.backend == nil {
		return fmt.Errorf("core: no active tree to refresh")
	}
	if target.Kind != entry.KindDir {
		return fmt.Errorf("core: refresh target must be a directory")
	}

	path := memtree.Path(c.rootPath, target)
	sc := scanner.New(c.scannerOpts())

	_, err := sc.ScanWith(context.Background(), c.backend, path, nil,
		func(name []byte, st *sink.Stat) *sink.RefDir {
			return sink.NewRootFrom(memtree.WrapExisting(target, c.backend.HL, st))
		})
	if err != nil {
		return err
	}
	c.backend.FinishScan(nil)
	return nil
}

// Delete removes target from disk and from the live tree, updating
// aggregates without a rescan.
func (c *Controller) Delete(target *entry.Entry) error {
	if c.backend == nil || target.Parent == nil {
		return fmt.Errorf("core: no active tree, or target is the scan root")
	}
	path := memtree.Path(c.rootPath, target)
	if err := memtree.Delete(c.backend.HL, path, target.Parent, target); err != nil {
		return err
	}
	// A deleted subtree may have contained hardlinks whose ancestor
	// shared_*/cum_* contribution (internal/hardlink.Table.SetStats) was
	// never part of the plain recursive sum entry.ZeroStats subtracted —
	// RemoveLink only marked those classes pending, so the ancestor
	// correction must still run.
	c.backend.FinishScan(nil)
	return nil
}

// RootPath returns the absolute filesystem path the current tree was
// scanned from, or the empty string if nothing has been scanned yet.
func (c *Controller) RootPath() string { return c.rootPath }

// Path reconstructs e's filesystem path relative to the current scan
// root.
func (c *Controller) Path(e *entry.Entry) string { return memtree.Path(c.rootPath, e) }

// LastError returns the last path/error the most recent scan observed,
// per §4.D/§5's single-slot "UI is allowed to lag" error reporting.
func (c *Controller) LastError() (string, error) {
	if c.scanner == nil {
		return "", nil
	}
	return c.scanner.LastError()
}

// Import loads a prior export — textual or binary, sniffed from the
// stream's leading bytes — as a fresh memory tree, committing hardlink
// aggregation exactly as a live scan would (§4.H's import contract).
// path may be "-" to read from stdin.
func (c *Controller) Import(path string) (*entry.Entry, error) {
	data, err := readAllFrom(path)
	if err != nil {
		return nil, err
	}

	backend := memtree.NewBackend()
	var rootDir *sink.RefDir

	if len(data) >= len(binfmt.Signature) && bytes.Equal(data[:len(binfmt.Signature)], binfmt.Signature[:]) {
		r, err := binfmt.Open(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, err
		}
		rootDir, err = binfmt.ImportTree(r, backend)
		if err != nil {
			return nil, err
		}
	} else {
		rootDir, _, err = textfmt.Import(bytes.NewReader(data), backend)
		if err != nil {
			return nil, err
		}
	}

	backend.FinishScan(nil)
	c.backend, c.scanner, c.rootPath = backend, nil, ""
	return rootDir.Backend().(*memtree.Dir).Entry(), nil
}

// ExportTextual writes root's subtree as the JSON container of §6,
// optionally zstd-compressed. path may be "-" for stdout.
func (c *Controller) ExportTextual(root *entry.Entry, path string) error {
	out, closeFn, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeFn()

	w := out
	if c.opts.CompressTextual {
		zopts := []zstd.EOption{zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true)}
		if c.opts.CompressLevel > 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.opts.CompressLevel)))
		}
		zw, err := zstd.NewWriter(out, zopts...)
		if err != nil {
			return err
		}
		defer zw.Close()
		w = zw
	}

	return textfmt.Export(root, w, textfmt.Options{
		Extended: c.opts.Extended,
		Meta:     textfmt.Metadata{ProgName: "godu"},
	})
}

// ExportBinary writes root's subtree as the binary container of §4.G.
// path may be "-" for stdout.
func (c *Controller) ExportBinary(root *entry.Entry, path string) error {
	out, closeFn, err := openOutput(path)
	if err != nil {
		return err
	}
	defer closeFn()

	workers := c.opts.Threads
	if workers < 1 {
		workers = 4
	}
	return binfmt.Encode(root, out, workers, binfmt.EncodeOptions{
		BlockSizeKiB:  c.opts.ExportBlockSize,
		CompressLevel: c.opts.CompressLevel,
	})
}

func readAllFrom(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
