// Package core orchestrates the scanner, memory sink, hardlink table,
// and the textual/binary codecs into the few operations the CLI and the
// browser both need: an initial scan, an in-place subtree refresh, a
// delete, and import/export.
//
// The teacher's core.Controller (lumipallolabs/diskdive's
// internal/core/controller.go) drove a multi-drive watcher-backed
// model.Node tree with a persisted stats.Manager; none of that survives
// here (spec.md names no live-watch, no multi-drive picker, and no
// persisted state beyond the export formats themselves — see
// DESIGN.md), but the shape of a single owning Controller wrapping the
// scan stack is kept.
package core

import (
	"bufio"
	"os"
	"strings"

	"github.com/lumipallolabs/godu/internal/exclude"
)

// Options collects every scan/export knob the CLI's flag surface (§6)
// exposes.
type Options struct {
	Extended        bool
	SameFS          bool
	FollowSymlinks  bool
	ExcludeCaches   bool
	ExcludeKernfs   bool
	Threads         int
	CompressTextual bool
	CompressLevel   int
	ExportBlockSize int
	Patterns        exclude.Patterns
}

// LoadPatterns builds the root exclusion predicate from an optional
// pattern file (`-X PATH`, one shell-glob pattern per line, blank lines
// and lines starting with '#' ignored) plus any `--exclude PATTERN`
// flags, in the order the CLI received them.
func LoadPatterns(file string, extra []string) (exclude.Patterns, error) {
	var patterns []string
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		scan := bufio.NewScanner(f)
		for scan.Scan() {
			line := strings.TrimSpace(scan.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
		if err := scan.Err(); err != nil {
			return nil, err
		}
	}
	patterns = append(patterns, extra...)
	if len(patterns) == 0 {
		return exclude.NoPatterns, nil
	}
	return exclude.NewGlobPatterns(patterns), nil
}
