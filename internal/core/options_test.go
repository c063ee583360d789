package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lumipallolabs/godu/internal/exclude"
)

func TestLoadPatternsNoFileNoExtraReturnsNoPatterns(t *testing.T) {
	p, err := LoadPatterns("", nil)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if p != exclude.NoPatterns {
		t.Fatal("expected the shared NoPatterns value when nothing was supplied")
	}
}

func TestLoadPatternsSkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclude.txt")
	content := "node_modules\n\n# a comment\n*.tmp\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPatterns(path, nil)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if got := p.Match("node_modules"); got != exclude.Both {
		t.Fatalf("Match(node_modules) = %v, want Both", got)
	}
	if got := p.Match("cache.tmp"); got != exclude.Both {
		t.Fatalf("Match(cache.tmp) = %v, want Both", got)
	}
	if got := p.Match("a comment"); got != exclude.None {
		t.Fatalf("comment line should not become a pattern, got %v", got)
	}
}

func TestLoadPatternsCombinesFileAndExtraPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclude.txt")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPatterns(path, []string{"from-flag"})
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if got := p.Match("from-file"); got != exclude.Both {
		t.Fatalf("Match(from-file) = %v, want Both", got)
	}
	if got := p.Match("from-flag"); got != exclude.Both {
		t.Fatalf("Match(from-flag) = %v, want Both", got)
	}
}

func TestLoadPatternsMissingFileReturnsError(t *testing.T) {
	_, err := LoadPatterns(filepath.Join(t.TempDir(), "missing.txt"), nil)
	if err == nil {
		t.Fatal("expected an error for a missing exclude file")
	}
}

func TestLoadPatternsExtraOnlyNoFile(t *testing.T) {
	p, err := LoadPatterns("", []string{"*.log"})
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	if got := p.Match("debug.log"); got != exclude.Both {
		t.Fatalf("Match(debug.log) = %v, want Both", got)
	}
}
