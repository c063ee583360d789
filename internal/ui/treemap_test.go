package ui

import (
	"fmt"
	"testing"

	"github.com/lumipallolabs/godu/internal/entry"
)

func buildDirWithFiles(name string, sizes ...uint64) *entry.Entry {
	root := entry.NewDir([]byte(name), nil)
	for i, sz := range sizes {
		f := entry.NewFile([]byte(fmt.Sprintf("f%d", i)), root, sz, (sz+511)/512)
		root.Dir.Children = append(root.Dir.Children, f)
		root.Dir.CumSize += sz
		root.Dir.CumBlocks += f.Blocks
	}
	root.Dir.Items = uint32(len(sizes))
	return root
}

func TestTreemapLayoutCoversContentArea(t *testing.T) {
	root := buildDirWithFiles("root",
		100*1024*1024,
		80*1024*1024,
		50*1024*1024,
		30*1024*1024,
		10*1024*1024,
		5*1024*1024,
		1*1024*1024,
		500*1024,
	)

	panel := NewTreemapPanel()
	panel.SetSize(80, 24)
	panel.SetRoot(root)

	if len(panel.blocks) == 0 {
		t.Fatal("expected blocks to be generated")
	}

	contentW := panel.width - 4
	contentH := panel.height - 2

	for i, block := range panel.blocks {
		if block.X < 0 || block.Y < 0 {
			t.Errorf("block[%d]: negative origin x=%d y=%d", i, block.X, block.Y)
		}
		if block.X+block.Width > contentW {
			t.Errorf("block[%d]: exceeds width bounds x=%d w=%d contentW=%d", i, block.X, block.Width, contentW)
		}
		if block.Y+block.Height > contentH {
			t.Errorf("block[%d]: exceeds height bounds y=%d h=%d contentH=%d", i, block.Y, block.Height, contentH)
		}
	}
}

func TestTreemapBlocksTileEvenly(t *testing.T) {
	root := buildDirWithFiles("root", 100, 100, 100)

	panel := NewTreemapPanel()
	panel.SetSize(40, 12)
	panel.SetRoot(root)

	if len(panel.blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(panel.blocks))
	}

	contentW := panel.width - 4
	contentH := panel.height - 2

	totalArea := 0
	for _, block := range panel.blocks {
		totalArea += block.Width * block.Height
	}

	expectedArea := contentW * contentH
	coverage := float64(totalArea) / float64(expectedArea)
	if coverage < 0.90 {
		t.Errorf("blocks only cover %.1f%% of area, expected at least 90%%", coverage*100)
	}
}

func TestTreemapZoomInOut(t *testing.T) {
	root := entry.NewDir([]byte("root"), nil)
	sub := entry.NewDir([]byte("sub"), root)
	leaf := entry.NewFile([]byte("leaf"), sub, 1024, 2)
	sub.Dir.Children = append(sub.Dir.Children, leaf)
	sub.Dir.CumSize, sub.Dir.CumBlocks = 1024, 2
	root.Dir.Children = append(root.Dir.Children, sub)
	root.Dir.CumSize, root.Dir.CumBlocks = 1024, 2

	panel := NewTreemapPanel()
	panel.SetSize(40, 12)
	panel.SetRoot(root)

	panel.SetSelected(sub)
	panel.ZoomIn()
	if panel.focus != sub {
		t.Fatalf("expected focus to be sub after ZoomIn, got %v", panel.focus)
	}

	panel.ZoomOut()
	if panel.focus != root {
		t.Fatalf("expected focus to be root after ZoomOut, got %v", panel.focus)
	}
}

func TestTreemapSelectedDefaultsToRoot(t *testing.T) {
	root := buildDirWithFiles("root", 1, 2, 3)

	panel := NewTreemapPanel()
	panel.SetSize(40, 12)
	panel.SetRoot(root)

	if panel.Selected() != root {
		t.Fatalf("expected Selected() to default to root")
	}
}
