package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lumipallolabs/godu/internal/entry"
)

// Block represents a rectangle in the treemap, one entry's allotted
// screen area after layout.
type Block struct {
	Entry         *entry.Entry
	X, Y          int
	Width, Height int
}

// TreemapPanel displays a treemap visualization of the tree below the
// focused directory. Adapted from the teacher's TreemapPanel
// (lumipallolabs/diskdive's internal/ui/treemap.go), generalized from
// *model.Node to *entry.Entry and stripped of the teacher's
// grew/shrunk/new diff coloring, which belongs to its watcher-driven
// comparison feature that spec.md does not name.
type TreemapPanel struct {
	root     *entry.Entry
	focus    *entry.Entry
	selected *entry.Entry
	blocks   []Block
	width    int
	height   int
	focused  bool
}

// NewTreemapPanel creates a new treemap panel.
func NewTreemapPanel() TreemapPanel {
	return TreemapPanel{}
}

// SetRoot sets the root entry.
func (t *TreemapPanel) SetRoot(root *entry.Entry) {
	t.root = root
	t.focus = root
	t.selected = root
	t.layout()
}

// SetSize sets the panel dimensions.
func (t *TreemapPanel) SetSize(w, h int) {
	t.width = w
	t.height = h
	t.layout()
}

// SetFocused sets focus state.
func (t *TreemapPanel) SetFocused(focused bool) {
	t.focused = focused
}

// SetSelected sets the selected entry, for syncing from the tree panel.
func (t *TreemapPanel) SetSelected(e *entry.Entry) {
	if e == nil {
		return
	}
	t.selected = e

	if t.focus != nil && !t.isDescendant(e, t.focus) {
		t.focus = t.findAncestorUnderRoot(e)
		t.layout()
	}
}

// Selected returns the currently selected entry.
func (t TreemapPanel) Selected() *entry.Entry {
	return t.selected
}

// ZoomIn focuses on the selected folder.
func (t *TreemapPanel) ZoomIn() {
	if t.selected != nil && t.selected.Kind == entry.KindDir && len(t.selected.Dir.Children) > 0 {
		t.focus = t.selected
		t.layout()
	}
}

// ZoomOut goes to the parent folder.
func (t *TreemapPanel) ZoomOut() {
	if t.focus != nil && t.focus.Parent != nil {
		t.focus = t.focus.Parent
		t.layout()
	}
}

// MoveToBlock moves selection to an adjacent block in direction (dx, dy).
func (t *TreemapPanel) MoveToBlock(dx, dy int) {
	if len(t.blocks) == 0 || t.selected == nil {
		return
	}

	var currentBlock *Block
	for i := range t.blocks {
		if t.blocks[i].Entry == t.selected {
			currentBlock = &t.blocks[i]
			break
		}
	}

	if currentBlock == nil {
		if len(t.blocks) > 0 {
			t.selected = t.blocks[0].Entry
		}
		return
	}

	cx := currentBlock.X + currentBlock.Width/2
	cy := currentBlock.Y + currentBlock.Height/2

	var bestBlock *Block
	bestDist := -1

	for i := range t.blocks {
		block := &t.blocks[i]
		if block.Entry == t.selected {
			continue
		}

		bx := block.X + block.Width/2
		by := block.Y + block.Height/2

		if dx > 0 && bx <= cx {
			continue
		}
		if dx < 0 && bx >= cx {
			continue
		}
		if dy > 0 && by <= cy {
			continue
		}
		if dy < 0 && by >= cy {
			continue
		}

		dist := abs(bx-cx) + abs(by-cy)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			bestBlock = block
		}
	}

	if bestBlock != nil {
		t.selected = bestBlock.Entry
	}
}

// layout calculates block positions using the slice-and-dice algorithm.
func (t *TreemapPanel) layout() {
	t.blocks = nil

	if t.focus == nil || t.width <= 2 || t.height <= 2 {
		return
	}

	var nodes []*entry.Entry
	if t.focus.Kind == entry.KindDir && len(t.focus.Dir.Children) > 0 {
		nodes = sortedBySize(t.focus.Dir.Children)
	} else {
		nodes = []*entry.Entry{t.focus}
	}

	contentW := t.width - 4
	contentH := t.height - 2
	if contentW < 1 {
		contentW = 1
	}
	if contentH < 1 {
		contentH = 1
	}

	t.sliceDice(nodes, 0, 0, contentW, contentH, true)
}

// sliceDice recursively divides space among nodes proportional to size.
func (t *TreemapPanel) sliceDice(nodes []*entry.Entry, x, y, w, h int, horizontal bool) {
	if len(nodes) == 0 || w < 1 || h < 1 {
		return
	}

	var totalSize uint64
	for _, n := range nodes {
		totalSize += n.CumSize()
	}

	if totalSize == 0 {
		for i, n := range nodes {
			if horizontal {
				nodeW := w / len(nodes)
				nodeX := x + i*nodeW
				if i == len(nodes)-1 {
					nodeW = w - i*nodeW
				}
				t.blocks = append(t.blocks, Block{Entry: n, X: nodeX, Y: y, Width: nodeW, Height: h})
			} else {
				nodeH := h / len(nodes)
				nodeY := y + i*nodeH
				if i == len(nodes)-1 {
					nodeH = h - i*nodeH
				}
				t.blocks = append(t.blocks, Block{Entry: n, X: x, Y: nodeY, Width: w, Height: nodeH})
			}
		}
		return
	}

	if len(nodes) == 1 {
		t.blocks = append(t.blocks, Block{Entry: nodes[0], X: x, Y: y, Width: w, Height: h})
		return
	}

	offset := 0
	for i, n := range nodes {
		ratio := float64(n.CumSize()) / float64(totalSize)

		if horizontal {
			nodeW := int(float64(w) * ratio)
			if nodeW < 1 {
				nodeW = 1
			}
			if i == len(nodes)-1 {
				nodeW = w - offset
			}
			if offset+nodeW > w {
				nodeW = w - offset
			}
			if nodeW > 0 {
				t.blocks = append(t.blocks, Block{Entry: n, X: x + offset, Y: y, Width: nodeW, Height: h})
				offset += nodeW
			}
		} else {
			nodeH := int(float64(h) * ratio)
			if nodeH < 1 {
				nodeH = 1
			}
			if i == len(nodes)-1 {
				nodeH = h - offset
			}
			if offset+nodeH > h {
				nodeH = h - offset
			}
			if nodeH > 0 {
				t.blocks = append(t.blocks, Block{Entry: n, X: x, Y: y + offset, Width: w, Height: nodeH})
				offset += nodeH
			}
		}
	}
}

// View renders the treemap.
func (t TreemapPanel) View() string {
	if t.focus == nil {
		return TreemapPanelStyle.Width(t.width).Height(t.height).Render("No data")
	}

	contentW := t.width - 4
	contentH := t.height - 2
	if contentW < 1 {
		contentW = 1
	}
	if contentH < 1 {
		contentH = 1
	}

	grid := make([][]rune, contentH)
	colors := make([][]lipgloss.Style, contentH)
	for i := range grid {
		grid[i] = make([]rune, contentW)
		colors[i] = make([]lipgloss.Style, contentW)
		for j := range grid[i] {
			grid[i][j] = ' '
			colors[i][j] = lipgloss.NewStyle()
		}
	}

	for _, block := range t.blocks {
		t.drawBlock(grid, colors, block, contentW, contentH)
	}

	var lines []string
	for y := 0; y < contentH; y++ {
		var line strings.Builder
		for x := 0; x < contentW; x++ {
			line.WriteString(colors[y][x].Render(string(grid[y][x])))
		}
		lines = append(lines, line.String())
	}

	content := strings.Join(lines, "\n")

	style := TreemapPanelStyle.Width(t.width).Height(t.height)
	if t.focused {
		style = style.BorderForeground(ColorPrimary)
	}

	return style.Render(content)
}

// drawBlock draws a single block onto the grid.
func (t TreemapPanel) drawBlock(grid [][]rune, colors [][]lipgloss.Style, block Block, gridW, gridH int) {
	if block.Width < 1 || block.Height < 1 {
		return
	}

	var bgColor, fgColor lipgloss.Color
	switch {
	case block.Entry != nil && block.Entry.Kind == entry.KindDir:
		bgColor, fgColor = lipgloss.Color("#1E3A5F"), lipgloss.Color("#7DD3FC")
	case block.Entry != nil && block.Entry.Kind == entry.KindSpecial:
		bgColor, fgColor = lipgloss.Color("#2D2D2D"), lipgloss.Color("#6B7280")
	default:
		bgColor, fgColor = lipgloss.Color("#2D2D2D"), lipgloss.Color("#E4E4E7")
	}

	isSelected := block.Entry == t.selected && t.focused

	blockStyle := lipgloss.NewStyle().Background(bgColor).Foreground(fgColor)
	if isSelected {
		blockStyle = blockStyle.Background(ColorPrimary).Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
	}

	for y := block.Y; y < block.Y+block.Height && y < gridH; y++ {
		for x := block.X; x < block.X+block.Width && x < gridW; x++ {
			if y >= 0 && x >= 0 {
				grid[y][x] = ' '
				colors[y][x] = blockStyle
			}
		}
	}

	borderStyle := lipgloss.NewStyle().Background(bgColor).Foreground(lipgloss.Color("#4B5563"))
	if isSelected {
		borderStyle = borderStyle.Background(ColorPrimary).Foreground(lipgloss.Color("#FFFFFF"))
	}

	for x := block.X; x < block.X+block.Width && x < gridW; x++ {
		if x >= 0 {
			if block.Y >= 0 && block.Y < gridH {
				grid[block.Y][x] = '─'
				colors[block.Y][x] = borderStyle
			}
			if block.Y+block.Height-1 >= 0 && block.Y+block.Height-1 < gridH {
				grid[block.Y+block.Height-1][x] = '─'
				colors[block.Y+block.Height-1][x] = borderStyle
			}
		}
	}

	for y := block.Y; y < block.Y+block.Height && y < gridH; y++ {
		if y >= 0 {
			if block.X >= 0 && block.X < gridW {
				grid[y][block.X] = '│'
				colors[y][block.X] = borderStyle
			}
			if block.X+block.Width-1 >= 0 && block.X+block.Width-1 < gridW {
				grid[y][block.X+block.Width-1] = '│'
				colors[y][block.X+block.Width-1] = borderStyle
			}
		}
	}

	if block.Y >= 0 && block.Y < gridH && block.X >= 0 && block.X < gridW {
		grid[block.Y][block.X] = '┌'
		colors[block.Y][block.X] = borderStyle
	}
	if block.Y >= 0 && block.Y < gridH && block.X+block.Width-1 >= 0 && block.X+block.Width-1 < gridW {
		grid[block.Y][block.X+block.Width-1] = '┐'
		colors[block.Y][block.X+block.Width-1] = borderStyle
	}
	if block.Y+block.Height-1 >= 0 && block.Y+block.Height-1 < gridH && block.X >= 0 && block.X < gridW {
		grid[block.Y+block.Height-1][block.X] = '└'
		colors[block.Y+block.Height-1][block.X] = borderStyle
	}
	if block.Y+block.Height-1 >= 0 && block.Y+block.Height-1 < gridH && block.X+block.Width-1 >= 0 && block.X+block.Width-1 < gridW {
		grid[block.Y+block.Height-1][block.X+block.Width-1] = '┘'
		colors[block.Y+block.Height-1][block.X+block.Width-1] = borderStyle
	}

	if block.Entry != nil && block.Width > 4 && block.Height > 2 {
		label := string(block.Entry.Name)
		maxLen := block.Width - 4
		if maxLen > 0 && len(label) > maxLen {
			label = label[:maxLen]
		}

		labelY := block.Y + 1
		labelX := block.X + 2

		if labelY < gridH && labelX < gridW && maxLen > 0 {
			labelStyle := blockStyle
			for i, ch := range label {
				x := labelX + i
				if x < gridW && x < block.X+block.Width-2 {
					grid[labelY][x] = ch
					colors[labelY][x] = labelStyle
				}
			}
		}

		if block.Height > 3 && block.Width > 6 {
			sizeStr := FormatSize(block.Entry.CumSize())
			sizeY := block.Y + 2
			sizeX := block.X + 2

			if sizeY < gridH {
				for i, ch := range sizeStr {
					x := sizeX + i
					if x < gridW && x < block.X+block.Width-2 {
						grid[sizeY][x] = ch
						colors[sizeY][x] = blockStyle
					}
				}
			}
		}
	}
}

// isDescendant reports whether e is a descendant of ancestor.
func (t TreemapPanel) isDescendant(e, ancestor *entry.Entry) bool {
	if e == nil || ancestor == nil {
		return false
	}
	for n := e; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// findAncestorUnderRoot finds the ancestor of e that is a direct child
// of root, so zoomed-out navigation lands on a sibling still inside
// the current focus level.
func (t TreemapPanel) findAncestorUnderRoot(e *entry.Entry) *entry.Entry {
	if e == nil || t.root == nil {
		return t.root
	}

	for n := e; n != nil; n = n.Parent {
		if n.Parent == t.root {
			return n
		}
		if n == t.root {
			return t.root
		}
	}
	return t.root
}

// abs returns the absolute value of x.
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
