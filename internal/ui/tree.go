package ui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lumipallolabs/godu/internal/entry"
)

const treeSizeBarWidth = 4

// TreePanel displays the scanned tree, depth-first, with directories
// expandable in place. Adapted from the teacher's TreePanel
// (lumipallolabs/diskdive's internal/ui/tree.go), generalized from
// *model.Node (a single flat size field, path-keyed) to *entry.Entry
// (a tagged union whose cumulative size/read-error bit live under
// e.Dir for directories, identity-keyed since entry.Entry carries no
// path string of its own).
type TreePanel struct {
	root     *entry.Entry
	cursor   int
	expanded map[*entry.Entry]bool
	visible  []*entry.Entry
	width    int
	height   int
	focused  bool
	offset   int
}

// NewTreePanel creates a new tree panel.
func NewTreePanel() TreePanel {
	return TreePanel{expanded: make(map[*entry.Entry]bool)}
}

// SetRoot sets the root entry.
func (t *TreePanel) SetRoot(root *entry.Entry) {
	t.root = root
	t.cursor = 0
	t.offset = 0
	t.expanded = make(map[*entry.Entry]bool)
	if root != nil {
		t.expanded[root] = true
	}
	t.updateVisible()
}

// SetSize sets the panel dimensions.
func (t *TreePanel) SetSize(w, h int) { t.width, t.height = w, h }

// SetFocused sets focus state.
func (t *TreePanel) SetFocused(focused bool) { t.focused = focused }

// Selected returns the currently selected entry.
func (t TreePanel) Selected() *entry.Entry {
	if t.cursor >= 0 && t.cursor < len(t.visible) {
		return t.visible[t.cursor]
	}
	return nil
}

// Update handles messages.
func (t TreePanel) Update(msg tea.Msg) (TreePanel, tea.Cmd) { return t, nil }

// MoveUp moves cursor up.
func (t *TreePanel) MoveUp() {
	if t.cursor > 0 {
		t.cursor--
		t.ensureVisible()
	}
}

// MoveDown moves cursor down.
func (t *TreePanel) MoveDown() {
	if t.cursor < len(t.visible)-1 {
		t.cursor++
		t.ensureVisible()
	}
}

// PageUp moves cursor up by a quarter page.
func (t *TreePanel) PageUp() {
	t.cursor -= t.pageSize()
	if t.cursor < 0 {
		t.cursor = 0
	}
	t.ensureVisible()
}

// PageDown moves cursor down by a quarter page.
func (t *TreePanel) PageDown() {
	t.cursor += t.pageSize()
	if t.cursor >= len(t.visible) {
		t.cursor = len(t.visible) - 1
	}
	if t.cursor < 0 {
		t.cursor = 0
	}
	t.ensureVisible()
}

func (t *TreePanel) pageSize() int {
	p := (t.height - 4) / 4
	if p < 1 {
		p = 1
	}
	return p
}

// Collapse collapses the current folder.
func (t *TreePanel) Collapse() {
	if e := t.Selected(); e != nil && e.Kind == entry.KindDir {
		delete(t.expanded, e)
		t.updateVisible()
	}
}

// Expand expands the current folder.
func (t *TreePanel) Expand() {
	if e := t.Selected(); e != nil && e.Kind == entry.KindDir {
		t.expanded[e] = true
		t.updateVisible()
	}
}

// Toggle toggles expand/collapse of the current folder.
func (t *TreePanel) Toggle() {
	e := t.Selected()
	if e == nil || e.Kind != entry.KindDir {
		return
	}
	if t.expanded[e] {
		delete(t.expanded, e)
	} else {
		t.expanded[e] = true
	}
	t.updateVisible()
}

// GoToTop moves to the first item.
func (t *TreePanel) GoToTop() { t.cursor, t.offset = 0, 0 }

// GoToBottom moves to the last item.
func (t *TreePanel) GoToBottom() {
	t.cursor = len(t.visible) - 1
	t.ensureVisible()
}

// ExpandTo expands the tree to show and select a specific entry.
func (t *TreePanel) ExpandTo(target *entry.Entry) {
	if target == nil {
		return
	}
	var chain []*entry.Entry
	for e := target; e != nil; e = e.Parent {
		chain = append([]*entry.Entry{e}, chain...)
	}
	for _, e := range chain {
		if e.Kind == entry.KindDir {
			t.expanded[e] = true
		}
	}
	t.updateVisible()
	for i, e := range t.visible {
		if e == target {
			t.cursor = i
			t.ensureVisible()
			break
		}
	}
}

func (t *TreePanel) ensureVisible() {
	if t.cursor < t.offset {
		t.offset = t.cursor
	}
	maxVisible := t.height - 2
	if maxVisible < 1 {
		maxVisible = 1
	}
	if t.cursor >= t.offset+maxVisible {
		t.offset = t.cursor - maxVisible + 1
	}
}

func (t *TreePanel) updateVisible() {
	t.visible = nil
	if t.root == nil {
		return
	}
	t.collectVisible(t.root)
}

func (t *TreePanel) collectVisible(e *entry.Entry) {
	t.visible = append(t.visible, e)
	if e.Kind != entry.KindDir || !t.expanded[e] {
		return
	}
	children := sortedBySize(e.Dir.Children)
	for _, c := range children {
		t.collectVisible(c)
	}
}

// sortedBySize returns children ordered by descending cumulative size,
// the browsing order ncdu-style analyzers use so the biggest consumer
// of a directory's space is always the first line shown.
func sortedBySize(children []*entry.Entry) []*entry.Entry {
	out := make([]*entry.Entry, len(children))
	copy(out, children)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CumSize() > out[j].CumSize()
	})
	return out
}

func (t TreePanel) depthOf(e *entry.Entry) int {
	d := 0
	for p := e.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// RequiredWidth calculates the minimum width needed to display all
// visible content.
func (t TreePanel) RequiredWidth() int {
	if t.root == nil || len(t.visible) == 0 {
		return 30
	}
	maxWidth := 0
	for _, e := range t.visible {
		if w := lipgloss.Width(t.buildLine(e)); w > maxWidth {
			maxWidth = w
		}
	}
	return maxWidth + 2
}

func entryLabel(e *entry.Entry) string {
	name := string(e.Name)
	switch e.Kind {
	case entry.KindSpecial:
		return name + " [" + e.SpecialKind.String() + "]"
	case entry.KindLink:
		return name + " (hardlink)"
	default:
		return name
	}
}

func (t TreePanel) buildLine(e *entry.Entry) string {
	depth := t.depthOf(e)
	prefix := strings.Repeat("  ", depth)
	if e.Kind == entry.KindDir {
		if t.expanded[e] {
			prefix += "▼ "
		} else {
			prefix += "▶ "
		}
	} else {
		prefix += "  "
	}

	name := entryLabel(e)
	if e.Kind == entry.KindSpecial {
		return fmt.Sprintf("%s%s", prefix, name)
	}

	size := FormatSize(e.CumSize())
	errBadge := ""
	if (e.Kind == entry.KindDir && (e.Dir.Err || e.Dir.Suberr)) {
		errBadge = " !"
	}

	var sizeBar string
	if e.Parent != nil && e.Parent.CumSize() > 0 {
		pct := float64(e.CumSize()) / float64(e.Parent.CumSize())
		filled := int(pct * float64(treeSizeBarWidth))
		sizeBar = "[" + strings.Repeat("█", filled) + strings.Repeat("░", treeSizeBarWidth-filled) + "]"
	}

	return fmt.Sprintf("%s%s%s %s %s", prefix, name, errBadge, sizeBar, size)
}

// View renders the tree.
func (t TreePanel) View() string {
	if t.root == nil {
		return TreePanelStyle.Width(t.width).Height(t.height).Render("No data")
	}

	var lines []string
	maxVisible := t.height - 2
	if maxVisible < 1 {
		maxVisible = 1
	}

	for i := t.offset; i < len(t.visible) && len(lines) < maxVisible; i++ {
		e := t.visible[i]
		line := t.buildLine(e)
		maxW := t.width - 2

		var style lipgloss.Style
		switch {
		case i == t.cursor && t.focused:
			style = TreeItemSelected.Width(maxW).MaxWidth(maxW)
		case i == t.cursor:
			style = TreeItemSelectedUnfocused.Width(maxW).MaxWidth(maxW)
		case e.Kind == entry.KindSpecial:
			style = lipgloss.NewStyle().Foreground(ColorMuted).MaxWidth(maxW)
		case e.Kind == entry.KindDir && (e.Dir.Err || e.Dir.Suberr):
			style = lipgloss.NewStyle().Foreground(ColorErr).MaxWidth(maxW)
		case e.Kind == entry.KindDir:
			style = lipgloss.NewStyle().Foreground(ColorDir).MaxWidth(maxW)
		default:
			style = lipgloss.NewStyle().Foreground(ColorFile).MaxWidth(maxW)
		}
		lines = append(lines, style.Render(line))
	}

	content := strings.Join(lines, "\n")
	style := TreePanelStyle.Width(t.width).Height(t.height)
	if t.focused {
		style = style.BorderForeground(ColorPrimary)
	}
	return style.Render(content)
}
