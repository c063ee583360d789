package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lumipallolabs/godu/internal/core"
	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/shellenv"
)

// Panel identifies which panel is active.
type Panel int

const (
	PanelTree Panel = iota
	PanelTreemap
)

// rescanDoneMsg is sent when a Refresh of the selected directory
// completes.
type rescanDoneMsg struct {
	target *entry.Entry
	err    error
}

// deleteDoneMsg is sent when a Delete of the selected entry completes.
type deleteDoneMsg struct {
	err error
}

// shellDoneMsg is sent when a spawned subshell (§6's NCDU_LEVEL/
// NCDU_SHELL/SHELL shell-out) exits.
type shellDoneMsg struct {
	err error
}

// spinnerTickMsg drives the busy spinner while a rescan is running.
type spinnerTickMsg struct{}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerTickInterval = 80 * time.Millisecond

// App is the main application model: a single-root browser over the
// tree produced by internal/core, adapted from the teacher's
// multi-drive App (lumipallolabs/diskdive's internal/ui/app.go) down to
// the scope spec.md actually names — no drive registry, filesystem
// watcher, persisted stats, or diff tracking, since those serve the
// teacher's own out-of-scope product rather than §6's CLI surface.
type App struct {
	ctl *core.Controller

	header  Header
	tree    TreePanel
	treemap TreemapPanel
	help    HelpOverlay
	keys    KeyMap

	root *entry.Entry

	activePanel Panel
	busy        bool
	busyLabel   string
	spinnerIdx  int
	err         error

	width  int
	height int
}

// NewApp creates a new application model over an already-scanned (or
// imported) tree, as produced by core.Controller.Scan/Import.
func NewApp(ctl *core.Controller, root *entry.Entry) App {
	a := App{
		ctl:     ctl,
		header:  NewHeader(),
		tree:    NewTreePanel(),
		treemap: NewTreemapPanel(),
		help:    NewHelpOverlay(),
		keys:    DefaultKeyMap(),
		root:    root,
	}

	a.tree.SetRoot(root)
	a.treemap.SetRoot(root)
	a.tree.SetFocused(true)
	a.treemap.SetFocused(false)
	a.refreshHeader()

	return a
}

func (a *App) refreshHeader() {
	if a.root == nil {
		return
	}
	a.header.SetRoot(a.ctl.RootPath(), a.root.CumSize(), a.root.Dir.Items)
	if lastErr, _ := a.ctl.LastError(); lastErr != "" {
		a.header.SetLastError(lastErr)
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.SetWindowTitle("godu")
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.updateLayout()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case rescanDoneMsg:
		a.busy = false
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.refreshHeader()
		a.tree.updateVisible()
		a.treemap.layout()
		return a, nil

	case deleteDoneMsg:
		a.busy = false
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		a.tree.updateVisible()
		if a.tree.cursor >= len(a.tree.visible) {
			a.tree.cursor = len(a.tree.visible) - 1
		}
		a.refreshHeader()
		return a, a.syncSelection()

	case shellDoneMsg:
		a.busy = false
		a.err = msg.err
		return a, nil

	case spinnerTickMsg:
		if a.busy {
			a.spinnerIdx = (a.spinnerIdx + 1) % len(spinnerFrames)
			return a, tea.Tick(spinnerTickInterval, func(time.Time) tea.Msg { return spinnerTickMsg{} })
		}
		return a, nil
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.busy {
		if key.Matches(msg, a.keys.Quit) {
			return a, tea.Quit
		}
		return a, nil
	}

	if a.help.IsVisible() {
		if key.Matches(msg, a.keys.Help) || key.Matches(msg, a.keys.Back) {
			a.help.SetVisible(false)
		}
		return a, nil
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.help.Toggle()
		return a, nil

	case key.Matches(msg, a.keys.Tab):
		if a.activePanel == PanelTree {
			a.activePanel = PanelTreemap
			a.tree.SetFocused(false)
			a.treemap.SetFocused(true)
		} else {
			a.activePanel = PanelTree
			a.tree.SetFocused(true)
			a.treemap.SetFocused(false)
			return a, a.syncSelection()
		}
		return a, nil

	case key.Matches(msg, a.keys.Up):
		if a.activePanel == PanelTree {
			a.tree.MoveUp()
			return a, a.syncSelection()
		}
		a.treemap.MoveToBlock(0, -1)
		return a, nil

	case key.Matches(msg, a.keys.Down):
		if a.activePanel == PanelTree {
			a.tree.MoveDown()
			return a, a.syncSelection()
		}
		a.treemap.MoveToBlock(0, 1)
		return a, nil

	case key.Matches(msg, a.keys.Left):
		if a.activePanel == PanelTree {
			a.tree.Collapse()
			a.updateLayout()
		} else {
			a.treemap.MoveToBlock(-1, 0)
		}
		return a, nil

	case key.Matches(msg, a.keys.Right):
		if a.activePanel == PanelTree {
			a.tree.Expand()
			a.updateLayout()
		} else {
			a.treemap.MoveToBlock(1, 0)
		}
		return a, nil

	case key.Matches(msg, a.keys.Top):
		if a.activePanel == PanelTree {
			a.tree.GoToTop()
			return a, a.syncSelection()
		}
		return a, nil

	case key.Matches(msg, a.keys.Bottom):
		if a.activePanel == PanelTree {
			a.tree.GoToBottom()
			return a, a.syncSelection()
		}
		return a, nil

	case key.Matches(msg, a.keys.Enter):
		if a.activePanel == PanelTreemap {
			a.treemap.ZoomIn()
			if e := a.treemap.Selected(); e != nil {
				a.tree.ExpandTo(e)
				a.updateLayout()
			}
		} else {
			a.tree.Toggle()
			a.updateLayout()
			return a, a.syncSelection()
		}
		return a, nil

	case key.Matches(msg, a.keys.Back):
		if a.activePanel == PanelTreemap {
			a.treemap.ZoomOut()
		} else {
			a.tree.Collapse()
			a.updateLayout()
		}
		return a, nil

	case key.Matches(msg, a.keys.Rescan):
		return a, a.startRescan()

	case key.Matches(msg, a.keys.Delete):
		return a, a.startDelete()

	case key.Matches(msg, a.keys.Shell):
		return a, a.startShell()
	}

	return a, nil
}

// startRescan refreshes the currently selected directory in place.
func (a *App) startRescan() tea.Cmd {
	target := a.tree.Selected()
	if target == nil || target.Kind != entry.KindDir {
		return nil
	}
	a.busy = true
	a.busyLabel = "rescanning"
	spinnerCmd := tea.Tick(spinnerTickInterval, func(time.Time) tea.Msg { return spinnerTickMsg{} })
	rescanCmd := func() tea.Msg {
		err := a.ctl.Refresh(target)
		return rescanDoneMsg{target: target, err: err}
	}
	return tea.Batch(rescanCmd, spinnerCmd)
}

// startDelete removes the currently selected entry from disk and tree.
func (a *App) startDelete() tea.Cmd {
	target := a.tree.Selected()
	if target == nil || target == a.root {
		return nil
	}
	a.busy = true
	a.busyLabel = "deleting"
	spinnerCmd := tea.Tick(spinnerTickInterval, func(time.Time) tea.Msg { return spinnerTickMsg{} })
	deleteCmd := func() tea.Msg {
		err := a.ctl.Delete(target)
		return deleteDoneMsg{err: err}
	}
	return tea.Batch(deleteCmd, spinnerCmd)
}

// startShell suspends the browser and spawns an interactive subshell
// rooted at the currently selected directory (or its parent, for a
// leaf), per §6's NCDU_LEVEL/NCDU_SHELL/SHELL contract.
func (a *App) startShell() tea.Cmd {
	target := a.tree.Selected()
	if target == nil {
		target = a.root
	}
	dir := a.ctl.Path(target)
	if target.Kind != entry.KindDir {
		dir = a.ctl.Path(target.Parent)
	}
	return tea.ExecProcess(shellenv.Command(dir), func(err error) tea.Msg {
		return shellDoneMsg{err: err}
	})
}

// syncSelection syncs the tree selection to the treemap.
func (a *App) syncSelection() tea.Cmd {
	e := a.tree.Selected()
	if e == nil {
		return nil
	}
	a.treemap.SetSelected(e)
	return nil
}

// updateLayout calculates component sizes based on window dimensions.
func (a *App) updateLayout() {
	headerHeight := 1
	helpBarHeight := 1

	panelHeight := a.height - headerHeight - helpBarHeight - 2
	if panelHeight < 1 {
		panelHeight = 1
	}

	treeWidth := a.tree.RequiredWidth()
	maxTreeWidth := a.width / 2
	if treeWidth > maxTreeWidth {
		treeWidth = maxTreeWidth
	}
	if treeWidth < 20 {
		treeWidth = 20
	}

	a.header.SetWidth(a.width)
	a.tree.SetSize(treeWidth, panelHeight)
	a.treemap.SetSize(a.width-treeWidth, panelHeight)
	a.help.SetSize(a.width, a.height)
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Loading..."
	}

	var sections []string
	sections = append(sections, a.header.View())

	if a.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(ColorDanger).Padding(0, 1)
		sections = append(sections, errStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	}

	if a.busy {
		spin := spinnerFrames[a.spinnerIdx]
		busyStyle := lipgloss.NewStyle().Foreground(ColorPrimary).Padding(0, 1)
		sections = append(sections, busyStyle.Render(fmt.Sprintf("%s %s...", spin, a.busyLabel)))
	}

	treeView := a.tree.View()
	treemapView := a.treemap.View()
	panels := lipgloss.JoinHorizontal(lipgloss.Top, treeView, treemapView)
	sections = append(sections, panels)

	sections = append(sections, HelpBar(a.width))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	if a.help.IsVisible() {
		overlay := a.help.View()
		return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, overlay,
			lipgloss.WithWhitespaceChars(" "), lipgloss.WithWhitespaceForeground(lipgloss.Color("#000000")))
	}

	return content
}
