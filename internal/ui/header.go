package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Header displays the scan root path, its cumulative size, and scan
// status. Pared down from the teacher's multi-drive Header
// (lumipallolabs/diskdive's internal/ui/header.go) to a single scan
// root, since spec.md names no drive registry.
type Header struct {
	rootPath string
	cumSize  uint64
	items    uint32
	scanning bool
	progress string
	lastErr  string
	width    int
}

// NewHeader creates a new header component.
func NewHeader() Header { return Header{} }

// SetRoot updates the displayed root path and aggregate stats.
func (h *Header) SetRoot(path string, cumSize uint64, items uint32) {
	h.rootPath, h.cumSize, h.items = path, cumSize, items
}

// SetScanning sets the scanning state and its progress text.
func (h *Header) SetScanning(scanning bool, progress string) {
	h.scanning = scanning
	h.progress = progress
}

// SetLastError sets the last scan error path shown in the header.
func (h *Header) SetLastError(path string) { h.lastErr = path }

// SetWidth sets the header width.
func (h *Header) SetWidth(w int) { h.width = w }

// Update handles messages (Header currently owns no animated state).
func (h Header) Update(msg tea.Msg) (Header, tea.Cmd) { return h, nil }

// View renders the header.
func (h Header) View() string {
	appName := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#C084FC")).
		Bold(true).
		Render("GODU")

	path := lipgloss.NewStyle().Foreground(ColorMuted).Render(h.rootPath)

	var stats string
	if h.scanning {
		stats = StatsStyle.Render(h.progress)
	} else if h.rootPath != "" {
		stats = StatsStyle.Render(fmt.Sprintf("%s  ·  %d items", FormatSize(h.cumSize), h.items))
	}

	var errBadge string
	if h.lastErr != "" {
		errBadge = lipgloss.NewStyle().Foreground(ColorErr).Render("  ⚠ " + h.lastErr)
	}

	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" │ ")

	left := appName + sep + path
	right := stats + errBadge

	gap := h.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right

	return HeaderStyle.MaxHeight(1).Render(line)
}
