package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/zenkoo/internal/live"
	"github.com/nhle/zenkoo/internal/theme"
	"github.com/nhle/zenkoo/internal/toast"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// BadgeLabel returns the unread badge text. It is empty at zero, like a
// disabled bell.
func BadgeLabel(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "🔔 99+"
	default:
		return fmt.Sprintf("🔔 %d", unread)
	}
}

// ConnectionLabel describes a live connection status for the header.
func ConnectionLabel(st live.Status) string {
	switch st.State {
	case live.StateOpen:
		return "● live"
	case live.StateConnecting:
		return "○ connecting"
	case live.StateReconnecting:
		return fmt.Sprintf("○ retry in %s", st.Backoff.Round(100*time.Millisecond))
	case live.StateClosed:
		return fmt.Sprintf("✕ closed (%d)", st.CloseCode)
	default:
		if st.WasClean {
			return "○ disconnected (R to reconnect)"
		}
		return "○ offline"
	}
}

// RenderHeader renders the top header bar with the title on the left and
// the connection indicator and unread badge on the right.
func (l Layout) RenderHeader(title string, conn live.Status, unread int) string {
	titleRendered := theme.HeaderStyle.Render(title)

	right := theme.ConnectionStyle(conn.State.String()).
		Padding(0, 1).
		Render(ConnectionLabel(conn))
	if badge := BadgeLabel(unread); badge != "" {
		right = lipgloss.JoinHorizontal(lipgloss.Top, right, theme.BadgeStyle.Render(badge))
	}

	gap := l.Width -
		lipgloss.Width(titleRendered) -
		lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		filler,
		right,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderToasts renders the visible toasts as a right-aligned stack.
func (l Layout) RenderToasts(toasts []toast.Toast) string {
	if len(toasts) == 0 {
		return ""
	}

	width := min(l.Width/2, 48)
	if width < 20 {
		width = l.Width
	}

	boxes := make([]string, 0, len(toasts))
	for _, t := range toasts {
		crypto := t.Variant == toast.VariantCrypto
		title := theme.ToastTitleStyle(crypto).Render(t.Icon() + " " + t.Title)
		box := theme.ToastStyle(crypto).
			Width(width - 2).
			Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.TrimSpace(t.Message)))
		boxes = append(boxes, box)
	}

	return lipgloss.PlaceHorizontal(l.Width, lipgloss.Right, lipgloss.JoinVertical(lipgloss.Right, boxes...))
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
