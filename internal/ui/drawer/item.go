package drawer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	Notification model.Notification
	Exiting      bool
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Message }

// Title returns the notification text.
func (i NotificationItem) Title() string { return i.Notification.Message }

// Description returns the category and age of the notification.
func (i NotificationItem) Description() string {
	parts := []string{}
	if i.Notification.Category != "" {
		parts = append(parts, i.Notification.Category)
	}
	parts = append(parts, formatCreatedAt(i.Notification.CreatedAt, time.Now()))
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for drawer rows.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a notification row: a read marker, the category and the
// message, with the age on the second line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ni, ok := item.(NotificationItem)
	if !ok {
		return
	}
	n := ni.Notification

	marker := "○"
	if !n.IsRead {
		marker = "●"
	}

	category := ""
	if n.Category != "" {
		category = theme.CategoryStyle(strings.ToLower(n.Category)).Render(strings.ToUpper(n.Category)) + " "
	}

	width := m.Width() - 6
	msg := truncate(strings.ReplaceAll(n.Message, "\n", " "), max(width-lenCategory(n.Category), 10))

	line := fmt.Sprintf("%s %s%s", marker, category, msg)
	switch {
	case ni.Exiting:
		line = theme.ExitingItemStyle.Render(line)
	case n.IsRead:
		line = theme.ReadItemStyle.Render(line)
	default:
		line = theme.UnreadItemStyle.Render(line)
	}

	when := theme.TimestampStyle.Render("  " + formatCreatedAt(n.CreatedAt, time.Now()))
	row := line + "\n" + when

	if index == m.Index() {
		row = theme.SelectedItemStyle.Render(row)
	} else {
		row = theme.ListItemStyle.Render(row)
	}

	fmt.Fprint(w, row)
}

func lenCategory(c string) int {
	if c == "" {
		return 0
	}
	return len(c) + 3
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatCreatedAt renders a server timestamp relative to now. Unparseable
// values are shown as-is.
func formatCreatedAt(raw string, now time.Time) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return raw
	}
	return relativeTime(t, now)
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Local().Format("Jan 02, 2006")
	}
}
