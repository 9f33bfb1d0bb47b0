package drawer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/paginator"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/zenkoo/internal/inbox"
	"github.com/nhle/zenkoo/internal/keys"
	"github.com/nhle/zenkoo/internal/theme"
)

// actionTimeout bounds a single drawer action, including its REST calls.
const actionTimeout = 30 * time.Second

// Action names reported in ActionResultMsg.
const (
	ActionFetch     = "fetch"
	ActionMarkRead  = "mark read"
	ActionMarkAll   = "mark all read"
	ActionDelete    = "delete"
	ActionDeleteAll = "delete all"
)

// Inbox is the subset of *inbox.Store the drawer drives.
type Inbox interface {
	FetchPage(ctx context.Context, page int) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteOne(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	Snapshot() inbox.Snapshot
}

// ActionResultMsg is sent when a drawer action completes.
type ActionResultMsg struct {
	Action string
	Err    error
}

// SnapshotMsg carries a new store snapshot to the drawer.
type SnapshotMsg struct {
	Snapshot inbox.Snapshot
}

// Model is the notification drawer view.
type Model struct {
	inbox   Inbox
	keys    *keys.KeyMap
	list    list.Model
	pager   paginator.Model
	spinner spinner.Model
	snap    inbox.Snapshot

	// Delete-all confirmation. The answer lives behind a pointer so every
	// copy of the model sees what the form wrote.
	confirm       *huh.Form
	confirmDelete *bool

	width, height int
}

// New creates a drawer over ib.
func New(ib Inbox, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-4)
	l.Title = "Notifications"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle
	l.SetStatusBarItemName("notification", "notifications")

	p := paginator.New()
	p.Type = paginator.Dots
	p.ActiveDot = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("•")
	p.InactiveDot = lipgloss.NewStyle().Foreground(theme.ColorSubtle).Render("•")

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		inbox:   ib,
		keys:    k,
		list:    l,
		pager:   p,
		spinner: sp,
		width:   width,
		height:  height,
	}
	m.SetSnapshot(ib.Snapshot())
	return m
}

// Init loads the page the store currently points at.
func (m Model) Init() tea.Cmd {
	page := m.snap.PageIndex
	if page < 1 {
		page = 1
	}
	return tea.Batch(m.spinner.Tick, m.Fetch(page))
}

// Fetch returns a command that loads page.
func (m Model) Fetch(page int) tea.Cmd {
	ib := m.inbox
	return run(ActionFetch, func(ctx context.Context) error {
		err := ib.FetchPage(ctx, page)
		if errors.Is(err, inbox.ErrSuperseded) {
			return nil
		}
		return err
	})
}

// SetSnapshot replaces the rendered state, keeping the cursor in range.
func (m *Model) SetSnapshot(s inbox.Snapshot) {
	m.snap = s

	items := make([]list.Item, len(s.Items))
	for i, n := range s.Items {
		items[i] = NotificationItem{Notification: n, Exiting: s.Exiting[n.ID]}
	}
	cursor := m.list.Index()
	m.list.SetItems(items)
	if cursor >= len(items) && len(items) > 0 {
		m.list.Select(len(items) - 1)
	}

	m.pager.PerPage = max(s.PageSize, 1)
	m.pager.TotalPages = s.PageCount()
	m.pager.Page = max(s.PageIndex-1, 0)
}

// Snapshot returns the state currently rendered.
func (m Model) Snapshot() inbox.Snapshot {
	return m.snap
}

// Confirming reports whether the delete-all confirmation has focus.
func (m Model) Confirming() bool {
	return m.confirm != nil
}

// Update handles messages for the drawer.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.confirm != nil {
		return m.updateConfirm(msg)
	}

	switch msg := msg.(type) {
	case SnapshotMsg:
		m.SetSnapshot(msg.Snapshot)
		if msg.Snapshot.Loading {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.snap.Loading && !m.snap.MarkingAll {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.MarkRead):
		item, ok := m.list.SelectedItem().(NotificationItem)
		if !ok || item.Notification.IsRead || item.Exiting {
			return m, nil
		}
		id := item.Notification.ID
		ib := m.inbox
		return m, run(ActionMarkRead, func(ctx context.Context) error {
			return ib.MarkRead(ctx, id)
		})

	case key.Matches(msg, m.keys.MarkAll):
		cmd := m.MarkAll()
		if cmd == nil {
			return m, nil
		}
		return m, tea.Batch(m.spinner.Tick, cmd)

	case key.Matches(msg, m.keys.Delete):
		item, ok := m.list.SelectedItem().(NotificationItem)
		if !ok || item.Exiting {
			return m, nil
		}
		id := item.Notification.ID
		ib := m.inbox
		return m, run(ActionDelete, func(ctx context.Context) error {
			return ib.DeleteOne(ctx, id)
		})

	case key.Matches(msg, m.keys.DeleteAll):
		if m.snap.Count == 0 {
			return m, nil
		}
		return m.ConfirmDeleteAll()

	case key.Matches(msg, m.keys.NextPage):
		if m.snap.PageIndex >= m.snap.PageCount() {
			return m, nil
		}
		return m, tea.Batch(m.spinner.Tick, m.Fetch(m.snap.PageIndex+1))

	case key.Matches(msg, m.keys.PrevPage):
		if m.snap.PageIndex <= 1 {
			return m, nil
		}
		return m, tea.Batch(m.spinner.Tick, m.Fetch(m.snap.PageIndex-1))
	}

	// Delegate to the list for cursor movement
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// ConfirmDeleteAll opens the delete-all confirmation, as the command
// palette does.
func (m Model) ConfirmDeleteAll() (Model, tea.Cmd) {
	m.confirm = m.buildConfirmForm()
	return m, m.confirm.Init()
}

// MarkAll returns the mark-all-read command if anything is unread.
func (m Model) MarkAll() tea.Cmd {
	if !m.snap.HasUnread() || m.snap.MarkingAll {
		return nil
	}
	ib := m.inbox
	return run(ActionMarkAll, func(ctx context.Context) error {
		return ib.MarkAllRead(ctx)
	})
}

func (m *Model) buildConfirmForm() *huh.Form {
	answer := false
	m.confirmDelete = &answer
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete all %d notifications?", m.snap.Count)).
				Description("This cannot be undone.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(m.confirmDelete),
		),
	).WithWidth(min(m.width-4, 60)).WithShowHelp(false)
}

func (m Model) updateConfirm(msg tea.Msg) (Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Back) {
		m.confirm = nil
		return m, nil
	}

	mdl, cmd := m.confirm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.confirm = f
	}

	switch m.confirm.State {
	case huh.StateCompleted:
		m.confirm = nil
		if m.confirmDelete == nil || !*m.confirmDelete {
			return m, nil
		}
		ib := m.inbox
		return m, run(ActionDeleteAll, func(ctx context.Context) error {
			return ib.DeleteAll(ctx)
		})
	case huh.StateAborted:
		m.confirm = nil
		return m, nil
	}

	return m, cmd
}

// View renders the drawer.
func (m Model) View() string {
	if m.confirm != nil {
		return theme.PanelStyle.Width(m.width - 4).Render(m.confirm.View())
	}

	var b strings.Builder

	title := fmt.Sprintf("Notifications (%d)", m.snap.Count)
	if m.snap.Loading || m.snap.MarkingAll {
		title += " " + m.spinner.View()
	}
	b.WriteString(theme.HeaderStyle.Render(title))
	b.WriteString("\n")

	if len(m.snap.Items) == 0 {
		empty := "No notifications."
		if m.snap.Loading {
			empty = "Loading…"
		}
		b.WriteString(theme.HelpStyle.Render(empty))
		b.WriteString("\n")
	} else {
		b.WriteString(m.list.View())
		b.WriteString("\n")
	}

	footer := []string{}
	if m.snap.PageCount() > 1 {
		footer = append(footer, m.pager.View(), fmt.Sprintf("page %d/%d", m.snap.PageIndex, m.snap.PageCount()))
	}
	if m.snap.HasUnread() && !m.snap.MarkingAll {
		footer = append(footer, "a: mark all read")
	}
	if len(footer) > 0 {
		b.WriteString(theme.HelpStyle.Render(strings.Join(footer, "  ")))
	}

	return b.String()
}

// SetSize updates the drawer dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-4)
}

// run wraps an inbox call in a command with a timeout.
func run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return ActionResultMsg{Action: action, Err: fn(ctx)}
	}
}
