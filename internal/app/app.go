package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/zenkoo/internal/api"
	"github.com/nhle/zenkoo/internal/events"
	"github.com/nhle/zenkoo/internal/keys"
	"github.com/nhle/zenkoo/internal/live"
	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/session"
	appsync "github.com/nhle/zenkoo/internal/sync"
	"github.com/nhle/zenkoo/internal/theme"
	"github.com/nhle/zenkoo/internal/toast"
	"github.com/nhle/zenkoo/internal/ui"
	"github.com/nhle/zenkoo/internal/ui/command"
	"github.com/nhle/zenkoo/internal/ui/drawer"
	helpview "github.com/nhle/zenkoo/internal/ui/help"
	"github.com/nhle/zenkoo/internal/ui/login"
	"github.com/nhle/zenkoo/internal/ui/settings"
)

// requestTimeout bounds session requests issued from the UI.
const requestTimeout = 30 * time.Second

// noticeTTL is how long a status bar notice stays visible.
const noticeTTL = 5 * time.Second

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewHome ViewState = iota
	ViewDrawer
	ViewLogin
	ViewHelp
	ViewCommand
	ViewSettings
)

type sessionResultMsg struct {
	user *model.User
	err  error
}

type logoutResultMsg struct {
	err error
}

type runtimeChangedMsg struct{}

type liveStatusMsg struct {
	status live.Status
}

type toastMsg struct {
	notification model.Notification
}

type toastTickMsg time.Time

// Model is the root Bubble Tea model that manages view routing, layout,
// and the notification runtime.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	rt           *Runtime
	keys         *keys.KeyMap
	drawer       drawer.Model
	loginView    login.Model
	helpView     helpview.Model
	commandView  command.Model
	settingsView settings.Model
	toasts       *toast.Queue
	toastSub     *events.Subscription
	ready        bool
	ticking      bool

	user        *model.User
	unreadCount int
	connStatus  live.Status
	restoring   bool
	expiring    bool

	notice        string
	noticeIsError bool
	noticeAt      time.Time
}

// New creates a new root application model over rt.
func New(rt *Runtime) Model {
	k := keys.DefaultKeyMap()

	return Model{
		currentView:  ViewHome,
		rt:           rt,
		keys:         k,
		drawer:       drawer.New(rt.Inbox, k, 80, 24),
		loginView:    login.New(80, 24),
		helpView:     helpview.New(k, 80, 24),
		commandView:  command.New(80, 24),
		settingsView: settings.New(rt.ConfigPath, rt.Config, 80, 24),
		toasts:       toast.NewQueue(3),
		toastSub:     rt.Dispatcher.Hub().Subscribe(),
		restoring:    true,
	}
}

// Init restores the stored session and starts listening to the runtime.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.restore(),
		m.waitForChanges(),
		m.waitForLiveStatus(),
		m.waitForToast(),
		m.rt.Poller.WaitForNextResult(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.drawer.SetSize(contentWidth, contentHeight)
		m.loginView.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.settingsView.SetSize(contentWidth, contentHeight)
		return m.updateActiveView(msg)

	case sessionResultMsg:
		m.restoring = false
		if msg.err != nil {
			if m.currentView == ViewLogin {
				return m, m.loginView.Fail(msg.err)
			}
			if !errors.Is(msg.err, session.ErrNoSession) {
				m.setNotice(fmt.Sprintf("Could not restore session: %v", msg.err), true)
			}
			return m.showLogin()
		}
		if m.rt.Session.UserID() != msg.user.ID {
			// The session ended while the result was in flight.
			return m.showLogin()
		}
		m.user = msg.user
		busy := m.loginView.SetBusy(false)
		if m.currentView == ViewLogin {
			m.currentView = ViewHome
		}
		m.setNotice("Logged in as "+msg.user.DisplayName(), false)
		tick := m.startTick()
		return m, tea.Batch(busy, tick)

	case logoutResultMsg:
		m.user = nil
		m.expiring = false
		m.unreadCount = 0
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("Logout: %v", msg.err), true)
		}
		return m.showLogin()

	case login.SubmitMsg:
		return m, tea.Batch(m.loginView.SetBusy(true), m.login(msg.Email, msg.Password))

	case login.CancelMsg:
		return m, tea.Quit

	case runtimeChangedMsg:
		m.unreadCount = m.rt.Counter.Value()
		var cmd tea.Cmd
		m.drawer, cmd = m.drawer.Update(drawer.SnapshotMsg{Snapshot: m.rt.Inbox.Snapshot()})
		return m, tea.Batch(cmd, m.waitForChanges())

	case liveStatusMsg:
		m.connStatus = msg.status
		return m, m.waitForLiveStatus()

	case toastMsg:
		m.toasts.Push(toast.FromNotification(msg.notification, time.Now(), m.rt.Config.Inbox.ToastTTL()))
		tick := m.startTick()
		return m, tea.Batch(m.waitForToast(), tick)

	case toastTickMsg:
		now := time.Time(msg)
		m.toasts.Expire(now)
		if !m.noticeAt.IsZero() && now.Sub(m.noticeAt) > noticeTTL {
			m.notice = ""
			m.noticeAt = time.Time{}
		}
		if m.toasts.Len() > 0 || m.notice != "" {
			return m, toastTick()
		}
		m.ticking = false
		return m, nil

	case appsync.SyncResultMsg:
		next := m.rt.Poller.WaitForNextResult()
		// Results from a previous session are dropped.
		if msg.AuthError == nil || !m.rt.Poller.Current(msg.Epoch) {
			return m, next
		}
		m.setNotice(msg.AuthError.Message, true)
		expired, logout := m.handleAuthExpired()
		return expired, tea.Batch(next, logout)

	case drawer.ActionResultMsg:
		if msg.Err == nil {
			return m, nil
		}
		if api.IsAuthError(msg.Err) {
			m.setNotice("Session expired. Please log in again.", true)
			return m.handleAuthExpired()
		}
		m.setNotice(fmt.Sprintf("Could not %s: %v", msg.Action, msg.Err), true)
		tick := m.startTick()
		return m, tick

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.handleCommand(msg)

	case settings.SavedMsg:
		m.currentView = m.previousView
		m.setNotice("Settings saved to "+msg.Path+". Restart to apply connection changes.", false)
		tick := m.startTick()
		return m, tick

	case settings.DoneMsg:
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKeys(msg); handled {
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleGlobalKeys processes keys that work across views. The second
// return value reports whether the key was consumed.
func (m *Model) handleGlobalKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Text-entry views receive every key.
	if m.currentView == ViewLogin || m.currentView == ViewCommand || m.currentView == ViewSettings {
		if msg.String() == "ctrl+c" {
			return tea.Quit, true
		}
		if m.currentView != ViewLogin && key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
			return nil, true
		}
		return nil, false
	}
	if m.currentView == ViewDrawer && m.drawer.Confirming() {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
		} else {
			m.previousView = m.currentView
			m.currentView = ViewHelp
		}
		return nil, true

	case key.Matches(msg, m.keys.Command):
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true

	case key.Matches(msg, m.keys.Back):
		switch m.currentView {
		case ViewHelp:
			m.currentView = m.previousView
		case ViewDrawer:
			m.closeDrawer()
		}
		return nil, true

	case key.Matches(msg, m.keys.Drawer):
		if m.currentView == ViewDrawer {
			m.closeDrawer()
			return nil, true
		}
		return m.openDrawer(), true

	case key.Matches(msg, m.keys.Refresh):
		m.rt.Poller.RefreshAll()
		if m.currentView == ViewDrawer {
			return m.drawer.Fetch(m.drawer.Snapshot().PageIndex), true
		}
		return nil, true

	case key.Matches(msg, m.keys.Reconnect):
		m.rt.Live.Reconnect()
		m.setNotice("Reconnecting…", false)
		return m.startTick(), true

	case key.Matches(msg, m.keys.Dismiss):
		m.toasts.Dismiss()
		return nil, true

	case key.Matches(msg, m.keys.Settings):
		return m.openSettings(), true
	}

	return nil, false
}

func (m *Model) handleCommand(cmd command.CommandMsg) (tea.Model, tea.Cmd) {
	switch cmd {
	case command.CmdRefresh:
		m.rt.Poller.RefreshAll()
		return *m, nil
	case command.CmdReconnect:
		m.rt.Live.Reconnect()
		return *m, nil
	case command.CmdMarkAll:
		c := m.openDrawer()
		return *m, tea.Batch(c, m.drawer.MarkAll())
	case command.CmdDeleteAll:
		c := m.openDrawer()
		var confirm tea.Cmd
		m.drawer, confirm = m.drawer.ConfirmDeleteAll()
		return *m, tea.Batch(c, confirm)
	case command.CmdSettings:
		c := m.openSettings()
		return *m, c
	case command.CmdLogout:
		return *m, m.logout()
	case command.CmdQuit:
		return *m, tea.Quit
	default:
		m.setNotice(fmt.Sprintf("Unknown command: %s", cmd), true)
		tick := m.startTick()
		return *m, tick
	}
}

func (m *Model) openDrawer() tea.Cmd {
	if m.user == nil {
		return nil
	}
	if m.currentView != ViewDrawer {
		m.previousView = m.currentView
		m.currentView = ViewDrawer
	}
	m.rt.OpenDrawer()
	m.drawer.SetSnapshot(m.rt.Inbox.Snapshot())
	return m.drawer.Init()
}

func (m *Model) openSettings() tea.Cmd {
	if m.currentView == ViewSettings {
		return nil
	}
	if m.currentView == ViewDrawer {
		m.closeDrawer()
	}
	m.previousView = m.currentView
	m.currentView = ViewSettings
	return m.settingsView.Open()
}

func (m *Model) closeDrawer() {
	m.rt.CloseDrawer()
	m.currentView = ViewHome
}

func (m Model) showLogin() (tea.Model, tea.Cmd) {
	m.rt.CloseDrawer()
	m.currentView = ViewLogin
	return m, m.loginView.Reset()
}

// handleAuthExpired logs out once per expired session. Further auth errors
// are ignored until the logout completes.
func (m Model) handleAuthExpired() (tea.Model, tea.Cmd) {
	if m.expiring {
		return m, nil
	}
	m.expiring = true
	return m, m.logout()
}

// updateActiveView forwards a message to whichever view is active.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewDrawer:
		m.drawer, cmd = m.drawer.Update(msg)
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	}

	return m, cmd
}

// View renders the full application UI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Zenkoo", m.connStatus, m.unreadCount)

	var content string
	switch m.currentView {
	case ViewDrawer:
		content = m.drawer.View()
	case ViewLogin:
		content = m.loginView.View()
	case ViewHelp:
		content = m.helpView.View()
	case ViewCommand:
		content = m.commandView.View()
	case ViewSettings:
		content = m.settingsView.View()
	default:
		content = m.viewHome()
	}

	if toasts := m.layout.RenderToasts(m.toasts.Visible()); toasts != "" {
		content = lipgloss.JoinVertical(lipgloss.Left, toasts, content)
	}

	content = lipgloss.NewStyle().
		Height(m.layout.ContentHeight()).
		MaxHeight(m.layout.ContentHeight()).
		Render(content)

	return m.layout.RenderWithFrame(header, content, m.layout.RenderStatusBar(m.statusHints()))
}

func (m Model) viewHome() string {
	if m.restoring {
		return theme.HelpStyle.Render("Restoring session…")
	}
	if m.user == nil {
		return theme.HelpStyle.Render("Not logged in.")
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Hello, " + m.user.DisplayName()))
	b.WriteString("\n\n")
	switch m.unreadCount {
	case 0:
		b.WriteString("You have no unread notifications.")
	case 1:
		b.WriteString("You have 1 unread notification.")
	default:
		b.WriteString(fmt.Sprintf("You have %d unread notifications.", m.unreadCount))
	}
	b.WriteString("\n\n")
	b.WriteString(theme.HelpStyle.Render("Press n to open notifications, ? for help."))
	return b.String()
}

func (m Model) statusHints() string {
	if m.notice != "" {
		if m.noticeIsError {
			return theme.ErrorStyle.Render(m.notice)
		}
		return m.notice
	}

	switch m.currentView {
	case ViewDrawer:
		return "j/k: move  enter: read  a: all read  d: delete  D: delete all  h/l: page  esc: close"
	case ViewLogin:
		return "enter: submit  ctrl+c: quit"
	case ViewCommand:
		return "enter: run  esc: cancel"
	case ViewSettings:
		return "tab: next field  enter: next/save  esc: cancel"
	default:
		return "n: notifications  r: refresh  R: reconnect  ,: settings  :: command  ?: help  q: quit"
	}
}

func (m *Model) setNotice(text string, isError bool) {
	m.notice = text
	m.noticeIsError = isError
	m.noticeAt = time.Now()
}

// --- commands ---

func (m Model) restore() tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		user, err := rt.Restore(ctx)
		return sessionResultMsg{user: user, err: err}
	}
}

func (m Model) login(email, password string) tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		user, err := rt.Login(ctx, email, password)
		return sessionResultMsg{user: user, err: err}
	}
}

func (m Model) logout() tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		return logoutResultMsg{err: rt.Logout()}
	}
}

func (m Model) waitForChanges() tea.Cmd {
	ch := m.rt.Changes()
	return func() tea.Msg {
		<-ch
		return runtimeChangedMsg{}
	}
}

func (m Model) waitForLiveStatus() tea.Cmd {
	ch := m.rt.Live.Updates()
	return func() tea.Msg {
		return liveStatusMsg{status: <-ch}
	}
}

func (m Model) waitForToast() tea.Cmd {
	sub := m.toastSub
	return func() tea.Msg {
		n, ok := <-sub.C()
		if !ok {
			return nil
		}
		return toastMsg{notification: n}
	}
}

// startTick starts the once-a-second expiry tick unless it is already
// running.
func (m *Model) startTick() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return toastTick()
}

func toastTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return toastTickMsg(t)
	})
}
