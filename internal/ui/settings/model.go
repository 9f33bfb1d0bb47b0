package settings

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/zenkoo/internal/model"
	"github.com/nhle/zenkoo/internal/theme"
)

// DoneMsg signals the settings view should close without saving.
type DoneMsg struct{}

// SavedMsg is sent after the configuration was written to disk.
type SavedMsg struct {
	Config *model.AppConfig
	Path   string
}

type saveResultMsg struct {
	cfg *model.AppConfig
	err error
}

// fields holds the form values. huh writes through these pointers, so the
// struct lives on the heap and survives model copies.
type fields struct {
	apiBaseURL  string
	apiPrefix   string
	wsBaseURL   string
	pageSize    string
	toastSec    string
	resyncSec   string
	backoffInit string
	backoffMax  string
}

// Model edits the server and inbox sections of the config file.
type Model struct {
	path    string
	current *model.AppConfig
	form    *huh.Form
	values  *fields
	spinner spinner.Model
	saving  bool
	err     error

	width, height int
}

// New creates a settings view for the config stored at path.
func New(path string, cfg *model.AppConfig, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		path:    path,
		current: cfg,
		spinner: sp,
		width:   width,
		height:  height,
	}
}

// Open rebuilds the form from the current configuration.
func (m *Model) Open() tea.Cmd {
	c := m.current
	m.values = &fields{
		apiBaseURL:  c.Server.APIBaseURL,
		apiPrefix:   c.Server.APIPrefix,
		wsBaseURL:   c.Server.WSBaseURL,
		pageSize:    strconv.Itoa(c.Inbox.PageSize),
		toastSec:    strconv.Itoa(c.Inbox.ToastSec),
		resyncSec:   strconv.Itoa(c.Inbox.ResyncIntervalSec),
		backoffInit: strconv.Itoa(c.Live.BackoffInitialMs),
		backoffMax:  strconv.Itoa(c.Live.BackoffMaxMs),
	}
	m.err = nil
	m.saving = false
	m.form = m.buildForm()
	return m.form.Init()
}

// reopen shows the form again with the values the user entered.
func (m *Model) reopen() tea.Cmd {
	m.form = m.buildForm()
	return m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	v := m.values
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("REST backend root (e.g., https://api.example.com)").
				Value(&v.apiBaseURL).
				Validate(validateURL("http", "https")),
			huh.NewInput().
				Title("API prefix").
				Description("Path every REST endpoint lives under").
				Placeholder("/api").
				Value(&v.apiPrefix),
			huh.NewInput().
				Title("Push URL").
				Description("WebSocket root (e.g., wss://api.example.com)").
				Value(&v.wsBaseURL).
				Validate(validateURL("ws", "wss")),
		).Title("Server"),
		huh.NewGroup(
			huh.NewInput().
				Title("Page size").
				Value(&v.pageSize).
				Validate(validateInt("Page size", 1, 100)),
			huh.NewInput().
				Title("Toast seconds").
				Value(&v.toastSec).
				Validate(validateInt("Toast seconds", 1, 60)),
			huh.NewInput().
				Title("Resync interval (seconds)").
				Description("0 disables the periodic resync").
				Value(&v.resyncSec).
				Validate(validateInt("Resync interval", 0, 3600)),
		).Title("Inbox"),
		huh.NewGroup(
			huh.NewInput().
				Title("Reconnect delay (ms)").
				Value(&v.backoffInit).
				Validate(validateInt("Reconnect delay", 1, 600000)),
			huh.NewInput().
				Title("Maximum reconnect delay (ms)").
				Value(&v.backoffMax).
				Validate(validateInt("Maximum reconnect delay", 1, 600000)),
		).Title("Live connection"),
	).WithWidth(m.formWidth())
}

// Update handles messages for the settings view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case saveResultMsg:
		m.saving = false
		if msg.err != nil {
			m.err = msg.err
			return m, m.reopen()
		}
		m.current = msg.cfg
		path := m.path
		cfg := msg.cfg
		return m, func() tea.Msg { return SavedMsg{Config: cfg, Path: path} }

	case spinner.TickMsg:
		if !m.saving {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.form == nil || m.saving {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		cfg, err := m.apply()
		if err != nil {
			m.err = err
			return m, m.reopen()
		}
		m.saving = true
		return m, tea.Batch(m.spinner.Tick, save(m.path, cfg))
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return DoneMsg{} }
	}

	return m, cmd
}

// apply returns a copy of the current configuration with the form values.
func (m Model) apply() (*model.AppConfig, error) {
	cfg := *m.current
	v := m.values

	cfg.Server.APIBaseURL = strings.TrimRight(strings.TrimSpace(v.apiBaseURL), "/")
	cfg.Server.WSBaseURL = strings.TrimRight(strings.TrimSpace(v.wsBaseURL), "/")
	prefix := strings.TrimSpace(v.apiPrefix)
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	cfg.Server.APIPrefix = strings.TrimRight(prefix, "/")

	// Inputs were validated by the form.
	cfg.Inbox.PageSize, _ = strconv.Atoi(strings.TrimSpace(v.pageSize))
	cfg.Inbox.ToastSec, _ = strconv.Atoi(strings.TrimSpace(v.toastSec))
	cfg.Inbox.ResyncIntervalSec, _ = strconv.Atoi(strings.TrimSpace(v.resyncSec))
	cfg.Live.BackoffInitialMs, _ = strconv.Atoi(strings.TrimSpace(v.backoffInit))
	cfg.Live.BackoffMaxMs, _ = strconv.Atoi(strings.TrimSpace(v.backoffMax))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func save(path string, cfg *model.AppConfig) tea.Cmd {
	return func() tea.Msg {
		return saveResultMsg{cfg: cfg, err: model.SaveConfig(path, cfg)}
	}
}

// View renders the settings form.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(theme.HeaderStyle.Render("Settings"))
	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(m.path))
	b.WriteString("\n\n")

	if m.saving {
		b.WriteString(m.spinner.View() + " Saving…")
		return b.String()
	}
	if m.err != nil {
		b.WriteString(theme.ErrorStyle.Render(m.err.Error()))
		b.WriteString("\n\n")
	}
	if m.form != nil {
		b.WriteString(m.form.View())
	}
	return b.String()
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("URL is required")
		}
		parsed, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("URL must include scheme and host")
		}
		for _, scheme := range schemes {
			if parsed.Scheme == scheme {
				return nil
			}
		}
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
}

func validateInt(fieldName string, lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a number", fieldName)
		}
		if n < lo || n > hi {
			return fmt.Errorf("%s must be between %d and %d", fieldName, lo, hi)
		}
		return nil
	}
}
