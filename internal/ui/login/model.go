package login

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-playground/validator/v10"

	"github.com/nhle/zenkoo/internal/theme"
)

// SubmitMsg is emitted when the user submits valid credentials.
type SubmitMsg struct {
	Email    string
	Password string
}

// CancelMsg is emitted when the user aborts the form.
type CancelMsg struct{}

// credentials holds the values huh binds to. It is shared by pointer so
// copies of Model observe the same input.
type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

var validate = validator.New()

// Model is the login form view.
type Model struct {
	form    *huh.Form
	creds   *credentials
	spinner spinner.Model
	busy    bool
	errMsg  string
	width   int
	height  int
}

// New creates a login form.
func New(width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		spinner: sp,
		width:   width,
		height:  height,
	}
	m.reset()
	return m
}

func (m *Model) reset() {
	email := ""
	if m.creds != nil {
		email = m.creds.Email
	}
	m.creds = &credentials{Email: email}
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Placeholder("you@example.com").
				Value(&m.creds.Email).
				Validate(validateEmail),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.creds.Password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	return min(max(m.width-8, 20), 60)
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// SetBusy toggles the in-progress indicator while a login runs.
func (m *Model) SetBusy(busy bool) tea.Cmd {
	m.busy = busy
	if busy {
		return m.spinner.Tick
	}
	return nil
}

// Fail shows err and restarts the form with the email kept.
func (m *Model) Fail(err error) tea.Cmd {
	m.busy = false
	m.errMsg = err.Error()
	m.reset()
	return m.form.Init()
}

// Reset clears any error and restarts the form.
func (m *Model) Reset() tea.Cmd {
	m.busy = false
	m.errMsg = ""
	m.reset()
	return m.form.Init()
}

// Update handles messages for the login form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.busy {
		if tick, ok := msg.(spinner.TickMsg); ok {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(tick)
			return m, cmd
		}
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		creds := *m.creds
		creds.Email = strings.TrimSpace(creds.Email)
		if err := validate.Struct(creds); err != nil {
			return m, m.Fail(errors.New("enter a valid email and password"))
		}
		m.errMsg = ""
		return m, func() tea.Msg {
			return SubmitMsg{Email: creds.Email, Password: creds.Password}
		}
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the login form.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	parts := []string{titleStyle.Render("Log in to Zenkoo")}
	if m.busy {
		parts = append(parts, m.spinner.View()+" Logging in…")
	} else {
		parts = append(parts, m.form.View())
	}
	if m.errMsg != "" {
		parts = append(parts, theme.ErrorStyle.Render(m.errMsg))
	}

	return theme.PanelStyle.
		Width(m.formWidth() + 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(m.formWidth())
}

func validateEmail(s string) error {
	if err := validate.Var(strings.TrimSpace(s), "required,email"); err != nil {
		return errors.New("enter a valid email address")
	}
	return nil
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}
