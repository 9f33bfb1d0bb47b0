package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/zenkoo/internal/theme"
)

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Known commands.
const (
	CmdRefresh   CommandMsg = "refresh"
	CmdReconnect CommandMsg = "reconnect"
	CmdMarkAll   CommandMsg = "markall"
	CmdDeleteAll CommandMsg = "deleteall"
	CmdSettings  CommandMsg = "settings"
	CmdLogout    CommandMsg = "logout"
	CmdQuit      CommandMsg = "quit"
)

// Commands lists the commands offered as suggestions.
var Commands = []CommandMsg{
	CmdRefresh, CmdReconnect, CmdMarkAll, CmdDeleteAll, CmdSettings, CmdLogout, CmdQuit,
}

// Parse normalizes user input into a CommandMsg. Unique prefixes of a known
// command resolve to it.
func Parse(input string) CommandMsg {
	input = strings.ToLower(strings.TrimSpace(input))
	input = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(input)

	var match CommandMsg
	for _, c := range Commands {
		if string(c) == input {
			return c
		}
		if strings.HasPrefix(string(c), input) {
			if match != "" {
				return CommandMsg(input)
			}
			match = c
		}
	}
	if match != "" && input != "" {
		return match
	}
	return CommandMsg(input)
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.Focus()
	ti.Width = width - 6
	ti.ShowSuggestions = true
	suggestions := make([]string, len(Commands))
	for i, c := range Commands {
		suggestions[i] = string(c)
	}
	ti.SetSuggestions(suggestions)

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			cmd := Parse(m.input.Value())
			m.input.Reset()
			if cmd != "" {
				return m, func() tea.Msg {
					return cmd
				}
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Command Palette")
	input := m.input.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, input)

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
