package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AssistantPort is the TUI-facing subset of the assistant service.
type AssistantPort interface {
	ListCategories() []string
	Ask(ctx context.Context, label, question string) string
}

// answerMsg carries a finished answer back into the update loop.
type answerMsg struct {
	label    string
	question string
	text     string
	took     time.Duration
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service    AssistantPort
	categories []string
	selected   int
	input      textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model
	answer     string
	status     string
	busy       bool
	ready      bool
	timeout    time.Duration
}

// New creates a new TUI model. The first category is selected.
func New(service AssistantPort, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type your question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return Model{
		service:    service,
		categories: service.ListCategories(),
		input:      ti,
		viewport:   viewport.New(0, 0),
		spinner:    sp,
		status:     "Tab switches category. Enter asks. Esc quits.",
		timeout:    timeout,
	}
}

// Category returns the selected category label.
func (m Model) Category() string {
	if len(m.categories) == 0 {
		return ""
	}
	return m.categories[m.selected]
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and tabs, status, query box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-ah)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		m.answer = msg.text
		m.status = fmt.Sprintf("%s: answered %q in %s", msg.label, msg.question, msg.took.Round(10*time.Millisecond))
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "esc":
			return m, tea.Quit
		case "tab":
			m.selectCategory(1)
			return m, nil
		case "shift+tab":
			m.selectCategory(-1)
			return m, nil
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			if m.busy {
				return m, nil
			}
			q := m.input.Value()
			label := m.Category()
			m.busy = true
			m.status = fmt.Sprintf("Searching %s...", label)
			return m, tea.Batch(m.spinner.Tick, m.ask(label, q))
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) selectCategory(delta int) {
	if len(m.categories) == 0 || m.busy {
		return
	}
	m.selected = (m.selected + delta + len(m.categories)) % len(m.categories)
	m.status = "Category: " + m.Category()
}

// ask runs the question outside the update loop.
func (m Model) ask(label, question string) tea.Cmd {
	service, timeout := m.service, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		text := service.Ask(ctx, label, question)
		return answerMsg{label: label, question: strings.TrimSpace(question), text: text, took: time.Since(start)}
	}
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Assistant")
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	answer := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + m.renderTabs() + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(m.categories))
	for i, c := range m.categories {
		if i == m.selected {
			tabs[i] = activeTabStyle.Render(c)
		} else {
			tabs[i] = tabStyle.Render(c)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderAnswer() string {
	if m.answer == "" {
		return "Choose a category and ask a question about its documents."
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(m.answer)
}

var (
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("11")).Underline(true)
)
