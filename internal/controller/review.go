package controller

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MatthewMckee4/karva/internal/model"
)

// ReviewDecision is the user's verdict on one snapshot.
type ReviewDecision func(name string) error

// ReviewUI walks pending snapshots in an interactive diff viewer.
// Keys: a accept, r reject, s skip, q quit.
type ReviewUI struct {
	accept ReviewDecision
	reject ReviewDecision
}

// NewReviewUI constructs a ReviewUI with accept/reject callbacks.
func NewReviewUI(accept, reject ReviewDecision) *ReviewUI {
	return &ReviewUI{accept: accept, reject: reject}
}

// Run starts the review session over the pending snapshots.
func (r *ReviewUI) Run(pending []model.PendingSnapshot) error {
	if len(pending) == 0 {
		return nil
	}

	m := reviewModel{
		pending:  pending,
		accept:   r.accept,
		reject:   r.reject,
		viewport: viewport.New(80, 24),
	}
	m.showCurrent()

	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("snapshot review failed: %w", err)
	}

	return nil
}

var (
	reviewTitleStyle  = lipgloss.NewStyle().Bold(true)
	reviewHelpStyle   = lipgloss.NewStyle().Faint(true)
	reviewAddStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	reviewRemoveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type reviewModel struct {
	pending  []model.PendingSnapshot
	index    int
	accept   ReviewDecision
	reject   ReviewDecision
	viewport viewport.Model
	err      error
}

func (m reviewModel) Init() tea.Cmd { return nil }

func (m *reviewModel) showCurrent() {
	snap := m.pending[m.index]

	var body strings.Builder

	for _, line := range strings.Split(strings.TrimRight(snap.Diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			body.WriteString(reviewAddStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			body.WriteString(reviewRemoveStyle.Render(line))
		default:
			body.WriteString(line)
		}
		body.WriteString("\n")
	}

	m.viewport.SetContent(body.String())
	m.viewport.GotoTop()
}

func (m reviewModel) advance() (tea.Model, tea.Cmd) {
	if m.index+1 >= len(m.pending) {
		return m, tea.Quit
	}

	m.index++
	m.showCurrent()

	return m, nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 3

		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			if err := m.accept(m.pending[m.index].Name); err != nil {
				m.err = err
				return m, tea.Quit
			}
			return m.advance()
		case "r":
			if err := m.reject(m.pending[m.index].Name); err != nil {
				m.err = err
				return m, tea.Quit
			}
			return m.advance()
		case "s", "n":
			return m.advance()
		}
	}

	var cmd tea.Cmd

	m.viewport, cmd = m.viewport.Update(msg)

	return m, cmd
}

func (m reviewModel) View() string {
	snap := m.pending[m.index]

	header := reviewTitleStyle.Render(
		fmt.Sprintf("snapshot %d/%d: %s", m.index+1, len(m.pending), snap.Name),
	)
	help := reviewHelpStyle.Render("a accept · r reject · s skip · q quit")

	return fmt.Sprintf("%s\n%s\n%s", header, m.viewport.View(), help)
}
