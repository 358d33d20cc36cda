// Package tui renders live pipeline progress while a review runs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/reviewd/internal/session"
)

const maxVisibleLines = 12

var (
	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")) // Green

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray
)

// eventMsg wraps one session event for the update loop.
type eventMsg session.Event

// doneMsg signals that the pipeline finished and the event stream closed.
type doneMsg struct{}

// Model is the BubbleTea model streaming pipeline events.
type Model struct {
	events  <-chan session.Event
	spinner spinner.Model
	current string
	lines   []string
	done    bool
}

// New creates a progress model over an event channel. The channel must be
// closed when the pipeline finishes.
func New(events <-chan session.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return Model{
		events:  events,
		spinner: sp,
		current: "starting",
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(evt)
	}
}

// Update handles events, spinner ticks, and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case eventMsg:
		m.apply(session.Event(msg))
		return m, m.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(evt session.Event) {
	switch evt.Type {
	case session.EventStageStart:
		m.current = evt.Stage
		if evt.Iteration > 0 {
			m.current = fmt.Sprintf("%s (attempt %d)", evt.Stage, evt.Iteration)
		}

	case session.EventStageEnd:
		marker := okStyle.Render("✓")
		if evt.Success != nil && !*evt.Success {
			marker = failStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s %s", marker, evt.Stage, dimStyle.Render(fmt.Sprintf("%dms", evt.DurationMs)))
		m.push(line)

	case session.EventIterStart:
		m.push(dimStyle.Render(fmt.Sprintf("── fix attempt %d ──", evt.Iteration)))

	case session.EventEscalation:
		m.push(okStyle.Render("fix confirmed: " + evt.Content))

	case session.EventToolCall:
		m.current = "tool: " + evt.Tool

	case session.EventFixOffer:
		m.push(stageStyle.Render("fix available"))

	case session.EventWarning:
		m.push(failStyle.Render(evt.Content))
	}
}

func (m *Model) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxVisibleLines {
		m.lines = m.lines[len(m.lines)-maxVisibleLines:]
	}
}

// View renders the progress log and the active stage.
func (m Model) View() string {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if !m.done {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), stageStyle.Render(m.current))
	}
	return b.String()
}

// Run blocks until the event channel closes, rendering progress.
func Run(events <-chan session.Event) error {
	_, err := tea.NewProgram(New(events)).Run()
	return err
}
