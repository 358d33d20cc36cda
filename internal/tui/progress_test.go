package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vinayprograms/reviewd/internal/session"
)

func TestModelTracksStageProgress(t *testing.T) {
	events := make(chan session.Event, 8)
	m := New(events)

	next, _ := m.Update(eventMsg(session.Event{Type: session.EventStageStart, Stage: "analyzer"}))
	m = next.(Model)
	if !strings.Contains(m.View(), "analyzer") {
		t.Error("active stage should be visible")
	}

	ok := true
	next, _ = m.Update(eventMsg(session.Event{Type: session.EventStageEnd, Stage: "analyzer", Success: &ok, DurationMs: 12}))
	m = next.(Model)
	if !strings.Contains(m.View(), "analyzer") || !strings.Contains(m.View(), "12ms") {
		t.Errorf("completed stage should be logged: %q", m.View())
	}
}

func TestModelQuitsWhenStreamCloses(t *testing.T) {
	events := make(chan session.Event)
	close(events)
	m := New(events)

	msg := m.waitForEvent()()
	if _, ok := msg.(doneMsg); !ok {
		t.Fatalf("closed channel should produce doneMsg, got %T", msg)
	}

	next, cmd := m.Update(doneMsg{})
	m = next.(Model)
	if !m.done {
		t.Error("model should be done")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("done should quit the program")
	}
}

func TestModelShowsIterationMarkers(t *testing.T) {
	events := make(chan session.Event)
	m := New(events)

	next, _ := m.Update(eventMsg(session.Event{Type: session.EventIterStart, Iteration: 2}))
	m = next.(Model)
	if !strings.Contains(m.View(), "fix attempt 2") {
		t.Errorf("iteration marker missing: %q", m.View())
	}
}
