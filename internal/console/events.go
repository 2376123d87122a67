package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxEventLines = 500

type eventsModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newEvents() eventsModel {
	return eventsModel{
		viewport:   viewport.New(80, 10),
		autoScroll: true,
	}
}

func (e *eventsModel) setSize(width, height int) {
	e.viewport.Width = width
	e.viewport.Height = height
}

// add appends one formatted feed line.
func (e *eventsModel) add(kind, text string, style lipgloss.Style) {
	ts := time.Now().Format("15:04:05")
	line := fmt.Sprintf("  %s %s  %s", ts, style.Render(fmt.Sprintf("%-10s", kind)), text)
	e.lines = append(e.lines, line)
	if len(e.lines) > maxEventLines {
		e.lines = e.lines[len(e.lines)-maxEventLines:]
	}

	e.viewport.SetContent(strings.Join(e.lines, "\n"))
	if e.autoScroll {
		e.viewport.GotoBottom()
	}
}

func (e eventsModel) Update(msg tea.Msg) (eventsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "G":
			e.autoScroll = true
			e.viewport.GotoBottom()
			return e, nil
		case "g":
			e.autoScroll = false
			e.viewport.GotoTop()
			return e, nil
		case "j", "down", "k", "up":
			e.autoScroll = false
		}
	}

	var cmd tea.Cmd
	e.viewport, cmd = e.viewport.Update(msg)
	return e, cmd
}

func (e eventsModel) View() string {
	if len(e.lines) == 0 {
		return dimmedStyle.Render("  Waiting for events…")
	}
	return e.viewport.View()
}
