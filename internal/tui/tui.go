// Package tui is the --tree view: a scrollable list of decoded events,
// one per captured sink.Message, with a "y" shortcut to copy the
// selected line to the clipboard, built the way internal/cli/ui drives
// its own bubbletea model with lipgloss styling.
package tui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vpelletier/ITI1480A-linux/pkg/sink"
	"github.com/vpelletier/ITI1480A-linux/pkg/tic"
	"github.com/vpelletier/ITI1480A-linux/internal/render"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 1)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#2563EB"))

	errorItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	copyNoticeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#10B981")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)
)

// entry is one rendered line, kept alongside the raw tic/kind so the
// list can color errors and copy an unstyled string to the clipboard.
type entry struct {
	tic     tic.Tic
	kind    sink.Kind
	text    string
	isError bool
}

// Model is a bubbletea program fed incrementally by sending it pushMsg/
// doneMsg values (see Observer), then driven interactively once the
// capture (or file read) completes.
type Model struct {
	level   render.Verbosity
	entries []entry
	cursor  int
	height  int
	width   int
	copied  bool
	done    bool
}

// New returns an empty Model at the given verbosity.
func New(level render.Verbosity) *Model {
	return &Model{level: level}
}

// pushMsg carries one decoded sink.Message into the running program.
type pushMsg struct{ msg sink.Message }

// doneMsg marks the capture as finished; the program keeps running so
// the user can still browse and copy entries.
type doneMsg struct{}

// Observer returns a sink.Observer that feeds p via Send, so the decode
// loop (running on its own goroutine) never touches Model directly.
func Observer(p *tea.Program) sink.Observer {
	return sink.Func(func(msg sink.Message) { p.Send(pushMsg{msg}) })
}

// SendDone notifies a running program that decoding has finished.
func SendDone(p *tea.Program) { p.Send(doneMsg{}) }

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case pushMsg:
		text, ok := render.Format(msg.msg, m.level)
		if !ok {
			return m, nil
		}
		isError := msg.msg.Kind == sink.TransactionError || msg.msg.Kind == sink.TransferError || msg.msg.Kind == sink.Incomplete
		wasAtEnd := m.cursor == len(m.entries)-1
		m.entries = append(m.entries, entry{tic: msg.msg.Tic, kind: msg.msg.Kind, text: text, isError: isError})
		if wasAtEnd {
			m.cursor = len(m.entries) - 1
		}
	case doneMsg:
		m.done = true
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		m.copied = false
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case "g", "home":
			m.cursor = 0
		case "G", "end":
			m.cursor = len(m.entries) - 1
		case "y":
			if m.cursor >= 0 && m.cursor < len(m.entries) {
				if err := clipboard.WriteAll(m.entries[m.cursor].text); err == nil {
					m.copied = true
				}
			}
		}
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	status := "capturing"
	if m.done {
		status = "stopped"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("ITI1480A  %s  %d events", status, len(m.entries))))
	b.WriteString("\n")

	rows := m.height - 2
	if rows < 1 {
		rows = 20
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := start + rows
	if end > len(m.entries) {
		end = len(m.entries)
	}
	for i := start; i < end; i++ {
		e := m.entries[i]
		line := fmt.Sprintf("%s %s", e.tic, e.text)
		switch {
		case i == m.cursor:
			line = selectedItemStyle.Render(line)
		case e.isError:
			line = errorItemStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	footer := "↑/↓ move  g/G top/bottom  y copy  q quit"
	if m.copied {
		footer = copyNoticeStyle.Render("copied to clipboard")
	}
	b.WriteString(footerStyle.Render(footer))
	return b.String()
}
