package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/probelab/retrace/trace"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	instrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	branchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	memStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	markerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	idxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type viewerModel struct {
	filename string
	entries  []trace.Entry
	vp       viewport.Model
	goTo     textinput.Model
	jumping  bool
	instrs   bool // show only instruction entries
	ready    bool
}

func newViewerModel(filename string, entries []trace.Entry) *viewerModel {
	ti := textinput.New()
	ti.Prompt = "go to record: "
	ti.Width = 20
	return &viewerModel{filename: filename, entries: entries, goTo: ti}
}

func (m *viewerModel) Init() tea.Cmd {
	return nil
}

func (m *viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 2
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight - footerHeight
		}
		m.vp.SetContent(m.render())

	case tea.KeyMsg:
		if m.jumping {
			switch msg.String() {
			case "enter":
				if n, err := strconv.Atoi(m.goTo.Value()); err == nil {
					m.jumpTo(n)
				}
				m.jumping = false
				m.goTo.Blur()
				m.goTo.SetValue("")
			case "esc":
				m.jumping = false
				m.goTo.Blur()
				m.goTo.SetValue("")
			default:
				var cmd tea.Cmd
				m.goTo, cmd = m.goTo.Update(msg)
				return m, cmd
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "g":
			m.jumping = true
			m.goTo.Focus()
			return m, textinput.Blink
		case "i":
			m.instrs = !m.instrs
			m.vp.SetContent(m.render())
			m.vp.GotoTop()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

// jumpTo scrolls so record n is the top visible line.
func (m *viewerModel) jumpTo(n int) {
	if n < 0 {
		n = 0
	}
	if m.instrs {
		line := 0
		for i, e := range m.entries {
			if i >= n {
				break
			}
			if e.Type.IsInstr() {
				line++
			}
		}
		n = line
	}
	m.vp.SetYOffset(n)
}

func (m *viewerModel) render() string {
	var b strings.Builder
	for i, e := range m.entries {
		if m.instrs && !e.Type.IsInstr() {
			continue
		}
		b.WriteString(idxStyle.Render(fmt.Sprintf("%8d  ", i)))
		b.WriteString(styleFor(e).Render(e.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func styleFor(e trace.Entry) lipgloss.Style {
	switch {
	case e.Type == trace.TypeInstr || e.Type == trace.TypeInstrSyscall:
		return instrStyle
	case e.Type.IsInstr() || e.Type == trace.TypeEncoding:
		return branchStyle
	case e.Type == trace.TypeRead || e.Type == trace.TypeWrite:
		return memStyle
	case e.Type == trace.TypeMarker:
		return markerStyle
	}
	return lipgloss.NewStyle()
}

func (m *viewerModel) View() string {
	if !m.ready {
		return "Loading trace..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Trace Viewer"))
	b.WriteString(fmt.Sprintf(" %s (%d records)\n\n", m.filename, len(m.entries)))
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	if m.jumping {
		b.WriteString(m.goTo.View())
	} else {
		b.WriteString(helpStyle.Render("↑/↓ scroll • g go to record • i instrs only • q quit"))
	}
	return b.String()
}

func runInteractive(filename string, entries []trace.Entry) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode requires a terminal")
	}
	p := tea.NewProgram(newViewerModel(filename, entries), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
