package popup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/samber/lo"
)

const opTimeout = 15 * time.Second

var (
	kickGreen   = lipgloss.Color("#53fc18")
	titleStyle  = lipgloss.NewStyle().Foreground(kickGreen).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	liveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("236"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type streamMsg message.Envelope

type streamClosedMsg struct{ err error }

type opDoneMsg struct{ err error }

// Model is the bubbletea popup.
type Model struct {
	state    *State
	events   <-chan tea.Msg
	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	cursor int
	busy   bool
	err    error
	width  int
	height int
}

// NewModel builds the popup over state. Pushed envelopes arrive on events.
func NewModel(state *State, events <-chan tea.Msg) Model {
	ti := textinput.New()
	ti.Placeholder = "kick channel or @handle"
	ti.Prompt = "+ "
	ti.CharLimit = 64
	ti.Width = 32

	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(kickGreen)

	return Model{
		state:    state,
		events:   events,
		input:    ti,
		spinner:  s,
		viewport: viewport.New(48, 10),
		busy:     true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run(m.state.Load), listenForEvents(m.events))
}

func listenForEvents(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return msg
	}
}

func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	wasFocused := m.input.Focused()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(msg.Width, 20)
		m.viewport.Height = max(msg.Height-6, 3)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case streamMsg:
		m.state.Apply(message.Envelope(msg))
		cmds = append(cmds, listenForEvents(m.events))

	case streamClosedMsg:
		m.err = msg.err
		m.events = nil

	case opDoneMsg:
		m.busy = false
		m.err = msg.err

	case tea.KeyMsg:
		if cmd, quit := m.handleKey(msg); quit {
			return m, tea.Quit
		} else if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	// The key that focused the input is not typed into it.
	if _, isKey := msg.(tea.KeyMsg); m.input.Focused() && (!isKey || wasFocused) {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.syncViewport()
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(k tea.KeyMsg) (tea.Cmd, bool) {
	if k.Type == tea.KeyCtrlC {
		return nil, true
	}

	if m.input.Focused() {
		switch k.Type {
		case tea.KeyEsc:
			m.input.Blur()
		case tea.KeyEnter:
			value := m.input.Value()
			m.input.SetValue("")
			m.input.Blur()
			m.busy = true
			return tea.Batch(m.spinner.Tick, m.run(func(ctx context.Context) error { return m.state.Add(ctx, value) })), false
		}
		return nil, false
	}

	chs, _ := m.state.Snapshot()
	switch k.String() {
	case "q":
		return nil, true
	case "a", "/":
		return m.input.Focus(), false
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, max(len(chs)-1, 0))
	case "r":
		m.busy = true
		return tea.Batch(m.spinner.Tick, m.run(m.state.Refresh)), false
	case "enter", "o":
		if c, err := lo.Nth(chs, m.cursor); err == nil {
			m.busy = true
			return tea.Batch(m.spinner.Tick, m.run(func(ctx context.Context) error { return m.state.Watch(ctx, c.Slug) })), false
		}
	case "d", "x", "delete":
		if c, err := lo.Nth(chs, m.cursor); err == nil {
			m.busy = true
			return tea.Batch(m.spinner.Tick, m.run(func(ctx context.Context) error { return m.state.Remove(ctx, c.Slug) })), false
		}
	}
	return nil, false
}

func (m *Model) syncViewport() {
	chs, _ := m.state.Snapshot()
	if m.cursor >= len(chs) {
		m.cursor = max(len(chs)-1, 0)
	}
	m.viewport.SetContent(RenderList(chs, m.cursor))
	switch {
	case m.cursor < m.viewport.YOffset:
		m.viewport.SetYOffset(m.cursor)
	case m.cursor >= m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 1)
	}
}

func (m Model) View() string {
	_, status := m.state.Snapshot()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Kwitch"))
	b.WriteString("  ")
	if m.busy {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(errorText(m.err)))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("a add · enter watch · d remove · r refresh · q quit"))
	return b.String()
}

func errorText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

// RenderList draws one line per channel with the cursor row highlighted.
func RenderList(chs []kick.Channel, cursor int) string {
	if len(chs) == 0 {
		return mutedStyle.Render("No channels yet. Press a to add one.")
	}
	lines := make([]string, 0, len(chs))
	for i, c := range chs {
		dot, state := mutedStyle.Render("○"), mutedStyle.Render(LiveText(c))
		if c.IsLive {
			dot, state = liveStyle.Render("●"), liveStyle.Render(LiveText(c))
		}
		line := fmt.Sprintf("%s %s  %s", dot, nameStyle.Render(c.DisplayName), state)
		if cat := lo.FromPtr(c.Category); c.IsLive && cat != "" {
			line += "  " + mutedStyle.Render(cat)
		}
		if i == cursor {
			line = cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
