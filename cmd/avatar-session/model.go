package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-avatar/core"
	"github.com/koscakluka/ema-avatar/core/events"
	"github.com/koscakluka/ema-avatar/core/transport"
)

const (
	headerHeight = 2
	footerHeight = 4
	minLogHeight = 3
	maxLogLines  = 500
)

// session is the part of the engine the UI drives.
type session interface {
	Start(ctx context.Context, options orchestration.StartOptions) error
	End(ctx context.Context)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetMicMuted(muted bool)
	SendMessage(ctx context.Context, text string, image *transport.Image) (int, error)
	SwitchTransportMode(ctx context.Context, toVideo bool) error
	Snapshot() orchestration.Snapshot
}

// actionResultMsg reports the outcome of a user action run off the UI loop.
type actionResultMsg struct {
	action string
	err    error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8"))
	partialStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#6C6C6C"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))

	lineStyles = map[lineStyle]lipgloss.Style{
		styleInfo:   lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8")),
		styleUser:   lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		styleAvatar: lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
		styleWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		styleError:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
	}

	stateColors = map[orchestration.State]lipgloss.Color{
		orchestration.StateIdle:         lipgloss.Color("#626262"),
		orchestration.StateConnecting:   lipgloss.Color("#FFB86C"),
		orchestration.StateActive:       lipgloss.Color("#04B575"),
		orchestration.StatePaused:       lipgloss.Color("#8BE9FD"),
		orchestration.StateReconnecting: lipgloss.Color("#FFB86C"),
		orchestration.StateEnded:        lipgloss.Color("#FF5F87"),
	}
)

// Model is the terminal UI of one avatar session.
type Model struct {
	ctx     context.Context
	session session
	options orchestration.StartOptions

	input    textinput.Model
	log      viewport.Model
	logReady bool

	lines    []logLine
	partial  string
	snapshot orchestration.Snapshot

	width  int
	height int
}

func NewModel(ctx context.Context, session session, options orchestration.StartOptions) *Model {
	input := textinput.New()
	input.Placeholder = "Say something to the avatar..."
	input.Prompt = "> "
	input.Focus()

	return &Model{
		ctx:      ctx,
		session:  session,
		options:  options,
		input:    input,
		snapshot: session.Snapshot(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.start())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case eventMsg:
		m.handleEvent(msg.event)
		return m, nil
	case actionResultMsg:
		if msg.err != nil {
			m.appendLine(logLine{style: styleError, text: fmt.Sprintf("%s failed: %v", msg.action, msg.err)})
		}
		m.snapshot = m.session.Snapshot()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Sequence(m.end(), tea.Quit)
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.send(text)
	case "ctrl+v":
		toVideo := m.snapshot.Session == nil || !m.snapshot.Session.Mode.IsVideo()
		return m, m.run("mode switch", func(ctx context.Context) error {
			return m.session.SwitchTransportMode(ctx, toVideo)
		})
	case "ctrl+p":
		if m.snapshot.State == orchestration.StatePaused {
			return m, m.run("resume", m.session.Resume)
		}
		return m, m.run("pause", m.session.Pause)
	case "ctrl+t":
		m.session.SetMicMuted(!m.snapshot.MicMuted)
		m.snapshot = m.session.Snapshot()
		return m, nil
	case "ctrl+r":
		switch m.snapshot.State {
		case orchestration.StateIdle, orchestration.StateEnded:
			return m, m.start()
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(event events.Event) {
	switch e := event.(type) {
	case events.UserTranscriptPartial:
		m.partial = e.Text
	case events.UserTranscriptFinal:
		m.partial = ""
	}
	if line, ok := describeEvent(event); ok {
		m.appendLine(line)
	}
	m.snapshot = m.session.Snapshot()
}

func (m *Model) start() tea.Cmd {
	return m.run("start", func(ctx context.Context) error {
		return m.session.Start(ctx, m.options)
	})
}

func (m *Model) end() tea.Cmd {
	return func() tea.Msg {
		m.session.End(m.ctx)
		return nil
	}
}

func (m *Model) send(text string) tea.Cmd {
	return m.run("send", func(ctx context.Context) error {
		_, err := m.session.SendMessage(ctx, text, nil)
		return err
	})
}

func (m *Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionResultMsg{action: action, err: fn(ctx)}
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)

	logHeight := max(height-headerHeight-footerHeight, minLogHeight)
	if !m.logReady {
		m.log = viewport.New(width, logHeight)
		m.log.KeyMap = viewport.KeyMap{
			PageDown: key.NewBinding(key.WithKeys("pgdown")),
			PageUp:   key.NewBinding(key.WithKeys("pgup")),
		}
		m.logReady = true
	} else {
		m.log.Width = width
		m.log.Height = logHeight
	}
	m.refreshLog()
}

func (m *Model) appendLine(line logLine) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	if !m.logReady {
		return
	}
	var b strings.Builder
	for i, line := range m.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lineStyles[line.style].Render(wordwrap.String(line.text, max(m.width, 1))))
	}
	m.log.SetContent(b.String())
	m.log.GotoBottom()
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")
	if m.logReady {
		b.WriteString(m.log.View())
	}
	b.WriteString("\n")
	if m.partial != "" {
		b.WriteString(partialStyle.Render("… " + m.partial))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+v mode • ctrl+p pause • ctrl+t mute • ctrl+r retry • esc quit"))
	return b.String()
}

func (m *Model) header() string {
	snapshot := m.snapshot
	state := lipgloss.NewStyle().Bold(true).Foreground(stateColors[snapshot.State]).Render(string(snapshot.State))

	parts := []string{titleStyle.Render("avatar"), state}
	if snapshot.Session != nil {
		parts = append(parts, statusStyle.Render(fmt.Sprintf("%s • %s", snapshot.Session.AvatarID, snapshot.Session.Mode)))
	}
	parts = append(parts, statusStyle.Render(fmt.Sprintf("turn %d", snapshot.CurrentTurn)))
	if snapshot.Speaking {
		parts = append(parts, lineStyles[styleAvatar].Render("speaking"))
	}
	if snapshot.MicMuted {
		parts = append(parts, lineStyles[styleWarn].Render("mic muted"))
	}
	return strings.Join(parts, "  ")
}
