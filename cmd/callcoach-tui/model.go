package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"callcoach/internal/domain"
	"callcoach/internal/roleplay"
	"callcoach/internal/usecase"
)

const maxTranscriptLines = 200

// host is the part of roleplay.Host the terminal drives.
type host interface {
	Open(roleplayID string) error
	StartCall(mode string) error
	Submit(text string) error
	Interrupt() error
	EndCall() error
	BackToModes() error
}

type hostErrMsg struct{ err error }

type line struct {
	speaker domain.Speaker
	text    string
}

type model struct {
	host       host
	roleplayID string
	voice      bool

	input    textinput.Model
	modes    []domain.ModeOption
	state    domain.CallState
	status   string
	turn     domain.TurnState
	lines    []line
	live     string
	elapsed  time.Duration
	progress string
	feedback *domain.Feedback
	err      string
	width    int
	height   int
}

func newModel(h host, roleplayID string, voice bool) model {
	input := textinput.New()
	input.Placeholder = "type your reply..."
	input.CharLimit = 500
	input.Focus()

	return model{
		host:       h,
		roleplayID: roleplayID,
		voice:      voice,
		input:      input,
		state:      domain.CallStateIdle,
		status:     "Loading...",
		width:      100,
		height:     30,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.call(func(h host) error { return h.Open(m.roleplayID) }))
}

// call runs fn off the bubbletea loop; the engine answers through the sink.
func (m model) call(fn func(host) error) tea.Cmd {
	h := m.host
	return func() tea.Msg {
		if err := fn(h); err != nil {
			return hostErrMsg{err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, msg.Width-4)
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case modesMsg:
		m.roleplayID = msg.roleplayID
		m.modes = msg.options
		m.lines = nil
		m.live = ""
		m.progress = ""
		m.feedback = nil
		m.elapsed = 0
		m.err = ""
	case callStateMsg:
		m.state = msg.state
		m.status = msg.status
		if msg.state == domain.CallStateDialing {
			m.lines = nil
			m.feedback = nil
			m.err = ""
		}
	case turnMsg:
		m.turn = domain.TurnState(msg)
	case transcriptMsg:
		m.addLine(msg.Speaker, msg.Text)
	case liveMsg:
		m.live = string(msg)
	case durationMsg:
		m.elapsed = time.Duration(msg)
	case marathonMsg:
		m.progress = fmt.Sprintf("Call %d of %d  passed %d  failed %d  (need %d)",
			msg.CurrentCall, msg.TotalCalls, msg.CallsPassed, msg.CallsFailed, msg.TargetPasses)
	case stageMsg:
		label := msg.Label
		if label == "" {
			label = msg.Stage
		}
		m.progress = fmt.Sprintf("Stage %d of %d: %s", msg.Index+1, msg.Total, label)
	case evaluationMsg:
		verdict := "missed"
		if msg.Passed {
			verdict = "passed"
		}
		text := fmt.Sprintf("turn %s (%d)", verdict, msg.Score)
		if msg.Feedback != "" {
			text += ": " + msg.Feedback
		}
		m.addLine(domain.SpeakerSystem, text)
	case feedbackMsg:
		feedback := domain.Feedback(msg)
		m.feedback = &feedback
	case errorMsg:
		m.err = msg.detail
		if m.err == "" {
			m.err = string(msg.code)
		}
	case authMsg:
		m.err = "Session expired. Sign in again and restart."
	case hostErrMsg:
		if !errors.Is(msg.err, usecase.ErrNotYourTurn) {
			m.err = msg.err.Error()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+e":
		return m, m.call(func(h host) error { return h.EndCall() })
	case "ctrl+b":
		return m, m.call(func(h host) error { return h.BackToModes() })
	case "esc":
		return m, m.call(func(h host) error { return h.Interrupt() })
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if text == "" {
			return m, nil
		}
		return m, m.call(func(h host) error { return h.Submit(text) })
	}

	if m.choosingMode() && len(msg.Runes) == 1 && m.input.Value() == "" {
		if index := int(msg.Runes[0] - '1'); index >= 0 && index < len(m.modes) {
			mode := m.modes[index].ID
			return m, m.call(func(h host) error { return h.StartCall(mode) })
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) choosingMode() bool {
	return !m.state.Active() && len(m.modes) > 0
}

func (m *model) addLine(speaker domain.Speaker, text string) {
	m.lines = append(m.lines, line{speaker: speaker, text: text})
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
}

func (m model) View() string {
	var b strings.Builder

	header := fmt.Sprintf("CallCoach  roleplay %s", m.roleplayID)
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")

	status := m.status
	if m.state == domain.CallStateConnected {
		seconds := int(m.elapsed.Round(time.Second).Seconds())
		status = fmt.Sprintf("%s  %02d:%02d  %s", status, seconds/60, seconds%60, turnLabel(m.turn))
	}
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")
	if m.progress != "" {
		b.WriteString(helpStyle.Render(m.progress))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.choosingMode() {
		for i, option := range m.modes {
			fmt.Fprintf(&b, "  %d  %s", i+1, titleStyle.Render(option.Label))
			if option.Description != "" {
				b.WriteString("  " + helpStyle.Render(option.Description))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, l := range m.visibleLines() {
		b.WriteString(renderLine(l))
		b.WriteString("\n")
	}
	if m.live != "" {
		b.WriteString(liveStyle.Render("… " + m.live))
		b.WriteString("\n")
	}

	if m.feedback != nil {
		b.WriteString(feedbackStyle.Render(roleplay.CoachingText(*m.feedback)))
		b.WriteString("\n")
	}
	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	help := "enter send  esc interrupt  ctrl+e end call  ctrl+b modes  ctrl+c quit"
	if m.choosingMode() {
		help = "1-9 choose mode  " + help
	}
	if !m.voice {
		help += "  (voice off)"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func (m model) visibleLines() []line {
	room := m.height - 12
	if m.feedback != nil {
		room -= 8
	}
	if room < 3 {
		room = 3
	}
	if len(m.lines) <= room {
		return m.lines
	}
	return m.lines[len(m.lines)-room:]
}

func renderLine(l line) string {
	switch l.speaker {
	case domain.SpeakerAI:
		return aiStyle.Render("Prospect: ") + l.text
	case domain.SpeakerUser:
		return userStyle.Render("You: ") + l.text
	default:
		return systemStyle.Render("* " + l.text)
	}
}

func turnLabel(turn domain.TurnState) string {
	switch {
	case turn.Processing:
		return "thinking..."
	case turn.AISpeaking:
		return "prospect speaking"
	case turn.ActiveSpeaker == domain.SpeakerUser:
		return "your turn"
	default:
		return ""
	}
}
