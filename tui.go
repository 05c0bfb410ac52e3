package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lexvoice/voice"
)

// TUI message types
type PhaseMsg struct{ From, To voice.Phase }
type ListeningTickMsg struct{ Duration float64 }
type AudioLevelMsg struct {
	Level    float64
	Waveform []float64
}
type TranscriptMsg struct{ Committed, Interim string }
type AnswerMsg struct{ Text string }
type SilenceWarningMsg struct{ On bool }
type PlaybackMsg struct{ Playing bool }
type ErrorMsg struct{ Err error }
type ModeLineMsg struct{ Text string }   // format/language/style info
type DeviceLineMsg struct{ Text string } // microphone device name
type UpdateAvailableMsg struct{ Version string }
type tickMsg time.Time

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

var waveformBlocks = []rune(" ▁▂▃▄▅▆▇█")

var (
	styleListening = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleBusy      = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	stylePlaying   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleWave      = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleCommitted = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleInterim   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleAnswer    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpBold  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

type tuiModel struct {
	phase         voice.Phase
	frame         int
	duration      float64
	level         float64
	waveform      []float64
	committed     string
	interim       string
	answer        string
	answerCount   int
	lastErr       string
	silenceWarn   bool
	modeLine      string
	deviceLine    string
	updateLine    string
	width, height int
}

func NewTUIProgram() *tea.Program {
	m := tuiModel{}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		tuiReadyOnce.Do(func() { close(tuiReady) })

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ", "enter":
			select {
			case commandChan <- cmdToggle:
			default:
			}
		case "esc":
			select {
			case commandChan <- cmdStop:
			default:
			}
		case "x":
			select {
			case commandChan <- cmdStopPlayback:
			default:
			}
		case "ctrl+g":
			select {
			case commandChan <- cmdDeviceSelect:
			default:
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case PhaseMsg:
		m.phase = msg.To
		switch msg.To {
		case voice.PhaseListening:
			m.duration = 0
			m.level = 0
			m.waveform = nil
			m.silenceWarn = false
			// Coming back from an upload keeps the answer on screen; a
			// fresh question from idle starts with clean panels.
			if msg.From == voice.PhaseIdle {
				m.committed = ""
				m.interim = ""
				m.answer = ""
				m.lastErr = ""
			}
		case voice.PhaseIdle:
			m.level = 0
			m.silenceWarn = false
		}

	case ListeningTickMsg:
		m.duration = msg.Duration

	case AudioLevelMsg:
		if m.phase == voice.PhaseListening {
			m.level = m.level*0.6 + msg.Level*0.4
			m.waveform = msg.Waveform
		}

	case TranscriptMsg:
		m.committed = msg.Committed
		m.interim = msg.Interim

	case AnswerMsg:
		m.answerCount++
		m.answer = msg.Text

	case SilenceWarningMsg:
		m.silenceWarn = msg.On

	case PlaybackMsg:
		// Phase messages carry the state; nothing extra to track.

	case ErrorMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case UpdateAvailableMsg:
		m.updateLine = "update available: " + msg.Version + " (run: lexvoice update)"
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.phase {
	case voice.PhaseListening:
		return styleListening.Render(fmt.Sprintf("● LISTENING %.1fs", m.duration))
	case voice.PhaseFinalizing:
		return styleBusy.Render("◌ FINALIZING" + spinner(m.frame))
	case voice.PhaseUploading:
		return styleBusy.Render("↑ UPLOADING" + spinner(m.frame))
	case voice.PhasePlaying:
		return stylePlaying.Render("▶ PLAYING")
	default:
		return styleIdle.Render("○ READY")
	}
}

func spinner(frame int) string {
	dots := []string{"", ".", "..", "..."}
	return dots[(frame/5)%len(dots)]
}

// renderWaveform draws the loudness history as a row of block glyphs,
// resampled to the given width.
func renderWaveform(points []float64, width int) string {
	if width < 1 {
		width = 1
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		v := 0.0
		if len(points) > 0 {
			v = points[i*len(points)/width]
		}
		idx := int(v * float64(len(waveformBlocks)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(waveformBlocks) {
			idx = len(waveformBlocks) - 1
		}
		b.WriteRune(waveformBlocks[idx])
	}
	return b.String()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var lines []string
	lines = append(lines, m.statusLine())

	waveWidth := m.width - 2
	if waveWidth > 96 {
		waveWidth = 96
	}
	if m.phase == voice.PhaseListening {
		lines = append(lines, styleWave.Render(renderWaveform(m.waveform, waveWidth)))
		if m.silenceWarn {
			lines = append(lines, styleWarn.Render("⚠ no voice detected"))
		}
	} else {
		lines = append(lines, "")
	}
	lines = append(lines, "")

	if m.committed != "" || m.interim != "" {
		lines = append(lines, styleTitle.Render("You said:"))
		for _, l := range wrapText(m.committed, wrapWidth) {
			lines = append(lines, styleCommitted.Render(l))
		}
		if m.interim != "" {
			for _, l := range wrapText(m.interim, wrapWidth) {
				lines = append(lines, styleInterim.Render(l))
			}
		}
		lines = append(lines, "")
	}

	if m.answer != "" {
		lines = append(lines, styleTitle.Render(fmt.Sprintf("Answer (#%d):", m.answerCount)))
		for _, l := range wrapText(m.answer, wrapWidth) {
			lines = append(lines, styleAnswer.Render(l))
		}
		lines = append(lines, "")
	}

	if m.lastErr != "" {
		for _, l := range wrapText("Error: "+m.lastErr, wrapWidth) {
			lines = append(lines, styleError.Render(l))
		}
		lines = append(lines, "")
	}

	if m.modeLine != "" {
		lines = append(lines, styleDim.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		lines = append(lines, styleDim.Render(m.deviceLine))
	}
	if m.updateLine != "" {
		lines = append(lines, styleWarn.Render(m.updateLine))
	}

	lines = append(lines, "")
	help := styleHelpBold.Render("space") + styleHelp.Render(" ask · ") +
		styleHelpBold.Render("esc") + styleHelp.Render(" text only · ") +
		styleHelpBold.Render("x") + styleHelp.Render(" stop reply · ") +
		styleHelpBold.Render("q") + styleHelp.Render(" quit")
	lines = append(lines, help)
	lines = append(lines, styleHelp.Render("lexvoice "+version))

	content := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		PaddingLeft(1).
		Render(content)
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()

	if p != nil {
		p.Send(msg)
	}
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return nil
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
