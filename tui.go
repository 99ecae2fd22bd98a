package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tuiFrameInterval = 60 * time.Millisecond
	tuiMaxEvents     = 64
	levelDecay       = 0.80
	peakHoldDecay    = 0.97
)

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// tuiSend delivers a message to the running TUI program, if any.
// Safe to call from any goroutine, including before the TUI starts.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// logToTUI appends a timestamped line to the events panel.
func logToTUI(text string) {
	tuiSend(eventLineMsg(time.Now().Format("15:04:05") + " " + text))
}

type (
	frameMsg     time.Time
	eventLineMsg string
	recStartMsg  struct{ card int64 }
	recStopMsg   struct {
		path    string
		seconds float64
	}
	recTickMsg    float64
	levelMsg      float64
	silenceMsg    bool
	saveStatusMsg struct {
		ok     bool
		detail string
	}
	transcriptMsg string
	deviceMsg     string
	statusLineMsg string
)

// tuiSink feeds pipeline events into the TUI as program messages.
type tuiSink struct{}

func (tuiSink) RecordingStart(cardID int64) { tuiSend(recStartMsg{card: cardID}) }

func (tuiSink) RecordingStop(path string, seconds float64) {
	tuiSend(recStopMsg{path: path, seconds: seconds})
}

func (tuiSink) RecordingTick(seconds float64) { tuiSend(recTickMsg(seconds)) }

func (tuiSink) AudioLevel(peak float64) { tuiSend(levelMsg(peak)) }

func (tuiSink) SilenceWarning(on bool) { tuiSend(silenceMsg(on)) }

func (tuiSink) SaveResult(ok bool, detail string) {
	tuiSend(saveStatusMsg{ok: ok, detail: detail})
}

func (tuiSink) TranscriptSaved(text string) { tuiSend(transcriptMsg(text)) }

func (tuiSink) DeviceLine(text string) { tuiSend(deviceMsg(text)) }

func (tuiSink) StatusLine(text string) { tuiSend(statusLineMsg(text)) }

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("211"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	recStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	meterOnSty   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	meterHotSty  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	meterOffSty  = lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	meterPeakSty = lipgloss.NewStyle().Foreground(lipgloss.Color("230"))
)

type tuiModel struct {
	width  int
	height int

	recording bool
	card      int64
	seconds   float64
	level     float64
	peakHold  float64
	silence   bool

	device     string
	status     string
	transcript string

	haveSave   bool
	saveOK     bool
	saveDetail string

	events []string

	onToggle func()
}

// NewTUIProgram builds the status display. onToggle is invoked when the
// user presses r to start or stop a recording from the keyboard.
func NewTUIProgram(onToggle func()) *tea.Program {
	m := tuiModel{
		width:    100,
		height:   30,
		status:   "starting",
		onToggle: onToggle,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()
	return p
}

func tuiFrameTick() tea.Cmd {
	return tea.Tick(tuiFrameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiFrameTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.onToggle != nil {
				go m.onToggle()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case frameMsg:
		m.level *= levelDecay
		m.peakHold *= peakHoldDecay
		return m, tuiFrameTick()

	case eventLineMsg:
		m.events = append(m.events, string(msg))
		if len(m.events) > tuiMaxEvents {
			m.events = m.events[len(m.events)-tuiMaxEvents:]
		}

	case recStartMsg:
		m.recording = true
		m.card = msg.card
		m.seconds = 0
		m.silence = false
		m.haveSave = false

	case recStopMsg:
		m.recording = false
		m.seconds = msg.seconds
		m.silence = false
		if msg.path != "" {
			m.events = appendEvent(m.events, fmt.Sprintf("saved %s (%.1fs)", filepath.Base(msg.path), msg.seconds))
		} else {
			m.events = appendEvent(m.events, fmt.Sprintf("stopped after %.1fs, no file written", msg.seconds))
		}

	case recTickMsg:
		m.seconds = float64(msg)

	case levelMsg:
		if float64(msg) > m.level {
			m.level = float64(msg)
		}
		if float64(msg) > m.peakHold {
			m.peakHold = float64(msg)
		}

	case silenceMsg:
		m.silence = bool(msg)

	case saveStatusMsg:
		m.haveSave = true
		m.saveOK = msg.ok
		m.saveDetail = msg.detail

	case transcriptMsg:
		m.transcript = string(msg)

	case deviceMsg:
		m.device = string(msg)

	case statusLineMsg:
		m.status = string(msg)
	}

	return m, nil
}

func appendEvent(events []string, text string) []string {
	events = append(events, time.Now().Format("15:04:05")+" "+text)
	if len(events) > tuiMaxEvents {
		events = events[len(events)-tuiMaxEvents:]
	}
	return events
}

func (m tuiModel) View() string {
	if m.width < 40 {
		return "window too small"
	}

	leftW := m.width * 2 / 5
	if leftW < 34 {
		leftW = 34
	}
	rightW := m.width - leftW - 6
	if rightW < 20 {
		rightW = 20
	}

	left := m.renderStatus(leftW)
	right := m.renderEvents(rightW)

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
	return body + "\n"
}

func (m tuiModel) renderStatus(width int) string {
	inner := width - 4
	var b strings.Builder

	b.WriteString(titleStyle.Render("ankiscribe "+version) + "\n\n")

	if m.recording {
		rec := fmt.Sprintf("● REC %6.1fs", m.seconds)
		if m.card > 0 {
			rec += dimStyle.Render(fmt.Sprintf("  card %d", m.card))
		}
		b.WriteString(recStyle.Render(rec) + "\n")
	} else {
		b.WriteString(idleStyle.Render("○ idle") + "\n")
	}
	b.WriteString(renderMeter(m.level, m.peakHold, inner-6) + "\n")
	if m.silence {
		b.WriteString(warnStyle.Render("⚠ no audio detected") + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(statusRow("mic", m.device, inner) + "\n")
	b.WriteString(statusRow("state", m.status, inner) + "\n")
	if m.haveSave {
		if m.saveOK {
			b.WriteString(statusRow("save", okStyle.Render("✓ "+m.saveDetail), inner) + "\n")
		} else {
			b.WriteString(statusRow("save", failStyle.Render("✗ "+m.saveDetail), inner) + "\n")
		}
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n" + dimStyle.Render("r toggle · q quit"))

	return panelStyle.Width(width).Render(b.String())
}

func statusRow(label, value string, width int) string {
	row := labelStyle.Render(fmt.Sprintf("%-6s", label)) + value
	return truncateLine(row, width)
}

func (m tuiModel) renderEvents(width int) string {
	inner := width - 4
	var b strings.Builder

	b.WriteString(titleStyle.Render("events") + "\n\n")

	maxLines := m.height - 14
	if maxLines < 4 {
		maxLines = 4
	}
	start := 0
	if len(m.events) > maxLines {
		start = len(m.events) - maxLines
	}
	for _, line := range m.events[start:] {
		b.WriteString(truncateLine(line, inner) + "\n")
	}

	if m.transcript != "" {
		b.WriteString("\n" + labelStyle.Render("last transcript") + "\n")
		lines := wrapText(m.transcript, inner)
		if len(lines) > 4 {
			lines = lines[:4]
		}
		for _, line := range lines {
			b.WriteString(dimStyle.Render(line) + "\n")
		}
	}

	return panelStyle.Width(width).Render(b.String())
}

// renderMeter draws a horizontal level bar with a slow-decaying peak
// marker. The top fifth of the range renders hot.
func renderMeter(level, peakHold float64, width int) string {
	if width < 10 {
		width = 10
	}
	if level > 1 {
		level = 1
	}
	if peakHold > 1 {
		peakHold = 1
	}
	filled := int(level * float64(width))
	peak := int(peakHold * float64(width))
	hotFrom := width * 4 / 5

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i < filled && i >= hotFrom:
			b.WriteString(meterHotSty.Render("█"))
		case i < filled:
			b.WriteString(meterOnSty.Render("█"))
		case i == peak && peak > 0:
			b.WriteString(meterPeakSty.Render("▌"))
		default:
			b.WriteString(meterOffSty.Render("░"))
		}
	}
	return b.String()
}

// truncateLine cuts a rendered row down to width without breaking
// ANSI sequences.
func truncateLine(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

// wrapText splits s into lines no wider than width, breaking on spaces
// where possible.
func wrapText(s string, width int) []string {
	if width < 8 {
		width = 8
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) <= width {
			cur += " " + w
			continue
		}
		lines = append(lines, cur)
		cur = w
	}
	lines = append(lines, cur)
	return lines
}
