// Package dashboard renders the live alert state in the terminal.
package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// DefaultMaxEvents is the number of log lines kept on screen
const DefaultMaxEvents = 10

const refreshInterval = 100 * time.Millisecond

type tickMsg time.Time

type statusMsg types.FrameStatus

type eventMsg struct {
	sessionID string
	entry     eventlog.Entry
}

var badgeLabels = [types.NumKinds]string{
	types.Drowsiness: "DROWSINESS",
	types.Yawning:    "YAWNING",
	types.PhoneUsage: "PHONE",
}

var badgeColors = [types.NumKinds]lipgloss.Color{
	types.Drowsiness: colorRed,
	types.Yawning:    colorBlue,
	types.PhoneUsage: colorYellow,
}

// Model is the bubbletea model.
type Model struct {
	sessionID string
	earLimit  float64
	maxEvents int
	width     int

	status   types.FrameStatus
	haveData bool
	events   []eventlog.Entry
	counts   [types.NumKinds]int

	// poll returns the latest status pushed by the frame loop
	poll func() (types.FrameStatus, bool)
}

// NewModel creates a model for one session. earLimit is shown next to the
// EAR readout; maxEvents <= 0 uses DefaultMaxEvents.
func NewModel(sessionID string, earLimit float64, maxEvents int) Model {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return Model{sessionID: sessionID, earLimit: earLimit, maxEvents: maxEvents}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		if m.poll != nil {
			if st, ok := m.poll(); ok {
				m.status, m.haveData = st, true
			}
		}
		return m, tick()
	case statusMsg:
		m.status, m.haveData = types.FrameStatus(msg), true
	case eventMsg:
		m.events = append(m.events, msg.entry)
		if over := len(m.events) - m.maxEvents; over > 0 {
			m.events = m.events[over:]
		}
		m.counts[msg.entry.Kind()]++
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Driver Monitor"))
	if m.sessionID != "" {
		b.WriteString("  " + labelStyle.Render("session ") + valueStyle.Render(m.sessionID))
	}
	b.WriteString("\n\n")

	badges := make([]string, 0, types.NumKinds)
	for _, kind := range types.AllKinds {
		style := badgeOff
		if m.status.Detected(kind) {
			style = badgeOn(badgeColors[kind])
		}
		badges = append(badges, style.Render(badgeLabels[kind]))
	}
	b.WriteString(strings.Join(badges, " "))
	b.WriteString("\n")

	b.WriteString(panelStyle.Render(m.readout()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.eventTable()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func (m Model) readout() string {
	if !m.haveData {
		return labelStyle.Render("Waiting for frames...")
	}
	s := m.status
	lines := []string{
		row("Frame", fmt.Sprintf("%d", s.FrameNum)),
		row("Faces", fmt.Sprintf("%d", s.Faces)),
	}
	if s.Faces > 0 {
		ear := fmt.Sprintf("%.3f", s.EAR)
		if s.Drowsy {
			ear = critStyle.Render(ear)
		} else {
			ear = okStyle.Render(ear)
		}
		lines = append(lines,
			row("EAR", ear+labelStyle.Render(fmt.Sprintf(" (< %.2f)", m.earLimit))),
			row("Mouth", fmt.Sprintf("%.1f px", s.MouthDistance)),
		)
	}
	for _, t := range s.Timers {
		if !t.Active || t.StartTime == nil {
			continue
		}
		since := s.Timestamp.Sub(*t.StartTime).Round(100 * time.Millisecond)
		state := "active " + since.String()
		if t.AlarmFired {
			state += ", alarm fired"
		}
		lines = append(lines, row(t.Kind, state))
	}
	return strings.Join(lines, "\n")
}

func (m Model) eventTable() string {
	total := 0
	for _, c := range m.counts {
		total += c
	}
	header := titleStyle.Render(fmt.Sprintf("Events (%d)", total))
	if len(m.events) == 0 {
		return header + "\n" + labelStyle.Render("none")
	}
	lines := []string{header}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		detail := e.Details()
		if ear, ok := e.EAR(); ok {
			detail = fmt.Sprintf("EAR %.3f", ear)
		}
		lines = append(lines, fmt.Sprintf("%s  %-12s %s",
			labelStyle.Render(e.Timestamp.Format(eventlog.TimeLayout)),
			valueStyle.Render(e.EventType()), detail))
	}
	return strings.Join(lines, "\n")
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-11s", label)) + value
}

// Dashboard runs the model as a terminal program. It implements the
// pipeline Display and EventSink interfaces.
type Dashboard struct {
	program *tea.Program

	mu     sync.Mutex
	latest types.FrameStatus
	fresh  bool
}

// New creates a dashboard. Options are passed to tea.NewProgram.
func New(sessionID string, earLimit float64, maxEvents int, opts ...tea.ProgramOption) *Dashboard {
	d := &Dashboard{}
	m := NewModel(sessionID, earLimit, maxEvents)
	m.poll = d.take
	d.program = tea.NewProgram(m, opts...)
	return d
}

// Run blocks until the user quits or Quit is called
func (d *Dashboard) Run() error {
	_, err := d.program.Run()
	return err
}

// Quit stops the program
func (d *Dashboard) Quit() {
	d.program.Quit()
}

// Show stores the status for the next refresh tick. It never blocks.
func (d *Dashboard) Show(_ *types.Frame, status types.FrameStatus) {
	d.mu.Lock()
	d.latest, d.fresh = status, true
	d.mu.Unlock()
}

func (d *Dashboard) take() (types.FrameStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.latest, d.fresh
	d.fresh = false
	return st, ok
}

// Name identifies the dashboard as an event sink
func (d *Dashboard) Name() string { return "dashboard" }

// Deliver sends the entry to the program
func (d *Dashboard) Deliver(sessionID string, e eventlog.Entry) error {
	d.program.Send(eventMsg{sessionID: sessionID, entry: e})
	return nil
}
