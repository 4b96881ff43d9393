// Package tui is the terminal front end for a voice conversation: it renders
// coordinator snapshots and maps keys onto coordinator controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
)

const (
	refreshInterval = 100 * time.Millisecond
	defaultWidth    = 80
	visibleLogLines = 12
)

// Controller is the part of the coordinator the UI drives.
type Controller interface {
	Start(ctx context.Context)
	Stop()
	ForceCommit()
	DismissEvent()
	Reset()
	Snapshot() orchestration.Snapshot
}

// Summary is what the summary key shows once a conversation has ended.
type Summary struct {
	Text           string
	ChemistryIndex int
}

// Summarizer fetches the summary of the last session.
type Summarizer func(ctx context.Context) (Summary, error)

type tickMsg time.Time

type eventMsg struct{ kind events.Kind }

type summaryMsg struct {
	summary Summary
	err     error
}

type Model struct {
	ctx        context.Context
	controller Controller
	summarize  Summarizer

	snapshot orchestration.Snapshot
	spinner  spinner.Model
	width    int
	lastKind events.Kind

	summary        *Summary
	summaryErr     error
	summaryLoading bool
}

func NewModel(ctx context.Context, controller Controller, summarize Summarizer) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#3b82f6"))
	return &Model{
		ctx:        ctx,
		controller: controller,
		summarize:  summarize,
		snapshot:   controller.Snapshot(),
		spinner:    s,
		width:      defaultWidth,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil

	case tickMsg:
		m.snapshot = m.controller.Snapshot()
		return m, tick()

	case eventMsg:
		m.lastKind = msg.kind
		m.snapshot = m.controller.Snapshot()
		return m, nil

	case summaryMsg:
		m.summaryLoading = false
		m.summaryErr = msg.err
		if msg.err == nil {
			summary := msg.summary
			m.summary = &summary
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controller.Stop()
		return m, tea.Quit

	case "s":
		if m.snapshot.Status == orchestration.StatusIdle {
			if m.snapshot.LastError.Fatal() {
				m.controller.Reset()
			}
			m.summary, m.summaryErr = nil, nil
			m.controller.Start(m.ctx)
		} else {
			m.controller.Stop()
		}

	case " ":
		m.controller.ForceCommit()

	case "d":
		m.controller.DismissEvent()

	case "r":
		if m.summarize == nil || m.summaryLoading || m.snapshot.Status != orchestration.StatusIdle {
			return m, nil
		}
		m.summaryLoading = true
		return m, m.fetchSummary()
	}

	m.snapshot = m.controller.Snapshot()
	return m, nil
}

func (m *Model) fetchSummary() tea.Cmd {
	summarize, ctx := m.summarize, m.ctx
	return func() tea.Msg {
		summary, err := summarize(ctx)
		return summaryMsg{summary: summary, err: err}
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f472b6"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	eventStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#a855f7")).Padding(0, 1)
)

func (m *Model) View() string {
	var b strings.Builder
	snap := m.snapshot

	b.WriteString(titleStyle.Render("ema voice"))
	b.WriteString("\n\n")

	status := string(snap.Status)
	if snap.Loading || snap.Status == orchestration.StatusWaiting {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("status"), status,
		labelStyle.Render("avatar"), snap.AvatarState,
		labelStyle.Render("connection"), snap.Connection)
	if snap.SessionID != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("session"), snap.SessionID)
	}
	if m.lastKind != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("last event"), m.lastKind)
	}
	if snap.LastError != nil {
		b.WriteString(errorStyle.Render(m.wrap(snap.LastError.Error())))
		b.WriteString("\n")
	}

	if event := snap.GameEvent; event != nil {
		body := fmt.Sprintf("%s\n%s", strings.ToUpper(event.Type), m.wrap(event.Question))
		for i, choice := range event.Choices {
			body += fmt.Sprintf("\n %d. %s", i+1, choice)
		}
		b.WriteString("\n")
		b.WriteString(eventStyle.Render(body))
		b.WriteString("\n")
	}

	switch {
	case m.summaryLoading:
		b.WriteString("\n" + m.spinner.View() + " fetching summary\n")
	case m.summaryErr != nil:
		b.WriteString("\n" + errorStyle.Render(m.wrap("summary: "+m.summaryErr.Error())) + "\n")
	case m.summary != nil:
		fmt.Fprintf(&b, "\n%s %d\n%s\n", labelStyle.Render("chemistry"), m.summary.ChemistryIndex, m.wrap(m.summary.Text))
	}

	b.WriteString("\n")
	for i, entry := range snap.DebugLog {
		if i == visibleLogLines {
			break
		}
		line := fmt.Sprintf("%s %s", entry.Time.Format("15:04:05"), entry.Label)
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(entry.Category.Color()))
		b.WriteString(style.Render(truncate.StringWithTail(line, uint(max(m.width, 10)), "…")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("s start/stop · space send now · d dismiss · r summary · q quit"))
	return b.String()
}

func (m *Model) wrap(text string) string {
	return wordwrap.String(text, max(m.width-2, 10))
}

// EventSink forwards coordinator events into a running program so the view
// refreshes immediately instead of on the next tick.
type EventSink struct {
	program *tea.Program
}

func NewEventSink(program *tea.Program) *EventSink {
	return &EventSink{program: program}
}

func (s *EventSink) Handle(event events.Event) {
	if s == nil || s.program == nil {
		return
	}
	s.program.Send(eventMsg{kind: event.Kind()})
}
