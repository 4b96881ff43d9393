package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
)

type fakeController struct {
	snapshot orchestration.Snapshot
	calls    []string
}

func (f *fakeController) Start(context.Context) {
	f.calls = append(f.calls, "start")
	f.snapshot.Status = orchestration.StatusListening
	f.snapshot.LastError = nil
}

func (f *fakeController) Stop() {
	f.calls = append(f.calls, "stop")
	f.snapshot.Status = orchestration.StatusIdle
}

func (f *fakeController) ForceCommit()  { f.calls = append(f.calls, "commit") }
func (f *fakeController) DismissEvent() { f.calls = append(f.calls, "dismiss"); f.snapshot.GameEvent = nil }
func (f *fakeController) Reset()        { f.calls = append(f.calls, "reset") }

func (f *fakeController) Snapshot() orchestration.Snapshot { return f.snapshot }

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitReturnsCommands(t *testing.T) {
	m := NewModel(context.Background(), &fakeController{}, nil)
	require.NotNil(t, m.Init())
}

func TestStartStopToggle(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{Status: orchestration.StatusIdle}}
	m := NewModel(context.Background(), ctrl, nil)

	m.Update(key("s"))
	assert.Equal(t, orchestration.StatusListening, m.snapshot.Status)

	m.Update(key("s"))
	assert.Equal(t, []string{"start", "stop"}, ctrl.calls)
	assert.Equal(t, orchestration.StatusIdle, m.snapshot.Status)
}

func TestStartAfterFatalErrorResetsFirst(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{
		Status:    orchestration.StatusIdle,
		LastError: &orchestration.Error{Kind: orchestration.ErrorPermission, Err: errors.New("denied")},
	}}
	m := NewModel(context.Background(), ctrl, nil)

	m.Update(key("s"))
	assert.Equal(t, []string{"reset", "start"}, ctrl.calls)
}

func TestCommitDismissAndQuit(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{
		Status:    orchestration.StatusListening,
		GameEvent: &orchestration.GameEvent{Type: "quiz", Question: "cats or dogs?", Choices: []string{"cats", "dogs"}},
	}}
	m := NewModel(context.Background(), ctrl, nil)
	assert.Contains(t, m.View(), "cats or dogs?")

	m.Update(key(" "))
	m.Update(key("d"))
	assert.NotContains(t, m.View(), "cats or dogs?")

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	_, quit := cmd().(tea.QuitMsg)
	assert.True(t, quit)
	assert.Equal(t, []string{"commit", "dismiss", "stop"}, ctrl.calls)
}

func TestSummaryKey(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{Status: orchestration.StatusIdle}}
	m := NewModel(context.Background(), ctrl, func(context.Context) (Summary, error) {
		return Summary{Text: "a lovely chat", ChemistryIndex: 82}, nil
	})

	_, cmd := m.Update(key("r"))
	require.NotNil(t, cmd)
	assert.True(t, m.summaryLoading)

	m.Update(cmd())
	view := m.View()
	assert.Contains(t, view, "a lovely chat")
	assert.Contains(t, view, "82")
}

func TestSummaryIgnoredWhileRunning(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{Status: orchestration.StatusListening}}
	m := NewModel(context.Background(), ctrl, func(context.Context) (Summary, error) {
		t.Fatalf("expected no summary request while running")
		return Summary{}, nil
	})

	_, cmd := m.Update(key("r"))
	assert.Nil(t, cmd)
}

func TestViewShowsErrorsAndLog(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{
		Status:    orchestration.StatusListening,
		LastError: &orchestration.Error{Kind: orchestration.ErrorTransport, Err: errors.New("upstream down")},
		DebugLog:  []orchestration.DebugEntry{{Label: "Sending 31.3 KB", Category: orchestration.DebugTransport}},
	}}
	m := NewModel(context.Background(), ctrl, nil)
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})

	view := m.View()
	assert.Contains(t, view, "upstream down")
	assert.Contains(t, view, "Sending 31.3 KB")
}

func TestEventMessageRefreshesSnapshot(t *testing.T) {
	ctrl := &fakeController{snapshot: orchestration.Snapshot{Status: orchestration.StatusIdle}}
	m := NewModel(context.Background(), ctrl, nil)

	ctrl.snapshot.Status = orchestration.StatusWaiting
	m.Update(eventMsg{kind: events.KindTurnSent})

	assert.Equal(t, orchestration.StatusWaiting, m.snapshot.Status)
	assert.Equal(t, events.KindTurnSent, m.lastKind)
}
