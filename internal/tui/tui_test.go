package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/app"
	"calview/internal/clock"
	"calview/internal/config"
	"calview/internal/coordinator"
	"calview/internal/eventindex"
	"calview/internal/model"
)

func press(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T) (*Model, *app.App, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	events := []model.Event{
		{ID: "s1", Subject: "Standup", Date: "2025-03-15", StartTime: "9:00 AM", EndTime: "9:30 AM", Meeting: true, Repeat: "daily", MeetingLink: "https://meet.example.com/s"},
		{ID: "r1", Subject: "Review", Date: "2025-03-15", StartTime: "9:15 AM", EndTime: "10:00 AM", Meeting: true},
	}
	fetch := coordinator.FetcherFunc(func(ctx context.Context, biz, month string) ([]model.DayBucket, error) {
		return eventindex.FillMonth(eventindex.Bucket(events), month)
	})
	a := app.New(config.DefaultConfig(), app.Options{Clock: clk, Fetcher: fetch})
	t.Cleanup(a.Coordinator.Close)
	a.Coordinator.Start(context.Background())
	a.Coordinator.Wait()

	m := New(a)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Update(stateMsg{state: a.Coordinator.Snapshot()})
	return m, a, clk
}

func TestAgendaRendering(t *testing.T) {
	m, _, _ := newModel(t)
	out := m.View()
	assert.Contains(t, out, "March 2025")
	assert.Contains(t, out, "[agenda]")
	assert.Contains(t, out, "Mar 15")
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "Daily")
	assert.Contains(t, out, "No meetings")
}

func TestDayAndMonthKeys(t *testing.T) {
	m, a, _ := newModel(t)

	m.Update(press("l"))
	assert.Equal(t, "2025-03-16", a.Coordinator.Snapshot().SelectedDate)
	m.Update(press("h"))
	m.Update(press("h"))
	assert.Equal(t, "2025-03-14", a.Coordinator.Snapshot().SelectedDate)

	m.Update(press("]"))
	a.Coordinator.Wait()
	st := a.Coordinator.Snapshot()
	assert.Equal(t, "2025-04", st.CurrentMonth)
	assert.Equal(t, "2025-04-01", st.SelectedDate)

	m.Update(press("["))
	a.Coordinator.Wait()
	assert.Equal(t, "2025-03", a.Coordinator.Snapshot().CurrentMonth)
}

func TestTimelineSwipe(t *testing.T) {
	m, a, clk := newModel(t)

	m.Update(press("t"))
	require.Equal(t, model.ModeTimeline, a.Coordinator.Snapshot().DisplayMode)
	out := m.View()
	assert.Contains(t, out, "[timeline]")
	assert.Contains(t, out, "9AM")
	assert.Contains(t, out, "▌Standup")
	assert.Contains(t, out, "▌Review")
	assert.Contains(t, out, "now 10:00 AM")

	m.Update(press("l"))
	assert.Equal(t, "2025-03-15", a.Coordinator.Snapshot().SelectedDate, "the swipe reports after settling")
	clk.Advance(250 * time.Millisecond)
	assert.Equal(t, "2025-03-16", a.Coordinator.Snapshot().SelectedDate)
}

func TestOpenDetail(t *testing.T) {
	m, _, _ := newModel(t)

	m.Update(press("enter"))
	out := m.View()
	assert.Contains(t, out, "Standup")
	assert.Contains(t, out, "https://meet.example.com/s")
	assert.Contains(t, out, "Repeats Daily")

	m.Update(press("esc"))
	assert.Nil(t, m.detail)

	m.Update(press("l"))
	m.Update(press("enter"))
	assert.Contains(t, m.View(), "no meetings on this day")
}

func TestQuit(t *testing.T) {
	m, _, _ := newModel(t)
	_, cmd := m.Update(press("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestHelpToggle(t *testing.T) {
	m, _, _ := newModel(t)
	out := m.View()
	assert.Contains(t, out, "quit")
	assert.NotContains(t, out, "refresh")
	assert.NotContains(t, out, "back", "back is only offered from the detail view")

	m.Update(press("?"))
	out = m.View()
	assert.Contains(t, out, "refresh")
	assert.Contains(t, out, "next month")
}

func TestBodyScrollsAndFollowsSelection(t *testing.T) {
	m, a, _ := newModel(t)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 12})

	m.Update(press("l"))
	require.Equal(t, "2025-03-16", a.Coordinator.Snapshot().SelectedDate)
	top := func() string { return strings.Split(m.body.View(), "\n")[0] }
	assert.Contains(t, top(), "Mar 16")
	offset := m.body.YOffset

	m.Update(press("j"))
	assert.Equal(t, offset+1, m.body.YOffset)
	assert.NotContains(t, top(), "Mar 16")
	assert.Equal(t, "2025-03-16", a.Coordinator.Snapshot().SelectedDate, "scrolling leaves the selection alone")

	m.Update(stateMsg{state: a.Coordinator.Snapshot()})
	assert.Equal(t, offset+1, m.body.YOffset, "state updates keep the scroll position")

	m.Update(press("k"))
	assert.Equal(t, offset, m.body.YOffset)
}
