// Package tui is a terminal front end over the calendar coordinator.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"calview/internal/agenda"
	"calview/internal/app"
	"calview/internal/coordinator"
	"calview/internal/eventindex"
	"calview/internal/model"
	"calview/internal/timeline"
)

// stateMsg carries a coordinator change into the update loop.
type stateMsg struct {
	state coordinator.State
}

// Model is the bubbletea model.
type Model struct {
	app    *app.App
	layout timeline.Layout
	styles styles
	keys   keyMap
	help   help.Model
	body   viewport.Model

	width  int
	height int

	state  coordinator.State
	detail *model.Event
	err    error

	// anchor names what the body was last positioned for. The body only
	// jumps when it changes, so manual scrolling survives state updates.
	anchor string
}

type styles struct {
	header    lipgloss.Style
	mode      lipgloss.Style
	banner    lipgloss.Style
	section   lipgloss.Style
	selected  lipgloss.Style
	muted     lipgloss.Style
	block     lipgloss.Style
	detail    lipgloss.Style
	hourLabel lipgloss.Style
}

func newStyles(p timeline.Palette) styles {
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Padding(0, 1),
		mode:      lipgloss.NewStyle().Foreground(lipgloss.Color(p.Primary)),
		banner:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8A4B00")).Padding(0, 1),
		section:   lipgloss.NewStyle().Bold(true).Padding(0, 1),
		selected:  lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color(p.Primary)),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		block:     lipgloss.NewStyle().Background(lipgloss.Color(p.PrimaryLight)).Foreground(lipgloss.Color(p.Primary)),
		detail:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		hourLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("#777777")).Width(6),
	}
}

// New builds the model for a.
func New(a *app.App) *Model {
	m := &Model{
		app:    a,
		layout: timeline.LayoutFromConfig(a.Config.Layout),
		styles: newStyles(timeline.Light),
		keys:   defaultKeyMap(),
		help:   help.New(),
		body:   viewport.New(80, 20),
		width:  80,
		height: 24,
		state:  a.Coordinator.Snapshot(),
	}
	m.refresh()
	return m
}

// Run starts the coordinator and drives the program until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, a *app.App) error {
	m := New(a)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := a.Coordinator.Subscribe(func(st coordinator.State) {
		p.Send(stateMsg{state: st})
	})
	defer unsubscribe()
	a.Coordinator.Start(ctx)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case stateMsg:
		if msg.state.Version >= m.state.Version {
			m.state = msg.state
		}

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if key.Matches(msg, m.keys.scrollBindings()...) {
			m.body, cmd = m.body.Update(msg)
			return m, cmd
		}
		m.handleKey(msg)
	}
	m.refresh()
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) {
	c := m.app.Coordinator
	m.err = nil

	switch {
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Back):
		m.detail = nil
	case key.Matches(msg, m.keys.PrevDay):
		m.err = m.moveDay(-1)
	case key.Matches(msg, m.keys.NextDay):
		m.err = m.moveDay(1)
	case key.Matches(msg, m.keys.PrevMonth):
		m.err = c.ShiftMonth(-1)
	case key.Matches(msg, m.keys.NextMonth):
		m.err = c.ShiftMonth(1)
	case key.Matches(msg, m.keys.Toggle):
		c.ToggleMode()
	case key.Matches(msg, m.keys.Refresh):
		c.Refresh()
	case key.Matches(msg, m.keys.Open):
		m.err = m.openFirst()
	}
	m.state = c.Snapshot()
}

// moveDay swipes the timeline one page when it can; otherwise, and in the
// agenda, it moves the selection directly.
func (m *Model) moveDay(delta int) error {
	c := m.app.Coordinator
	st := c.Snapshot()
	if st.DisplayMode == model.ModeTimeline {
		page := m.app.Timeline.CurrentPage() + delta
		if page >= 0 && page < len(st.Buckets) {
			m.app.Timeline.OnScrollEnd(m.layout.PageOffset(page), model.OriginUser)
			return nil
		}
	}
	return c.ShiftDay(delta, model.OriginUser)
}

// openFirst opens the first meeting of the selected day.
func (m *Model) openFirst() error {
	st := m.app.Coordinator.Snapshot()
	idx := eventindex.IndexOf(st.Buckets, st.SelectedDate)
	if idx < 0 {
		return errors.New("no events loaded for this day")
	}
	for _, ev := range st.Buckets[idx].Data {
		if !ev.Meeting {
			continue
		}
		var err error
		if st.DisplayMode == model.ModeTimeline {
			err = m.app.Timeline.Tap(idx, ev.Key())
		} else {
			err = m.app.Agenda.Tap(idx, ev.Key())
		}
		if err != nil {
			return err
		}
		if opened, ok := m.app.Coordinator.LastOpened(); ok {
			m.detail = &opened
		}
		return nil
	}
	return errors.New("no meetings on this day")
}

// refresh sizes the body between the header and the footer, fills it and
// jumps to the selection when that changed.
func (m *Model) refresh() {
	m.keys.Back.SetEnabled(m.detail != nil)

	used := lipgloss.Height(m.topView()) + lipgloss.Height(m.bottomView())
	m.body.Width = m.width
	m.body.Height = max(m.height-used, 1)

	content, line, anchor := m.bodyContent()
	m.body.SetContent(content)
	if anchor != m.anchor {
		m.anchor = anchor
		m.body.SetYOffset(line)
	}
}

func (m *Model) View() string {
	return m.topView() + "\n" + m.body.View() + "\n" + m.bottomView()
}

func (m *Model) topView() string {
	st := m.state
	line := m.styles.header.Render(st.MonthTitle) + m.styles.mode.Render("["+string(st.DisplayMode)+"]")
	if st.Loading {
		line += m.styles.muted.Render("  loading…")
	}
	if st.Banner != "" {
		line += "\n" + m.styles.banner.Render(st.Banner)
	}
	if m.detail == nil && st.DisplayMode == model.ModeTimeline {
		if page := m.selectedPage(); page != nil {
			line += "\n" + m.styles.selected.Render(page.Header)
		}
	}
	return line
}

func (m *Model) bottomView() string {
	out := m.help.View(m.keys)
	if m.err != nil {
		out = m.styles.banner.Render(m.err.Error()) + "\n" + out
	}
	return out
}

// bodyContent returns the scrollable text, the line to show first and the
// anchor it belongs to.
func (m *Model) bodyContent() (string, int, string) {
	switch {
	case m.detail != nil:
		return m.detailView(*m.detail), 0, "detail:" + m.detail.Key()
	case m.state.DisplayMode == model.ModeTimeline:
		content, line := m.timelineBody()
		return content, line, "timeline:" + m.state.SelectedDate
	default:
		content, line := m.agendaBody()
		return content, line, "agenda:" + m.state.SelectedDate
	}
}

// agendaBody lists every section. The selected one comes first in view.
func (m *Model) agendaBody() (string, int) {
	sections := m.app.Agenda.Sections()
	if len(sections) == 0 {
		return m.styles.muted.Render("  nothing loaded yet"), 0
	}
	// Every section is laid out, so the agenda may scroll to any of them.
	if vp := m.app.Agenda.Viewport(); vp != nil {
		vp.Measure(len(sections))
	}

	var (
		lines  []string
		anchor int
	)
	for _, s := range sections {
		header := m.styles.section.Render(s.Header)
		if s.Selected {
			anchor = len(lines)
			header = m.styles.selected.Render(s.Header)
		}
		lines = append(lines, header)
		for _, r := range s.Rows {
			lines = append(lines, "  "+rowText(r, m.styles))
		}
	}
	return strings.Join(lines, "\n"), anchor
}

func rowText(r agenda.Row, st styles) string {
	if r.Placeholder {
		return st.muted.Render(r.Text)
	}
	text := fmt.Sprintf("%s - %s  %s", r.StartTime, r.EndTime, r.Subject)
	if r.Repeats {
		text += st.muted.Render("  ↻ " + r.RepeatLabel)
	}
	loc := r.Location
	if r.Join {
		loc += " · Join"
	}
	return text + st.muted.Render("  "+loc)
}

func (m *Model) selectedPage() *timeline.Page {
	for _, p := range m.app.Timeline.Pages() {
		if p.Title == m.state.SelectedDate {
			return p
		}
	}
	return nil
}

// timelineBody draws the selected page as 24 hour rows with one column per
// lane. It opens at 8AM or the first event, whichever is earlier.
func (m *Model) timelineBody() (string, int) {
	page := m.selectedPage()
	if page == nil {
		return m.styles.muted.Render("  nothing loaded yet"), 0
	}

	lanes := 1
	first := 8
	for _, blk := range page.Blocks {
		lanes = max(lanes, blk.Lanes)
		first = min(first, eventindex.ParseTimeToMinutes(blk.Event.StartTime)/60)
	}
	colWidth := max((m.width-8)/lanes, 8)

	var now *timeline.NowIndicator
	if m.state.SelectedDate == m.state.Today {
		n := m.app.Timeline.NowIndicator()
		now = &n
	}

	var (
		lines  []string
		anchor int
	)
	for h := 0; h < timeline.HoursPerDay; h++ {
		if h == first {
			anchor = len(lines)
		}
		cells := make([]string, lanes)
		for i := range cells {
			cells[i] = strings.Repeat(" ", colWidth)
		}
		for _, blk := range page.Blocks {
			start := eventindex.ParseTimeToMinutes(blk.Event.StartTime)
			end := eventindex.ParseTimeToMinutes(blk.Event.EndTime)
			if end <= h*60 || start >= (h+1)*60 {
				continue
			}
			text := "│"
			if start/60 == h {
				text = "▌" + blk.Event.Subject
			}
			cells[blk.Lane] = m.styles.block.Render(fit(text, colWidth))
		}
		lines = append(lines, m.styles.hourLabel.Render(eventindex.FormatTimeSlot(h))+strings.Join(cells, ""))
		if now != nil && now.Minutes/60 == h {
			lines = append(lines, m.styles.muted.Render("  now "+now.Label))
		}
	}
	return strings.Join(lines, "\n"), anchor
}

func (m *Model) detailView(ev model.Event) string {
	row := agenda.BuildRow(ev)
	body := []string{
		lipgloss.NewStyle().Bold(true).Render(ev.Subject),
		eventindex.FormatDayHeader(ev.Date) + "  " + ev.StartTime + " - " + ev.EndTime,
		row.Location,
	}
	if row.Repeats {
		body = append(body, "Repeats "+row.RepeatLabel)
	}
	if ev.MeetingLink != "" {
		body = append(body, ev.MeetingLink)
	}
	return m.styles.detail.Render(strings.Join(body, "\n"))
}

// fit pads or truncates s to exactly w cells.
func fit(s string, w int) string {
	r := []rune(s)
	if len(r) > w-1 {
		r = append(r[:w-2], '…')
	}
	return string(r) + strings.Repeat(" ", w-len(r))
}
