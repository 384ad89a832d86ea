package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/clock"
	"calview/internal/eventindex"
	"calview/internal/model"
)

var now = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

type syncCall struct {
	date   string
	origin model.Origin
}

type fakeView struct {
	mu      sync.Mutex
	mounted bool
	buckets []model.DayBucket
	sets    int
	syncs   []syncCall
}

func (f *fakeView) SetBuckets(b []model.DayBucket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = b
	f.sets++
}

func (f *fakeView) SyncSelection(date string, origin model.Origin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, syncCall{date, origin})
}

func (f *fakeView) Mount()   { f.mu.Lock(); f.mounted = true; f.mu.Unlock() }
func (f *fakeView) Unmount() { f.mu.Lock(); f.mounted = false; f.mu.Unlock() }

func (f *fakeView) isMounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

func (f *fakeView) lastSync() syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.syncs) == 0 {
		return syncCall{}
	}
	return f.syncs[len(f.syncs)-1]
}

func monthOf(t *testing.T, month string) []model.DayBucket {
	t.Helper()
	b, err := eventindex.FillMonth(nil, month)
	require.NoError(t, err)
	return b
}

// gatedFetcher blocks each month's fetch until the test releases it.
type gatedFetcher struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan result
}

type result struct {
	buckets []model.DayBucket
	err     error
}

func newGated() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan result)}
}

func (g *gatedFetcher) gate(month string) chan result {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[month]
	if !ok {
		ch = make(chan result, 4)
		g.gates[month] = ch
	}
	return ch
}

func (g *gatedFetcher) FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error) {
	g.mu.Lock()
	g.calls = append(g.calls, month)
	g.mu.Unlock()
	select {
	case r := <-g.gate(month):
		return r.buckets, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedFetcher) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type harness struct {
	ctx      context.Context
	c        *Coordinator
	clk      *clock.Manual
	fetch    *gatedFetcher
	timeline *fakeView
	agenda   *fakeView
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewManual(now),
		fetch:    newGated(),
		timeline: &fakeView{},
		agenda:   &fakeView{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	h.c = New(Options{
		Clock:                  h.clk,
		Fetcher:                h.fetch,
		BusinessID:             "biz",
		Timeline:               h.timeline,
		Agenda:                 h.agenda,
		ScrollToSelectionDelay: 500 * time.Millisecond,
	})
	t.Cleanup(func() {
		cancel()
		h.c.Close()
	})
	return h
}

// loadMarch starts the coordinator and lets the initial fetch land.
func (h *harness) loadMarch(t *testing.T) {
	t.Helper()
	h.c.Start(h.ctx)
	h.fetch.gate("2025-03") <- result{buckets: monthOf(t, "2025-03")}
	h.c.Wait()
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)
	st := h.c.Snapshot()

	assert.Equal(t, "2025-03-15", st.SelectedDate)
	assert.Equal(t, "2025-03", st.CurrentMonth)
	assert.Equal(t, model.ModeAgenda, st.DisplayMode)
	assert.Equal(t, "March 2025", st.MonthTitle)
	assert.True(t, h.agenda.isMounted())
	assert.False(t, h.timeline.isMounted())
	assert.False(t, st.DataLoaded)
}

func TestStartLoadsCurrentMonth(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	st := h.c.Snapshot()
	assert.True(t, st.DataLoaded)
	assert.False(t, st.Loading)
	assert.Len(t, st.Buckets, 31)
	assert.Equal(t, []string{"2025-03"}, h.fetch.calls)
	assert.Len(t, h.agenda.buckets, 31)
	assert.Len(t, h.timeline.buckets, 31)
}

func TestScrollToSelectionAfterDataArrives(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	before := len(h.agenda.syncs)
	h.clk.Advance(499 * time.Millisecond)
	assert.Len(t, h.agenda.syncs, before)

	h.clk.Advance(time.Millisecond)
	assert.Equal(t, syncCall{"2025-03-15", model.OriginProgrammatic}, h.agenda.lastSync())
	assert.Len(t, h.agenda.syncs, before+1)
}

func TestSelectDaySameMonthDoesNotRefetch(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	require.NoError(t, h.c.SelectDay("2025-03-20", model.OriginUser))
	assert.Equal(t, 1, h.fetch.callCount())
	assert.Equal(t, "2025-03-20", h.c.Snapshot().SelectedDate)
	assert.Equal(t, syncCall{"2025-03-20", model.OriginUser}, h.timeline.lastSync())
	assert.Equal(t, syncCall{"2025-03-20", model.OriginUser}, h.agenda.lastSync())
}

func TestSelectDayInOtherMonthRefetches(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	require.NoError(t, h.c.SelectDay("2025-04-03", model.OriginUser))
	st := h.c.Snapshot()
	assert.Equal(t, "2025-04", st.CurrentMonth)
	assert.True(t, st.Loading)
	// Old buckets stay up while April is in flight.
	assert.Equal(t, "2025-03-01", st.Buckets[0].Title)

	h.fetch.gate("2025-04") <- result{buckets: monthOf(t, "2025-04")}
	h.c.Wait()

	st = h.c.Snapshot()
	assert.Equal(t, "2025-04-01", st.Buckets[0].Title)
	assert.Equal(t, "2025-04-03", st.SelectedDate)
	assert.False(t, st.Loading)
}

func TestChangeMonth(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	require.NoError(t, h.c.ChangeMonth("2025-04"))
	st := h.c.Snapshot()
	assert.Equal(t, "2025-04", st.CurrentMonth)
	assert.Equal(t, "2025-04-01", st.SelectedDate)

	// Same month again only moves the selection.
	require.NoError(t, h.c.ChangeMonth("2025-04-09"))
	assert.Equal(t, 2, h.fetch.callCount())
	assert.Equal(t, "2025-04-09", h.c.Snapshot().SelectedDate)

	require.NoError(t, h.c.ShiftMonth(-1))
	assert.Equal(t, "2025-03", h.c.Snapshot().CurrentMonth)

	assert.ErrorIs(t, h.c.ChangeMonth("April"), ErrInvalidMonth)
	assert.ErrorIs(t, h.c.SelectDay("2025-02-30", model.OriginUser), ErrInvalidDate)
}

func TestShiftDayCrossesMonth(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)
	require.NoError(t, h.c.SelectDay("2025-03-31", model.OriginUser))

	require.NoError(t, h.c.ShiftDay(1, model.OriginUser))
	st := h.c.Snapshot()
	assert.Equal(t, "2025-04-01", st.SelectedDate)
	assert.Equal(t, "2025-04", st.CurrentMonth)
}

// A slow response for an older month must not overwrite the newer month.
func TestStaleFetchIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	require.NoError(t, h.c.ChangeMonth("2025-04"))
	require.NoError(t, h.c.ChangeMonth("2025-05"))
	assert.Equal(t, uint64(3), h.c.Snapshot().Generation)

	h.fetch.gate("2025-05") <- result{buckets: monthOf(t, "2025-05")}
	require.Eventually(t, func() bool {
		b := h.c.Snapshot().Buckets
		return len(b) > 0 && b[0].Title == "2025-05-01"
	}, time.Second, 5*time.Millisecond)

	h.fetch.gate("2025-04") <- result{buckets: monthOf(t, "2025-04")}
	h.c.Wait()

	st := h.c.Snapshot()
	assert.Equal(t, "2025-05", st.CurrentMonth)
	assert.Equal(t, "2025-05-01", st.Buckets[0].Title)
	assert.Equal(t, "2025-05-01", st.SelectedDate)
	assert.False(t, st.Loading)
	assert.Equal(t, "2025-05-01", h.agenda.buckets[0].Title)
}

func TestFetchFailureKeepsDataAndShowsBanner(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	h.c.Refresh()
	h.fetch.gate("2025-03") <- result{err: errors.New("boom")}
	h.c.Wait()

	st := h.c.Snapshot()
	assert.Equal(t, "Could not load events for March 2025", st.Banner)
	assert.Len(t, st.Buckets, 31)
	assert.False(t, st.Loading)

	h.c.DismissBanner()
	assert.Empty(t, h.c.Snapshot().Banner)
}

func TestSuccessfulFetchClearsBanner(t *testing.T) {
	h := newHarness(t)
	h.c.Start(h.ctx)
	h.fetch.gate("2025-03") <- result{err: errors.New("offline")}
	h.c.Wait()
	require.NotEmpty(t, h.c.Snapshot().Banner)
	assert.True(t, h.c.Snapshot().DataLoaded)

	h.c.Refresh()
	h.fetch.gate("2025-03") <- result{buckets: monthOf(t, "2025-03")}
	h.c.Wait()
	assert.Empty(t, h.c.Snapshot().Banner)
}

func TestFetchFallsBackToTodayWhenSelectionMissing(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)
	require.NoError(t, h.c.SelectDay("2025-03-31", model.OriginUser))

	partial := monthOf(t, "2025-03")[:20]
	h.c.Refresh()
	h.fetch.gate("2025-03") <- result{buckets: partial}
	h.c.Wait()

	assert.Equal(t, "2025-03-15", h.c.Snapshot().SelectedDate)
	assert.Equal(t, syncCall{"2025-03-15", model.OriginProgrammatic}, h.timeline.lastSync())
}

func TestToggleModeSwapsMountWithoutRefetch(t *testing.T) {
	h := newHarness(t)
	h.loadMarch(t)

	assert.Equal(t, model.ModeTimeline, h.c.ToggleMode())
	assert.True(t, h.timeline.isMounted())
	assert.False(t, h.agenda.isMounted())
	assert.Equal(t, 1, h.fetch.callCount())

	require.NoError(t, h.c.SetMode(model.ModeAgenda))
	assert.True(t, h.agenda.isMounted())
	assert.False(t, h.timeline.isMounted())

	assert.ErrorIs(t, h.c.SetMode("month"), ErrUnknownMode)
}

func TestMarkedDates(t *testing.T) {
	h := newHarness(t)
	marks := h.c.MarkedDates()
	require.Len(t, marks, 1)
	today := marks["2025-03-15"]
	assert.True(t, today.Marked)
	assert.True(t, today.Selected)

	require.NoError(t, h.c.SelectDay("2025-03-18", model.OriginUser))
	marks = h.c.MarkedDates()
	require.Len(t, marks, 2)
	assert.False(t, marks["2025-03-15"].Selected)
	assert.Equal(t, "#8BAD9B", marks["2025-03-15"].DotColor)
	assert.True(t, marks["2025-03-18"].Selected)
	assert.Equal(t, "#ffffff", marks["2025-03-18"].SelectedTextColor)
}

func TestOpenDetailAndSubscribe(t *testing.T) {
	var opened []model.Event
	var states []State
	h := newHarness(t)
	h.c.opts.OnOpenDetail = func(ev model.Event) { opened = append(opened, ev) }
	unsubscribe := h.c.Subscribe(func(st State) { states = append(states, st) })

	h.c.OpenDetail(model.Event{ID: "e1", Meeting: true})
	require.Len(t, opened, 1)
	ev, ok := h.c.LastOpened()
	assert.True(t, ok)
	assert.Equal(t, "e1", ev.ID)
	require.Len(t, states, 1)

	unsubscribe()
	require.NoError(t, h.c.SelectDay("2025-03-16", model.OriginUser))
	assert.Len(t, states, 1)
}

func TestViewsEndOnLatestSelectionUnderRacingFetches(t *testing.T) {
	march, err := eventindex.FillMonth(nil, "2025-03")
	require.NoError(t, err)
	tl, ag := &fakeView{}, &fakeView{}
	c := New(Options{
		Clock: clock.NewManual(now),
		Fetcher: FetcherFunc(func(context.Context, string, string) ([]model.DayBucket, error) {
			return march, nil
		}),
		Timeline: tl,
		Agenda:   ag,
	})
	t.Cleanup(c.Close)
	c.Start(context.Background())

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.Refresh() }()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.SelectDay(march[i%len(march)].Title, model.OriginUser))
		}()
		wg.Wait()
	}
	c.Wait()

	selected := c.Snapshot().SelectedDate
	assert.Equal(t, selected, tl.lastSync().date)
	assert.Equal(t, selected, ag.lastSync().date)
}
