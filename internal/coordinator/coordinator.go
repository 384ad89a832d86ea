// Package coordinator owns the calendar screen's single source of truth:
// selected date, current month and display mode. It fetches a month of day
// buckets, hands immutable snapshots to the timeline and agenda views and
// keeps both scrolled to the selection.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calview/internal/clock"
	"calview/internal/eventindex"
	appLog "calview/internal/log"
	"calview/internal/model"
)

var (
	ErrInvalidDate  = errors.New("coordinator: invalid date")
	ErrInvalidMonth = errors.New("coordinator: invalid month")
	ErrUnknownMode  = errors.New("coordinator: unknown display mode")
)

// Fetcher returns the complete, chronologically ordered bucket set of a
// month.
type Fetcher interface {
	FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, businessID, month string) ([]model.DayBucket, error)

func (f FetcherFunc) FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error) {
	return f(ctx, businessID, month)
}

// View is what the coordinator drives in the timeline and the agenda.
type View interface {
	SetBuckets(buckets []model.DayBucket)
	SyncSelection(date string, origin model.Origin)
	Mount()
	Unmount()
}

// Options wires a Coordinator.
type Options struct {
	Clock      clock.Clock
	Location   *time.Location
	Fetcher    Fetcher
	BusinessID string

	Timeline View
	Agenda   View

	InitialMode model.DisplayMode
	// ScrollToSelectionDelay gives freshly loaded lists time to mount and
	// measure before the views are pointed at the selection again.
	ScrollToSelectionDelay time.Duration

	// OnOpenDetail receives events opened from either view.
	OnOpenDetail func(model.Event)

	// SelectedColor and TodayDotColor style MarkedDates.
	SelectedColor string
	TodayDotColor string
}

// State is a point-in-time copy of the coordinator.
type State struct {
	model.SelectionState
	Today      string            `json:"today"`
	MonthTitle string            `json:"monthTitle"`
	Buckets    []model.DayBucket `json:"buckets"`
	Loading    bool              `json:"loading"`
	Banner     string            `json:"banner,omitempty"`
	DataLoaded bool              `json:"dataLoaded"`
	// Version increases with every observable change.
	Version uint64 `json:"version"`
	// Generation is the latest issued fetch request.
	Generation uint64 `json:"generation"`
}

// Coordinator is safe for concurrent use. Views are always updated outside
// the state lock, in the order the state changed.
type Coordinator struct {
	mu   sync.Mutex
	opts Options
	ctx  context.Context

	state      model.SelectionState
	buckets    []model.DayBucket
	dataLoaded bool
	loading    int
	banner     string
	version    uint64
	gen        uint64
	lastOpened *model.Event

	scrollTimer clock.Timer

	listeners map[int]func(State)
	nextID    int

	// viewMu serializes pushes to the views.
	viewMu sync.Mutex
	wg     sync.WaitGroup
}

// New builds a coordinator selecting today in the configured location. The
// view of the initial mode is mounted; nothing is fetched until Start.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if !opts.InitialMode.Valid() {
		opts.InitialMode = model.ModeAgenda
	}
	if opts.SelectedColor == "" {
		opts.SelectedColor = "#3B5BDB"
	}
	if opts.TodayDotColor == "" {
		opts.TodayDotColor = "#8BAD9B"
	}

	c := &Coordinator{
		opts:      opts,
		ctx:       context.Background(),
		listeners: make(map[int]func(State)),
	}
	today := c.todayLocked()
	c.state = model.SelectionState{
		SelectedDate: today,
		CurrentMonth: model.MonthOf(today),
		DisplayMode:  opts.InitialMode,
	}
	if v := c.viewFor(c.state.DisplayMode); v != nil {
		v.SyncSelection(today, model.OriginProgrammatic)
		v.Mount()
	}
	if v := c.viewFor(c.state.DisplayMode.Toggle()); v != nil {
		v.SyncSelection(today, model.OriginProgrammatic)
	}
	return c
}

func (c *Coordinator) todayLocked() string {
	return c.opts.Clock.Now().In(c.opts.Location).Format(model.DateLayout)
}

func (c *Coordinator) viewFor(m model.DisplayMode) View {
	if m == model.ModeTimeline {
		return c.opts.Timeline
	}
	return c.opts.Agenda
}

func (c *Coordinator) views() []View {
	var out []View
	for _, v := range []View{c.opts.Timeline, c.opts.Agenda} {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Start issues the initial fetch. ctx bounds every fetch issued afterwards.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.fetchLocked(c.state.CurrentMonth)
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
}

// SelectDay selects date. A date in another month also moves the current
// month and refetches.
func (c *Coordinator) SelectDay(date string, origin model.Origin) error {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	c.mu.Lock()
	c.state.SelectedDate = date
	if month := model.MonthOf(date); month != c.state.CurrentMonth {
		c.changeMonthLocked(month)
	}
	c.version++
	st := c.snapshotLocked()
	c.handOffLocked()

	c.pushSelectionViewLocked(date, origin)
	c.viewMu.Unlock()
	c.notify(st)
	return nil
}

// ChangeMonth pages the month grid. arg is "YYYY-MM" (the first of the month
// gets selected) or a full date inside the new month.
func (c *Coordinator) ChangeMonth(arg string) error {
	date := arg
	if len(arg) == len(model.MonthLayout) {
		date = arg + "-01"
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, arg)
	}

	c.mu.Lock()
	c.changeMonthLocked(model.MonthOf(date))
	c.state.SelectedDate = date
	c.version++
	st := c.snapshotLocked()
	c.handOffLocked()

	c.pushSelectionViewLocked(date, model.OriginProgrammatic)
	c.viewMu.Unlock()
	c.notify(st)
	return nil
}

// ShiftMonth moves delta months from the current one.
func (c *Coordinator) ShiftMonth(delta int) error {
	c.mu.Lock()
	cur, err := time.Parse(model.MonthLayout, c.state.CurrentMonth)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMonth, err)
	}
	return c.ChangeMonth(cur.AddDate(0, delta, 0).Format(model.MonthLayout))
}

// ShiftDay moves the selection by delta days.
func (c *Coordinator) ShiftDay(delta int, origin model.Origin) error {
	c.mu.Lock()
	cur, err := time.Parse(model.DateLayout, c.state.SelectedDate)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return c.SelectDay(cur.AddDate(0, 0, delta).Format(model.DateLayout), origin)
}

// changeMonthLocked updates the label optimistically; bucket data follows
// when the fetch lands.
func (c *Coordinator) changeMonthLocked(month string) {
	if month == c.state.CurrentMonth {
		return
	}
	c.state.CurrentMonth = month
	c.fetchLocked(month)
}

// Refresh refetches the current month.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	c.fetchLocked(c.state.CurrentMonth)
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
}

// fetchLocked issues an asynchronous fetch tagged with a new request
// generation. Earlier requests still in flight are not cancelled; their
// results are discarded on arrival.
func (c *Coordinator) fetchLocked(month string) {
	if c.opts.Fetcher == nil {
		return
	}
	c.gen++
	gen := c.gen
	c.loading++
	c.version++
	ctx := c.ctx
	biz := c.opts.BusinessID

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		buckets, err := c.opts.Fetcher.FetchEvents(ctx, biz, month)
		c.complete(gen, month, buckets, err)
	}()
}

func (c *Coordinator) complete(gen uint64, month string, buckets []model.DayBucket, err error) {
	c.mu.Lock()
	c.loading--
	c.version++

	if gen != c.gen || month != c.state.CurrentMonth {
		appLog.Debug("coordinator: discarding stale fetch", "month", month, "gen", gen, "latest", c.gen)
		st := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(st)
		return
	}

	c.dataLoaded = true
	if err != nil {
		appLog.Error("coordinator: fetch events failed", err, "month", month)
		c.banner = fmt.Sprintf("Could not load events for %s", eventindex.FormatMonthTitle(month))
		st := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(st)
		return
	}

	c.banner = ""
	c.buckets = buckets
	today := c.todayLocked()
	if eventindex.IndexOf(buckets, c.state.SelectedDate) < 0 && eventindex.IndexOf(buckets, today) >= 0 {
		c.state.SelectedDate = today
	}
	selected := c.state.SelectedDate
	c.scheduleScrollLocked()
	st := c.snapshotLocked()
	c.handOffLocked()

	for _, v := range c.views() {
		v.SyncSelection(selected, model.OriginProgrammatic)
		v.SetBuckets(buckets)
	}
	c.viewMu.Unlock()
	c.notify(st)
}

// scheduleScrollLocked re-points the views at the selection once the new
// data had time to mount.
func (c *Coordinator) scheduleScrollLocked() {
	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
	}
	c.scrollTimer = c.opts.Clock.AfterFunc(c.opts.ScrollToSelectionDelay, func() {
		c.mu.Lock()
		c.scrollTimer = nil
		selected := c.state.SelectedDate
		present := eventindex.IndexOf(c.buckets, selected) >= 0
		active := c.viewFor(c.state.DisplayMode)
		if !present || active == nil {
			c.mu.Unlock()
			return
		}
		c.handOffLocked()
		active.SyncSelection(selected, model.OriginProgrammatic)
		c.viewMu.Unlock()
	})
}

// handOffLocked takes viewMu and then releases mu. Every push to the views
// goes through it, so views see selections in the order the state took
// them. Views never call back into the coordinator while viewMu is held.
func (c *Coordinator) handOffLocked() {
	c.viewMu.Lock()
	c.mu.Unlock()
}

func (c *Coordinator) pushSelectionViewLocked(date string, origin model.Origin) {
	for _, v := range c.views() {
		v.SyncSelection(date, origin)
	}
}

// ToggleMode swaps the mounted view. No data is refetched.
func (c *Coordinator) ToggleMode() model.DisplayMode {
	c.mu.Lock()
	next := c.state.DisplayMode.Toggle()
	c.mu.Unlock()
	_ = c.SetMode(next)
	return next
}

// SetMode mounts the view of m and unmounts the other one.
func (c *Coordinator) SetMode(m model.DisplayMode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
	c.mu.Lock()
	if c.state.DisplayMode == m {
		c.mu.Unlock()
		return nil
	}
	prev := c.state.DisplayMode
	c.state.DisplayMode = m
	c.version++
	st := c.snapshotLocked()
	c.handOffLocked()

	if v := c.viewFor(prev); v != nil {
		v.Unmount()
	}
	if v := c.viewFor(m); v != nil {
		v.Mount()
	}
	c.viewMu.Unlock()

	appLog.Info("coordinator: display mode changed", "mode", string(m))
	c.notify(st)
	return nil
}

// OpenDetail forwards a tapped event to the navigation collaborator.
func (c *Coordinator) OpenDetail(ev model.Event) {
	c.mu.Lock()
	c.lastOpened = &ev
	c.version++
	cb := c.opts.OnOpenDetail
	st := c.snapshotLocked()
	c.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
	c.notify(st)
}

// LastOpened returns the most recently opened event.
func (c *Coordinator) LastOpened() (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastOpened == nil {
		return model.Event{}, false
	}
	return *c.lastOpened, true
}

// DismissBanner clears the fetch failure notice.
func (c *Coordinator) DismissBanner() {
	c.mu.Lock()
	c.banner = ""
	c.version++
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	return State{
		SelectionState: c.state,
		Today:          c.todayLocked(),
		MonthTitle:     eventindex.FormatMonthTitle(c.state.CurrentMonth),
		Buckets:        c.buckets,
		Loading:        c.loading > 0,
		Banner:         c.banner,
		DataLoaded:     c.dataLoaded,
		Version:        c.version,
		Generation:     c.gen,
	}
}

// Mark styles one day of the month grid.
type Mark struct {
	Marked            bool   `json:"marked,omitempty"`
	DotColor          string `json:"dotColor,omitempty"`
	Selected          bool   `json:"selected,omitempty"`
	SelectedColor     string `json:"selectedColor,omitempty"`
	SelectedTextColor string `json:"selectedTextColor,omitempty"`
}

// MarkedDates dots today and highlights the selection.
func (c *Coordinator) MarkedDates() map[string]Mark {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.todayLocked()
	marks := map[string]Mark{
		today: {Marked: true, DotColor: c.opts.TodayDotColor},
	}
	sel := marks[c.state.SelectedDate]
	sel.Selected = true
	sel.SelectedColor = c.opts.SelectedColor
	sel.SelectedTextColor = "#ffffff"
	marks[c.state.SelectedDate] = sel
	return marks
}

// Subscribe registers fn for every state change. fn runs without the
// coordinator's lock held. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) notify(st State) {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Wait blocks until every issued fetch has been applied or discarded.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops the pending scroll and waits for fetches in flight.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
		c.scrollTimer = nil
	}
	c.mu.Unlock()
	c.Wait()
}
