package timeline

import (
	"errors"
	"sync"
	"time"

	"calview/internal/clock"
	"calview/internal/eventindex"
	appLog "calview/internal/log"
	"calview/internal/model"
)

var (
	// ErrNotMounted is returned for taps while the timeline is not shown or
	// on pages outside the render window.
	ErrNotMounted = errors.New("timeline: page not mounted")
	// ErrNoBlock is returned when a tap names no tappable block.
	ErrNoBlock = errors.New("timeline: no such block")
)

// Options wires a View to its clock and collaborators.
type Options struct {
	Layout  Layout
	Palette Palette
	Clock   clock.Clock

	SwipeSettle time.Duration
	SwipeReport time.Duration
	NowTick     time.Duration

	// OnDateChange receives the date of the page a user swipe settled on.
	OnDateChange func(date string, origin model.Origin)
	// OnOpenDetail receives the event of a tapped block.
	OnOpenDetail func(model.Event)
}

type pageKey struct {
	gen      uint64
	index    int
	selected bool
	palette  string
}

// View is the horizontally paged timeline. All methods are safe for
// concurrent use; collaborator callbacks run without the view's lock held.
type View struct {
	mu   sync.Mutex
	opts Options

	buckets  []model.DayBucket
	gen      uint64
	cache    eventindex.TimeCache
	selected string

	page   int
	offset float64

	memo    map[pageKey]*Page
	layouts int

	// swipeSeq invalidates settle and report callbacks that were already
	// running when a newer swipe or an external scroll superseded them.
	swipeSeq    uint64
	settleTimer clock.Timer
	reportTimer clock.Timer

	mounted   bool
	now       time.Time
	tickTimer clock.Timer
}

// New returns an unmounted view with no buckets.
func New(opts Options) *View {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Layout.HourHeight <= 0 {
		opts.Layout = DefaultLayout()
	}
	if opts.Layout.WindowSize < 1 {
		opts.Layout.WindowSize = 1
	}
	if opts.Palette.Name == "" {
		opts.Palette = Light
	}
	if opts.NowTick <= 0 {
		opts.NowTick = time.Minute
	}
	return &View{
		opts: opts,
		memo: make(map[pageKey]*Page),
		now:  opts.Clock.Now(),
	}
}

// SetBuckets replaces the bucket snapshot. The time cache and page memo are
// rebuilt for the new generation and pending swipe reports are dropped, since
// they refer to the old page list.
func (v *View) SetBuckets(buckets []model.DayBucket) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.buckets = buckets
	v.gen++
	v.cache = eventindex.NewTimeCache(buckets)
	v.memo = make(map[pageKey]*Page)
	v.cancelSwipeLocked()

	if idx := eventindex.IndexOf(buckets, v.selected); idx >= 0 {
		v.scrollLocked(idx)
		return
	}
	if v.page >= len(buckets) {
		v.page = max(0, len(buckets)-1)
		v.offset = v.opts.Layout.PageOffset(v.page)
	}
}

// SyncSelection applies a selection made elsewhere. The view scrolls to the
// matching page; a date with no bucket only updates the highlight.
func (v *View) SyncSelection(date string, origin model.Origin) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.selected = date
	idx := eventindex.IndexOf(v.buckets, date)
	if idx < 0 {
		appLog.Debug("timeline: selection has no page", "date", date, "origin", string(origin))
		return
	}
	if idx != v.page {
		v.scrollLocked(idx)
	}
}

// scrollLocked performs a programmatic scroll to idx. Any pending swipe
// report is stale once the view has been moved from outside.
func (v *View) scrollLocked(idx int) {
	v.cancelSwipeLocked()
	v.page = idx
	v.offset = v.opts.Layout.PageOffset(idx)
}

func (v *View) cancelSwipeLocked() {
	v.swipeSeq++
	if v.settleTimer != nil {
		v.settleTimer.Stop()
		v.settleTimer = nil
	}
	if v.reportTimer != nil {
		v.reportTimer.Stop()
		v.reportTimer = nil
	}
}

// OnScrollEnd records where a horizontal scroll came to rest. Programmatic
// scrolls are the view's own doing and are never reported back. User
// swipes settle for SwipeSettle, then a changed date is reported after
// SwipeReport; each new swipe restarts both windows.
func (v *View) OnScrollEnd(offsetX float64, origin model.Origin) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.offset = offsetX
	if origin == model.OriginProgrammatic {
		return
	}

	v.swipeSeq++
	seq := v.swipeSeq
	if v.settleTimer != nil {
		v.settleTimer.Stop()
	}
	v.settleTimer = v.opts.Clock.AfterFunc(v.opts.SwipeSettle, func() {
		v.settle(seq, offsetX)
	})
}

func (v *View) settle(seq uint64, offsetX float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.swipeSeq {
		return
	}
	v.settleTimer = nil

	idx, ok := v.opts.Layout.PageAt(offsetX, len(v.buckets))
	if !ok {
		return
	}
	v.page = idx
	date := v.buckets[idx].Title
	if date == v.selected {
		return
	}

	if v.reportTimer != nil {
		v.reportTimer.Stop()
	}
	v.reportTimer = v.opts.Clock.AfterFunc(v.opts.SwipeReport, func() {
		v.report(seq, date)
	})
}

func (v *View) report(seq uint64, date string) {
	v.mu.Lock()
	if seq != v.swipeSeq || date == v.selected {
		v.mu.Unlock()
		return
	}
	v.reportTimer = nil
	cb := v.opts.OnDateChange
	v.mu.Unlock()

	appLog.Debug("timeline: swipe settled on new day", "date", date)
	if cb != nil {
		cb(date, model.OriginUser)
	}
}

// Mount starts the now-indicator tick.
func (v *View) Mount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mounted {
		return
	}
	v.mounted = true
	v.now = v.opts.Clock.Now()
	v.scheduleTickLocked()
}

// Unmount stops every timer and drops the page memo.
func (v *View) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	v.mounted = false
	v.cancelSwipeLocked()
	if v.tickTimer != nil {
		v.tickTimer.Stop()
		v.tickTimer = nil
	}
	v.memo = make(map[pageKey]*Page)
}

// Mounted reports whether the view is live.
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

func (v *View) scheduleTickLocked() {
	v.tickTimer = v.opts.Clock.AfterFunc(v.opts.NowTick, v.tick)
}

// tick only moves the now line; page layouts are untouched.
func (v *View) tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	v.now = v.opts.Clock.Now()
	v.scheduleTickLocked()
}

// NowIndicator returns the current-time line as of the last tick.
func (v *View) NowIndicator() NowIndicator {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nowLocked()
}

func (v *View) nowLocked() NowIndicator {
	minutes := v.now.Hour()*60 + v.now.Minute()
	top := v.opts.Layout.Offset(minutes)
	return NowIndicator{
		Minutes:  minutes,
		Top:      top,
		LabelTop: top - nowLabelLift,
		Label:    eventindex.FormatClock(v.now),
		Left:     v.opts.Layout.TimeColumnWidth - 2,
	}
}

// Window returns the half-open range of mounted page indices around the
// current page.
func (v *View) Window() (start, end int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.windowLocked()
}

func (v *View) windowLocked() (int, int) {
	n := len(v.buckets)
	size := v.opts.Layout.WindowSize
	if n <= size {
		return 0, n
	}
	start := v.page - size/2
	if start < 0 {
		start = 0
	}
	if start+size > n {
		start = n - size
	}
	return start, start + size
}

// Pages lays out the mounted window. Layouts are memoized per bucket
// generation, page, highlight and palette; pages leaving the window are
// forgotten.
func (v *View) Pages() []*Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pagesLocked()
}

func (v *View) pagesLocked() []*Page {
	start, end := v.windowLocked()
	live := make(map[pageKey]*Page, end-start)
	out := make([]*Page, 0, end-start)
	for i := start; i < end; i++ {
		b := v.buckets[i]
		key := pageKey{gen: v.gen, index: i, selected: b.Title == v.selected, palette: v.opts.Palette.Name}
		p, ok := v.memo[key]
		if !ok {
			p = LayoutPage(b, i, key.selected, v.cache, v.opts.Layout, v.opts.Palette)
			v.layouts++
		}
		live[key] = p
		out = append(out, p)
	}
	v.memo = live
	return out
}

// LayoutCount is the number of page layouts computed so far.
func (v *View) LayoutCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.layouts
}

// SetPalette switches colours. Pages are laid out again on next access.
func (v *View) SetPalette(p Palette) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opts.Palette = p
}

// Titles lists every page title in order, mounted or not.
func (v *View) Titles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return eventindex.Titles(v.buckets)
}

// CurrentPage returns the page index the view is scrolled to.
func (v *View) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Tap opens the detail of the block keyed key on page index.
func (v *View) Tap(index int, key string) error {
	v.mu.Lock()
	start, end := v.windowLocked()
	if !v.mounted || index < start || index >= end {
		v.mu.Unlock()
		return ErrNotMounted
	}
	var (
		found model.Event
		ok    bool
	)
	for _, p := range v.pagesLocked() {
		if p.Index != index {
			continue
		}
		for _, b := range p.Blocks {
			if b.Key == key {
				found, ok = b.Event, true
				break
			}
		}
	}
	cb := v.opts.OnOpenDetail
	v.mu.Unlock()

	if !ok {
		return ErrNoBlock
	}
	if cb != nil {
		cb(found)
	}
	return nil
}

// State is a point-in-time copy of everything a renderer needs.
type State struct {
	Generation  uint64       `json:"generation"`
	Selected    string       `json:"selected"`
	Titles      []string     `json:"titles"`
	Page        int          `json:"page"`
	Offset      float64      `json:"offset"`
	WindowStart int          `json:"windowStart"`
	WindowEnd   int          `json:"windowEnd"`
	Pages       []*Page      `json:"pages"`
	TimeColumn  []HourRow    `json:"timeColumn"`
	Now         NowIndicator `json:"now"`
	Mounted     bool         `json:"mounted"`
}

// Snapshot renders the mounted window.
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	start, end := v.windowLocked()
	return State{
		Generation:  v.gen,
		Selected:    v.selected,
		Titles:      eventindex.Titles(v.buckets),
		Page:        v.page,
		Offset:      v.offset,
		WindowStart: start,
		WindowEnd:   end,
		Pages:       v.pagesLocked(),
		TimeColumn:  TimeColumn(v.opts.Layout, v.opts.Palette),
		Now:         v.nowLocked(),
		Mounted:     v.mounted,
	}
}
