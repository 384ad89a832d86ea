// Package agenda is the vertical sectioned list: one sticky-headed section
// per day bucket, kept scrolled to the coordinator's selected date.
package agenda

import (
	"errors"
	"sync"
	"time"

	"calview/internal/clock"
	"calview/internal/eventindex"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/timeline"
)

var (
	// ErrNotTappable is returned for taps on placeholder rows or unknown keys.
	ErrNotTappable = errors.New("agenda: row is not tappable")
	// ErrNotMounted is returned for taps while the agenda is not shown.
	ErrNotMounted = errors.New("agenda: not mounted")
)

const (
	noMeetingsText = "No meetings"
	onlineText     = "Online"
	mapsText       = "View on Google Maps"
)

// Row is one rendered agenda entry.
type Row struct {
	Key         string      `json:"key"`
	Event       model.Event `json:"event"`
	Placeholder bool        `json:"placeholder"`
	Tappable    bool        `json:"tappable"`
	// Text is set for placeholder rows only.
	Text string `json:"text,omitempty"`

	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Repeats     bool   `json:"repeats,omitempty"`
	RepeatLabel string `json:"repeatLabel,omitempty"`
	// Location is "Online" or "On Site: <address>".
	Location string `json:"location,omitempty"`
	// LocationIsLink marks an on-site row without an address, whose
	// location text points at a maps search.
	LocationIsLink bool   `json:"locationIsLink,omitempty"`
	Join           bool   `json:"join,omitempty"`
	MeetingLink    string `json:"meetingLink,omitempty"`
}

// Section is one day.
type Section struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Header   string `json:"header"`
	Selected bool   `json:"selected"`
	// Accent is the colour of the selected section's left bar.
	Accent string `json:"accent,omitempty"`
	Sticky bool   `json:"sticky"`
	Rows   []Row  `json:"rows"`
}

// BuildRow renders one event.
func BuildRow(ev model.Event) Row {
	if !ev.Meeting {
		return Row{Key: ev.Key(), Event: ev, Placeholder: true, Text: noMeetingsText}
	}
	row := Row{
		Key:         ev.Key(),
		Event:       ev,
		Tappable:    true,
		StartTime:   ev.StartTime,
		EndTime:     ev.EndTime,
		Subject:     ev.Subject,
		Repeats:     ev.Repeats(),
		MeetingLink: ev.MeetingLink,
	}
	if row.Repeats {
		row.RepeatLabel = model.RepeatLabel(ev.Repeat)
	}
	switch {
	case ev.Online():
		row.Location = onlineText
		row.Join = true
	case ev.ManualAddress != nil:
		row.Location = "On Site: " + ev.ManualAddress.String()
	default:
		row.Location = "On Site: " + mapsText
		row.LocationIsLink = true
	}
	return row
}

// BuildSections renders buckets in order, one section each.
func BuildSections(buckets []model.DayBucket, selected string, p timeline.Palette) []Section {
	out := make([]Section, len(buckets))
	for i, b := range buckets {
		s := Section{
			Index:    i,
			Title:    b.Title,
			Header:   eventindex.FormatDayHeader(b.Title),
			Selected: b.Title == selected,
			Sticky:   true,
			Rows:     make([]Row, len(b.Data)),
		}
		if s.Selected {
			s.Accent = p.Primary
		}
		for j, ev := range b.Data {
			s.Rows[j] = BuildRow(ev)
		}
		out[i] = s
	}
	return out
}

// Options wires a View.
type Options struct {
	Clock   clock.Clock
	Palette timeline.Palette
	// Scroller defaults to a Viewport with DefaultMeasured sections.
	Scroller Scroller

	ScrollDelay time.Duration
	RetryDelay  time.Duration

	OnOpenDetail func(model.Event)
}

// View is the agenda list. It is safe for concurrent use.
type View struct {
	mu   sync.Mutex
	opts Options

	viewport *Viewport
	scroller Scroller

	buckets  []model.DayBucket
	gen      uint64
	selected string
	mounted  bool

	// scrollSeq invalidates delayed scrolls superseded by a newer selection.
	scrollSeq   uint64
	scrollTimer clock.Timer
	scrolledTo  int
}

// New returns an unmounted agenda.
func New(opts Options) *View {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Palette.Name == "" {
		opts.Palette = timeline.Light
	}
	v := &View{opts: opts, scrolledTo: -1}
	if opts.Scroller != nil {
		v.scroller = opts.Scroller
	} else {
		v.viewport = NewViewport(DefaultMeasured)
		v.scroller = v.viewport
	}
	return v
}

// Viewport returns the built-in viewport, or nil when a Scroller was injected.
func (v *View) Viewport() *Viewport {
	return v.viewport
}

// SetBuckets replaces the sections and scrolls to the selection again.
func (v *View) SetBuckets(buckets []model.DayBucket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.buckets = buckets
	v.gen++
	v.scrolledTo = -1
	if v.viewport != nil {
		v.viewport.Reset(len(buckets))
	}
	v.scheduleLocked()
}

// SyncSelection scrolls to the section titled date after ScrollDelay. The
// agenda has no gesture of its own that changes the date, so every origin
// is followed.
func (v *View) SyncSelection(date string, origin model.Origin) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = date
	appLog.Debug("agenda: sync selection", "date", date, "origin", string(origin))
	v.scheduleLocked()
}

func (v *View) scheduleLocked() {
	v.scrollSeq++
	if v.scrollTimer != nil {
		v.scrollTimer.Stop()
		v.scrollTimer = nil
	}
	if !v.mounted {
		return
	}
	idx := eventindex.IndexOf(v.buckets, v.selected)
	if idx < 0 {
		return
	}
	seq := v.scrollSeq
	v.scrollTimer = v.opts.Clock.AfterFunc(v.opts.ScrollDelay, func() {
		v.scroll(seq, idx, false)
	})
}

// scroll runs the scroller without the lock held. A target that is not
// measured yet is tried once more after RetryDelay.
func (v *View) scroll(seq uint64, idx int, retry bool) {
	v.mu.Lock()
	if seq != v.scrollSeq || !v.mounted {
		v.mu.Unlock()
		return
	}
	v.scrollTimer = nil
	sc := v.scroller
	v.mu.Unlock()

	err := sc.ScrollToLocation(idx, 0)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.scrollSeq {
		return
	}
	switch {
	case err == nil:
		v.scrolledTo = idx
	case errors.Is(err, ErrNotMeasured) && !retry:
		appLog.Debug("agenda: scroll target not measured, retrying", "section", idx)
		v.scrollTimer = v.opts.Clock.AfterFunc(v.opts.RetryDelay, func() {
			v.scroll(seq, idx, true)
		})
	default:
		appLog.Warn("agenda: scroll to section failed", "section", idx, "err", err)
	}
}

// Mount makes the agenda live and scrolls to the current selection.
func (v *View) Mount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mounted {
		return
	}
	v.mounted = true
	v.scheduleLocked()
}

// Unmount cancels pending scrolls.
func (v *View) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	v.mounted = false
	v.scheduleLocked()
}

// Mounted reports whether the agenda is live.
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// ScrolledSection is the section of the last successful scroll, or -1.
func (v *View) ScrolledSection() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scrolledTo
}

// Sections renders every bucket.
func (v *View) Sections() []Section {
	v.mu.Lock()
	defer v.mu.Unlock()
	return BuildSections(v.buckets, v.selected, v.opts.Palette)
}

// Tap opens the detail of the row keyed key in section.
func (v *View) Tap(section int, key string) error {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return ErrNotMounted
	}
	if section < 0 || section >= len(v.buckets) {
		v.mu.Unlock()
		return ErrOutOfRange
	}
	var (
		found model.Event
		ok    bool
	)
	for _, ev := range v.buckets[section].Data {
		if ev.Meeting && ev.Key() == key {
			found, ok = ev, true
			break
		}
	}
	cb := v.opts.OnOpenDetail
	v.mu.Unlock()

	if !ok {
		return ErrNotTappable
	}
	if cb != nil {
		cb(found)
	}
	return nil
}

// State is a point-in-time copy for renderers.
type State struct {
	Generation      uint64    `json:"generation"`
	Selected        string    `json:"selected"`
	Sections        []Section `json:"sections"`
	ScrolledSection int       `json:"scrolledSection"`
	Measured        int       `json:"measured"`
	Mounted         bool      `json:"mounted"`
}

// Snapshot renders the list.
func (v *View) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := State{
		Generation:      v.gen,
		Selected:        v.selected,
		Sections:        BuildSections(v.buckets, v.selected, v.opts.Palette),
		ScrolledSection: v.scrolledTo,
		Measured:        -1,
		Mounted:         v.mounted,
	}
	if v.viewport != nil {
		s.Measured = v.viewport.Measured()
	}
	return s
}
