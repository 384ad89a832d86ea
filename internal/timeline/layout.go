// Package timeline holds the paged day-at-a-time hour grid: block geometry,
// memoized page layouts, window virtualization and the swipe/selection
// synchronization with the coordinator.
package timeline

import (
	"math"

	"calview/internal/config"
	"calview/internal/eventindex"
	"calview/internal/model"
)

// HoursPerDay is the number of grid rows on a page.
const HoursPerDay = 24

// shortEventHeight is the block height under which only the subject fits.
const shortEventHeight = 40

// nowLabelLift raises the now label above its line.
const nowLabelLift = 18

// Layout is the fixed geometry of the day grid.
type Layout struct {
	HourHeight      float64
	PageWidth       float64
	TimeColumnWidth float64
	MinEventHeight  float64
	LaneGap         float64
	WindowSize      int
	Strategy        eventindex.Strategy
}

// DefaultLayout matches a 390-wide phone screen.
func DefaultLayout() Layout {
	return LayoutFromConfig(config.DefaultConfig().Layout)
}

// LayoutFromConfig converts the normalized config section.
func LayoutFromConfig(c config.LayoutConfig) Layout {
	strategy := eventindex.Strategy(c.LaneStrategy)
	if !strategy.Valid() {
		strategy = eventindex.StrategyFirstFit
	}
	return Layout{
		HourHeight:      float64(c.HourHeight),
		PageWidth:       float64(c.PageWidth()),
		TimeColumnWidth: float64(c.TimeColumnWidth),
		MinEventHeight:  float64(c.MinEventHeight),
		LaneGap:         float64(c.LaneGap),
		WindowSize:      c.WindowSize,
		Strategy:        strategy,
	}
}

// Offset converts minutes since midnight into a vertical pixel offset.
func (l Layout) Offset(minutes int) float64 {
	return float64(minutes) * l.HourHeight / 60
}

// Height is a block's height, floored at MinEventHeight so zero and
// negative spans stay tappable.
func (l Layout) Height(span eventindex.Span) float64 {
	return math.Max(l.MinEventHeight, float64(span.Duration())*l.HourHeight/60)
}

// Lane returns the horizontal placement of lane out of lanes.
func (l Layout) Lane(lane, lanes int) (left, width float64) {
	if lanes < 1 {
		lanes = 1
	}
	width = l.PageWidth/float64(lanes) - l.LaneGap
	left = float64(lane) * (width + l.LaneGap)
	return left, width
}

// GridHeight is the height of a full day page.
func (l Layout) GridHeight() float64 {
	return HoursPerDay * l.HourHeight
}

// PageAt maps a horizontal scroll offset to the nearest page. ok is false
// when the offset lands outside the page list.
func (l Layout) PageAt(offsetX float64, pages int) (int, bool) {
	if l.PageWidth <= 0 {
		return 0, false
	}
	idx := int(math.Round(offsetX / l.PageWidth))
	if idx < 0 || idx >= pages {
		return idx, false
	}
	return idx, true
}

// PageOffset is the scroll offset that centres page idx.
func (l Layout) PageOffset(idx int) float64 {
	return float64(idx) * l.PageWidth
}

// Palette is a named colour set. Pages are memoized per palette name.
type Palette struct {
	Name                string `json:"name"`
	Background          string `json:"background"`
	BackgroundSecondary string `json:"backgroundSecondary"`
	Primary             string `json:"primary"`
	PrimaryLight        string `json:"primaryLight"`
	SelectedBackground  string `json:"selectedBackground"`
	Divider             string `json:"divider"`
	NowLine             string `json:"nowLine"`
}

var (
	Light = Palette{
		Name:                "light",
		Background:          "#FFFFFF",
		BackgroundSecondary: "#F5F5F5",
		Primary:             "#3B5BDB",
		PrimaryLight:        "#E7ECFF",
		SelectedBackground:  "#F7FAFC",
		Divider:             "rgba(0,0,0,0.1)",
		NowLine:             "red",
	}
	Dark = Palette{
		Name:                "dark",
		Background:          "#121212",
		BackgroundSecondary: "#1E1E1E",
		Primary:             "#748FFC",
		PrimaryLight:        "#25304F",
		SelectedBackground:  "#1A1F2B",
		Divider:             "rgba(255,255,255,0.12)",
		NowLine:             "red",
	}
)

// PaletteByName falls back to Light.
func PaletteByName(name string) Palette {
	if name == Dark.Name {
		return Dark
	}
	return Light
}

// Block is one positioned event on a page.
type Block struct {
	Key    string      `json:"key"`
	Event  model.Event `json:"event"`
	Group  int         `json:"group"`
	Lane   int         `json:"lane"`
	Lanes  int         `json:"lanes"`
	Top    float64     `json:"top"`
	Height float64     `json:"height"`
	Left   float64     `json:"left"`
	Width  float64     `json:"width"`
	// Short blocks only have room for the subject.
	Short bool `json:"short"`
	// Label is "start - end" for blocks tall enough to show it.
	Label      string `json:"label,omitempty"`
	Background string `json:"background"`
	Border     string `json:"border"`
}

// HourRow is one alternating-shade row of the grid or the time column.
type HourRow struct {
	Hour       int     `json:"hour"`
	Label      string  `json:"label"`
	Top        float64 `json:"top"`
	Height     float64 `json:"height"`
	Background string  `json:"background"`
}

// Page is the laid-out content of one day. Pages are shared between
// callers and must be treated as read-only.
type Page struct {
	Index       int       `json:"index"`
	Title       string    `json:"title"`
	Header      string    `json:"header"`
	Selected    bool      `json:"selected"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Background  string    `json:"background"`
	Border      string    `json:"border"`
	BorderWidth float64   `json:"borderWidth"`
	Hours       []HourRow `json:"hours"`
	Blocks      []Block   `json:"blocks"`
}

// hourRows builds the 24 alternating rows shared by pages and the time column.
func hourRows(l Layout, p Palette) []HourRow {
	rows := make([]HourRow, HoursPerDay)
	for i := range rows {
		bg := p.Background
		if i%2 == 1 {
			bg = p.BackgroundSecondary
		}
		rows[i] = HourRow{
			Hour:       i,
			Label:      eventindex.FormatTimeSlot(i),
			Top:        float64(i) * l.HourHeight,
			Height:     l.HourHeight,
			Background: bg,
		}
	}
	return rows
}

// TimeColumn returns the fixed hour labels left of the pages.
func TimeColumn(l Layout, p Palette) []HourRow {
	return hourRows(l, p)
}

// LayoutPage lays out one bucket. Placeholder events are not drawn; a day
// holding only a placeholder yields a page with no blocks.
func LayoutPage(b model.DayBucket, index int, selected bool, cache eventindex.TimeCache, l Layout, p Palette) *Page {
	page := &Page{
		Index:       index,
		Title:       b.Title,
		Header:      eventindex.FormatDayHeader(b.Title),
		Selected:    selected,
		Width:       l.PageWidth,
		Height:      l.GridHeight(),
		Background:  p.Background,
		Border:      p.Divider,
		BorderWidth: 0.5,
		Hours:       hourRows(l, p),
	}
	if selected {
		page.Background = p.SelectedBackground
		page.Border = p.Primary
		page.BorderWidth = 3
	}

	meetings := make([]model.Event, 0, len(b.Data))
	for _, ev := range b.Data {
		if ev.Meeting {
			meetings = append(meetings, ev)
		}
	}

	for _, a := range l.Strategy.Assign(meetings, cache) {
		left, width := l.Lane(a.Lane, a.Lanes)
		height := l.Height(a.Span)
		blk := Block{
			Key:        a.Event.Key(),
			Event:      a.Event,
			Group:      a.Group,
			Lane:       a.Lane,
			Lanes:      a.Lanes,
			Top:        l.Offset(a.Span.Start),
			Height:     height,
			Left:       left,
			Width:      width,
			Short:      height < shortEventHeight,
			Background: p.PrimaryLight,
			Border:     p.Primary,
		}
		if !blk.Short {
			blk.Label = a.Event.StartTime + " - " + a.Event.EndTime
		}
		page.Blocks = append(page.Blocks, blk)
	}
	return page
}

// NowIndicator is the current-time line drawn across the grid.
type NowIndicator struct {
	Minutes  int     `json:"minutes"`
	Top      float64 `json:"top"`
	LabelTop float64 `json:"labelTop"`
	Label    string  `json:"label"`
	Left     float64 `json:"left"`
}
