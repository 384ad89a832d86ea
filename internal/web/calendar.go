package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"calview/internal/agenda"
	"calview/internal/coordinator"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/timeline"
)

// Palette colours are compile-time constants, so they are trusted as CSS.
var templateFuncs = template.FuncMap{
	"px": func(v float64) template.CSS {
		return template.CSS(strconv.FormatFloat(v, 'f', 1, 64) + "px")
	},
	"css": func(v string) template.CSS {
		return template.CSS(v)
	},
}

// calendarPage feeds templates/calendar.html.
type calendarPage struct {
	State    coordinator.State
	Timeline bool

	Sections []agenda.Section

	Page       *timeline.Page
	TimeColumn []timeline.HourRow
	Now        timeline.NowIndicator
	ShowNow    bool
	GridHeight float64
	Palette    timeline.Palette
	Width      int
}

// handleCalendar renders the active view as static HTML. The root element
// carries data-ready="true" once data has loaded, which the snapshot
// capture waits for.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Coordinator.Snapshot()
	data := calendarPage{
		State:    st,
		Timeline: st.DisplayMode == model.ModeTimeline,
		Palette:  timeline.Light,
	}
	if s.cfg != nil {
		data.Width = s.cfg.Layout.ScreenWidth
	}

	if data.Timeline {
		tl := s.deps.Timeline.Snapshot()
		data.TimeColumn = tl.TimeColumn
		data.Now = tl.Now
		data.Page = pickPage(tl.Pages, st.SelectedDate)
		if data.Page != nil {
			data.GridHeight = data.Page.Height
			data.ShowNow = data.Page.Title == st.Today
		}
	} else {
		data.Sections = s.deps.Agenda.Sections()
		// The page lays out every section.
		if vp := s.deps.Agenda.Viewport(); vp != nil {
			vp.Measure(len(data.Sections))
		}
	}

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "calendar.html", data); err != nil {
		appLog.Error("calendar render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// pickPage returns the selected page, or the first mounted one.
func pickPage(pages []*timeline.Page, selected string) *timeline.Page {
	for _, p := range pages {
		if p.Title == selected {
			return p
		}
	}
	if len(pages) > 0 {
		return pages[0]
	}
	return nil
}
