package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"calview/internal/agenda"
	"calview/internal/config"
	"calview/internal/coordinator"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/timeline"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultPreviewPath is where snapshots are written when nothing else is
// configured.
const DefaultPreviewPath = "./cache/preview.png"

// timelineCacheTTL bounds how long a timeline snapshot is reused for the
// same selection version and page. The now line only moves once a minute.
const timelineCacheTTL = 30 * time.Second

// Deps are the calendar components the server exposes.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Timeline    *timeline.View
	Agenda      *agenda.View
	// PreviewPath is the PNG served at /preview.png.
	PreviewPath string
}

// Server provides the HTTP API and the server-rendered calendar page.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
	tmpl *template.Template

	// In-memory cache for /api/timeline, keyed by selection version and
	// page, so polling clients do not relayout the window on every call.
	timelineMu    sync.RWMutex
	timelineCache *timelineCache
	now           func() time.Time
}

type timelineKey struct {
	version uint64
	page    int
}

type timelineCache struct {
	key       timelineKey
	state     timeline.State
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.PreviewPath == "" {
		deps.PreviewPath = DefaultPreviewPath
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
		tmpl: template.Must(template.New("calendar.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")),
		now:  time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calview", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/select", s.handleSelect)
	s.mux.HandleFunc("POST /api/month", s.handleMonth)
	s.mux.HandleFunc("POST /api/mode", s.handleMode)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	s.mux.HandleFunc("POST /api/timeline/scroll", s.handleTimelineScroll)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgenda)
	s.mux.HandleFunc("POST /api/agenda/measure", s.handleAgendaMeasure)

	s.mux.HandleFunc("POST /api/open", s.handleOpen)
	s.mux.HandleFunc("GET /api/detail", s.handleDetail)

	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// stateResponse is the JSON response shape for /api/state. Buckets are
// served separately by /api/events.
type stateResponse struct {
	model.SelectionState
	Today      string                      `json:"today"`
	MonthTitle string                      `json:"monthTitle"`
	Loading    bool                        `json:"loading"`
	Banner     string                      `json:"banner,omitempty"`
	DataLoaded bool                        `json:"dataLoaded"`
	Version    uint64                      `json:"version"`
	Marked     map[string]coordinator.Mark `json:"markedDates"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Coordinator.Snapshot()
	writeJSON(w, http.StatusOK, stateResponse{
		SelectionState: st.SelectionState,
		Today:          st.Today,
		MonthTitle:     st.MonthTitle,
		Loading:        st.Loading,
		Banner:         st.Banner,
		DataLoaded:     st.DataLoaded,
		Version:        st.Version,
		Marked:         s.deps.Coordinator.MarkedDates(),
	})
}

// eventsResponse mirrors the upstream month payload.
type eventsResponse struct {
	Month  string            `json:"month"`
	Events []model.DayBucket `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Coordinator.Snapshot()
	events := st.Buckets
	if events == nil {
		events = []model.DayBucket{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Month: st.CurrentMonth, Events: events})
}

type selectRequest struct {
	Date  string `json:"date"`
	Delta int    `json:"delta"`
}

// handleSelect selects {"date": "YYYY-MM-DD"} or moves by {"delta": n} days.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.Date != "" {
		err = s.deps.Coordinator.SelectDay(req.Date, model.OriginUser)
	} else {
		err = s.deps.Coordinator.ShiftDay(req.Delta, model.OriginUser)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeState(w)
}

type monthRequest struct {
	Month string `json:"month"`
	Delta int    `json:"delta"`
}

// handleMonth changes to {"month": "YYYY-MM"} or moves by {"delta": n} months.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	var req monthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.Month != "" {
		err = s.deps.Coordinator.ChangeMonth(req.Month)
	} else {
		err = s.deps.Coordinator.ShiftMonth(req.Delta)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeState(w)
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// handleMode sets {"mode": "agenda"|"timeline"}; an empty mode toggles.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Mode == "" {
		s.deps.Coordinator.ToggleMode()
	} else if err := s.deps.Coordinator.SetMode(model.DisplayMode(req.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.deps.Coordinator.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]bool{"refreshing": true})
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	key := timelineKey{
		version: s.deps.Coordinator.Snapshot().Version,
		page:    s.deps.Timeline.CurrentPage(),
	}
	now := s.now()

	s.timelineMu.RLock()
	tc := s.timelineCache
	s.timelineMu.RUnlock()
	if tc != nil && tc.key == key && now.Sub(tc.updatedAt) < timelineCacheTTL {
		writeJSON(w, http.StatusOK, tc.state)
		return
	}

	st := s.deps.Timeline.Snapshot()

	s.timelineMu.Lock()
	s.timelineCache = &timelineCache{key: key, state: st, updatedAt: now}
	s.timelineMu.Unlock()

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) invalidateTimeline() {
	s.timelineMu.Lock()
	s.timelineCache = nil
	s.timelineMu.Unlock()
}

type scrollRequest struct {
	OffsetX float64 `json:"offsetX"`
	// Origin defaults to "user".
	Origin string `json:"origin"`
}

// handleTimelineScroll reports where a horizontal swipe came to rest.
func (s *Server) handleTimelineScroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	origin := model.OriginUser
	if req.Origin == string(model.OriginProgrammatic) {
		origin = model.OriginProgrammatic
	}
	s.deps.Timeline.OnScrollEnd(req.OffsetX, origin)
	s.invalidateTimeline()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAgenda(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agenda.Snapshot())
}

type measureRequest struct {
	Sections int `json:"sections"`
}

// handleAgendaMeasure tells the built-in viewport how many sections the
// client has laid out, which unblocks scrolls that failed for lack of
// measurement.
func (s *Server) handleAgendaMeasure(w http.ResponseWriter, r *http.Request) {
	var req measureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	vp := s.deps.Agenda.Viewport()
	if vp == nil {
		writeError(w, http.StatusConflict, "agenda uses an external scroller")
		return
	}
	vp.Measure(req.Sections)
	writeJSON(w, http.StatusOK, map[string]int{"measured": vp.Measured()})
}

type openRequest struct {
	// View is "agenda" or "timeline"; empty means the active mode.
	View  string `json:"view"`
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// handleOpen taps a row or block. Taps reach the coordinator through the
// views' detail callbacks.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view := model.DisplayMode(req.View)
	if view == "" {
		view = s.deps.Coordinator.Snapshot().DisplayMode
	}

	var err error
	switch view {
	case model.ModeAgenda:
		err = s.deps.Agenda.Tap(req.Index, req.Key)
	case model.ModeTimeline:
		err = s.deps.Timeline.Tap(req.Index, req.Key)
	default:
		writeError(w, http.StatusBadRequest, "unknown view "+strconv.Quote(req.View))
		return
	}

	switch {
	case err == nil:
		ev, _ := s.deps.Coordinator.LastOpened()
		writeJSON(w, http.StatusOK, ev)
	case errors.Is(err, timeline.ErrNotMounted), errors.Is(err, agenda.ErrNotMounted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, agenda.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusNotFound, err.Error())
	}
}

func (s *Server) handleDetail(w http.ResponseWriter, _ *http.Request) {
	ev, ok := s.deps.Coordinator.LastOpened()
	if !ok {
		writeError(w, http.StatusNotFound, "no event opened")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile answers 404 for a missing file.
	http.ServeFile(w, r, s.deps.PreviewPath)
}

func (s *Server) writeState(w http.ResponseWriter) {
	st := s.deps.Coordinator.Snapshot()
	writeJSON(w, http.StatusOK, st.SelectionState)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
