// Package app wires the calendar views to the coordinator and picks event
// sources from the configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"calview/internal/agenda"
	"calview/internal/clock"
	"calview/internal/config"
	"calview/internal/coordinator"
	"calview/internal/eventindex"
	"calview/internal/ics"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/netwatch"
	"calview/internal/restapi"
	"calview/internal/timeline"
)

// ErrNoSource is returned by a fetcher built from a config naming neither
// an API nor an ICS feed.
var ErrNoSource = errors.New("app: no event source configured")

// App is the assembled calendar.
type App struct {
	Config      *config.Config
	Coordinator *coordinator.Coordinator
	Timeline    *timeline.View
	Agenda      *agenda.View
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock   clock.Clock
	Fetcher coordinator.Fetcher
	// OnOpenDetail is called after the coordinator recorded the event.
	OnOpenDetail func(model.Event)
}

// New builds the views and the coordinator. A swipe that settles on a new
// page selects that day; taps in either view open the detail.
func New(cfg *config.Config, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	a := &App{Config: cfg}

	openDetail := func(ev model.Event) { a.Coordinator.OpenDetail(ev) }
	palette := timeline.Light

	a.Timeline = timeline.New(timeline.Options{
		Layout:      timeline.LayoutFromConfig(cfg.Layout),
		Palette:     palette,
		Clock:       opts.Clock,
		SwipeSettle: cfg.Sync.SwipeSettle(),
		SwipeReport: cfg.Sync.SwipeReport(),
		NowTick:     cfg.Sync.NowTick(),
		OnDateChange: func(date string, origin model.Origin) {
			if err := a.Coordinator.SelectDay(date, origin); err != nil {
				appLog.Error("select from swipe failed", err, "date", date)
			}
		},
		OnOpenDetail: openDetail,
	})
	a.Agenda = agenda.New(agenda.Options{
		Clock:        opts.Clock,
		Palette:      palette,
		ScrollDelay:  cfg.Sync.SectionScrollDelay(),
		RetryDelay:   cfg.Sync.ScrollRetry(),
		OnOpenDetail: openDetail,
	})
	a.Coordinator = coordinator.New(coordinator.Options{
		Clock:                  opts.Clock,
		Location:               cfg.Location(),
		Fetcher:                opts.Fetcher,
		BusinessID:             cfg.BusinessID,
		Timeline:               a.Timeline,
		Agenda:                 a.Agenda,
		InitialMode:            model.DisplayMode(cfg.DisplayMode),
		ScrollToSelectionDelay: cfg.Sync.ScrollToSelectionDelay(),
		OnOpenDetail:           opts.OnOpenDetail,
		SelectedColor:          palette.Primary,
	})
	return a
}

// Connectivity is satisfied by *netwatch.Watcher.
type Connectivity interface {
	Online() bool
}

// NewWatcher returns the connectivity watcher, or nil when probing is
// disabled.
func NewWatcher(cfg *config.Config) *netwatch.Watcher {
	if cfg.Connectivity.ProbeURL == "" {
		return nil
	}
	return netwatch.New(netwatch.Options{
		ProbeURL: cfg.Connectivity.ProbeURL,
		Timeout:  time.Duration(cfg.Connectivity.TimeoutSeconds) * time.Second,
		Interval: time.Duration(cfg.Connectivity.IntervalSeconds) * time.Second,
	})
}

// NewFetcher picks the event sources named by cfg. With both an API and
// ICS feeds configured, their months are merged. net may be nil.
func NewFetcher(cfg *config.Config, net Connectivity) coordinator.Fetcher {
	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second

	var sources []coordinator.Fetcher
	if cfg.API.BaseURL != "" {
		opts := restapi.Options{
			BaseURL:  cfg.API.BaseURL,
			Token:    cfg.API.Token,
			Timeout:  timeout,
			CacheDir: subdir(cfg.API.CacheDir, "api"),
		}
		if net != nil {
			opts.Net = net
		}
		sources = append(sources, restapi.New(opts))
	}
	if len(cfg.ICS) > 0 {
		feeds := make([]ics.Source, 0, len(cfg.ICS))
		for _, c := range cfg.ICS {
			if c.URL == "" {
				continue
			}
			id := c.ID
			if id == "" {
				id = c.Name
			}
			if id == "" {
				id = c.URL
			}
			feeds = append(feeds, ics.Source{ID: id, Name: c.Name, URL: c.URL})
		}
		var icsNet ics.Connectivity
		if net != nil {
			icsNet = net
		}
		sources = append(sources, &ics.MonthSource{
			Fetcher:  ics.NewFetcher(subdir(cfg.API.CacheDir, "ics"), timeout, icsNet),
			Sources:  feeds,
			Location: cfg.Location(),
		})
	}

	switch len(sources) {
	case 0:
		return coordinator.FetcherFunc(func(context.Context, string, string) ([]model.DayBucket, error) {
			return nil, ErrNoSource
		})
	case 1:
		return sources[0]
	default:
		return merged(sources)
	}
}

// merged queries every source and merges the months. One failing source
// is tolerated; all failing is an error.
type merged []coordinator.Fetcher

func (m merged) FetchEvents(ctx context.Context, businessID, month string) ([]model.DayBucket, error) {
	var (
		sets [][]model.DayBucket
		errs []error
	)
	for _, f := range m {
		b, err := f.FetchEvents(ctx, businessID, month)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sets = append(sets, b)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("app: every source failed: %w", errors.Join(errs...))
	}
	if len(errs) > 0 {
		appLog.Warn("some event sources failed", "failed", len(errs), "ok", len(sets))
	}
	return eventindex.FillMonth(eventindex.MergeBuckets(sets...), month)
}

func subdir(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}
