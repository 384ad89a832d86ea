package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"calview/internal/app"
	"calview/internal/capture"
	"calview/internal/config"
	"calview/internal/eventindex"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/timeline"
	"calview/internal/tui"
	"calview/internal/web"
)

// runtime is the assembled app plus the background pieces that must be
// stopped on exit.
type runtime struct {
	cfg     *config.Config
	app     *app.App
	stopFns []func()
}

func (r *runtime) stop() {
	for i := len(r.stopFns) - 1; i >= 0; i-- {
		r.stopFns[i]()
	}
}

// assemble loads the config, starts the connectivity watcher and builds the
// app. Nothing is fetched until the coordinator is started.
func assemble(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt := &runtime{cfg: cfg}

	var net app.Connectivity
	w := app.NewWatcher(cfg)
	if w != nil {
		w.Start(ctx)
		rt.stopFns = append(rt.stopFns, w.Stop)
		net = w
	}

	rt.app = app.New(cfg, app.Options{Fetcher: app.NewFetcher(cfg, net)})
	rt.stopFns = append(rt.stopFns, rt.app.Coordinator.Close)

	if w != nil {
		coord := rt.app.Coordinator
		rt.stopFns = append(rt.stopFns, w.AddListener(func(online bool) {
			if online {
				appLog.Info("back online, refreshing")
				coord.Refresh()
			}
		}))
	}
	return rt, nil
}

// startCron refreshes the current month on cfg.RefreshCron.
func (r *runtime) startCron() error {
	sched := cron.New(cron.WithLocation(r.cfg.Location()))
	coord := r.app.Coordinator
	if _, err := sched.AddFunc(r.cfg.RefreshCron, func() {
		appLog.Debug("scheduled refresh")
		coord.Refresh()
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.cfg.RefreshCron, err)
	}
	sched.Start()
	r.stopFns = append(r.stopFns, func() { <-sched.Stop().Done() })
	return nil
}

func (r *runtime) server() *web.Server {
	return web.NewServer(r.cfg, web.Deps{
		Coordinator: r.app.Coordinator,
		Timeline:    r.app.Timeline,
		Agenda:      r.app.Agenda,
	})
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the calendar page and JSON API, refreshing on a schedule.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			rt, err := assemble(ctx, c)
			if err != nil {
				return err
			}
			defer rt.stop()
			if l := c.String("listen"); l != "" {
				rt.cfg.Listen = l
			}

			if err := rt.startCron(); err != nil {
				return err
			}
			rt.app.Coordinator.Start(ctx)
			return rt.server().Run(ctx)
		},
	}
}

func tuiCommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Browse the calendar in the terminal.",
		Action: func(c *cli.Context) error {
			// Log lines would tear the alternate screen.
			appLog.SetOutput(io.Discard)

			rt, err := assemble(c.Context, c)
			if err != nil {
				return err
			}
			defer rt.stop()
			if err := rt.startCron(); err != nil {
				return err
			}
			return tui.Run(c.Context, rt.app)
		},
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Render /calendar once through headless Chromium and write a PNG.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "./cache/preview.png", Usage: "output PNG path"},
			&cli.StringFlag{Name: "mode", Usage: "agenda or timeline (default from config)"},
			&cli.StringFlag{Name: "date", Usage: "day to select, YYYY-MM-DD (default today)"},
			&cli.IntFlag{Name: "width", Value: capture.DefaultWidth},
			&cli.IntFlag{Name: "height", Value: capture.DefaultHeight},
			&cli.BoolFlag{Name: "full-page"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			rt, err := assemble(ctx, c)
			if err != nil {
				return err
			}
			defer rt.stop()
			coord := rt.app.Coordinator

			if m := c.String("mode"); m != "" {
				if err := coord.SetMode(model.DisplayMode(m)); err != nil {
					return err
				}
			}
			coord.Start(ctx)
			coord.Wait()
			if d := c.String("date"); d != "" {
				if err := coord.SelectDay(d, model.OriginProgrammatic); err != nil {
					return err
				}
				coord.Wait()
			}
			if st := coord.Snapshot(); !st.DataLoaded {
				return fmt.Errorf("no calendar data: %s", st.Banner)
			}

			srvErr := make(chan error, 1)
			go func() { srvErr <- rt.server().Run(ctx) }()

			base := "http://" + rt.cfg.Listen
			if err := waitHealthy(ctx, base+"/health", srvErr); err != nil {
				return err
			}

			err = capture.CalendarPNG(ctx, capture.Options{
				URL:        base + "/calendar",
				OutputPath: c.String("out"),
				Width:      c.Int("width"),
				Height:     c.Int("height"),
				FullPage:   c.Bool("full-page"),
			})
			cancel()
			if runErr := <-srvErr; runErr != nil && err == nil {
				err = runErr
			}
			return err
		},
	}
}

// waitHealthy polls url until the server answers or gives up.
func waitHealthy(ctx context.Context, url string, srvErr <-chan error) error {
	client := &http.Client{Timeout: time.Second}
	for i := 0; i < 50; i++ {
		select {
		case err := <-srvErr:
			if err == nil {
				err = errors.New("server stopped")
			}
			return fmt.Errorf("serve for snapshot: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if resp, err := client.Get(url); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server at %s did not become healthy", url)
}

func layoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "layout",
		Usage: "Fetch one day and print its timeline page as JSON.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD (default today)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			date := c.String("date")
			if date == "" {
				date = time.Now().In(cfg.Location()).Format(model.DateLayout)
			}
			if _, err := time.Parse(model.DateLayout, date); err != nil {
				return fmt.Errorf("invalid --date %q: %w", date, err)
			}
			month := model.MonthOf(date)

			buckets, err := app.NewFetcher(cfg, nil).FetchEvents(c.Context, cfg.BusinessID, month)
			if err != nil {
				return err
			}
			idx := eventindex.IndexOf(buckets, date)
			if idx < 0 {
				return fmt.Errorf("%s not in fetched month %s", date, month)
			}

			page := timeline.LayoutPage(buckets[idx], idx, true,
				eventindex.NewTimeCache(buckets),
				timeline.LayoutFromConfig(cfg.Layout),
				timeline.Light)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		},
	}
}
