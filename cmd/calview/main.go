package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calview/internal/config"
	appLog "calview/internal/log"
)

const version = "0.1.0-dev"

func main() {
	// A missing .env is fine; the environment may already carry everything.
	_ = godotenv.Load()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:    "calview",
		Usage:   "Month calendar with a swipeable day timeline and an agenda list.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/calview/config.yaml",
				Usage:   "path to config file",
				EnvVars: []string{"CALVIEW_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{Name: "debug", Usage: "shorthand for --log-level=debug"},
		},
		Before: func(c *cli.Context) error {
			level := appLog.ParseLevel(c.String("log-level"))
			if c.Bool("debug") {
				level = appLog.LevelDebug
			}
			appLog.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			tuiCommand(),
			snapshotCommand(),
			layoutCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("calview failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config. A file that could not be
// created on first run is logged and the defaults are used.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if cfg == nil {
			return nil, err
		}
		appLog.Warn("could not write default config, continuing with defaults", "config_path", path, "err", err)
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"display_mode", cfg.DisplayMode,
		"api", cfg.API.BaseURL != "",
		"ics_count", len(cfg.ICS),
		"probe", cfg.Connectivity.ProbeURL,
	)
	return cfg, nil
}
