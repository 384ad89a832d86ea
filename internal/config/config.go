package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// APIConfig points at the upstream scheduling REST API.
type APIConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/api/v1".
	// Empty disables the REST source.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is sent verbatim in the Authorization header.
	Token string `yaml:"token" json:"-"`
	// TimeoutSeconds bounds a single request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// CacheDir holds ETag-validated copies of month responses. Empty
	// disables the disk cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// LayoutConfig holds the timeline geometry.
type LayoutConfig struct {
	HourHeight      int    `yaml:"hour_height" json:"hour_height"`
	TimeColumnWidth int    `yaml:"time_column_width" json:"time_column_width"`
	ScreenWidth     int    `yaml:"screen_width" json:"screen_width"`
	MinEventHeight  int    `yaml:"min_event_height" json:"min_event_height"`
	LaneGap         int    `yaml:"lane_gap" json:"lane_gap"`
	WindowSize      int    `yaml:"window_size" json:"window_size"`
	LaneStrategy    string `yaml:"lane_strategy" json:"lane_strategy"`
}

// PageWidth is the width of one timeline day page.
func (l LayoutConfig) PageWidth() int {
	return l.ScreenWidth - l.TimeColumnWidth
}

// SyncConfig holds the view synchronization delays, in milliseconds.
type SyncConfig struct {
	SwipeSettleMs            int `yaml:"swipe_settle" json:"swipe_settle"`
	SwipeReportMs            int `yaml:"swipe_report" json:"swipe_report"`
	SectionScrollDelayMs     int `yaml:"section_scroll_delay" json:"section_scroll_delay"`
	ScrollRetryMs            int `yaml:"scroll_retry" json:"scroll_retry"`
	ScrollToSelectionDelayMs int `yaml:"scroll_to_selection_delay" json:"scroll_to_selection_delay"`
	NowTickMs                int `yaml:"now_tick" json:"now_tick"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (s SyncConfig) SwipeSettle() time.Duration            { return ms(s.SwipeSettleMs) }
func (s SyncConfig) SwipeReport() time.Duration            { return ms(s.SwipeReportMs) }
func (s SyncConfig) SectionScrollDelay() time.Duration     { return ms(s.SectionScrollDelayMs) }
func (s SyncConfig) ScrollRetry() time.Duration            { return ms(s.ScrollRetryMs) }
func (s SyncConfig) ScrollToSelectionDelay() time.Duration { return ms(s.ScrollToSelectionDelayMs) }
func (s SyncConfig) NowTick() time.Duration                { return ms(s.NowTickMs) }

// ConnectivityConfig configures the reachability probe.
type ConnectivityConfig struct {
	// ProbeURL receives a HEAD request per probe. Empty disables probing
	// and the watcher always reports online.
	ProbeURL        string `yaml:"probe_url" json:"probe_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	IntervalSeconds int    `yaml:"interval_seconds" json:"interval_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone that decides "today" and ICS display
	// times (e.g. "Australia/Sydney").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for periodic refetch of the current month.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BusinessID scopes event fetches.
	BusinessID string `yaml:"business_id" json:"business_id"`

	// DisplayMode is the mode the calendar opens in: "agenda" or "timeline".
	DisplayMode string `yaml:"display_mode" json:"display_mode"`

	API          APIConfig          `yaml:"api" json:"api"`
	ICS          []ICSConfig        `yaml:"ics" json:"ics"`
	Layout       LayoutConfig       `yaml:"layout" json:"layout"`
	Sync         SyncConfig         `yaml:"sync" json:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity" json:"connectivity"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "UTC"
	defaultRefresh  = "*/15 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   "monday",
		RefreshCron: defaultRefresh,
		DisplayMode: "agenda",
		ICS:         []ICSConfig{},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	switch c.DisplayMode {
	case "agenda", "timeline":
	default:
		c.DisplayMode = "agenda"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}

	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 15
	}

	l := &c.Layout
	positive(&l.HourHeight, 90)
	positive(&l.TimeColumnWidth, 60)
	positive(&l.ScreenWidth, 390)
	positive(&l.MinEventHeight, 30)
	positive(&l.LaneGap, 5)
	positive(&l.WindowSize, 3)
	if l.ScreenWidth <= l.TimeColumnWidth {
		l.ScreenWidth = l.TimeColumnWidth + 330
	}
	switch l.LaneStrategy {
	case "firstfit", "coloring":
	default:
		l.LaneStrategy = "firstfit"
	}

	s := &c.Sync
	positive(&s.SwipeSettleMs, 50)
	positive(&s.SwipeReportMs, 200)
	positive(&s.SectionScrollDelayMs, 100)
	positive(&s.ScrollRetryMs, 500)
	positive(&s.ScrollToSelectionDelayMs, 500)
	positive(&s.NowTickMs, 60000)

	positive(&c.Connectivity.TimeoutSeconds, 3)
	positive(&c.Connectivity.IntervalSeconds, 30)
}

func positive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overrides secrets and tenant from the environment:
// CALVIEW_API_TOKEN, CALVIEW_BUSINESS_ID and CALVIEW_API_BASE_URL.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CALVIEW_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("CALVIEW_BUSINESS_ID"); v != "" {
		c.BusinessID = v
	}
	if v := os.Getenv("CALVIEW_API_BASE_URL"); v != "" {
		c.API.BaseURL = strings.TrimSuffix(v, "/")
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied last in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
