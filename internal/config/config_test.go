package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "agenda", cfg.DisplayMode)
	assert.Equal(t, 90, cfg.Layout.HourHeight)
	assert.Equal(t, 60, cfg.Layout.TimeColumnWidth)
	assert.Equal(t, 330, cfg.Layout.PageWidth())
	assert.Equal(t, 30, cfg.Layout.MinEventHeight)
	assert.Equal(t, 5, cfg.Layout.LaneGap)
	assert.Equal(t, 3, cfg.Layout.WindowSize)
	assert.Equal(t, "firstfit", cfg.Layout.LaneStrategy)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.SwipeSettle())
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.SwipeReport())
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.SectionScrollDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ScrollRetry())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ScrollToSelectionDelay())
	assert.Equal(t, time.Minute, cfg.Sync.NowTick())
	assert.Equal(t, 15, cfg.API.TimeoutSeconds)
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "agenda", cfg.DisplayMode)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
timezone: "Australia/Sydney"
business_id: "biz-1"
display_mode: timeline
api:
  base_url: "https://api.example.com/api/v1/"
layout:
  hour_height: 60
  lane_strategy: coloring
sync:
  swipe_settle: 80
basic_auth:
  username: admin
  password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "biz-1", cfg.BusinessID)
	assert.Equal(t, "timeline", cfg.DisplayMode)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 60, cfg.Layout.HourHeight)
	assert.Equal(t, "coloring", cfg.Layout.LaneStrategy)
	assert.Equal(t, 80*time.Millisecond, cfg.Sync.SwipeSettle())
	// Untouched knobs still get defaults.
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.SwipeReport())
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.Equal(t, "Australia/Sydney", cfg.Location().String())
}

func TestNormalizeRejectsUnknownValues(t *testing.T) {
	cfg := &Config{DisplayMode: "month", WeekStart: "friday"}
	cfg.Layout.LaneStrategy = "optimal"
	cfg.Layout.ScreenWidth = 40
	cfg.Normalize()

	assert.Equal(t, "agenda", cfg.DisplayMode)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "firstfit", cfg.Layout.LaneStrategy)
	assert.Greater(t, cfg.Layout.PageWidth(), 0)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layout: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv("CALVIEW_API_TOKEN", "tok")
	t.Setenv("CALVIEW_BUSINESS_ID", "env-biz")

	cfg := DefaultConfig()
	cfg.BusinessID = "file-biz"
	cfg.ApplyEnv()

	assert.Equal(t, "tok", cfg.API.Token)
	assert.Equal(t, "env-biz", cfg.BusinessID)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{{ID: "team", Name: "Team", URL: "https://example.com/team.ics"}}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ICS, loaded.ICS)
	assert.Equal(t, cfg.Layout, loaded.Layout)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())
}
