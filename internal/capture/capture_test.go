package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarPNGValidatesOptions(t *testing.T) {
	err := CalendarPNG(context.Background(), Options{OutputPath: "x.png"})
	assert.ErrorIs(t, err, ErrNoURL)

	err = CalendarPNG(context.Background(), Options{URL: "http://127.0.0.1/calendar"})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestNormalizeDefaults(t *testing.T) {
	o := Options{URL: "http://127.0.0.1/calendar", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "u", OutputPath: "p", Width: 1024, Height: 768, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 1024, o.Width)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestTasksWaitForReadyMarker(t *testing.T) {
	var png []byte
	assert.Len(t, tasks(Options{URL: "u", Width: 1, Height: 1}, &png), 5)
	assert.Len(t, tasks(Options{URL: "u", FullPage: true}, &png), 5)
}
