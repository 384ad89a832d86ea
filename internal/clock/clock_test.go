package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	m.AfterFunc(50*time.Millisecond, func() { order = append(order, "a") })
	m.AfterFunc(time.Second, func() { order = append(order, "late") })

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, start.Add(250*time.Millisecond).Equal(m.Now()))
	assert.Equal(t, 1, m.Pending())
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	m.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualChainedTimers(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		m.AfterFunc(time.Minute, tick)
	}
	m.AfterFunc(time.Minute, tick)

	m.Advance(3 * time.Minute)
	assert.Equal(t, 3, count)
	assert.True(t, time.Unix(180, 0).Equal(m.Now()))
}
