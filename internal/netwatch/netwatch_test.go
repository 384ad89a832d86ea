package netwatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calview/internal/clock"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// switchable answers probes until down is set.
type switchable struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (s *switchable) client() *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		s.calls.Add(1)
		if s.down.Load() {
			return nil, errors.New("no route to host")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	})}
}

func TestCheckNotifiesOnlyOnChange(t *testing.T) {
	sw := &switchable{}
	w := New(Options{ProbeURL: "https://probe.example", Client: sw.client()})

	var mu sync.Mutex
	var seen []bool
	w.AddListener(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	assert.True(t, w.Online(), "optimistic before the first probe")
	assert.True(t, w.Check(context.Background()))

	sw.down.Store(true)
	assert.False(t, w.Check(context.Background()))
	assert.False(t, w.Check(context.Background()))

	sw.down.Store(false)
	assert.True(t, w.Check(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, seen)
}

func TestRemoveListener(t *testing.T) {
	sw := &switchable{}
	w := New(Options{Client: sw.client()})

	var calls atomic.Int32
	remove := w.AddListener(func(bool) { calls.Add(1) })
	remove()

	sw.down.Store(true)
	w.Check(context.Background())
	assert.Zero(t, calls.Load())
}

func TestCheckDoesNotDuplicateInFlightProbe(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		close(entered)
		<-release
		return nil, errors.New("timeout")
	})}
	w := New(Options{Client: client})

	done := make(chan bool)
	go func() { done <- w.Check(context.Background()) }()
	<-entered

	assert.True(t, w.Check(context.Background()), "second check reports the current state")
	close(release)
	assert.False(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStartProbesOnInterval(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	sw := &switchable{}
	w := New(Options{Client: sw.client(), Clock: clk, Interval: 30 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), sw.calls.Load())

	sw.down.Store(true)
	clk.Advance(30 * time.Second)
	assert.False(t, w.Online())
	assert.Equal(t, int32(2), sw.calls.Load())
	assert.Equal(t, 1, clk.Pending())

	w.Stop()
	assert.Zero(t, clk.Pending())
	clk.Advance(time.Minute)
	assert.Equal(t, int32(2), sw.calls.Load())
}
