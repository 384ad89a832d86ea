// Package netwatch tracks whether the backend is reachable by probing a
// URL with HEAD requests.
package netwatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"calview/internal/clock"
	appLog "calview/internal/log"
)

// DefaultProbeURL is probed when none is configured.
const DefaultProbeURL = "https://www.google.com"

// Options configures a Watcher.
type Options struct {
	ProbeURL string
	Timeout  time.Duration
	Interval time.Duration
	Clock    clock.Clock
	Client   *http.Client
}

// Watcher is the shared connectivity service. It starts optimistic
// (online) until the first probe says otherwise.
type Watcher struct {
	url      string
	timeout  time.Duration
	interval time.Duration
	clk      clock.Clock
	client   *http.Client

	mu        sync.Mutex
	online    bool
	probing   bool
	listeners map[int]func(bool)
	nextID    int
	timer     clock.Timer
	ctx       context.Context
	running   bool
}

// New builds a Watcher. Zero options fall back to a 3s timeout and a 30s
// interval.
func New(opts Options) *Watcher {
	if opts.ProbeURL == "" {
		opts.ProbeURL = DefaultProbeURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Watcher{
		url:       opts.ProbeURL,
		timeout:   opts.Timeout,
		interval:  opts.Interval,
		clk:       opts.Clock,
		client:    opts.Client,
		online:    true,
		listeners: make(map[int]func(bool)),
	}
}

// Start probes once in the background, then every interval until Stop or
// until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	go w.tick()
}

// Stop cancels the periodic probe. Listeners stay registered.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) tick() {
	w.mu.Lock()
	ctx, running := w.ctx, w.running
	w.mu.Unlock()
	if !running || ctx.Err() != nil {
		return
	}

	w.Check(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && ctx.Err() == nil {
		w.timer = w.clk.AfterFunc(w.interval, w.tick)
	}
}

// Online returns the last known state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Check probes now and returns the resulting state. While another probe is
// running it returns the current state without sending a request.
func (w *Watcher) Check(ctx context.Context) bool {
	w.mu.Lock()
	if w.probing {
		online := w.online
		w.mu.Unlock()
		return online
	}
	w.probing = true
	w.mu.Unlock()

	ok := w.probe(ctx)

	w.mu.Lock()
	w.probing = false
	changed := ok != w.online
	w.online = ok
	var notify []func(bool)
	if changed {
		for _, fn := range w.listeners {
			notify = append(notify, fn)
		}
	}
	w.mu.Unlock()

	if changed {
		appLog.Info("connectivity changed", "online", ok)
		for _, fn := range notify {
			fn(ok)
		}
	}
	return ok
}

func (w *Watcher) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		appLog.Error("connectivity probe request", err)
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		appLog.Debug("connectivity probe failed", "err", err.Error())
		return false
	}
	resp.Body.Close()
	return true
}

// AddListener registers fn for state changes and returns its remover.
func (w *Watcher) AddListener(fn func(online bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}
