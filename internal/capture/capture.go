// Package capture screenshots the server-rendered /calendar page through
// headless Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "calview/internal/log"
)

// Default viewport: a phone-sized portrait screen.
const (
	DefaultWidth   = 390
	DefaultHeight  = 844
	DefaultTimeout = 30 * time.Second

	// ReadySelector matches the calendar root once data has loaded.
	ReadySelector = `[data-ready="true"]`
)

var (
	ErrNoURL    = errors.New("capture: URL is required")
	ErrNoOutput = errors.New("capture: OutputPath is required")
)

// Options defines one capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar".
	URL string
	// OutputPath receives the PNG.
	OutputPath string

	Width  int
	Height int
	// FullPage captures the whole document rather than the viewport.
	FullPage bool
	Timeout  time.Duration

	// ExecAllocator options, e.g. a custom Chrome binary. Nil uses the
	// chromedp defaults.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return ErrNoURL
	}
	if o.OutputPath == "" {
		return ErrNoOutput
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// tasks is the capture sequence: size the viewport, load the page, wait for
// the ready marker and grab the pixels.
func tasks(o Options, png *[]byte) chromedp.Tasks {
	var shot chromedp.Action = chromedp.CaptureScreenshot(png)
	if o.FullPage {
		shot = chromedp.FullScreenshot(png, 100)
	}
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(300 * time.Millisecond),
		shot,
	}
}

// CalendarPNG captures opts.URL into opts.OutputPath. The page must expose
// data-ready="true" on an element once it has rendered.
func CalendarPNG(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx := parent
	if opts.AllocatorOptions != nil {
		alloc, cancelAlloc := chromedp.NewExecAllocator(parent, opts.AllocatorOptions...)
		defer cancelAlloc()
		ctx = alloc
	}
	ctx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	started := time.Now()
	var png []byte
	if err := chromedp.Run(ctx, tasks(opts, &png)); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: create output dir: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("calendar captured",
		"url", opts.URL,
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}
