package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Default capture parameters, roughly a phone screen.
const (
	DefaultWidth      = 430
	DefaultHeight     = 932
	DefaultTimeoutSec = 30
)

// SettledSelector matches the screen root once a load has finished,
// successfully or not.
const SettledSelector = `[data-status="loaded"], [data-status="errored"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG screenshot will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration

	// Headers are sent with every browser request, e.g. Authorization
	// when the screen sits behind basic auth.
	Headers map[string]string
}

// normalize validates opts and fills in defaults.
func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// ScreenPNG drives headless Chromium to opts.URL, waits until the screen
// root reports a settled status via its data-status attribute and writes
// a full-page PNG to opts.OutputPath.
func ScreenPNG(parentCtx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if h := extraHeaders(opts.Headers); h != nil {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(h))
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(SettledSelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	return nil
}

func extraHeaders(in map[string]string) network.Headers {
	if len(in) == 0 {
		return nil
	}
	h := make(network.Headers, len(in))
	for k, v := range in {
		h[k] = v
	}
	return h
}
