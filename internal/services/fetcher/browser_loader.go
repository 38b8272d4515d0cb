package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// browserLoader renders pages in a headless Chrome instance. One browser
// context is kept for the session so cookies survive between loads; Reset
// tears it down and the next Load starts a fresh browser with a new warm-up.
type browserLoader struct {
	cfg    Config
	gate   *RateLimiter
	logger arbor.ILogger

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	warmedUp        bool
}

func newBrowserLoader(cfg Config, gate *RateLimiter, logger arbor.ILogger) *browserLoader {
	return &browserLoader{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
	}
}

// allocatorOptions returns the Chrome flags for the session browser
func (l *browserLoader) allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.BrowserHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
}

// session returns the browser context, starting the browser if needed.
func (l *browserLoader) session(ctx context.Context) (context.Context, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx == nil {
		startTime := time.Now()
		allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
		browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

		startCtx, cancel := context.WithTimeout(browserCtx, l.cfg.RequestTimeout)
		defer cancel()
		if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
			browserCancel()
			allocatorCancel()
			return nil, false, fmt.Errorf("browser failed startup test: %w", err)
		}

		l.browserCtx = browserCtx
		l.browserCancel = browserCancel
		l.allocatorCancel = allocatorCancel
		l.warmedUp = false

		l.logger.Debug().
			Dur("startup_time", time.Since(startTime)).
			Bool("headless", l.cfg.BrowserHeadless).
			Msg("Browser session started")
	}

	warmed := false
	if !l.warmedUp {
		for i, u := range warmupURLs(l.cfg.BaseURL, l.cfg.WarmupPaths) {
			if i > 0 {
				if err := l.gate.Wait(ctx); err != nil {
					break
				}
			}
			warmed = true
			if _, _, err := l.render(ctx, l.browserCtx, u); err != nil {
				l.logger.Warn().Str("url", u).Err(err).Msg("Browser warm-up navigation failed")
			}
		}
		l.warmedUp = true
	}
	return l.browserCtx, warmed, nil
}

func (l *browserLoader) Load(ctx context.Context, rawURL string) (int, string, error) {
	browserCtx, warmed, err := l.session(ctx)
	if err != nil {
		return 0, "", err
	}
	if warmed {
		if err := l.gate.Wait(ctx); err != nil {
			return 0, "", err
		}
	}

	return l.render(ctx, browserCtx, rawURL)
}

// render navigates a new tab to rawURL and returns the document status and
// the rendered outer HTML. A page whose document response was not observed
// is reported as 200.
func (l *browserLoader) render(ctx context.Context, browserCtx context.Context, rawURL string) (int, string, error) {
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, l.cfg.RequestTimeout)
	defer cancel()

	// Tie the tab to the caller's cancellation as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		statusMu sync.Mutex
		status   int64
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			statusMu.Lock()
			if status == 0 {
				status = e.Response.Status
			}
			statusMu.Unlock()
		}
	})

	var html string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(l.cfg.BrowserWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return 0, "", fmt.Errorf("browser render failed: %w", err)
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	if status == 0 {
		return 200, html, nil
	}
	return int(status), html, nil
}

func (l *browserLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdown()
}

func (l *browserLoader) Close() error {
	l.Reset()
	return nil
}

// shutdown cancels the browser and allocator contexts (must be called with mutex held)
func (l *browserLoader) shutdown() {
	if l.browserCancel != nil {
		l.browserCancel()
	}
	if l.allocatorCancel != nil {
		l.allocatorCancel()
	}
	l.browserCtx = nil
	l.browserCancel = nil
	l.allocatorCancel = nil
	l.warmedUp = false
}
