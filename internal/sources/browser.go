package sources

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nesen/eventagg/internal/ingestion"
)

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Timeout   time.Duration // Per page, including waits
	UserAgent string
	ExecPath  string // Chrome binary; empty searches the usual locations
	Headless  bool
}

// BrowserFetcher renders pages in headless Chrome so that script-built
// listings are present in the captured HTML. One browser process is shared
// by every fetch until Close; each fetch opens and closes its own tab.
type BrowserFetcher struct {
	cfg BrowserConfig

	once          sync.Once
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	startErr      error
}

// NewBrowserFetcher creates a browser fetcher. The browser starts on first use.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &BrowserFetcher{cfg: cfg}
}

// browser launches Chrome on first use and returns the browser context tabs
// are derived from.
func (b *BrowserFetcher) browser() (context.Context, error) {
	b.once.Do(func() {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", b.cfg.Headless),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.WindowSize(1920, 1080),
		)
		if b.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
		}
		if b.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
		}
		var allocCtx context.Context
		allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		b.browserCtx, b.browserCancel = chromedp.NewContext(allocCtx)

		// Running no actions starts the browser with its initial blank tab.
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return b.browserCtx, b.startErr
}

// run executes actions in a fresh tab bounded by the page timeout and ctx.
func (b *BrowserFetcher) run(ctx context.Context, url string, actions ...chromedp.Action) error {
	browserCtx, err := b.browser()
	if err != nil {
		return ingestion.NewUnitError(ingestion.ErrFetchFailure, url, err)
	}
	// Cancelling a context derived from the browser context closes only its tab.
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelTimeout()

	// Tie the tab to the caller's cancellation as well.
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	if err := chromedp.Run(timeoutCtx, actions...); err != nil {
		return ingestion.NewUnitError(ingestion.ErrFetchFailure, url, fmt.Errorf("render: %w", err))
	}
	return nil
}

// Fetch navigates to req.URL, applies the render waits and returns the DOM.
func (b *BrowserFetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	actions := []chromedp.Action{chromedp.Navigate(req.URL)}
	if req.WaitSelector != "" {
		actions = append(actions, chromedp.WaitReady(req.WaitSelector, chromedp.ByQuery))
	}
	for i := 0; i < req.Scrolls; i++ {
		actions = append(actions, chromedp.Evaluate(`window.scrollBy(0, document.body.scrollHeight)`, nil))
		if req.ScrollPause > 0 {
			actions = append(actions, chromedp.Sleep(req.ScrollPause))
		}
	}
	if req.Settle > 0 {
		actions = append(actions, chromedp.Sleep(req.Settle))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := b.run(ctx, req.URL, actions...); err != nil {
		return "", err
	}
	return html, nil
}

// FetchText returns the rendered innerText of the page body.
func (b *BrowserFetcher) FetchText(ctx context.Context, url string) (string, error) {
	var text string
	err := b.run(ctx, url,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.body.innerText`, &text),
	)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}
