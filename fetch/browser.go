package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// BrowserOptions configures the browser-backed fetcher. The launch
// arguments exist to keep automation markers out of the page; they are
// passed through to Chromium verbatim and carry no pipeline semantics.
type BrowserOptions struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
}

// DefaultBrowserOptions returns the launch profile used against the
// storefront when plain HTTP requests get challenged.
func DefaultBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "ru-RU",
		TimezoneID:     "Europe/Moscow",
	}
}

// BrowserFetcher loads composer URLs through a real Chromium instance
// so the request carries a full browser fingerprint. The endpoint
// renders its JSON as the document body, which is returned as-is.
type BrowserFetcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *BrowserOptions
	logger  *slog.Logger

	mu sync.Mutex
}

// NewBrowserFetcher launches the browser process. Callers own the
// returned fetcher and must Close it.
func NewBrowserFetcher(opts *BrowserOptions) (*BrowserFetcher, error) {
	if opts == nil {
		opts = DefaultBrowserOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(opts.UserAgent),
		Locale:     playwright.String(opts.Locale),
		TimezoneId: playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	return &BrowserFetcher{
		pw:      pw,
		browser: browser,
		context: browserCtx,
		opts:    opts,
		logger:  slog.Default().With("component", "browser_fetcher"),
	}, nil
}

// Fetch navigates to pageURL in a fresh tab and returns the rendered
// document text.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	page, err := f.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	timeoutMs := float64(f.opts.Timeout.Milliseconds())
	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMs),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return nil, ErrTimeout{Err: err}
		}
		return nil, ErrConnection{Err: err}
	}
	if resp != nil && resp.Status() >= 400 {
		return nil, Classify(nil, resp.Status())
	}

	// The composer endpoint serves raw JSON, which Chromium wraps in a
	// pre element inside an otherwise empty body.
	text, err := page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(timeoutMs),
	})
	if err != nil {
		return nil, fmt.Errorf("read page body: %w", err)
	}

	f.logger.Debug("page fetched", "url", pageURL, "bytes", len(text))
	return []byte(text), nil
}

// Close tears down the browser context and the playwright driver.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if err := f.context.Close(); err != nil {
		firstErr = err
	}
	if err := f.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := f.pw.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
