// Package fetch retrieves raw page bodies for the pagination driver.
// The composer endpoint answers plain JSON, so a fetcher only has to
// return bytes; classifying the response is the parser's job.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// Fetcher returns the raw body served for pageURL.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	AllowedHost string
	UserAgent   string
	Timeout     time.Duration
	Delay       time.Duration
	RandomDelay time.Duration
}

// HTTPFetcher issues plain GET requests through a colly collector.
// Fetch is synchronous and serialized; the driver never fetches the
// same run from two goroutines, the mutex only protects RunMany setups
// that share one fetcher.
type HTTPFetcher struct {
	collector *colly.Collector

	mu   sync.Mutex
	body []byte
	err  error
}

// NewHTTPFetcher builds a fetcher for a single storefront host.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.AllowedHost == "" {
		return nil, fmt.Errorf("fetch: allowed host must not be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(opts.AllowedHost),
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(opts.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       opts.Delay,
		RandomDelay: opts.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &HTTPFetcher{collector: collector}

	collector.OnResponse(func(r *colly.Response) {
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		f.body = body
	})
	collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		f.err = Classify(err, statusCode)
	})

	return f, nil
}

// WithTransport swaps the underlying transport, used by tests to plug
// in an httpmock transport.
func (f *HTTPFetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch issues a blocking GET and returns the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if _, err := url.Parse(pageURL); err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.body = nil
	f.err = nil

	if err := f.collector.Visit(pageURL); err != nil {
		// OnError already saw the response and classified by status;
		// prefer that over the bare error Visit hands back.
		if f.err != nil {
			return nil, f.err
		}
		return nil, Classify(err, 0)
	}
	f.collector.Wait()

	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}
