// Package scraper walks a seller storefront page by page through the
// composer API and accumulates the extracted products.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ozontools/seller-export/config"
	"github.com/ozontools/seller-export/fetch"
	"github.com/ozontools/seller-export/models"
	"github.com/ozontools/seller-export/parser"
	"github.com/ozontools/seller-export/pipeline"
)

// ErrRunFailed is returned when not a single page could be fetched and
// parsed. Runs that produced partial results return it only when the
// result carries zero successful pages.
var ErrRunFailed = errors.New("scraper: no page fetched successfully")

// blockedBackoffFactor stretches the retry backoff when the response
// was a challenge page rather than a plain network failure.
const blockedBackoffFactor = 3

// Driver orchestrates pagination: it builds page URLs, fetches with
// retries, parses, and feeds tiles into the run's pipeline. One Driver
// may serve several runs; each run owns its own record sequence.
type Driver struct {
	cfg     *config.Config
	fetcher fetch.Fetcher
	parser  *parser.Parser
	Metrics *Metrics
}

// NewDriver builds a pagination driver.
func NewDriver(cfg *config.Config, fetcher fetch.Fetcher, p *parser.Parser, metrics *Metrics) *Driver {
	if p == nil {
		p = parser.New(nil)
	}
	return &Driver{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  p,
		Metrics: metrics,
	}
}

// Run paginates one seller storefront and returns the frozen batch.
// Per-page failures are contained: a page that exhausts its retries is
// skipped and the run carries on. Only a streak of blocked pages aborts
// the run early, with partial results.
func (d *Driver) Run(ctx context.Context, sellerURL string) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	log := slog.Default().With(
		slog.String("seller_url", sellerURL),
		slog.String("seller_id", config.SellerID(sellerURL)),
	)
	log.Info("starting run", slog.Int("max_pages", d.cfg.MaxPages))

	pl := pipeline.NewPipeline(d.cfg)
	pl.Start()

	result := &models.RunResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}

	emptyStreak := 0
	blockedStreak := 0
	successPages := 0

pages:
	for page := 1; page <= d.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			log.Warn("run cancelled", slog.Int("page", page))
			break
		}
		result.PageCount = page

		pageURL := d.pageURL(sellerURL, page)
		log.Debug("fetching page", slog.Int("page", page), slog.String("url", pageURL))

		parsed, err := d.fetchPage(ctx, pageURL, result)
		switch {
		case err == nil:
			blockedStreak = 0
			d.Metrics.SetBlockedStreak(0)

			if len(parsed.Items) == 0 {
				emptyStreak++
				d.Metrics.IncPage("empty")
				log.Info("empty page",
					slog.Int("page", page),
					slog.Int("empty_streak", emptyStreak),
				)
				if emptyStreak >= d.cfg.EmptyPageLimit || !parsed.HasMore {
					log.Info("no more results, stopping", slog.Int("page", page))
					break pages
				}
			} else {
				emptyStreak = 0
				successPages++
				d.Metrics.IncPage("ok")
				d.Metrics.AddProducts(len(parsed.Items))
				if perr := pl.Process(parsed.Items...); perr != nil && !errors.Is(perr, pipeline.ErrPipelineClosed) {
					log.Error("pipeline process error", slog.Any("error", perr))
				}
				log.Info("page parsed",
					slog.Int("page", page),
					slog.Int("products", len(parsed.Items)),
				)
			}

		case isBlocked(err):
			blockedStreak++
			result.ErrorCount++
			result.ErrorsByType["blocked"]++
			result.SkippedPages = append(result.SkippedPages, page)
			d.Metrics.IncPage("blocked")
			d.Metrics.IncError("blocked")
			d.Metrics.SetBlockedStreak(blockedStreak)
			log.Warn("page blocked",
				slog.Int("page", page),
				slog.Int("blocked_streak", blockedStreak),
				slog.Any("error", err),
			)
			if blockedStreak >= d.cfg.BlockedPageLimit {
				result.Aborted = true
				log.Error("persistent block detected, aborting run", slog.Int("page", page))
				break pages
			}

		default:
			blockedStreak = 0
			d.Metrics.SetBlockedStreak(0)
			label := errorLabel(err)
			result.ErrorCount++
			result.ErrorsByType[label]++
			result.SkippedPages = append(result.SkippedPages, page)
			d.Metrics.IncPage("skipped")
			d.Metrics.IncError(label)
			log.Error("page skipped",
				slog.Int("page", page),
				slog.String("category", label),
				slog.Any("error", err),
			)
		}

		if page < d.cfg.MaxPages {
			d.pauseBetweenPages(ctx)
		}
	}

	if err := pl.Close(); err != nil {
		log.Error("pipeline shutdown failed", slog.Any("error", err))
	}

	result.EndTime = time.Now()
	result.Batch = pl.Batch(sellerURL)

	log.Info("run finished",
		slog.Int("pages", result.PageCount),
		slog.Int("products", result.Batch.Count),
		slog.Int("errors", result.ErrorCount),
		slog.Int("retries", result.RetryCount),
		slog.Bool("aborted", result.Aborted),
	)

	if successPages == 0 && result.ErrorCount > 0 {
		return result, ErrRunFailed
	}
	return result, nil
}

// SellerRun is the per-seller outcome of RunMany.
type SellerRun struct {
	SellerURL string
	Result    *models.RunResult
	Err       error
}

// RunMany paginates several storefronts over a bounded worker pool.
// Each run accumulates independently; nothing is shared between
// workers except the fetcher, which serializes its own access.
func (d *Driver) RunMany(ctx context.Context, sellerURLs []string) []SellerRun {
	workers := d.cfg.Workers
	if workers > config.MaxWorkers {
		workers = config.MaxWorkers
	}

	runs := make([]SellerRun, len(sellerURLs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, sellerURL := range sellerURLs {
		wg.Add(1)
		go func(i int, sellerURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := d.Run(ctx, sellerURL)
			runs[i] = SellerRun{SellerURL: sellerURL, Result: result, Err: err}
		}(i, sellerURL)
	}

	wg.Wait()
	return runs
}

// fetchPage fetches and parses one page, retrying transient failures
// and blocked responses up to the attempt ceiling. Malformed responses
// and hard HTTP errors return immediately.
func (d *Driver) fetchPage(ctx context.Context, pageURL string, result *models.RunResult) (*parser.Page, error) {
	attempts := d.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			result.RetryCount++
			d.Metrics.IncRetries()
			if err := d.sleep(ctx, d.backoff(attempt-1, isBlocked(lastErr))); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		body, err := d.fetcher.Fetch(ctx, pageURL)
		result.RequestCount++
		d.Metrics.ObserveFetch(time.Since(start))

		if err != nil {
			lastErr = err
			if fetch.IsTransient(err) {
				continue
			}
			return nil, err
		}

		parsed, err := d.parser.ParsePage(body)
		if err != nil {
			lastErr = err
			var blocked parser.ErrBlocked
			if errors.As(err, &blocked) {
				continue
			}
			return nil, err
		}
		return parsed, nil
	}
	return nil, lastErr
}

// backoff returns a jittered exponential delay; blocked responses get a
// stretched window so challenges have time to expire.
func (d *Driver) backoff(retry int, blocked bool) time.Duration {
	base := d.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}

	delay := base * time.Duration(1<<(retry-1))
	if blocked {
		delay *= blockedBackoffFactor
	}
	if max := d.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	// ±20% jitter
	return time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
}

// pauseBetweenPages sleeps a uniform random duration inside the
// configured delay window. Politeness only, not load-bearing.
func (d *Driver) pauseBetweenPages(ctx context.Context) {
	window := d.cfg.DelayMax - d.cfg.DelayMin
	delay := d.cfg.DelayMin
	if window > 0 {
		delay += time.Duration(rand.Int63n(int64(window)))
	}
	if delay <= 0 {
		return
	}
	_ = d.sleep(ctx, delay)
}

func (d *Driver) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pageURL templates the storefront path onto the composer endpoint.
// The page parameter rides inside the url query value, matching how
// the storefront's own frontend calls the API.
func (d *Driver) pageURL(sellerURL string, page int) string {
	sellerPath := strings.TrimPrefix(sellerURL, d.cfg.BaseSite)
	if page > 1 {
		if strings.Contains(sellerPath, "?") {
			sellerPath += fmt.Sprintf("&page=%d", page)
		} else {
			sellerPath += fmt.Sprintf("?page=%d", page)
		}
	}
	return d.cfg.APIBase + "?url=" + url.QueryEscape(sellerPath) + "&__rr=1"
}

func isBlocked(err error) bool {
	var blocked parser.ErrBlocked
	if errors.As(err, &blocked) {
		return true
	}
	var forbidden fetch.ErrForbidden
	return errors.As(err, &forbidden)
}

func errorLabel(err error) string {
	var malformed parser.ErrMalformed
	if errors.As(err, &malformed) {
		return "malformed"
	}
	return fetch.TypeLabel(err)
}
