package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ozontools/seller-export/config"
	"github.com/ozontools/seller-export/export"
	"github.com/ozontools/seller-export/fetch"
	"github.com/ozontools/seller-export/models"
	"github.com/ozontools/seller-export/parser"
	"github.com/ozontools/seller-export/scraper"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults := config.DefaultConfig()

	urlDefault := ""
	if value, ok := config.EnvString("SELLER_EXPORT_URL"); ok {
		urlDefault = value
	}
	pagesDefault := defaults.MaxPages
	if value, ok, err := config.EnvInt("SELLER_EXPORT_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SELLER_EXPORT_PAGES: %v\n", err)
		return 1
	} else if ok {
		pagesDefault = value
	}
	outDirDefault := defaults.OutputDir
	if value, ok := config.EnvString("SELLER_EXPORT_OUTPUT_DIR"); ok {
		outDirDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("SELLER_EXPORT_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	sellerURL := flag.String("url", urlDefault, "Seller storefront URL (falls back to the config file)")
	configFile := flag.String("config", "config.json", "JSON config file with seller_url/seller_urls")
	maxPages := flag.Int("pages", pagesDefault, "Maximum storefront pages to walk")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Fetch attempts per page")
	timeout := flag.Duration("timeout", defaults.Timeout, "Per-request timeout")
	retryBackoff := flag.Duration("retry-backoff", defaults.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", defaults.RetryBackoffMax, "Maximum retry backoff")
	delayMin := flag.Duration("delay-min", defaults.DelayMin, "Minimum pause between pages")
	delayMax := flag.Duration("delay-max", defaults.DelayMax, "Maximum pause between pages")
	workers := flag.Int("workers", defaults.Workers, fmt.Sprintf("Parallel sellers (capped at %d)", config.MaxWorkers))
	format := flag.String("format", "all", "Export formats: excel, xml, json, or all")
	outputDir := flag.String("output-dir", outDirDefault, "Directory for export files")
	outputStem := flag.String("output", "", "Output filename stem (default seller_<id>_<timestamp>)")
	fetchMode := flag.String("fetcher", defaults.FetchMode, "Page fetcher: http or browser")
	headless := flag.Bool("headless", true, "Run the browser fetcher headless")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	formats, err := config.ParseFormats(*format)
	if err != nil {
		slog.Error("invalid format selection", slog.Any("error", err))
		return 1
	}

	sellerURLs, err := resolveSellerURLs(*sellerURL, *configFile)
	if err != nil {
		slog.Error("no seller URL available", slog.Any("error", err))
		return 1
	}

	cfg := defaults
	cfg.SellerURL = sellerURLs[0]
	cfg.MaxPages = *maxPages
	cfg.MaxRetries = *maxRetries
	cfg.Timeout = *timeout
	cfg.RetryBackoff = *retryBackoff
	cfg.RetryBackoffMax = *retryBackoffMax
	cfg.DelayMin = *delayMin
	cfg.DelayMax = *delayMax
	cfg.Workers = *workers
	cfg.Formats = formats
	cfg.OutputDir = *outputDir
	cfg.OutputStem = *outputStem
	cfg.FetchMode = strings.ToLower(*fetchMode)
	cfg.Headless = *headless
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	fetcher, cleanup, err := buildFetcher(cfg)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return 1
	}
	defer cleanup()

	metrics := scraper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	driver := scraper.NewDriver(cfg, fetcher, nil, metrics)
	runs := driver.RunMany(ctx, sellerURLs)

	failedRuns := 0
	for _, sellerRun := range runs {
		if sellerRun.Err != nil {
			failedRuns++
			slog.Error("run failed",
				slog.String("seller_url", sellerRun.SellerURL),
				slog.Any("error", sellerRun.Err),
			)
			continue
		}
		exportRun(cfg, sellerRun, len(runs) > 1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if failedRuns == len(runs) {
		return 1
	}
	return 0
}

// exportRun writes one run's batch to every requested format and prints
// the run summary. Export failures are logged per format and do not
// affect the sibling formats.
func exportRun(cfg *config.Config, sellerRun scraper.SellerRun, multi bool) {
	batch := sellerRun.Result.Batch
	if batch.Count == 0 {
		slog.Warn("no products found, nothing to export",
			slog.String("seller_url", sellerRun.SellerURL),
		)
		printSummary(sellerRun.Result, nil)
		return
	}

	stem := cfg.OutputStem
	if stem == "" || multi {
		id := batch.SellerID
		if id == "" {
			id = "unknown"
		}
		stem = fmt.Sprintf("seller_%s_%s", id, batch.ExportedAt.Format("20060102_150405"))
	}

	results := export.All(batch, cfg.OutputDir, stem, cfg.Formats)
	for _, res := range results {
		if res.Err != nil {
			slog.Error("export failed",
				slog.String("format", res.Format),
				slog.String("path", res.Path),
				slog.Any("error", res.Err),
			)
			continue
		}
		slog.Info("export written",
			slog.String("format", res.Format),
			slog.String("path", res.Path),
		)
	}

	printSummary(sellerRun.Result, results)
}

func resolveSellerURLs(flagURL, configFile string) ([]string, error) {
	if flagURL != "" {
		return []string{flagURL}, nil
	}
	return config.LoadFile(configFile)
}

func buildFetcher(cfg *config.Config) (fetch.Fetcher, func(), error) {
	if cfg.FetchMode == "browser" {
		opts := fetch.DefaultBrowserOptions()
		opts.Headless = cfg.Headless
		opts.Timeout = cfg.Timeout
		opts.UserAgent = cfg.UserAgent
		browser, err := fetch.NewBrowserFetcher(opts)
		if err != nil {
			return nil, nil, err
		}
		return browser, func() {
			if err := browser.Close(); err != nil {
				slog.Error("close browser", slog.Any("error", err))
			}
		}, nil
	}

	httpFetcher, err := fetch.NewHTTPFetcher(fetch.Options{
		AllowedHost: hostOf(cfg.APIBase),
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	cached, err := fetch.NewCachedFetcher(httpFetcher, cfg.PageCacheSize)
	if err != nil {
		return nil, nil, err
	}
	// Challenge bodies must stay out of the cache or blocked retries
	// would be answered from memory instead of the origin.
	classify := parser.SignatureClassifier(parser.DefaultBlockSignatures)
	cached.Cacheable = func(body []byte) bool {
		_, blocked := classify(body)
		return !blocked
	}
	return cached, func() {}, nil
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func printSummary(result *models.RunResult, exports []export.Result) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Products:      %d\n", result.Batch.Count)
	fmt.Printf("  Pages walked:  %d\n", result.PageCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	if len(result.SkippedPages) > 0 {
		fmt.Printf("  Skipped pages: %v\n", result.SkippedPages)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if result.Aborted {
		fmt.Println("  Aborted:       yes (persistent block)")
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	for _, res := range exports {
		status := "ok"
		if res.Err != nil {
			status = "FAILED"
		}
		fmt.Printf("  %-6s export: %s (%s)\n", res.Format, res.Path, status)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
