// Package config holds the immutable run configuration.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KnownFormats are the formats accepted by the -format flag. "all"
// expands to every entry.
var KnownFormats = []string{"excel", "xml", "json"}

// MaxWorkers is a hard ceiling, not a tunable: fetching a storefront
// with more than three parallel workers reliably trips its bot
// detection.
const MaxWorkers = 3

// Config holds all scraper and export settings. It is built once at
// startup and passed by pointer; nothing mutates it after Validate.
type Config struct {
	SellerURL  string
	BaseSite   string
	APIBase    string
	MaxPages   int
	MaxRetries int

	Timeout         time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	DelayMin        time.Duration
	DelayMax        time.Duration

	Workers          int
	EmptyPageLimit   int
	BlockedPageLimit int
	PageCacheSize    int

	OutputDir  string
	OutputStem string
	Formats    []string

	FetchMode string // http or browser
	Headless  bool
	UserAgent string

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns the defaults the original operator profile
// used against the storefront.
func DefaultConfig() *Config {
	return &Config{
		BaseSite:         "https://www.ozon.ru",
		APIBase:          "https://www.ozon.ru/api/composer-api.bx/page/json/v2",
		MaxPages:         100,
		MaxRetries:       3,
		Timeout:          20 * time.Second,
		RetryBackoff:     2 * time.Second,
		RetryBackoffMax:  30 * time.Second,
		DelayMin:         2 * time.Second,
		DelayMax:         5 * time.Second,
		Workers:          1,
		EmptyPageLimit:   1,
		BlockedPageLimit: 3,
		PageCacheSize:    256,
		OutputDir:        "output",
		Formats:          append([]string(nil), KnownFormats...),
		FetchMode:        "http",
		Headless:         true,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SellerURL == "" {
		return fmt.Errorf("seller URL cannot be empty")
	}
	parsed, err := url.Parse(c.SellerURL)
	if err != nil {
		return fmt.Errorf("invalid seller URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("seller URL must include a host")
	}
	if c.BaseSite == "" || c.APIBase == "" {
		return fmt.Errorf("base site and API base cannot be empty")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.DelayMin < 0 || c.DelayMax < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.DelayMin > c.DelayMax {
		return fmt.Errorf("minimum page delay (%s) cannot exceed maximum (%s)", c.DelayMin, c.DelayMax)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Workers > MaxWorkers {
		return fmt.Errorf("workers must not exceed %d", MaxWorkers)
	}
	if c.EmptyPageLimit <= 0 {
		return fmt.Errorf("empty page limit must be positive")
	}
	if c.BlockedPageLimit <= 0 {
		return fmt.Errorf("blocked page limit must be positive")
	}
	if c.PageCacheSize <= 0 {
		return fmt.Errorf("page cache size must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if len(c.Formats) == 0 {
		return fmt.Errorf("at least one export format is required")
	}
	for _, format := range c.Formats {
		if !knownFormat(format) {
			return fmt.Errorf("unknown export format %q", format)
		}
	}
	if c.FetchMode != "http" && c.FetchMode != "browser" {
		return fmt.Errorf("fetch mode must be http or browser")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// ParseFormats expands a -format flag value into the format list.
func ParseFormats(value string) ([]string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "all" {
		return append([]string(nil), KnownFormats...), nil
	}
	var formats []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !knownFormat(part) {
			return nil, fmt.Errorf("unknown export format %q", part)
		}
		formats = append(formats, part)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no export format given")
	}
	return formats, nil
}

func knownFormat(format string) bool {
	for _, known := range KnownFormats {
		if format == known {
			return true
		}
	}
	return false
}

var sellerIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/seller/[^/]+-(\d+)`),
	regexp.MustCompile(`seller_(\d+)`),
	regexp.MustCompile(`/seller/(\d+)`),
}

// SellerID extracts the numeric seller identifier from a storefront
// URL; empty when no known pattern matches.
func SellerID(sellerURL string) string {
	for _, pattern := range sellerIDPatterns {
		if m := pattern.FindStringSubmatch(sellerURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// FileConfig is the optional JSON config file, the fallback when no
// URL is passed on the command line.
type FileConfig struct {
	SellerURL  string   `json:"seller_url"`
	SellerURLs []string `json:"seller_urls"`
}

// LoadFile reads a config file and returns the seller URL list.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	urls := fc.SellerURLs
	if fc.SellerURL != "" {
		urls = append([]string{fc.SellerURL}, urls...)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("config file %s has no seller_url", path)
	}
	return urls, nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
