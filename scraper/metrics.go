package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pagination driver.
type Metrics struct {
	Registry       *prometheus.Registry
	PagesTotal     *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	ProductsTotal  prometheus.Counter
	RetriesTotal   prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
	BlockedStreaks prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_export_pages_total",
			Help: "Pages processed by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seller_export_fetch_duration_seconds",
			Help:    "Latency of page fetch attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seller_export_products_total",
			Help: "Product tiles sent to the pipeline.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seller_export_retries_total",
			Help: "Retry attempts scheduled for pages.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seller_export_errors_total",
			Help: "Page errors by type.",
		},
		[]string{"error_type"},
	)
	blockedStreaks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seller_export_blocked_streak",
			Help: "Current run of consecutive blocked pages.",
		},
	)

	registry.MustRegister(pages, fetchDuration, products, retries, errorsTotal, blockedStreaks)

	return &Metrics{
		Registry:       registry,
		PagesTotal:     pages,
		FetchDuration:  fetchDuration,
		ProductsTotal:  products,
		RetriesTotal:   retries,
		ErrorsTotal:    errorsTotal,
		BlockedStreaks: blockedStreaks,
	}
}

// IncPage increments the pages counter for an outcome label.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one fetch attempt duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// AddProducts adds to the product tile counter.
func (m *Metrics) AddProducts(n int) {
	if m == nil {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetBlockedStreak records the current consecutive-blocked-page count.
func (m *Metrics) SetBlockedStreak(n int) {
	if m == nil {
		return
	}
	m.BlockedStreaks.Set(float64(n))
}
