// Package models defines the value types shared across the pipeline.
package models

import "time"

// Product is a single storefront listing as extracted from the composer
// API. Prices, rating and review counts are kept as the formatted strings
// the API returns; optional fields are empty when the tile does not
// expose them.
type Product struct {
	SKU           string `json:"sku" xml:"sku"`
	Name          string `json:"name" xml:"name"`
	CurrentPrice  string `json:"current_price" xml:"current_price"`
	OriginalPrice string `json:"original_price" xml:"original_price"`
	Rating        string `json:"rating" xml:"rating"`
	ReviewsCount  string `json:"reviews_count" xml:"reviews_count"`
	SellerName    string `json:"seller_name" xml:"seller_name"`
	SellerINN     string `json:"seller_inn" xml:"seller_inn"`
	Brand         string `json:"brand" xml:"brand"`
	Category      string `json:"category" xml:"category"`
	Link          string `json:"link" xml:"link"`
	ImageURL      string `json:"image_url" xml:"image_url"`
}

// ExportBatch is the frozen outcome of one run: the deduplicated,
// page-ordered product list plus run metadata. Exporters consume it
// read-only and never mutate it.
type ExportBatch struct {
	Count      int        `json:"count"`
	ExportedAt time.Time  `json:"exported_at"`
	SellerURL  string     `json:"seller_url"`
	SellerID   string     `json:"seller_id,omitempty"`
	Products   []*Product `json:"products"`
}

// RunResult holds the overall outcome of a pagination run.
type RunResult struct {
	Batch        *ExportBatch
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	RetryCount   int
	ErrorCount   int
	SkippedPages []int
	ErrorsByType map[string]int
	Aborted      bool
}
