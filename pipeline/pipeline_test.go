package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/ozontools/seller-export/config"
	"github.com/ozontools/seller-export/parser"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SellerURL = "https://www.ozon.ru/seller/shop-123456/"
	return cfg
}

func tile(sku, name string) parser.RawProduct {
	return parser.RawProduct{"sku": sku, "name": name}
}

func TestPipelineAccumulatesInOrder(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()

	if err := p.Process(tile("1", "First"), tile("2", "Second"), tile("3", "Third")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	batch := p.Batch("https://www.ozon.ru/seller/shop-123456/")
	if batch.Count != 3 {
		t.Fatalf("count=%d, want 3", batch.Count)
	}
	for i, want := range []string{"1", "2", "3"} {
		if batch.Products[i].SKU != want {
			t.Fatalf("products[%d].SKU=%q, want %q", i, batch.Products[i].SKU, want)
		}
	}
	if batch.SellerID != "123456" {
		t.Fatalf("seller id=%q, want 123456", batch.SellerID)
	}
	if batch.ExportedAt.IsZero() {
		t.Fatalf("batch timestamp must be set")
	}
}

func TestPipelineDedupeFirstSeenWins(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()

	// Same SKU shows up on two pages with diverging names; the first
	// occurrence must survive.
	if err := p.Process(tile("100", "Page One Name")); err != nil {
		t.Fatalf("process page 1: %v", err)
	}
	if err := p.Process(tile("100", "Page Two Name"), tile("200", "Other")); err != nil {
		t.Fatalf("process page 2: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	batch := p.Batch("https://www.ozon.ru/seller/shop-123456/")
	if batch.Count != 2 {
		t.Fatalf("count=%d, want 2", batch.Count)
	}
	if batch.Products[0].Name != "Page One Name" {
		t.Fatalf("name=%q, first occurrence must win", batch.Products[0].Name)
	}

	metrics := p.GetMetrics()
	drops, ok := metrics["dropped_records"].(map[string]int)
	if !ok {
		t.Fatalf("expected dropped records map")
	}
	if drops["duplicate_sku"] != 1 {
		t.Fatalf("duplicate_sku drops=%d, want 1", drops["duplicate_sku"])
	}
}

func TestPipelineDropsRecordsWithoutSKU(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()

	if err := p.Process(tile("", "No ID"), parser.RawProduct{"name": "Still no ID"}, tile("5", "Kept")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	batch := p.Batch("https://www.ozon.ru/seller/shop-123456/")
	if batch.Count != 1 {
		t.Fatalf("count=%d, want 1", batch.Count)
	}

	metrics := p.GetMetrics()
	drops := metrics["dropped_records"].(map[string]int)
	if drops["missing_sku"] != 2 {
		t.Fatalf("missing_sku drops=%d, want 2", drops["missing_sku"])
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(tile("1", "Too late")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	p := NewPipeline(testConfig())
	// Never started: nothing drains the channel, so Close must give up.

	if err := p.Process(tile("1", "Stuck")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() { drainTimeout = previousTimeout })

	if err := p.Close(); !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func TestPipelineBatchIsFrozenCopy(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()

	if err := p.Process(tile("1", "Only")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := p.Batch("https://www.ozon.ru/seller/shop-123456/")
	second := p.Batch("https://www.ozon.ru/seller/shop-123456/")

	first.Products[0] = nil
	if second.Products[0] == nil {
		t.Fatalf("batches must not share the product slice")
	}
}
