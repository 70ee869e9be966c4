// Package pipeline accumulates normalized products for one run and
// freezes them into an export batch.
package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/ozontools/seller-export/config"
	"github.com/ozontools/seller-export/models"
	"github.com/ozontools/seller-export/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up draining.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// Pipeline owns the accumulating record sequence of a single run. Raw
// tiles are normalized, validated and deduplicated by SKU on a single
// consumer goroutine, so the resulting order is exactly the enqueue
// order and the first occurrence of a SKU wins.
type Pipeline struct {
	cfg    *config.Config
	itemCh chan parser.RawProduct
	done   chan struct{}

	seen     map[string]struct{}
	products []*models.Product

	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		itemCh:   make(chan parser.RawProduct, 512),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	go p.consume()
}

// Process enqueues raw tiles for normalization and accumulation.
func (p *Pipeline) Process(items ...parser.RawProduct) error {
	if len(items) == 0 {
		return nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipelineClosed
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := p.enqueue(item); err != nil {
			return err
		}
	}
	return nil
}

// Close drains pending items and prevents further submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	select {
	case <-p.done:
		return nil
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}
}

// Batch freezes the accumulated records into an ExportBatch. Valid only
// after Close has returned.
func (p *Pipeline) Batch(sellerURL string) *models.ExportBatch {
	products := make([]*models.Product, len(p.products))
	copy(products, p.products)
	return &models.ExportBatch{
		Count:      len(products),
		ExportedAt: time.Now(),
		SellerURL:  sellerURL,
		SellerID:   config.SellerID(sellerURL),
		Products:   products,
	}
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) consume() {
	defer close(p.done)

	for item := range p.itemCh {
		product := parser.Normalize(item, p.cfg.BaseSite)
		if err := parser.ValidateProduct(product); err != nil {
			p.metrics.addDrop("missing_sku")
			continue
		}
		if _, ok := p.seen[product.SKU]; ok {
			p.metrics.addDrop("duplicate_sku")
			continue
		}
		p.seen[product.SKU] = struct{}{}
		p.products = append(p.products, product)
		p.metrics.incrementProcessed()
	}
}

func (p *Pipeline) enqueue(item parser.RawProduct) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.itemCh <- item:
		return nil
	}
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	drops     map[string]int
}

func newMetrics() metrics {
	return metrics{
		drops: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addDrop(kind string) {
	m.mu.Lock()
	m.drops[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	drops := make(map[string]int, len(m.drops))
	for k, v := range m.drops {
		drops[k] = v
	}
	return map[string]interface{}{
		"processed_products": m.processed,
		"dropped_records":    drops,
	}
}
