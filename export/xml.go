package export

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/ozontools/seller-export/models"
)

// XMLExporter writes the batch as a products tree: a root element
// carrying count and timestamp attributes with one product child per
// record. encoding/xml escapes reserved characters on the way out.
type XMLExporter struct{}

func (e *XMLExporter) Format() string { return "xml" }

type xmlBatch struct {
	XMLName    xml.Name          `xml:"products"`
	Count      int               `xml:"count,attr"`
	ExportedAt string            `xml:"exported_at,attr"`
	SellerURL  string            `xml:"seller_url,attr,omitempty"`
	Products   []*models.Product `xml:"product"`
}

// Export writes the batch to path.
func (e *XMLExporter) Export(batch *models.ExportBatch, path string) error {
	doc := xmlBatch{
		Count:      batch.Count,
		ExportedAt: batch.ExportedAt.Format(time.RFC3339),
		SellerURL:  batch.SellerURL,
		Products:   batch.Products,
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write xml file: %w", err)
	}
	return nil
}
