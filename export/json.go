package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ozontools/seller-export/models"
)

// JSONExporter writes the batch as a single document: run metadata
// followed by the ordered product list.
type JSONExporter struct{}

func (e *JSONExporter) Format() string { return "json" }

// Export writes the batch to path.
func (e *JSONExporter) Export(batch *models.ExportBatch, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(batch); err != nil {
		f.Close()
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush json file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close json file: %w", err)
	}
	return nil
}

// ImportJSON reads a batch back from a JSON export. The product order
// of the original batch is preserved.
func ImportJSON(path string) (*models.ExportBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read json file: %w", err)
	}
	var batch models.ExportBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &batch, nil
}
