// Package export serializes a frozen ExportBatch to the supported file
// formats. Exporters are independent: each one opens, writes and closes
// its own file, and a failure in one never touches the others.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ozontools/seller-export/models"
)

// Exporter writes one batch to one destination file.
type Exporter interface {
	Format() string
	Export(batch *models.ExportBatch, path string) error
}

// ForFormat returns the exporter registered for a format name.
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "xml":
		return &XMLExporter{}, nil
	case "excel":
		return &ExcelExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Extension maps a format name to its file extension.
func Extension(format string) string {
	if format == "excel" {
		return "xlsx"
	}
	return format
}

// Result is the outcome of one exporter invocation.
type Result struct {
	Format string
	Path   string
	Err    error
}

// All runs every requested exporter against the same batch, writing
// <dir>/<stem>.<ext> per format. Errors are contained per exporter so a
// failed JSON write still leaves the Excel file behind.
func All(batch *models.ExportBatch, dir, stem string, formats []string) []Result {
	results := make([]Result, 0, len(formats))
	for _, format := range formats {
		path := filepath.Join(dir, stem+"."+Extension(format))
		exporter, err := ForFormat(format)
		if err != nil {
			results = append(results, Result{Format: format, Path: path, Err: err})
			continue
		}
		if err := ensureDir(path); err != nil {
			results = append(results, Result{Format: format, Path: path, Err: err})
			continue
		}
		results = append(results, Result{
			Format: format,
			Path:   path,
			Err:    exporter.Export(batch, path),
		})
	}
	return results
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
