package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ozontools/seller-export/models"
)

// ExcelExporter writes the batch as a spreadsheet: one styled header
// row plus one row per product, columns sized to their content. The
// layout is presentational; JSON and XML are the machine formats.
type ExcelExporter struct{}

func (e *ExcelExporter) Format() string { return "excel" }

const excelSheet = "Products"

var excelHeader = []string{
	"SKU",
	"Name",
	"Current Price",
	"Original Price",
	"Rating",
	"Reviews",
	"Seller",
	"Seller INN",
	"Brand",
	"Category",
	"Link",
	"Image",
}

const maxColumnWidth = 60

// Export writes the batch to path.
func (e *ExcelExporter) Export(batch *models.ExportBatch, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(excelSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	header := make([]interface{}, len(excelHeader))
	for i, name := range excelHeader {
		header[i] = name
	}
	if err := f.SetSheetRow(excelSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	if err := styleHeader(f); err != nil {
		return err
	}

	widths := make([]int, len(excelHeader))
	for i, name := range excelHeader {
		widths[i] = len(name)
	}

	for rowIdx, product := range batch.Products {
		row := productRow(product)
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return fmt.Errorf("row coordinates: %w", err)
		}
		if err := f.SetSheetRow(excelSheet, cell, &row); err != nil {
			return fmt.Errorf("write product row: %w", err)
		}
		for colIdx, value := range row {
			if text, ok := value.(string); ok && len(text) > widths[colIdx] {
				widths[colIdx] = len(text)
			}
		}
	}

	for colIdx, width := range widths {
		column, err := excelize.ColumnNumberToName(colIdx + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		adjusted := width + 2
		if adjusted > maxColumnWidth {
			adjusted = maxColumnWidth
		}
		if err := f.SetColWidth(excelSheet, column, column, float64(adjusted)); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save excel file: %w", err)
	}
	return nil
}

func styleHeader(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
			WrapText:   true,
		},
		Border: []excelize.Border{
			{Type: "left", Style: 1, Color: "000000"},
			{Type: "right", Style: 1, Color: "000000"},
			{Type: "top", Style: 1, Color: "000000"},
			{Type: "bottom", Style: 1, Color: "000000"},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	last, err := excelize.ColumnNumberToName(len(excelHeader))
	if err != nil {
		return fmt.Errorf("column name: %w", err)
	}
	if err := f.SetCellStyle(excelSheet, "A1", last+"1", style); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetRowHeight(excelSheet, 1, 30); err != nil {
		return fmt.Errorf("set header height: %w", err)
	}
	return nil
}

func productRow(p *models.Product) []interface{} {
	return []interface{}{
		p.SKU,
		p.Name,
		p.CurrentPrice,
		p.OriginalPrice,
		p.Rating,
		p.ReviewsCount,
		p.SellerName,
		p.SellerINN,
		p.Brand,
		p.Category,
		p.Link,
		p.ImageURL,
	}
}
