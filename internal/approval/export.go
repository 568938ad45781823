package approval

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/clamflow/clamflow-bff/model"
)

// ExportSheet is the worksheet name used by WriteWorkbook.
const ExportSheet = "Approvals"

var exportHeader = []any{
	"ID", "Form Type", "Lot", "Station", "Submitted By",
	"Submitted At", "Age (min)", "Priority", "Status",
}

var exportColWidths = []float64{12, 18, 16, 16, 20, 22, 10, 10, 24}

// WriteWorkbook writes the items as an .xlsx workbook with one row per item.
func WriteWorkbook(w io.Writer, items []model.PendingApprovalItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("approval export: %w", err)
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("approval export: header: %w", err)
	}

	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("approval export: %w", err)
		}
		lot := it.LotNumber
		if lot == "" {
			lot = it.LotID
		}
		submittedBy := it.SubmittedByName
		if submittedBy == "" || submittedBy == "Unknown" {
			submittedBy = it.SubmittedBy
		}
		submittedAt := ""
		if !it.SubmittedAt.IsZero() {
			submittedAt = it.SubmittedAt.UTC().Format(time.RFC3339)
		}
		row := []any{
			it.ID, string(it.FormType), lot, it.Station, submittedBy,
			submittedAt, it.AgeInMinutes, string(it.Priority), it.Status,
		}
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("approval export: row %d: %w", i+1, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return fmt.Errorf("approval export: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportHeader))
	if err := f.SetCellStyle(ExportSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("approval export: %w", err)
	}
	for i, w := range exportColWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(ExportSheet, col, col, w); err != nil {
			return fmt.Errorf("approval export: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("approval export: write: %w", err)
	}
	return nil
}
