package compliance

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Summary"
	sheetEpisodes = "Episodes"
)

var summaryHeader = []string{
	"Element ID", "Name", "Met", "Not Met", "Pending", "N/A", "Compliance Rate (%)",
}

var episodeHeader = []string{
	"Episode ID", "Patient ID", "Trigger Time", "Status",
	"Met", "Not Met", "Pending", "N/A", "Adherence (%)", "Overall Adherence (%)",
}

var summaryWidths = []float64{28, 40, 8, 8, 8, 8, 20}

var episodeWidths = []float64{38, 16, 20, 12, 8, 8, 8, 8, 14, 20}

// ExportXLSX renders the report as a two-sheet workbook: a per-element
// summary and a per-episode breakdown.
func ExportXLSX(r *Report) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, so Close runs on error paths and after
	// the final write rather than in a defer.

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summaryIdx, err := f.NewSheet(sheetSummary)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetEpisodes); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(summaryIdx)

	summaryRows := make([][]any, 0, len(r.Elements))
	for _, st := range r.Elements {
		summaryRows = append(summaryRows, []any{
			st.ElementID, st.Name, st.Met, st.NotMet, st.Pending, st.NotApplicable,
			rateCell(st.ComplianceRate),
		})
	}
	episodeRows := make([][]any, 0, len(r.Episodes))
	for _, ea := range r.Episodes {
		episodeRows = append(episodeRows, []any{
			ea.EpisodeID.String(), ea.PatientID,
			ea.TriggerTime.Format("2006-01-02 15:04"), string(ea.Status),
			ea.Met, ea.NotMet, ea.Pending, ea.NotApplicable,
			rateCell(ea.AdherencePct), rateCell(ea.OverallAdherencePct),
		})
	}

	if err := fillSheet(f, sheetSummary, headerStyle, summaryHeader, summaryWidths, summaryRows); err != nil {
		f.Close()
		return nil, err
	}
	if err := fillSheet(f, sheetEpisodes, headerStyle, episodeHeader, episodeWidths, episodeRows); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// fillSheet writes the styled header row, column widths, and data rows,
// then freezes the header. A nil cell value leaves the cell empty.
func fillSheet(f *excelize.File, sheet string, headerStyle int, headers []string, widths []float64, rows [][]any) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	for rowIdx, row := range rows {
		for colIdx, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return nil
}

func rateCell(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
