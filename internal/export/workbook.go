// Package export writes parsed parameter tables to spreadsheets: a new
// workbook, an existing phase template, or a Google Sheet.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"envreport/internal/score"
	"envreport/internal/table"
)

// SheetName is the sheet written by WriteWorkbook.
const SheetName = "Paramètres"

const (
	colorCritical  = "FF0000"
	colorAttention = "FFC000"
	colorHeader    = "E6E6E6"
)

// Workbook builds a workbook with one row per parameter, followed by the score
// columns. results may be nil.
func Workbook(rows []table.Row, results []score.Result) (*excelize.File, error) {
	const op = "export.Workbook"

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	headers := append(table.Headers(), "Score", "Statut")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: header: %w", op, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{colorHeader}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: style: %w", op, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(SheetName, "A1", last, headerStyle)

	levelStyles, err := levelStyles(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: style: %w", op, err)
	}

	for r, row := range rows {
		line := r + 2
		for c, v := range row.Strings() {
			cell, _ := excelize.CoordinatesToCellName(c+1, line)
			if err := f.SetCellValue(SheetName, cell, cellValue(table.Field(c), v)); err != nil {
				f.Close()
				return nil, fmt.Errorf("%s: row %d: %w", op, line, err)
			}
		}
		if r < len(results) && results[r].Scored {
			res := results[r]
			scoreCell, _ := excelize.CoordinatesToCellName(len(table.Schema)+1, line)
			statusCell, _ := excelize.CoordinatesToCellName(len(table.Schema)+2, line)
			_ = f.SetCellValue(SheetName, scoreCell, int(res.Level))
			_ = f.SetCellValue(SheetName, statusCell, res.Status)
			if style, ok := levelStyles[res.Level]; ok {
				_ = f.SetCellStyle(SheetName, scoreCell, statusCell, style)
			}
		}
	}

	widths := []float64{28, 12, 14, 14, 18, 18, 18, 12, 40, 8, 22}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(SheetName, col, col, w)
	}
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f, nil
}

// WriteWorkbook saves Workbook(rows, results) to path.
func WriteWorkbook(path string, rows []table.Row, results []score.Result) error {
	f, err := Workbook(rows, results)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("export: save %s: %w", path, err)
	}
	return nil
}

// WriteWorkbookTo streams the workbook to w.
func WriteWorkbookTo(w io.Writer, rows []table.Row, results []score.Result) error {
	f, err := Workbook(rows, results)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

func levelStyles(f *excelize.File) (map[score.Level]int, error) {
	out := map[score.Level]int{}
	for level, color := range map[score.Level]string{score.Attention: colorAttention, score.Critical: colorCritical} {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return nil, err
		}
		out[level] = id
	}
	return out, nil
}

// cellValue writes the numeric columns as numbers when they parse cleanly.
func cellValue(f table.Field, v string) any {
	switch f {
	case table.Min, table.Max, table.Initial, table.Discharge, table.Total:
		if n, ok := plainNumber(v); ok {
			return n
		}
	}
	return v
}
