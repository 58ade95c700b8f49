package xlsx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
)

// DefaultSheet is used when Options.Sheet is empty.
const DefaultSheet = "Projects"

// Options controls an export.
type Options struct {
	Sheet   string
	MaxRows int64 // <= 0 exports every matching row
}

// Export writes the rows selected by plan as an XLSX workbook to w, in plan
// order, with one bold header row. It returns the number of data rows written.
//
// Example:
//
//	n, err := xlsx.Export(ctx, w, plan, xlsx.Options{MaxRows: 10000})
func Export(ctx context.Context, w io.Writer, plan query.Plan, opts Options) (int, error) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	limit := opts.MaxRows
	if limit <= 0 {
		total, err := plan.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count rows: %w", err)
		}
		limit = total
	}
	rows, err := plan.Slice(ctx, 0, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to read rows: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return 0, fmt.Errorf("failed to drop default sheet: %w", err)
		}
	}

	styles, err := newStyles(f)
	if err != nil {
		return 0, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to open stream writer: %w", err)
	}

	columns := plan.Columns()
	if len(columns) > 0 {
		if err := sw.SetColWidth(1, len(columns), 18); err != nil {
			return 0, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	header := make([]any, len(columns))
	for i, name := range columns {
		header[i] = excelize.Cell{StyleID: styles.header, Value: name}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		cells := make([]any, len(columns))
		for col := range columns {
			var v any
			if col < len(row) {
				v = row[col]
			}
			cells[col] = styles.cell(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}
	return len(rows), nil
}

// ReadRows reads a sheet back as strings: the header row and the data rows.
// An empty sheet name selects the first sheet.
func ReadRows(r io.Reader, sheet string) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q has no header", sheet)
	}
	return rows[0], rows[1:], nil
}

type styleSet struct {
	header, integer, decimal, date, datetime, text int
}

func newStyles(f *excelize.File) (styleSet, error) {
	var s styleSet
	var err error
	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return s, fmt.Errorf("failed to create header style: %w", err)
	}

	// Built-in number formats: 1 "0", 2 "0.00", 14 "m/d/yy", 22 "m/d/yy h:mm", 49 "@".
	for _, spec := range []struct {
		dst    *int
		numFmt int
	}{
		{&s.integer, 1}, {&s.decimal, 2}, {&s.date, 14}, {&s.datetime, 22}, {&s.text, 49},
	} {
		if *spec.dst, err = f.NewStyle(&excelize.Style{NumFmt: spec.numFmt}); err != nil {
			return s, fmt.Errorf("failed to create cell style: %w", err)
		}
	}
	return s, nil
}

// cell picks the number format for a dataset value. Nulls become empty cells.
func (s styleSet) cell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		return excelize.Cell{StyleID: s.integer, Value: x}
	case float64:
		return excelize.Cell{StyleID: s.decimal, Value: x}
	case bool:
		if x {
			return excelize.Cell{StyleID: s.text, Value: "TRUE"}
		}
		return excelize.Cell{StyleID: s.text, Value: "FALSE"}
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return excelize.Cell{StyleID: s.date, Value: x}
		}
		return excelize.Cell{StyleID: s.datetime, Value: x}
	default:
		return excelize.Cell{StyleID: s.text, Value: fmt.Sprint(x)}
	}
}
