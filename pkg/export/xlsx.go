package export

import (
	"math"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/xuri/excelize/v2"

	"github.com/simvis/simvis/pkg/core"
)

// WriteXLSX writes t to one sheet with a header row. Null cells stay empty.
func WriteXLSX(t *core.Table, path, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]interface{}, t.NumCols())
	for i, name := range t.Columns() {
		header[i] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	rec := t.Record()
	row := make([]interface{}, t.NumCols())
	for r := 0; r < t.NumRows(); r++ {
		for c := range row {
			row[c] = cellValue(rec.Column(c), r)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	return replaceFile(path, func(tmp string) error {
		return f.SaveAs(tmp)
	})
}

func cellValue(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch c := col.(type) {
	case *array.Float64:
		v := c.Value(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case *array.Int64:
		return c.Value(i)
	default:
		return core.CellString(col, i)
	}
}
