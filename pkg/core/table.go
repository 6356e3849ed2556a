package core

import (
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

// Header is the structural preamble of a file: its column names and the
// suggested plot axes. Axis indices are always valid into Columns.
type Header struct {
	Columns []string `json:"columns"`
	Axes    Axes     `json:"axes"`
}

// NewHeader builds a header and clamps the axes to the column count.
func NewHeader(columns []string, axes Axes) *Header {
	return &Header{Columns: append([]string{}, columns...), Axes: axes.Clamp(len(columns))}
}

// Equal reports whether two headers describe the same file type.
func (h *Header) Equal(o *Header) bool {
	if h == nil || o == nil {
		return h == o
	}
	if len(h.Columns) != len(o.Columns) {
		return false
	}
	for i := range h.Columns {
		if h.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return h.Axes.Equal(o.Axes)
}

// Table is a tabular extraction result backed by an Arrow record.
// Column names are unique; every column has the same number of rows.
type Table struct {
	rec arrow.Record
}

// NewTable wraps rec; the table takes over the caller's reference.
func NewTable(rec arrow.Record) *Table {
	return &Table{rec: rec}
}

// Record returns the underlying record. The table keeps ownership.
func (t *Table) Record() arrow.Record {
	return t.rec
}

// Schema returns the record schema.
func (t *Table) Schema() *arrow.Schema {
	return t.rec.Schema()
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return int(t.rec.NumRows())
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	return int(t.rec.NumCols())
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, t.rec.NumCols())
	for i := range out {
		out[i] = t.rec.ColumnName(i)
	}
	return out
}

// Column returns the named column.
func (t *Table) Column(name string) (arrow.Array, bool) {
	idx := t.rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, false
	}
	return t.rec.Column(idx[0]), true
}

// Float64s returns a numeric column with nulls as NaN.
func (t *Table) Float64s(name string) ([]float64, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("no column %q", name)
	}
	f, ok := col.(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, not float64", name, col.DataType())
	}
	out := make([]float64, f.Len())
	for i := range out {
		if f.IsNull(i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = f.Value(i)
	}
	return out, nil
}

// Strings returns any column rendered as text; nulls become empty strings.
func (t *Table) Strings(name string) ([]string, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("no column %q", name)
	}
	out := make([]string, col.Len())
	for i := range out {
		out[i] = CellString(col, i)
	}
	return out, nil
}

// Release frees the Arrow memory held by the table.
func (t *Table) Release() {
	if t != nil && t.rec != nil {
		t.rec.Release()
	}
}

// CellString renders one cell of an Arrow column.
func CellString(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return ""
	}
	switch c := col.(type) {
	case *array.Float64:
		return strconv.FormatFloat(c.Value(i), 'g', -1, 64)
	case *array.String:
		return c.Value(i)
	case *array.Int64:
		return strconv.FormatInt(c.Value(i), 10)
	default:
		return c.ValueStr(i)
	}
}

// UniqueNames disambiguates repeated column names by suffixing ".1", ".2", ...
func UniqueNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		if c, ok := seen[n]; ok {
			candidate := n
			for {
				c++
				candidate = n + "." + strconv.Itoa(c)
				if _, taken := seen[candidate]; !taken {
					break
				}
			}
			seen[n] = c
			seen[candidate] = 0
			out[i] = candidate
			continue
		}
		seen[n] = 0
		out[i] = n
	}
	return out
}

// TableBuilder accumulates numeric rows into a Table.
type TableBuilder struct {
	mem      memory.Allocator
	names    []string
	builders []*array.Float64Builder
}

// NewTableBuilder creates a builder with one float64 column per name.
func NewTableBuilder(columns []string) *TableBuilder {
	mem := memory.DefaultAllocator
	names := UniqueNames(columns)
	builders := make([]*array.Float64Builder, len(names))
	for i := range builders {
		builders[i] = array.NewFloat64Builder(mem)
	}
	return &TableBuilder{mem: mem, names: names, builders: builders}
}

// Columns returns the (de-duplicated) column names.
func (b *TableBuilder) Columns() []string {
	return b.names
}

// Len returns the number of rows appended so far.
func (b *TableBuilder) Len() int {
	if len(b.builders) == 0 {
		return 0
	}
	return b.builders[0].Len()
}

// AppendFields appends one row of text fields. Missing trailing fields and
// fields that are not numbers become nulls; extra fields are ignored.
// It returns how many fields parsed as numbers.
func (b *TableBuilder) AppendFields(fields []string) int {
	parsed := 0
	for i, bld := range b.builders {
		if i >= len(fields) {
			bld.AppendNull()
			continue
		}
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil || math.IsNaN(v) {
			bld.AppendNull()
			continue
		}
		bld.Append(v)
		parsed++
	}
	return parsed
}

// AppendValues appends one row of numbers; NaN is stored as null.
func (b *TableBuilder) AppendValues(values []float64) {
	for i, bld := range b.builders {
		if i >= len(values) || math.IsNaN(values[i]) {
			bld.AppendNull()
			continue
		}
		bld.Append(values[i])
	}
}

// Build finishes the table and resets the builder.
func (b *TableBuilder) Build() *Table {
	fields := make([]arrow.Field, len(b.names))
	cols := make([]arrow.Array, len(b.names))
	for i, bld := range b.builders {
		fields[i] = arrow.Field{Name: b.names[i], Type: arrow.PrimitiveTypes.Float64, Nullable: true}
		cols[i] = bld.NewArray()
	}
	rows := int64(0)
	if len(cols) > 0 {
		rows = int64(cols[0].Len())
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, rows)
	for _, c := range cols {
		c.Release()
	}
	return NewTable(rec)
}

// Release frees builder memory without producing a table.
func (b *TableBuilder) Release() {
	for _, bld := range b.builders {
		bld.Release()
	}
}
