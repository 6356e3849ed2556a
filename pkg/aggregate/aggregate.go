// Package aggregate combines per-target results into one dataset.
//
// Merge stacks same-format files row-wise and adds a "color" column naming
// each row's origin. Parallel aligns different-format files on the row index
// and unions their columns, collapsing repeated names to the element-wise
// maximum.
package aggregate

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// ColorColumn is the origin column added by Merge.
const ColorColumn = "color"

// Tables combines tables extracted from targets (same order) and takes
// ownership of them: inputs are released unless returned as the result.
func Tables(tables []*core.Table, targets []core.Target, mode core.Mode) (*core.Table, error) {
	switch len(tables) {
	case 0:
		return nil, errors.InvalidRequest("nothing to combine")
	case 1:
		return tables[0], nil
	}
	defer func() {
		for _, t := range tables {
			t.Release()
		}
	}()

	switch mode {
	case core.ModeMerge:
		return Merge(tables, targets)
	case core.ModeParallel:
		return Parallel(tables)
	default:
		return nil, errors.InvalidRequest("unknown mode %d", mode)
	}
}

// Headers combines per-target headers.
func Headers(headers []*core.Header, mode core.Mode) (*core.Header, error) {
	switch len(headers) {
	case 0:
		return nil, errors.InvalidRequest("nothing to combine")
	case 1:
		return headers[0], nil
	}
	switch mode {
	case core.ModeMerge:
		return MergeHeaders(headers)
	case core.ModeParallel:
		return ParallelHeaders(headers), nil
	default:
		return nil, errors.InvalidRequest("unknown mode %d", mode)
	}
}

// MergeHeaders requires every header to be identical.
func MergeHeaders(headers []*core.Header) (*core.Header, error) {
	first := headers[0]
	for i, h := range headers[1:] {
		if !first.Equal(h) {
			return nil, errors.DifferentFileTypes(
				"cannot merge headers: file 1 has columns %v, file %d has %v", first.Columns, i+2, h.Columns)
		}
	}
	return core.NewHeader(first.Columns, first.Axes.Clone()), nil
}

// ParallelHeaders concatenates column lists. Axis suggestions come from the
// first header, plus every later y suggestion shifted past the columns before it.
func ParallelHeaders(headers []*core.Header) *core.Header {
	var columns []string
	axes := headers[0].Axes.Clone()
	shift := 0
	for i, h := range headers {
		columns = append(columns, h.Columns...)
		if i > 0 {
			for _, y := range h.Axes.Y {
				axes.Y = append(axes.Y, y+shift)
			}
		}
		shift += len(h.Columns)
	}
	return &core.Header{Columns: columns, Axes: axes.Clamp(len(columns))}
}

// Merge concatenates rows of tables that share a column set. Columns follow
// the first table's order, and a utf8 "color" column labels each row's origin.
func Merge(tables []*core.Table, targets []core.Target) (*core.Table, error) {
	if len(tables) != len(targets) {
		return nil, errors.InvalidRequest("got %d tables for %d targets", len(tables), len(targets))
	}
	mem := memory.DefaultAllocator
	names := tables[0].Columns()

	for i, t := range tables[1:] {
		if !sameColumnSet(names, t.Columns()) {
			return nil, errors.DifferentFileTypes(
				"cannot merge data: file 1 has columns %v, file %d has %v", names, i+2, t.Columns())
		}
	}

	fields := make([]arrow.Field, 0, len(names)+1)
	cols := make([]arrow.Array, 0, len(names)+1)
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	for _, name := range names {
		parts := make([]arrow.Array, len(tables))
		for i, t := range tables {
			col, _ := t.Column(name)
			if i > 0 && !arrow.TypeEqual(col.DataType(), parts[0].DataType()) {
				return nil, errors.DifferentFileTypes(
					"cannot merge data: column %q is %s in file 1 and %s in file %d",
					name, parts[0].DataType(), col.DataType(), i+1)
			}
			parts[i] = col
		}
		merged, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeUnknown, "concatenate column %q", name)
		}
		cols = append(cols, merged)
		fields = append(fields, arrow.Field{Name: name, Type: merged.DataType(), Nullable: true})
	}

	labels := Labels(targets)
	colorName := core.UniqueNames(append(append([]string{}, names...), ColorColumn))[len(names)]
	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	for i, t := range tables {
		for r := 0; r < t.NumRows(); r++ {
			sb.Append(labels[i])
		}
	}
	color := sb.NewArray()
	cols = append(cols, color)
	fields = append(fields, arrow.Field{Name: colorName, Type: arrow.BinaryTypes.String})

	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(color.Len()))
	return core.NewTable(rec), nil
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}

// Labels returns the shortest distinguishing name of every target: its path
// without the longest common directory and without the file name. Labels
// that would still collide are prefixed with the host.
func Labels(targets []core.Target) []string {
	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = t.Path
	}
	common := commonPath(paths)

	labels := make([]string, len(targets))
	for i, p := range paths {
		label := p
		if common != "" {
			label = strings.TrimPrefix(label, strings.TrimSuffix(common, "/")+"/")
		}
		label = strings.TrimSuffix(label, "/"+path.Base(p))
		if label == "" {
			label = path.Base(p)
		}
		labels[i] = label
	}

	if hasDuplicates(labels) {
		for i, t := range targets {
			if t.Host != "" {
				labels[i] = t.Host + ":" + labels[i]
			}
		}
	}
	return core.UniqueNames(labels)
}

// commonPath returns the longest common sequence of leading path elements.
func commonPath(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := strings.Split(paths[0], "/")
	for _, p := range paths[1:] {
		parts := strings.Split(p, "/")
		n := 0
		for n < len(prefix) && n < len(parts) && prefix[n] == parts[n] {
			n++
		}
		prefix = prefix[:n]
	}
	joined := strings.Join(prefix, "/")
	if joined == "" && len(prefix) > 0 {
		return "/"
	}
	return joined
}

func hasDuplicates(s []string) bool {
	seen := make(map[string]bool, len(s))
	for _, v := range s {
		if seen[v] {
			return true
		}
		seen[v] = true
	}
	return false
}

// Parallel aligns every table to the first one's row count and unions the
// columns, sorted by name. Columns that occur in several tables hold the
// element-wise maximum, ignoring nulls.
func Parallel(tables []*core.Table) (*core.Table, error) {
	mem := memory.DefaultAllocator
	rows := tables[0].NumRows()

	var order []string
	groups := make(map[string][]arrow.Array)
	var owned []arrow.Array
	defer func() {
		for _, a := range owned {
			a.Release()
		}
	}()

	for _, t := range tables {
		rec := t.Record()
		for c := 0; c < int(rec.NumCols()); c++ {
			name := rec.ColumnName(c)
			aligned := reindex(mem, rec.Column(c), rows)
			owned = append(owned, aligned)
			if _, ok := groups[name]; !ok {
				order = append(order, name)
			}
			groups[name] = append(groups[name], aligned)
		}
	}

	sort.Strings(order)

	fields := make([]arrow.Field, len(order))
	cols := make([]arrow.Array, len(order))
	for i, name := range order {
		col, err := maxOf(mem, groups[name], rows)
		if err != nil {
			for _, c := range cols[:i] {
				c.Release()
			}
			return nil, err
		}
		cols[i] = col
		fields[i] = arrow.Field{Name: name, Type: col.DataType(), Nullable: true}
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(rows))
	for _, c := range cols {
		c.Release()
	}
	return core.NewTable(rec), nil
}

// reindex returns a new reference to arr truncated or null-padded to n rows.
func reindex(mem memory.Allocator, arr arrow.Array, n int) arrow.Array {
	switch {
	case arr.Len() == n:
		arr.Retain()
		return arr
	case arr.Len() > n:
		return array.NewSlice(arr, 0, int64(n))
	default:
		pad := array.MakeArrayOfNull(mem, arr.DataType(), n-arr.Len())
		defer pad.Release()
		out, err := array.Concatenate([]arrow.Array{arr, pad}, mem)
		if err != nil {
			// Same type on both sides; concatenation cannot fail here.
			panic(fmt.Sprintf("pad column: %v", err))
		}
		return out
	}
}

// maxOf folds same-named columns into one. A single column is passed through.
func maxOf(mem memory.Allocator, arrs []arrow.Array, rows int) (arrow.Array, error) {
	if len(arrs) == 1 {
		arrs[0].Retain()
		return arrs[0], nil
	}

	numeric := true
	for _, a := range arrs {
		if _, ok := a.(*array.Float64); !ok {
			numeric = false
			break
		}
	}

	if numeric {
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for r := 0; r < rows; r++ {
			best, found := math.Inf(-1), false
			for _, a := range arrs {
				f := a.(*array.Float64)
				if f.IsNull(r) {
					continue
				}
				if v := f.Value(r); !found || v > best {
					best, found = v, true
				}
			}
			if found {
				b.Append(best)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray(), nil
	}

	b := array.NewStringBuilder(mem)
	defer b.Release()
	for r := 0; r < rows; r++ {
		best, found := "", false
		for _, a := range arrs {
			if a.IsNull(r) {
				continue
			}
			if v := core.CellString(a, r); !found || v > best {
				best, found = v, true
			}
		}
		if found {
			b.Append(best)
		} else {
			b.AppendNull()
		}
	}
	return b.NewArray(), nil
}
