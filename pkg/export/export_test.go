package export

import (
	"bytes"
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/simvis/simvis/pkg/aggregate"
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
	"github.com/simvis/simvis/pkg/testing/fakes"
)

func merged(t *testing.T) *core.Table {
	a := fakes.Table([]string{"time", "d1"}, []float64{0, 1.5}, []float64{1, math.NaN()})
	b := fakes.Table([]string{"time", "d1"}, []float64{0, 2.5})
	out, err := aggregate.Tables([]*core.Table{a, b},
		[]core.Target{{Path: "/r/a/COLVAR"}, {Path: "/r/b/COLVAR"}}, core.ModeMerge)
	require.NoError(t, err)
	t.Cleanup(out.Release)
	return out
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"out.csv":         FormatCSV,
		"OUT.PARQUET":     FormatParquet,
		"x/y.xlsx":        FormatXLSX,
		"runs.duckdb":     FormatDuckDB,
		"/abs/runs.db":    FormatDuckDB,
		"data.parquet.pq": FormatParquet,
	}
	for name, want := range tests {
		got, err := FormatFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := FormatFor("out.json")
	assert.True(t, errors.IsCode(err, errors.CodeExportFailed))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, merged(t)))
	assert.Equal(t, "time,d1,color\n0,1.5,a\n1,,a\n0,2.5,b\n", buf.String())
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	require.NoError(t, Write(context.Background(), merged(t), path, Options{}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f, nil, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, int64(3), tbl.NumRows())
	assert.Equal(t, "color", tbl.Schema().Field(2).Name)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestWriteParquetUnknownCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	err := Write(context.Background(), merged(t), path, Options{Compression: "brotli-9000"})
	assert.True(t, errors.IsCode(err, errors.CodeExportFailed))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, Write(context.Background(), merged(t), path, Options{Sheet: "runs"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("runs")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"time", "d1", "color"}, rows[0])
	assert.Equal(t, "b", rows[3][2])
}

func TestWriteDuckDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.duckdb")
	require.NoError(t, Write(context.Background(), merged(t), path, Options{Table: "colvar"}))
	// A second write replaces the table.
	require.NoError(t, Write(context.Background(), merged(t), path, Options{Table: "colvar"}))

	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer db.Close()

	var n, nulls int
	require.NoError(t, db.QueryRow(`SELECT count(*), count(*) - count(d1) FROM colvar`).Scan(&n, &nulls))
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, nulls)

	var colors int
	require.NoError(t, db.QueryRow(`SELECT count(DISTINCT color) FROM colvar`).Scan(&colors))
	assert.Equal(t, 2, colors)
}
