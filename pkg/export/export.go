// Package export writes a combined dataset to disk. The format follows the
// output file's extension: .csv, .parquet, .xlsx or .duckdb.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// Format is an output file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
	FormatDuckDB  Format = "duckdb"
)

// Options tunes the writers. Zero values select the defaults.
type Options struct {
	// Compression codec for Parquet: snappy, gzip, zstd, lz4 or none.
	Compression string
	// Sheet name for XLSX output.
	Sheet string
	// Table name for DuckDB output.
	Table string
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{Compression: "snappy", Sheet: "data", Table: "data"}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Compression == "" {
		o.Compression = d.Compression
	}
	if o.Sheet == "" {
		o.Sheet = d.Sheet
	}
	if o.Table == "" {
		o.Table = d.Table
	}
	return o
}

// FormatFor picks the format from a file name.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".duckdb", ".db":
		return FormatDuckDB, nil
	default:
		return "", errors.Newf(errors.CodeExportFailed, "unsupported output format %q", filepath.Ext(path))
	}
}

// Write stores t at path in the format chosen by its extension.
func Write(ctx context.Context, t *core.Table, path string, opts Options) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, errors.CodeExportFailed, "create output directory")
		}
	}

	switch format {
	case FormatCSV:
		err = writeCSVFile(t, path)
	case FormatParquet:
		err = WriteParquet(t, path, opts.Compression)
	case FormatXLSX:
		err = WriteXLSX(t, path, opts.Sheet)
	case FormatDuckDB:
		err = WriteDuckDB(ctx, t, path, opts.Table)
	}
	if err != nil {
		if errors.GetCode(err) == errors.CodeExportFailed {
			return err
		}
		return errors.Wrapf(err, errors.CodeExportFailed, "write %s", path).WithContext("format", string(format))
	}
	return nil
}

// replaceFile writes through a temporary sibling of path and renames it into
// place once write succeeds.
func replaceFile(path string, write func(tmp string) error) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+base+"-*"+ext)
	if err != nil {
		return err
	}
	name := tmp.Name()
	tmp.Close()

	if err := write(name); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
