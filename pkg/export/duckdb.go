package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/simvis/simvis/pkg/core"
)

// WriteDuckDB stores t as table in the DuckDB database at path, replacing a
// table of the same name. Other tables in the database are kept.
func WriteDuckDB(ctx context.Context, t *core.Table, path, table string) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := t.Schema()
	defs := make([]string, schema.NumFields())
	marks := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		defs[i] = quoteIdent(f.Name) + " " + sqlType(f.Type)
		marks[i] = "?"
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)",
		quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)",
		quoteIdent(table), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	rec := t.Record()
	args := make([]interface{}, t.NumCols())
	for r := 0; r < t.NumRows(); r++ {
		if r%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for c := range args {
			args[c] = cellValue(rec.Column(c), r)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", r, err)
		}
	}
	return tx.Commit()
}

func sqlType(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.FLOAT64:
		return "DOUBLE"
	case arrow.INT64:
		return "BIGINT"
	default:
		return "VARCHAR"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
