package export

import (
	"io"
	"os"

	"github.com/apache/arrow/go/v14/arrow/csv"

	"github.com/simvis/simvis/pkg/core"
)

// WriteCSV writes t with a header row. Nulls are written as empty fields.
func WriteCSV(w io.Writer, t *core.Table) error {
	cw := csv.NewWriter(w, t.Schema(),
		csv.WithHeader(true),
		csv.WithNullWriter(""),
	)
	if err := cw.Write(t.Record()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeCSVFile(t *core.Table, path string) error {
	return replaceFile(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := WriteCSV(f, t); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}
