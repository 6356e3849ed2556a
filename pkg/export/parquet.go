package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/simvis/simvis/pkg/core"
)

func codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "snappy", "":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
	}
}

// WriteParquet writes t as a single row group.
func WriteParquet(t *core.Table, path, compression string) error {
	c, err := codec(compression)
	if err != nil {
		return err
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(c),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	return replaceFile(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		// The parquet writer closes f.
		w, err := pqarrow.NewFileWriter(t.Schema(), f, props, arrowProps)
		if err != nil {
			f.Close()
			return err
		}
		if err := w.Write(t.Record()); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
}
